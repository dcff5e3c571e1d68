package store

import (
	"sync"

	"github.com/zhukovaskychina/xmysql-ibuf/logger"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/basic"
)

// SpaceManager 管理spaceID到表空间的映射
type SpaceManager struct {
	mu sync.RWMutex

	dataDir  string
	pageSize uint32
	spaces   map[uint32]*Space
}

// NewSpaceManager 创建表空间管理器
func NewSpaceManager(dataDir string, pageSize uint32) *SpaceManager {
	return &SpaceManager{
		dataDir:  dataDir,
		pageSize: pageSize,
		spaces:   make(map[uint32]*Space),
	}
}

func (sm *SpaceManager) PageSize() uint32 {
	return sm.pageSize
}

// CreateSpace 创建并注册一个表空间
func (sm *SpaceManager) CreateSpace(spaceID uint32, name string, zipSize uint32) (*Space, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, ok := sm.spaces[spaceID]; ok {
		return nil, basic.ErrSpaceAlreadyExists
	}

	space, err := NewSpace(sm.dataDir, name, spaceID, sm.pageSize, zipSize)
	if err != nil {
		return nil, err
	}
	sm.spaces[spaceID] = space
	return space, nil
}

// GetSpace 查找表空间
func (sm *SpaceManager) GetSpace(spaceID uint32) (*Space, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	space, ok := sm.spaces[spaceID]
	if !ok {
		return nil, basic.ErrSpaceNotFound
	}
	return space, nil
}

// DropSpace 注销并删除表空间文件
func (sm *SpaceManager) DropSpace(spaceID uint32) error {
	sm.mu.Lock()
	space, ok := sm.spaces[spaceID]
	if ok {
		delete(sm.spaces, spaceID)
	}
	sm.mu.Unlock()

	if !ok {
		return basic.ErrSpaceNotFound
	}
	logger.Infof("dropping space %d (%s)", spaceID, space.Name())
	return space.Delete()
}

// DetachSpace 仅注销表空间，不删除文件，用于DISCARD TABLESPACE
func (sm *SpaceManager) DetachSpace(spaceID uint32) (*Space, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	space, ok := sm.spaces[spaceID]
	if !ok {
		return nil, basic.ErrSpaceNotFound
	}
	delete(sm.spaces, spaceID)
	return space, nil
}

// Close 关闭全部表空间
func (sm *SpaceManager) Close() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var firstErr error
	for id, space := range sm.spaces {
		if err := space.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(sm.spaces, id)
	}
	return firstErr
}
