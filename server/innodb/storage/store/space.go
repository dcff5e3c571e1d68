package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xmysql-ibuf/logger"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/storage/store/pages"
	"github.com/zhukovaskychina/xmysql-ibuf/util"
)

// Space 一个表空间，对应磁盘上一个ibd文件
// zipSize非0时为压缩表空间，页面镜像以lz4块压缩后落盘
type Space struct {
	mu sync.RWMutex

	spaceID  uint32
	name     string
	filePath string
	pageSize uint32
	zipSize  uint32 // 压缩页大小，0表示不压缩
	file     *os.File
	nPages   uint32 // 已分配页数
}

// NewSpace 创建表空间文件
func NewSpace(dataDir string, name string, spaceID uint32, pageSize uint32, zipSize uint32) (*Space, error) {
	if pageSize&(pageSize-1) != 0 {
		return nil, basic.ErrInvalidPageSize
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, errors.Wrap(err, "create data dir")
	}
	filePath := filepath.Join(dataDir, fmt.Sprintf("%s.ibd", name))

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open space file %s", filePath)
	}

	s := &Space{
		spaceID:  spaceID,
		name:     name,
		filePath: filePath,
		pageSize: pageSize,
		zipSize:  zipSize,
		file:     file,
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "stat space file")
	}
	s.nPages = uint32(info.Size() / int64(s.slotSize()))

	logger.Debugf("space %d (%s) opened, %d pages", spaceID, name, s.nPages)
	return s, nil
}

// slotSize 每个页面在文件中占用的字节数
// 压缩表空间按原始页大小预留槽位，外加4字节压缩长度前缀；前缀为0表示该页未压缩存放
func (s *Space) slotSize() uint32 {
	if s.zipSize != 0 {
		return s.pageSize + 4
	}
	return s.pageSize
}

func (s *Space) SpaceID() uint32 { return s.spaceID }
func (s *Space) Name() string    { return s.name }
func (s *Space) PageSize() uint32 {
	return s.pageSize
}
func (s *Space) ZipSize() uint32 { return s.zipSize }

// PageCount 已分配的页数
func (s *Space) PageCount() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nPages
}

// AllocatePage 在文件尾部追加一个全新页面，返回页号
func (s *Space) AllocatePage(pageType uint16) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pageNo := s.nPages
	page := pages.NewAbstractPage(s.pageSize, s.spaceID, pageNo, pageType)
	if err := s.writePageLocked(pageNo, page.Content); err != nil {
		return 0, err
	}
	s.nPages++
	return pageNo, nil
}

// EnsurePages 保证页号不小于n的页面已分配
func (s *Space) EnsurePages(n uint32, pageType uint16) error {
	for s.PageCount() < n {
		if _, err := s.AllocatePage(pageType); err != nil {
			return err
		}
	}
	return nil
}

// ReadPage 读取一个页面镜像并校验
func (s *Space) ReadPage(pageNo uint32) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if pageNo >= s.nPages {
		return nil, basic.ErrPageNotFound
	}

	raw := make([]byte, s.slotSize())
	offset := int64(pageNo) * int64(s.slotSize())
	if _, err := s.file.ReadAt(raw, offset); err != nil {
		return nil, errors.Wrapf(err, "read page %d of space %d", pageNo, s.spaceID)
	}

	content := raw
	if s.zipSize != 0 {
		compLen := util.ReadUB4Byte2UInt32(raw[0:4])
		if int(compLen) > len(raw)-4 {
			return nil, errors.Wrapf(basic.ErrPageCorrupted,
				"bad compressed length %d, page %d of space %d", compLen, pageNo, s.spaceID)
		}
		if compLen == 0 {
			// 未压缩存放
			content = raw[4 : 4+s.pageSize]
		} else {
			content = make([]byte, s.pageSize)
			if _, err := lz4.UncompressBlock(raw[4:4+compLen], content); err != nil {
				return nil, errors.Wrapf(err, "decompress page %d of space %d", pageNo, s.spaceID)
			}
		}
	}

	p, err := pages.WrapPage(content)
	if err != nil {
		return nil, err
	}
	if !p.VerifyChecksum() {
		return nil, errors.Wrapf(basic.ErrPageCorrupted,
			"checksum mismatch, page %d of space %d", pageNo, s.spaceID)
	}
	return content, nil
}

// WritePage 写入一个页面镜像，写入前更新校验和
func (s *Space) WritePage(pageNo uint32, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writePageLocked(pageNo, content)
}

func (s *Space) writePageLocked(pageNo uint32, content []byte) error {
	if uint32(len(content)) != s.pageSize {
		return basic.ErrInvalidPageSize
	}

	p, err := pages.WrapPage(content)
	if err != nil {
		return err
	}
	p.StampChecksum()

	raw := content
	if s.zipSize != 0 {
		compBuf := make([]byte, lz4.CompressBlockBound(len(content)))
		var c lz4.Compressor
		n, err := c.CompressBlock(content, compBuf)
		if err != nil || n == 0 || uint32(n)+4 > s.slotSize() {
			// 不可压缩的页面按原样存放，长度前缀置0表示未压缩
			raw = make([]byte, s.slotSize())
			copy(raw[4:], content)
			logger.Debugf("page %d of space %d stored uncompressed", pageNo, s.spaceID)
		} else {
			raw = make([]byte, s.slotSize())
			copy(raw[0:4], util.ConvertUInt4Bytes(uint32(n)))
			copy(raw[4:], compBuf[:n])
		}
	}

	offset := int64(pageNo) * int64(s.slotSize())
	if _, err := s.file.WriteAt(raw, offset); err != nil {
		return errors.Wrapf(err, "write page %d of space %d", pageNo, s.spaceID)
	}
	return nil
}

// Sync 刷盘
func (s *Space) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Sync()
}

// Close 关闭文件
func (s *Space) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Delete 关闭并删除文件
func (s *Space) Delete() error {
	if err := s.Close(); err != nil {
		return err
	}
	return os.Remove(s.filePath)
}
