package ibuf

import (
	"time"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-ibuf/logger"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/mtr"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/storage/store/pages"
)

// 主动收缩
//
// merge通常由页面读取顺带完成，但树不能无限增长。收缩过程轮转地
// 挑一批目标页主动读入缓冲池，读取触发merge，树随之变小。游标记
// 住上次停下的位置，避免总是收缩键空间开头的页面。

// contractBatch 每轮收缩处理的目标页数
const contractBatch = 8

// Contract 主动收缩一轮，返回处理的目标页数
// 树为空时返回0
func (cb *ChangeBuffer) Contract() (int, error) {
	targets, err := cb.pickContractTargets(contractBatch)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if len(targets) == 0 {
		return 0, nil
	}

	merged := 0
	for _, id := range targets {
		if err := cb.mergeTarget(id); err != nil {
			return merged, errors.Trace(err)
		}
		merged++
	}
	logger.Debugf("ibuf contraction merged %d pages, tree size %d", merged, cb.size.Load())
	return merged, nil
}

// pickContractTargets 从游标处轮转选出若干个不同的目标页
// 只持有treeMu做只读扫描，不做任何页面读入
func (cb *ChangeBuffer) pickContractTargets(limit int) ([]basic.PageID, error) {
	cb.treeMu.Lock()
	defer cb.treeMu.Unlock()

	cb.cursorMu.Lock()
	cursor := cb.contractCursor
	cb.cursorMu.Unlock()

	m := mtr.NewMtr(cb.redo)
	cb.MtrStart(m)
	h := &treeHandle{}

	var targets []basic.PageID
	wrapped := false
	key := cursor
	for len(targets) < limit {
		k, ok, err := cb.firstEntryAfter(m, h, key)
		if err != nil {
			h.release()
			cb.MtrCommit(m)
			return nil, errors.Trace(err)
		}
		if !ok {
			if wrapped {
				break
			}
			// 到了键空间末尾，从头再来一圈
			wrapped = true
			key = pages.NodeKey{}
			if cursor.Compare(key) == 0 {
				break
			}
			continue
		}
		id := basic.NewPageID(k.SpaceID, k.PageNo)
		if len(targets) > 0 && targets[0] == id {
			break
		}
		targets = append(targets, id)
		// 跳过该页剩余的counter
		key = pages.NodeKey{SpaceID: k.SpaceID, PageNo: k.PageNo, Counter: ^uint16(0)}
	}

	h.release()
	if err := cb.mtrCommitChecked(m); err != nil {
		return nil, errors.Trace(err)
	}

	if len(targets) > 0 {
		last := targets[len(targets)-1]
		cb.cursorMu.Lock()
		cb.contractCursor = pages.NodeKey{SpaceID: last.SpaceID, PageNo: last.PageNo, Counter: ^uint16(0)}
		cb.cursorMu.Unlock()
	}
	return targets, nil
}

// mergeTarget 读入一个目标页，读取动作触发merge
// 表空间或页面已不存在时改为丢弃树中的记录
func (cb *ChangeBuffer) mergeTarget(id basic.PageID) error {
	if _, err := cb.spaces.GetSpace(id.SpaceID); err != nil {
		logger.Infof("space %d gone, discarding buffered ops for %s", id.SpaceID, id)
		return errors.Trace(cb.MergeOrDeleteForPage(nil, id, cb.pageSize))
	}

	block, err := cb.pool.GetPageBlock(id.SpaceID, id.PageNo)
	if err != nil {
		if errors.Cause(err) == basic.ErrPageNotFound {
			return errors.Trace(cb.MergeOrDeleteForPage(nil, id, cb.pageSize))
		}
		return errors.Trace(err)
	}
	// merge已在读取回调里完成
	block.Unpin()
	return nil
}

// MergeSpace 把某个表空间的全部缓存操作立即merge完
// FLUSH TABLE ... FOR EXPORT之类需要干净页面的路径使用
func (cb *ChangeBuffer) MergeSpace(spaceID uint32) (int, error) {
	merged := 0
	after := pages.NodeKey{SpaceID: spaceID}
	if spaceID > 0 {
		after = pages.NodeKey{SpaceID: spaceID - 1, PageNo: ^uint32(0), Counter: ^uint16(0)}
	}
	for {
		cb.treeMu.Lock()
		m := mtr.NewMtr(cb.redo)
		cb.MtrStart(m)
		h := &treeHandle{}
		k, ok, err := cb.firstEntryAfter(m, h, after)
		h.release()
		if cmErr := cb.mtrCommitChecked(m); err == nil && cmErr != nil {
			err = cmErr
		}
		cb.treeMu.Unlock()
		if err != nil {
			return merged, errors.Trace(err)
		}
		if !ok || k.SpaceID != spaceID {
			return merged, nil
		}

		id := basic.NewPageID(k.SpaceID, k.PageNo)
		if err := cb.mergeTarget(id); err != nil {
			return merged, errors.Trace(err)
		}
		merged++
		after = pages.NodeKey{SpaceID: k.SpaceID, PageNo: k.PageNo, Counter: ^uint16(0)}
	}
}

// StartContractor 启动后台收缩线程
func (cb *ChangeBuffer) StartContractor(interval time.Duration) {
	cb.mu.Lock()
	if cb.contractStop != nil {
		cb.mu.Unlock()
		return
	}
	cb.contractStop = make(chan struct{})
	stop := cb.contractStop
	cb.mu.Unlock()

	cb.contractWG.Add(1)
	go func() {
		defer cb.contractWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if cb.IsEmpty() {
					continue
				}
				if _, err := cb.Contract(); err != nil {
					logger.Errorf("background ibuf contraction: %v", err)
				}
			case <-stop:
				return
			}
		}
	}()
}

// StopContractor 停止后台收缩线程，未启动时为空操作
func (cb *ChangeBuffer) StopContractor() {
	cb.mu.Lock()
	stop := cb.contractStop
	cb.contractStop = nil
	cb.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	cb.contractWG.Wait()
}
