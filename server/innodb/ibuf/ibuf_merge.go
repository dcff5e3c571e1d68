package ibuf

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-ibuf/logger"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/mtr"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/storage/store/pages"
)

// merge路径
//
// 页面从磁盘读入缓冲池的瞬间，把ibuf树里属于它的操作按counter
// 顺序重放到页面上，然后删掉树中的记录并清buffered位。对刚新建
// 的页面（没有磁盘读取）只删记录不重放，遗留记录必然已过期。

// MergeOrDeleteForPage 对一个目标页执行merge
//
// block为nil表示丢弃模式：只删除树中的记录，不应用到页面。
// 操作先应用到页面镜像的副本上，全部成功才拷回，失败时页面
// 保持原样，调用方看到的是一次普通的读取失败。
func (cb *ChangeBuffer) MergeOrDeleteForPage(block *buffer_pool.BufferBlock, id basic.PageID, pageSize uint32) error {
	if cb.env.RecoveryDisablesIbuf() {
		return nil
	}
	basic.DebugAssert(!IsBitmapPage(id, pageSize) && !cb.isFixedIbufPage(id),
		"merge attempted on ibuf infrastructure page")

	cb.treeMu.Lock()
	defer cb.treeMu.Unlock()

	m := mtr.NewMtr(cb.redo)
	cb.MtrStart(m)
	h := &treeHandle{}
	err := cb.mergeInMtr(m, h, block, id)
	h.release()
	if cmErr := cb.mtrCommitChecked(m); err == nil && cmErr != nil {
		err = cmErr
	}
	return errors.Trace(err)
}

func (cb *ChangeBuffer) mergeInMtr(m *mtr.Mtr, h *treeHandle, block *buffer_pool.BufferBlock, id basic.PageID) error {
	// 表空间已经没了的话位图也没了，只能直接清树
	spaceAlive := true
	if _, err := cb.spaces.GetSpace(id.SpaceID); err != nil {
		spaceAlive = false
	}

	// 快速路径：buffered位没置过说明树里没有该页的记录
	if spaceAlive {
		buffered, err := cb.GetBuffered(m, id)
		if err != nil {
			return errors.Trace(err)
		}
		if !buffered {
			return nil
		}
	}

	recs, err := cb.treeScanForPage(m, h, id, true)
	if err != nil {
		return errors.Trace(err)
	}
	if len(recs) == 0 {
		if !spaceAlive {
			return nil
		}
		// 位图置位但树里没有记录，位图方向安全，悄悄修正
		return errors.Trace(cb.setBufferedInMtr(m, id, false))
	}

	if block != nil {
		if err := cb.applyRecs(m, block, id, recs); err != nil {
			return errors.Trace(err)
		}
	} else {
		logger.Debugf("discarding %d buffered ops for fresh page %s", len(recs), id)
	}

	// 树中记录的删除和buffered位清零必须在同一个mtr里
	if _, err := cb.treeDeleteForPage(m, h, id); err != nil {
		return errors.Trace(err)
	}
	if !spaceAlive {
		return nil
	}
	return errors.Trace(cb.setBufferedInMtr(m, id, false))
}

// applyRecs 把缓存的操作按counter顺序重放到页面副本上
func (cb *ChangeBuffer) applyRecs(m *mtr.Mtr, block *buffer_pool.BufferBlock, id basic.PageID, recs [][]byte) error {
	m.XLatch(block.Latch())

	content := block.Content()
	work := make([]byte, len(content))
	copy(work, content)

	ip, err := pages.IndexPageFromBytes(work)
	if err != nil {
		return errors.Annotatef(err, "merge target %s", id)
	}

	applied := 0
	for _, buf := range recs {
		rec, err := DecodeRec(buf)
		if err != nil {
			return errors.Annotatef(err, "merge target %s", id)
		}
		switch rec.Op {
		case OpInsert:
			if err := ip.InsertRec(rec.Key, rec.Value); err != nil {
				// 位图保证过空间，放不下说明位图被破坏过
				return errors.Annotatef(basic.ErrBitmapInconsistent,
					"merge insert on %s: %v", id, err)
			}
		case OpDeleteMark:
			if err := ip.DeleteMarkRec(rec.Key); err != nil {
				// 目标记录可能已被后续操作清掉，不算故障
				logger.Warnf("merge delete-mark miss on %s counter=%d", id, rec.Counter)
			}
		case OpDelete:
			if err := ip.DeleteRec(rec.Key); err != nil {
				logger.Warnf("merge purge miss on %s counter=%d", id, rec.Counter)
			}
		default:
			return errors.Annotatef(basic.ErrIbufCorrupted, "op %d on %s", rec.Op, id)
		}
		applied++
	}

	copy(content, work)
	block.MarkDirty()
	m.LogWrite(id.SpaceID, id.PageNo, pages.FileHeaderSize,
		content[pages.FileHeaderSize:len(content)-pages.FileTrailerSize])

	// 页面真实空闲空间变了，在同一个mtr里同步空闲等级
	// merge的mtr整批提交，这里调高等级不违反安全方向
	if err := cb.UpdateFreeBitsForPage(m, id, uint32(ip.FreeSpace())); err != nil {
		return errors.Trace(err)
	}

	logger.Debugf("merged %d buffered ops into %s", applied, id)
	return nil
}

// DeleteForDiscardedSpace 表空间被丢弃时清掉它的全部缓存记录
// DROP TABLE和DISCARD TABLESPACE路径调用，防止过期操作在同号
// 新表空间上重放
func (cb *ChangeBuffer) DeleteForDiscardedSpace(spaceID uint32) error {
	cb.treeMu.Lock()
	defer cb.treeMu.Unlock()

	deleted := 0
	for {
		m := mtr.NewMtr(cb.redo)
		cb.MtrStart(m)
		h := &treeHandle{}

		// 每轮找出该表空间剩余的第一个目标页，删完为止
		after := pages.NodeKey{SpaceID: spaceID}
		if spaceID > 0 {
			after = pages.NodeKey{SpaceID: spaceID - 1, PageNo: ^uint32(0), Counter: ^uint16(0)}
		}
		k, ok, err := cb.firstEntryAfter(m, h, after)
		if err == nil && (!ok || k.SpaceID != spaceID) {
			h.release()
			if cmErr := cb.mtrCommitChecked(m); cmErr != nil {
				return errors.Trace(cmErr)
			}
			break
		}
		if err == nil {
			var n int
			n, err = cb.treeDeleteForPage(m, h, basic.NewPageID(k.SpaceID, k.PageNo))
			deleted += n
		}

		h.release()
		if cmErr := cb.mtrCommitChecked(m); err == nil && cmErr != nil {
			err = cmErr
		}
		if err != nil {
			return errors.Trace(err)
		}
	}

	if deleted > 0 {
		logger.Infof("discarded %d buffered ops for space %d", deleted, spaceID)
	}
	return nil
}
