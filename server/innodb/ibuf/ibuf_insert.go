package ibuf

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-ibuf/logger"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/mtr"
)

// 缓冲写入路径
//
// 目标页不在缓冲池时，二级索引上的修改操作不读页面，改为把操作
// 记入ibuf树。返回false表示本次不能缓冲，调用方必须读入页面直接
// 修改（读入动作本身会触发merge，旧缓存不会丢失）。

// ShouldTry 当前配置下该操作是否值得尝试缓冲
// 只是快速预判，真正的裁决在Buffer里完成
func (cb *ChangeBuffer) ShouldTry(op Op) bool {
	if cb.env.RecoveryDisablesIbuf() {
		return false
	}
	return cb.mode.Allows(op)
}

// Buffer 尝试缓冲一个针对非驻留二级索引叶子页的操作
//
// 返回(true, nil)表示操作已缓冲；(false, nil)表示不能缓冲，调用方
// 需读入页面直接应用。只有真正的故障才返回非nil错误。
//
// 约束：
//   - 仅限非唯一二级索引的叶子页，唯一性检查无法推迟
//   - 目标页驻留缓冲池时拒绝，直接改页面更便宜也更安全
//   - ibuf体系自身的页面绝不允许缓冲，防止递归
func (cb *ChangeBuffer) Buffer(op Op, id basic.PageID, key, value []byte) (bool, error) {
	basic.DebugAssert(op.Valid(), "invalid ibuf op")

	if !cb.ShouldTry(op) {
		return false, nil
	}

	// 树过大时先同步收缩一轮再拒绝本次缓冲
	// 收缩会读入目标页，必须在拿treeMu之前做，merge回调要抢同一把锁
	if cb.size.Load() >= cb.maxSize {
		logger.Warnf("ibuf tree at max size %d, forcing contraction", cb.maxSize)
		if _, err := cb.Contract(); err != nil {
			logger.Errorf("ibuf forced contraction: %v", err)
		}
		return false, nil
	}

	// 树结构修改与merge在treeMu下互斥，驻留检查必须在拿到treeMu
	// 之后做：此后读入该页的线程会在merge回调上等待treeMu，从而
	// 看到本次插入的记录
	cb.treeMu.Lock()
	defer cb.treeMu.Unlock()

	if block := cb.pool.GetPageBlockIfInPool(id.SpaceID, id.PageNo); block != nil {
		block.Unpin()
		return false, nil
	}

	m := mtr.NewMtr(cb.redo)
	cb.MtrStart(m)
	h := &treeHandle{}
	buffered, err := cb.bufferInMtr(m, h, op, id, key, value)
	h.release()
	if cmErr := cb.mtrCommitChecked(m); err == nil && cmErr != nil {
		err = cmErr
	}
	if err != nil {
		return false, errors.Trace(err)
	}
	return buffered, nil
}

func (cb *ChangeBuffer) bufferInMtr(m *mtr.Mtr, h *treeHandle, op Op, id basic.PageID, key, value []byte) (bool, error) {
	isIbuf, err := cb.IsIbufPage(m, id)
	if err != nil {
		return false, errors.Trace(err)
	}
	if isIbuf {
		basic.DebugAssert(false, "attempt to buffer change on ibuf page")
		return false, nil
	}

	rec := &Rec{
		SpaceID: id.SpaceID,
		PageNo:  id.PageNo,
		Op:      op,
		Key:     key,
		Value:   value,
	}

	recs, err := cb.treeScanForPage(m, h, id, true)
	if err != nil {
		return false, errors.Trace(err)
	}

	// 插入要占空间，位图声明的空闲等级必须装得下replay时的全部插入：
	// 已缓存的插入还没落到页面上，体积要和本条记录合并计算，否则
	// 多条各自过关的记录加起来会在merge时撑爆页面
	if op == OpInsert {
		class, err := cb.GetFreeClass(m, id)
		if err != nil {
			return false, errors.Trace(err)
		}
		needed := uint32(5 + len(key) + len(value))
		for _, buf := range recs {
			old, err := DecodeRec(buf)
			if err != nil {
				return false, errors.Trace(err)
			}
			if old.Op == OpInsert {
				needed += uint32(5 + len(old.Key) + len(old.Value))
			}
		}
		if ClassMaxBytes(class) < needed {
			return false, nil
		}
	}

	// counter取该页已缓存记录的最大值加一，保证同页操作按序重放
	if len(recs) == 0 {
		rec.Counter = 0
	} else {
		maxCounter := RecCounter(recs[len(recs)-1])
		if maxCounter == CounterUndefined {
			rec.Counter = 0
		} else {
			if maxCounter >= 0xFFFF-1 {
				// counter耗尽，让调用方走直接修改路径顺带merge
				return false, nil
			}
			rec.Counter = uint16(maxCounter) + 1
		}
	}

	if err := cb.treeInsert(m, h, rec.Encode()); err != nil {
		if errors.Cause(err) == basic.ErrIbufNoRoom {
			return false, nil
		}
		return false, errors.Trace(err)
	}

	// buffered位和树插入共用mtr，二者原子可见
	if err := cb.setBufferedInMtr(m, id, true); err != nil {
		return false, errors.Trace(err)
	}

	logger.Debugf("buffered %s for %s counter=%d", op, id, rec.Counter)
	return true, nil
}

// PageExists 树中是否存在该目标页的缓存记录
// 只读查询，不修改位图
func (cb *ChangeBuffer) PageExists(id basic.PageID) (bool, error) {
	cb.treeMu.Lock()
	defer cb.treeMu.Unlock()

	m := mtr.NewMtr(cb.redo)
	cb.MtrStart(m)
	m.SetLogMode(mtr.LogModeNoRedo)
	h := &treeHandle{}
	recs, err := cb.treeScanForPage(m, h, id, false)
	h.release()
	if cmErr := cb.mtrCommitChecked(m); err == nil && cmErr != nil {
		err = cmErr
	}
	if err != nil {
		return false, errors.Trace(err)
	}
	return len(recs) > 0, nil
}
