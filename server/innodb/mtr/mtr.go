package mtr

import (
	"github.com/zhukovaskychina/xmysql-ibuf/logger"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/latch"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/manager"
)

// LogMode mini-transaction的redo日志模式
type LogMode int

const (
	// LogModeAll 正常模式，提交时写redo
	LogModeAll LogMode = iota
	// LogModeNoRedo 不写redo，只读服务器或临时页面使用
	LogModeNoRedo
)

type mtrState int

const (
	stateInit mtrState = iota
	stateActive
	stateCommitted
)

type latchMode int

const (
	latchShared latchMode = iota
	latchExclusive
)

type memoSlot struct {
	lt   *latch.Latch
	mode latchMode
}

// Mtr mini-transaction：一段持有页面锁的原子工作单元
// 提交时先写redo日志批次，再按加锁的逆序释放全部锁
type Mtr struct {
	redo *manager.RedoLogManager

	state   mtrState
	logMode LogMode

	// insideIbuf 本mtr是否在change buffer例程内部执行
	// 作为值携带在mtr上，而不是线程本地状态
	insideIbuf bool

	memo     []memoSlot
	log      []manager.RedoLogEntry
	modified bool
}

// NewMtr 创建一个未启动的mini-transaction
// redo可以为nil，此时等价于LogModeNoRedo
func NewMtr(redo *manager.RedoLogManager) *Mtr {
	return &Mtr{redo: redo}
}

// Start 启动mini-transaction
func (m *Mtr) Start() {
	basic.DebugAssert(m.state == stateInit, "mtr started twice")
	m.state = stateActive
	m.logMode = LogModeAll
	m.insideIbuf = false
	m.memo = m.memo[:0]
	m.log = m.log[:0]
	m.modified = false
}

// IsActive 是否处于活动状态
func (m *Mtr) IsActive() bool {
	return m.state == stateActive
}

// SetLogMode 设置日志模式
func (m *Mtr) SetLogMode(mode LogMode) {
	m.logMode = mode
}

// GetLogMode 当前日志模式
func (m *Mtr) GetLogMode() LogMode {
	return m.logMode
}

// EnterIbuf 标记本mtr进入change buffer例程
func (m *Mtr) EnterIbuf() {
	basic.DebugAssert(!m.insideIbuf, "mtr already inside change buffer")
	m.insideIbuf = true
}

// ExitIbuf 清除change buffer标记
func (m *Mtr) ExitIbuf() {
	m.insideIbuf = false
}

// IsInsideIbuf 本mtr是否在change buffer例程内部
func (m *Mtr) IsInsideIbuf() bool {
	return m.insideIbuf
}

// holdsLatch memo中该锁的下标
func (m *Mtr) holdsLatch(l *latch.Latch) int {
	for i := range m.memo {
		if m.memo[i].lt == l {
			return i
		}
	}
	return -1
}

// SLatch 获取共享锁并登记到memo
// 已经持有的锁不重复获取
func (m *Mtr) SLatch(l *latch.Latch) {
	basic.DebugAssert(m.state == stateActive, "latching on inactive mtr")
	if m.holdsLatch(l) >= 0 {
		return
	}
	l.SLock()
	m.memo = append(m.memo, memoSlot{lt: l, mode: latchShared})
}

// XLatch 获取排它锁并登记到memo
// 已持有共享锁时升级为排它锁，调用方需保证没有并发的升级竞争
func (m *Mtr) XLatch(l *latch.Latch) {
	basic.DebugAssert(m.state == stateActive, "latching on inactive mtr")
	if i := m.holdsLatch(l); i >= 0 {
		if m.memo[i].mode == latchShared {
			l.SUnlock()
			l.XLock()
			m.memo[i].mode = latchExclusive
		}
		return
	}
	l.XLock()
	m.memo = append(m.memo, memoSlot{lt: l, mode: latchExclusive})
}

// MemoContains memo中是否持有该锁
func (m *Mtr) MemoContains(l *latch.Latch) bool {
	for i := range m.memo {
		if m.memo[i].lt == l {
			return true
		}
	}
	return false
}

// LogWrite 登记一次页面修改，LogModeAll下提交时写入redo
func (m *Mtr) LogWrite(spaceID, pageNo uint32, offset uint16, data []byte) {
	basic.DebugAssert(m.state == stateActive, "logging on inactive mtr")
	m.modified = true
	if m.logMode != LogModeAll || m.redo == nil {
		return
	}
	entry := manager.RedoLogEntry{
		SpaceID: spaceID,
		PageNo:  pageNo,
		Offset:  offset,
	}
	entry.Data = make([]byte, len(data))
	copy(entry.Data, data)
	m.log = append(m.log, entry)
}

// Modified 本mtr是否修改过页面
func (m *Mtr) Modified() bool {
	return m.modified
}

// Commit 提交：写出redo批次，然后按逆序释放全部锁
func (m *Mtr) Commit() error {
	basic.DebugAssert(m.state == stateActive, "committing inactive mtr")

	var commitErr error
	if len(m.log) > 0 && m.logMode == LogModeAll && m.redo != nil {
		if _, err := m.redo.AppendBatch(m.log); err != nil {
			// redo写入失败属于致命错误，页面锁仍需释放
			logger.Errorf("mtr redo batch append failed: %v", err)
			commitErr = err
		}
	}

	// 逆序释放，与加锁顺序对称
	for i := len(m.memo) - 1; i >= 0; i-- {
		slot := m.memo[i]
		if slot.mode == latchExclusive {
			slot.lt.XUnlock()
		} else {
			slot.lt.SUnlock()
		}
	}
	m.memo = m.memo[:0]
	m.log = m.log[:0]
	m.state = stateCommitted
	return commitErr
}
