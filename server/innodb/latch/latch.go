package latch

import "sync"

// Latch 页面锁，读写语义对应InnoDB的S/X latch
type Latch struct {
	mu sync.RWMutex
}

// NewLatch 创建一个新的锁
func NewLatch() *Latch {
	return &Latch{}
}

// XLock 获取排它锁
func (l *Latch) XLock() {
	l.mu.Lock()
}

// XUnlock 释放排它锁
func (l *Latch) XUnlock() {
	l.mu.Unlock()
}

// SLock 获取共享锁
func (l *Latch) SLock() {
	l.mu.RLock()
}

// SUnlock 释放共享锁
func (l *Latch) SUnlock() {
	l.mu.RUnlock()
}

// TryXLock 尝试获取排它锁
func (l *Latch) TryXLock() bool {
	return l.mu.TryLock()
}

// TrySLock 尝试获取共享锁
func (l *Latch) TrySLock() bool {
	return l.mu.TryRLock()
}
