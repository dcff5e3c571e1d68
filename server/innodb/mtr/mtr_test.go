package mtr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/latch"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/manager"
)

func TestMtrLatchLifecycle(t *testing.T) {
	m := NewMtr(nil)
	m.Start()
	require.True(t, m.IsActive())

	l1 := latch.NewLatch()
	l2 := latch.NewLatch()
	m.XLatch(l1)
	m.SLatch(l2)

	assert.True(t, m.MemoContains(l1))
	assert.True(t, m.MemoContains(l2))

	// 提交后锁已全部释放，可立刻再次获取
	require.NoError(t, m.Commit())
	assert.False(t, m.IsActive())
	assert.True(t, l1.TryXLock())
	l1.XUnlock()
	assert.True(t, l2.TryXLock())
	l2.XUnlock()
}

func TestMtrRelatchSamePage(t *testing.T) {
	m := NewMtr(nil)
	m.Start()
	l := latch.NewLatch()

	// 同一个mtr内重复加锁不能死锁
	m.XLatch(l)
	m.XLatch(l)
	m.SLatch(l)
	assert.True(t, m.MemoContains(l))
	require.NoError(t, m.Commit())
	assert.True(t, l.TryXLock())
	l.XUnlock()

	t.Run("共享升排它", func(t *testing.T) {
		m2 := NewMtr(nil)
		m2.Start()
		m2.SLatch(l)
		m2.XLatch(l)
		assert.False(t, l.TrySLock(), "升级后持有的是排它锁")
		require.NoError(t, m2.Commit())
		assert.True(t, l.TryXLock())
		l.XUnlock()
	})
}

func TestMtrIbufFlag(t *testing.T) {
	m := NewMtr(nil)
	m.Start()
	assert.False(t, m.IsInsideIbuf())

	m.EnterIbuf()
	assert.True(t, m.IsInsideIbuf())

	m.ExitIbuf()
	assert.False(t, m.IsInsideIbuf())
	require.NoError(t, m.Commit())
}

func TestMtrRedoBatchOnCommit(t *testing.T) {
	dir := t.TempDir()
	redo, err := manager.NewRedoLogManager(dir, 16)
	require.NoError(t, err)
	defer redo.Close()

	m := NewMtr(redo)
	m.Start()
	m.LogWrite(7, 42, 10, []byte("rec-a"))
	m.LogWrite(7, 43, 20, []byte("rec-b"))
	require.True(t, m.Modified())
	require.NoError(t, m.Commit())
	require.NoError(t, redo.Flush(0))

	entries, err := redo.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint32(42), entries[0].PageNo)
	assert.Equal(t, uint32(43), entries[1].PageNo)
}

func TestMtrNoRedoMode(t *testing.T) {
	dir := t.TempDir()
	redo, err := manager.NewRedoLogManager(dir, 16)
	require.NoError(t, err)
	defer redo.Close()

	m := NewMtr(redo)
	m.Start()
	m.SetLogMode(LogModeNoRedo)
	m.LogWrite(7, 42, 0, []byte("never-logged"))
	require.NoError(t, m.Commit())
	require.NoError(t, redo.Flush(0))

	entries, err := redo.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
