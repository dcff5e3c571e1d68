package manager

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedoLogManager(t *testing.T) {
	testDir := t.TempDir()

	manager, err := NewRedoLogManager(testDir, 10)
	require.NoError(t, err)
	defer manager.Close()

	t.Run("基本日志操作", func(t *testing.T) {
		entry := &RedoLogEntry{
			SpaceID: 1,
			PageNo:  100,
			Offset:  0,
			Data:    []byte("test data"),
		}

		lsn, err := manager.Append(entry)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), lsn)

		err = manager.Flush(lsn)
		require.NoError(t, err)

		_, err = os.Stat(filepath.Join(testDir, "redo.log"))
		assert.NoError(t, err)
	})

	t.Run("批量日志对应单个mtr", func(t *testing.T) {
		batch := []RedoLogEntry{
			{SpaceID: 1, PageNo: 101, Offset: 10, Data: []byte("a")},
			{SpaceID: 1, PageNo: 102, Offset: 20, Data: []byte("b")},
		}
		lastLSN, err := manager.AppendBatch(batch)
		require.NoError(t, err)
		assert.Equal(t, manager.CurrentLSN(), lastLSN)
	})

	t.Run("读回日志", func(t *testing.T) {
		entries, err := manager.ReadAll()
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(entries), 3)
		assert.Equal(t, uint32(100), entries[0].PageNo)
		assert.Equal(t, []byte("test data"), entries[0].Data)
	})
}

func TestRedoLogCompression(t *testing.T) {
	testDir := t.TempDir()

	manager, err := NewRedoLogManager(testDir, 4)
	require.NoError(t, err)
	defer manager.Close()

	// 高度可压缩的大数据段
	big := bytes.Repeat([]byte("ibuf"), 512)
	_, err = manager.Append(&RedoLogEntry{SpaceID: 7, PageNo: 42, Data: big})
	require.NoError(t, err)
	require.NoError(t, manager.Flush(0))

	entries, err := manager.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, big, entries[0].Data)

	// 压缩后的文件应明显小于原始数据
	info, err := os.Stat(filepath.Join(testDir, "redo.log"))
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(big)))
}
