package buffer_pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/xmysql-ibuf/server/common"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/mtr"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/storage/store"
)

const testPageSize = 1024

func newTestPool(t *testing.T, capacity int) (*BufferPool, *store.SpaceManager) {
	t.Helper()
	spaces := store.NewSpaceManager(t.TempDir(), testPageSize)
	space, err := spaces.CreateSpace(7, "t7", 0)
	require.NoError(t, err)
	require.NoError(t, space.EnsurePages(32, common.FILE_PAGE_TYPE_ALLOCATED))
	pool := NewBufferPool(capacity, spaces)
	t.Cleanup(func() {
		_ = pool.Close()
		_ = spaces.Close()
	})
	return pool, spaces
}

func TestGetPageBlock(t *testing.T) {
	pool, _ := newTestPool(t, 8)

	block, err := pool.GetPageBlock(7, 3)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), block.GetSpaceID())
	assert.Equal(t, uint32(3), block.GetPageNo())
	assert.Equal(t, int32(1), block.PinCount())

	// 第二次命中缓存，帧是同一个
	again, err := pool.GetPageBlock(7, 3)
	require.NoError(t, err)
	assert.Same(t, block, again)
	assert.Equal(t, int32(2), block.PinCount())

	block.Unpin()
	again.Unpin()
	assert.Greater(t, pool.GetHitRatio(), 0.0)

	t.Run("不存在的页面", func(t *testing.T) {
		_, err := pool.GetPageBlock(7, 999)
		assert.Error(t, err)
	})

	t.Run("不存在的表空间", func(t *testing.T) {
		_, err := pool.GetPageBlock(99, 0)
		assert.Error(t, err)
	})
}

func TestResidencyProbe(t *testing.T) {
	pool, _ := newTestPool(t, 8)

	assert.Nil(t, pool.GetPageBlockIfInPool(7, 5), "未读入的页面不驻留")

	block, err := pool.GetPageBlock(7, 5)
	require.NoError(t, err)
	block.Unpin()

	probed := pool.GetPageBlockIfInPool(7, 5)
	require.NotNil(t, probed)
	probed.Unpin()
}

func TestReadObserver(t *testing.T) {
	pool, _ := newTestPool(t, 8)

	var observed []uint32
	var createdFlags []bool
	pool.SetPageReadObserver(func(block *BufferBlock, created bool) error {
		observed = append(observed, block.GetPageNo())
		createdFlags = append(createdFlags, created)
		return nil
	})

	block, err := pool.GetPageBlock(7, 4)
	require.NoError(t, err)
	block.Unpin()

	// 缓存命中不再回调
	block, err = pool.GetPageBlock(7, 4)
	require.NoError(t, err)
	block.Unpin()

	require.Equal(t, []uint32{4}, observed)
	assert.Equal(t, []bool{false}, createdFlags)

	t.Run("新建页面回调created", func(t *testing.T) {
		content := make([]byte, testPageSize)
		block, err := pool.NewPageBlock(7, 40, content)
		require.NoError(t, err)
		block.Unpin()
		require.Equal(t, []uint32{4, 40}, observed)
		assert.Equal(t, []bool{false, true}, createdFlags)
	})
}

func TestEvictionFlushesDirty(t *testing.T) {
	pool, spaces := newTestPool(t, 4)

	block, err := pool.GetPageBlock(7, 2)
	require.NoError(t, err)
	block.Content()[100] = 0xEE
	block.MarkDirty()
	block.Unpin()

	// 填满池子把脏页挤出去
	for no := uint32(3); no < 8; no++ {
		b, err := pool.GetPageBlock(7, no)
		require.NoError(t, err)
		b.Unpin()
	}

	space, err := spaces.GetSpace(7)
	require.NoError(t, err)
	content, err := space.ReadPage(2)
	require.NoError(t, err)
	assert.Equal(t, byte(0xEE), content[100], "脏页淘汰前必须回写")
}

func TestPrefetchGuard(t *testing.T) {
	pool, _ := newTestPool(t, 8)
	pm := pool.GetPrefetchManager()

	t.Run("普通mtr允许预读", func(t *testing.T) {
		m := mtr.NewMtr(nil)
		m.Start()
		assert.True(t, pm.TriggerPrefetch(7, 2, m))
		require.NoError(t, m.Commit())
	})

	t.Run("change buffer内部的mtr拒绝预读", func(t *testing.T) {
		m := mtr.NewMtr(nil)
		m.Start()
		m.EnterIbuf()
		assert.False(t, pm.TriggerPrefetch(7, 2, m))
		m.ExitIbuf()
		require.NoError(t, m.Commit())
	})

	t.Run("无mtr时允许预读", func(t *testing.T) {
		assert.True(t, pm.TriggerPrefetch(7, 2, nil))
	})
}
