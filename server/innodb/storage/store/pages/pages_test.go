package pages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/xmysql-ibuf/server/common"
)

const testPageSize = 1024

func TestAbstractPageHeader(t *testing.T) {
	p := NewAbstractPage(testPageSize, 7, 42, common.FILE_PAGE_INDEX)
	assert.Equal(t, uint32(42), p.GetPageNo())
	assert.Equal(t, uint32(7), p.GetSpaceID())
	assert.Equal(t, uint16(common.FILE_PAGE_INDEX), p.GetPageType())

	p.SetPrevPage(41)
	p.SetNextPage(43)
	p.SetPageLSN(12345)
	assert.Equal(t, uint32(41), p.GetPrevPage())
	assert.Equal(t, uint32(43), p.GetNextPage())
	assert.Equal(t, uint64(12345), p.GetPageLSN())

	t.Run("校验和往返", func(t *testing.T) {
		p.Body()[0] = 0xAB
		p.StampChecksum()
		assert.True(t, p.VerifyChecksum())

		p.Body()[1] = 0xCD
		assert.False(t, p.VerifyChecksum(), "内容变更后旧校验和必须失效")
		p.StampChecksum()
		assert.True(t, p.VerifyChecksum())
	})

	t.Run("过短的镜像拒绝包装", func(t *testing.T) {
		_, err := WrapPage(make([]byte, 10))
		assert.Error(t, err)
	})
}

func TestBitmapPageBits(t *testing.T) {
	bm := NewIBufBitMapPage(testPageSize, 7, 1)

	t.Run("初始状态全零", func(t *testing.T) {
		for slot := uint32(0); slot < 16; slot++ {
			desc := bm.GetDesc(slot)
			assert.Equal(t, uint8(0), desc.FreeBits)
			assert.False(t, desc.IsBuffered)
			assert.False(t, desc.IsIbuf)
		}
	})

	t.Run("各字段互不干扰", func(t *testing.T) {
		bm.SetFreeBits(5, 3)
		bm.SetBuffered(5, true)
		bm.SetIbuf(5, true)

		desc := bm.GetDesc(5)
		assert.Equal(t, uint8(3), desc.FreeBits)
		assert.True(t, desc.IsBuffered)
		assert.True(t, desc.IsIbuf)

		// 相邻slot共享一个字节，不能互相污染
		assert.Equal(t, uint8(0), bm.GetFreeBits(4))
		assert.False(t, bm.GetBuffered(4))
		assert.Equal(t, uint8(0), bm.GetFreeBits(6))

		bm.SetBuffered(5, false)
		desc = bm.GetDesc(5)
		assert.False(t, desc.IsBuffered)
		assert.Equal(t, uint8(3), desc.FreeBits, "清buffered位不能动free位")
		assert.True(t, desc.IsIbuf)
	})

	t.Run("镜像解析往返", func(t *testing.T) {
		bm.SetFreeBits(100, 2)
		bm2, err := BitmapPageFromBytes(bm.Content)
		require.NoError(t, err)
		assert.Equal(t, uint8(2), bm2.GetFreeBits(100))
		assert.Equal(t, uint8(3), bm2.GetFreeBits(5))
	})

	t.Run("错误的页面类型拒绝", func(t *testing.T) {
		p := NewAbstractPage(testPageSize, 7, 2, common.FILE_PAGE_INDEX)
		_, err := BitmapPageFromBytes(p.Content)
		assert.Error(t, err)
	})
}

func TestIndexPageRecs(t *testing.T) {
	ip := NewIndexPage(testPageSize, 7, 42)
	assert.Equal(t, 0, ip.RecCount())

	require.NoError(t, ip.InsertRec([]byte("bb"), []byte("v2")))
	require.NoError(t, ip.InsertRec([]byte("aa"), []byte("v1")))
	require.NoError(t, ip.InsertRec([]byte("cc"), []byte("v3")))
	assert.Equal(t, 3, ip.RecCount())

	t.Run("键序存放", func(t *testing.T) {
		parsed, err := IndexPageFromBytes(ip.Content)
		require.NoError(t, err)
		assert.Equal(t, []byte("aa"), parsed.Recs[0].Key)
		assert.Equal(t, []byte("bb"), parsed.Recs[1].Key)
		assert.Equal(t, []byte("cc"), parsed.Recs[2].Key)
	})

	t.Run("删除标记与复活", func(t *testing.T) {
		require.NoError(t, ip.DeleteMarkRec([]byte("bb")))
		rec, found := ip.GetRec([]byte("bb"))
		require.True(t, found)
		assert.True(t, rec.DeleteMarked)

		// 同键重插清除删除标记
		require.NoError(t, ip.InsertRec([]byte("bb"), []byte("v2x")))
		rec, found = ip.GetRec([]byte("bb"))
		require.True(t, found)
		assert.False(t, rec.DeleteMarked)
		assert.Equal(t, []byte("v2x"), rec.Value)
	})

	t.Run("物理删除", func(t *testing.T) {
		require.NoError(t, ip.DeleteRec([]byte("aa")))
		_, found := ip.GetRec([]byte("aa"))
		assert.False(t, found)
		assert.Error(t, ip.DeleteRec([]byte("aa")))
		assert.Error(t, ip.DeleteMarkRec([]byte("zz")))
	})

	t.Run("页面写满", func(t *testing.T) {
		full := NewIndexPage(testPageSize, 7, 43)
		big := make([]byte, 200)
		var err error
		for i := 0; err == nil && i < 100; i++ {
			err = full.InsertRec([]byte{byte(i)}, big)
		}
		assert.Error(t, err, "空间耗尽必须报错而不是越界")
	})
}

func TestNodePageRoundTrip(t *testing.T) {
	t.Run("叶子节点", func(t *testing.T) {
		np := NewIBufNodePage(testPageSize, 0, 4, true)
		np.Entries = [][]byte{[]byte("rec-a"), []byte("rec-b")}
		np.Serialize()

		parsed, err := NodePageFromBytes(np.Content)
		require.NoError(t, err)
		assert.True(t, parsed.Leaf)
		require.Len(t, parsed.Entries, 2)
		assert.Equal(t, []byte("rec-a"), parsed.Entries[0])
		assert.Equal(t, []byte("rec-b"), parsed.Entries[1])
	})

	t.Run("内部节点", func(t *testing.T) {
		np := NewIBufNodePage(testPageSize, 0, 4, false)
		np.Keys = []NodeKey{{SpaceID: 1, PageNo: 2, Counter: 0}, {SpaceID: 7, PageNo: 42, Counter: 3}}
		np.Children = []uint32{5, 6}
		np.Serialize()

		parsed, err := NodePageFromBytes(np.Content)
		require.NoError(t, err)
		assert.False(t, parsed.Leaf)
		assert.Equal(t, np.Keys, parsed.Keys)
		assert.Equal(t, np.Children, parsed.Children)
	})

	t.Run("键比较次序", func(t *testing.T) {
		a := NodeKey{SpaceID: 1, PageNo: 9, Counter: 9}
		b := NodeKey{SpaceID: 2, PageNo: 0, Counter: 0}
		assert.Equal(t, -1, a.Compare(b), "space优先")
		c := NodeKey{SpaceID: 1, PageNo: 10, Counter: 0}
		assert.Equal(t, -1, a.Compare(c), "页号次之")
		d := NodeKey{SpaceID: 1, PageNo: 9, Counter: 10}
		assert.Equal(t, -1, a.Compare(d), "counter最后")
		assert.Equal(t, 0, a.Compare(a))
		assert.Equal(t, 1, b.Compare(a))
	})
}
