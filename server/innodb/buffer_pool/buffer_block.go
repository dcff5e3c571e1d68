package buffer_pool

import (
	"sync/atomic"

	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/latch"
)

// BufferBlock 缓冲池中的一个页面帧
type BufferBlock struct {
	spaceID uint32
	pageNo  uint32

	content []byte // 页面镜像，长度等于page size
	dirty   atomic.Bool
	pins    atomic.Int32
	lsn     atomic.Uint64

	lt *latch.Latch
}

// NewBufferBlock 创建页面帧
func NewBufferBlock(spaceID, pageNo uint32, content []byte) *BufferBlock {
	return &BufferBlock{
		spaceID: spaceID,
		pageNo:  pageNo,
		content: content,
		lt:      latch.NewLatch(),
	}
}

func (b *BufferBlock) GetSpaceID() uint32 { return b.spaceID }
func (b *BufferBlock) GetPageNo() uint32  { return b.pageNo }

// PageID 页面标识
func (b *BufferBlock) PageID() basic.PageID {
	return basic.NewPageID(b.spaceID, b.pageNo)
}

// Latch 页面锁，由mini-transaction通过memo持有
func (b *BufferBlock) Latch() *latch.Latch {
	return b.lt
}

// Content 页面镜像，调用方必须持有页面锁
func (b *BufferBlock) Content() []byte {
	return b.content
}

// MarkDirty 标记为脏页
func (b *BufferBlock) MarkDirty() {
	b.dirty.Store(true)
}

// ClearDirty 清除脏标记
func (b *BufferBlock) ClearDirty() {
	b.dirty.Store(false)
}

// IsDirty 是否脏页
func (b *BufferBlock) IsDirty() bool {
	return b.dirty.Load()
}

// Pin 固定页面，禁止淘汰
func (b *BufferBlock) Pin() {
	b.pins.Add(1)
}

// Unpin 解除固定
func (b *BufferBlock) Unpin() {
	if b.pins.Add(-1) < 0 {
		panic("buffer block unpinned more times than pinned")
	}
}

// PinCount 当前固定计数
func (b *BufferBlock) PinCount() int32 {
	return b.pins.Load()
}

// SetLSN 记录页面最近修改的LSN
func (b *BufferBlock) SetLSN(lsn uint64) {
	b.lsn.Store(lsn)
}

func (b *BufferBlock) GetLSN() uint64 {
	return b.lsn.Load()
}
