package ibuf

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-ibuf/logger"
	"github.com/zhukovaskychina/xmysql-ibuf/server/common"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/mtr"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/storage/store/pages"
)

// ibuf位图维护
//
// 每个表空间每page_size个页面配一个位图页，每个页面在位图中占4个
// bit：2 bit空闲等级 + 1 bit是否有缓存操作 + 1 bit是否ibuf树页面。
//
// 空闲等级的安全方向是"宁低勿高"：位图里的值绝不允许高于页面真实
// 空闲空间。因此调低在独立的先行mtr中提交，调高必须和产生空间的
// 页面修改在同一个mtr里。

// 空闲等级对应的字节数下界
var classBytes = [4]uint32{0, 512, 1024, 2048}

// freeClassFromBytes 字节数到空闲等级的下取整映射
func freeClassFromBytes(free uint32) uint8 {
	switch {
	case free >= 2048:
		return common.BYTES_2048
	case free >= 1024:
		return common.BYTES_1024
	case free >= 512:
		return common.BYTES_512
	default:
		return common.BYTES_0
	}
}

// ClassMaxBytes 空闲等级声明的字节数
// 该等级保证页面至少有这么多空闲空间
func ClassMaxBytes(class uint8) uint32 {
	if class > 3 {
		return 0
	}
	return classBytes[class]
}

// IsBitmapPage 页号是否落在位图页的位置上
// 每page_size个页面的第FSP_IBUF_BITMAP_OFFSET个是位图页
func IsBitmapPage(id basic.PageID, pageSize uint32) bool {
	return id.PageNo%pageSize == common.FSP_IBUF_BITMAP_OFFSET
}

// bitmapPageNo 管理pageNo的位图页页号
func bitmapPageNo(pageNo, pageSize uint32) uint32 {
	return pageNo - pageNo%pageSize + common.FSP_IBUF_BITMAP_OFFSET
}

// bitmapSlot 页面在其位图页内的下标
func bitmapSlot(pageNo, pageSize uint32) uint32 {
	return pageNo % pageSize
}

// isFixedIbufPage 系统表空间内属于ibuf的固定页面
func (cb *ChangeBuffer) isFixedIbufPage(id basic.PageID) bool {
	return id.SpaceID == common.IBUF_SPACE_ID &&
		(id.PageNo == common.IBUF_HEADER_PAGE_NO || id.PageNo == common.IBUF_TREE_ROOT_PAGE_NO)
}

// getBitmap 取管理id的位图页并在m上加锁
func (cb *ChangeBuffer) getBitmap(m *mtr.Mtr, id basic.PageID, exclusive bool) (*buffer_pool.BufferBlock, *pages.IBufBitMapPage, uint32, error) {
	bmNo := bitmapPageNo(id.PageNo, cb.pageSize)
	block, err := cb.pool.GetPageBlock(id.SpaceID, bmNo)
	if err != nil {
		return nil, nil, 0, errors.Annotatef(err, "bitmap page for %s", id)
	}
	if exclusive {
		m.XLatch(block.Latch())
	} else {
		m.SLatch(block.Latch())
	}
	bm, err := pages.BitmapPageFromBytes(block.Content())
	if err != nil {
		block.Unpin()
		return nil, nil, 0, errors.Annotatef(err, "bitmap page for %s", id)
	}
	return block, bm, bitmapSlot(id.PageNo, cb.pageSize), nil
}

// IsIbufPage 页面是否属于ibuf体系（树页面、位图页、固定页面）
// 这类页面上的操作绝不允许再次缓冲
func (cb *ChangeBuffer) IsIbufPage(m *mtr.Mtr, id basic.PageID) (bool, error) {
	basic.DebugAssert(!cb.env.RecoveryDisablesIbuf(), "ibuf page lookup while recovery has ibuf disabled")
	if IsBitmapPage(id, cb.pageSize) || cb.isFixedIbufPage(id) {
		return true, nil
	}
	if id.SpaceID == common.IBUF_SPACE_ID && id.PageNo == 0 {
		return true, nil
	}

	block, bm, slot, err := cb.getBitmap(m, id, false)
	if err != nil {
		return false, errors.Trace(err)
	}
	defer block.Unpin()
	return bm.GetIbuf(slot), nil
}

// GetFreeClass 读取页面当前的空闲等级
func (cb *ChangeBuffer) GetFreeClass(m *mtr.Mtr, id basic.PageID) (uint8, error) {
	block, bm, slot, err := cb.getBitmap(m, id, false)
	if err != nil {
		return 0, errors.Trace(err)
	}
	defer block.Unpin()
	return bm.GetFreeBits(slot), nil
}

// GetBuffered 读取页面的"存在缓存操作"标记
func (cb *ChangeBuffer) GetBuffered(m *mtr.Mtr, id basic.PageID) (bool, error) {
	block, bm, slot, err := cb.getBitmap(m, id, false)
	if err != nil {
		return false, errors.Trace(err)
	}
	defer block.Unpin()
	return bm.GetBuffered(slot), nil
}

// writeBitmap 位图页修改后的统一落地动作
func (cb *ChangeBuffer) writeBitmap(m *mtr.Mtr, block *buffer_pool.BufferBlock, bm *pages.IBufBitMapPage) {
	block.MarkDirty()
	m.LogWrite(bm.GetSpaceID(), bm.GetPageNo(), pages.FileHeaderSize, bm.Body())
}

// setFreeBitsInMtr 在调用方的mtr内写空闲等级
// 调高等级时必须和产生空闲空间的页面修改共用一个mtr
func (cb *ChangeBuffer) setFreeBitsInMtr(m *mtr.Mtr, id basic.PageID, class uint8) error {
	block, bm, slot, err := cb.getBitmap(m, id, true)
	if err != nil {
		return errors.Trace(err)
	}
	defer block.Unpin()
	bm.SetFreeBits(slot, class)
	cb.writeBitmap(m, block, bm)
	return nil
}

// UpdateFreeBitsForPage 页面修改后按真实空闲空间更新空闲等级
// 必须在完成该修改的同一个mtr内调用
func (cb *ChangeBuffer) UpdateFreeBitsForPage(m *mtr.Mtr, id basic.PageID, freeBytes uint32) error {
	return cb.setFreeBitsInMtr(m, id, freeClassFromBytes(freeBytes))
}

// UpdateFreeBitsForTwoPages 页面分裂等同时改动两页的场景
// 两个页面的等级更新共用调用方的mtr，原子可见
func (cb *ChangeBuffer) UpdateFreeBitsForTwoPages(m *mtr.Mtr, a basic.PageID, aFree uint32, b basic.PageID, bFree uint32) error {
	if err := cb.setFreeBitsInMtr(m, a, freeClassFromBytes(aFree)); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(cb.setFreeBitsInMtr(m, b, freeClassFromBytes(bFree)))
}

// ResetFreeBitsLow 把空闲等级强制压到0
// 用独立的mtr先行提交：在可能缩小页面空间的操作动手之前调用，
// 即便随后的操作崩溃，位图也只会低估，不破坏安全方向
func (cb *ChangeBuffer) ResetFreeBitsLow(id basic.PageID) error {
	m := mtr.NewMtr(cb.redo)
	cb.MtrStart(m)
	if err := cb.setFreeBitsInMtr(m, id, common.BYTES_0); err != nil {
		cb.MtrCommit(m)
		return errors.Trace(err)
	}
	return errors.Trace(cb.mtrCommitChecked(m))
}

// SetBitmapForBulkLoad 批量构建页面完成后一次性写入空闲等级
// reset为true时不管真实空间都压为0（页面即将继续被改写）
// 批量构建出来的页面不可能有缓存操作，buffered位一并清零
func (cb *ChangeBuffer) SetBitmapForBulkLoad(m *mtr.Mtr, id basic.PageID, freeBytes uint32, reset bool) error {
	class := uint8(common.BYTES_0)
	if !reset {
		class = freeClassFromBytes(freeBytes)
	}
	block, bm, slot, err := cb.getBitmap(m, id, true)
	if err != nil {
		return errors.Trace(err)
	}
	defer block.Unpin()
	bm.SetFreeBits(slot, class)
	bm.SetBuffered(slot, false)
	cb.writeBitmap(m, block, bm)
	return nil
}

// setBufferedInMtr 写"存在缓存操作"标记
// 置位和缓冲插入共用mtr；清零和删除树中记录的mtr共用
func (cb *ChangeBuffer) setBufferedInMtr(m *mtr.Mtr, id basic.PageID, buffered bool) error {
	block, bm, slot, err := cb.getBitmap(m, id, true)
	if err != nil {
		return errors.Trace(err)
	}
	defer block.Unpin()
	if bm.GetBuffered(slot) == buffered {
		return nil
	}
	bm.SetBuffered(slot, buffered)
	cb.writeBitmap(m, block, bm)
	return nil
}

// MarkIbufPage 把一个页面标记为ibuf树自身的页面
// 分配给ibuf段的页面在进入树之前置位，防止递归缓冲
func (cb *ChangeBuffer) MarkIbufPage(m *mtr.Mtr, id basic.PageID, isIbuf bool) error {
	block, bm, slot, err := cb.getBitmap(m, id, true)
	if err != nil {
		return errors.Trace(err)
	}
	defer block.Unpin()
	bm.SetIbuf(slot, isIbuf)
	cb.writeBitmap(m, block, bm)
	return nil
}

// EnsureBitmapPages 为表空间补齐位图页
// 新建表空间或扩展后调用，保证每个区段的位图页存在且清零
func (cb *ChangeBuffer) EnsureBitmapPages(spaceID uint32) error {
	space, err := cb.spaces.GetSpace(spaceID)
	if err != nil {
		return errors.Trace(err)
	}
	count := space.PageCount()
	for no := uint32(common.FSP_IBUF_BITMAP_OFFSET); no < count; no += cb.pageSize {
		content, err := space.ReadPage(no)
		if err != nil {
			return errors.Trace(err)
		}
		p, err := pages.WrapPage(content)
		if err != nil {
			return errors.Trace(err)
		}
		if p.GetPageType() == common.FILE_PAGE_IBUF_BITMAP {
			continue
		}
		bm := pages.NewIBufBitMapPage(space.PageSize(), spaceID, no)
		if err := space.WritePage(no, bm.Content); err != nil {
			return errors.Trace(err)
		}
		logger.Infof("initialized ibuf bitmap page %d in space %d", no, spaceID)
	}
	return nil
}
