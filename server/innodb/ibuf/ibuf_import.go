package ibuf

import (
	"context"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-ibuf/logger"
	"github.com/zhukovaskychina/xmysql-ibuf/server/common"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/storage/store/pages"
)

// 表空间导入检查
//
// IMPORT TABLESPACE带进来的ibd文件出自另一个实例，它的位图必须
// 自洽：不能声称有缓存操作（本实例的ibuf树里没有），不能把普通
// 页面标成ibuf页，空闲等级不能高估真实空闲空间。检查只报错不修
// 复，有问题的文件应当整体拒收。

// CheckBitmapOnImport 校验待导入表空间的全部ibuf位图
// 第一处不一致立即返回错误
func (cb *ChangeBuffer) CheckBitmapOnImport(ctx context.Context, spaceID uint32) error {
	space, err := cb.spaces.GetSpace(spaceID)
	if err != nil {
		return errors.Trace(err)
	}
	count := space.PageCount()

	for bmNo := uint32(common.FSP_IBUF_BITMAP_OFFSET); bmNo < count; bmNo += cb.pageSize {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}

		content, err := space.ReadPage(bmNo)
		if err != nil {
			return errors.Trace(err)
		}
		bm, err := pages.BitmapPageFromBytes(content)
		if err != nil {
			return errors.Annotatef(err, "import space %d: page %d is not a bitmap page", spaceID, bmNo)
		}

		base := bmNo - common.FSP_IBUF_BITMAP_OFFSET
		end := base + cb.pageSize
		if end > count {
			end = count
		}
		for pageNo := base; pageNo < end; pageNo++ {
			if pageNo == bmNo || pageNo == base {
				continue
			}
			if err := cb.checkImportedPage(space, bm, pageNo); err != nil {
				return errors.Trace(err)
			}
		}
	}

	logger.Infof("import bitmap check passed for space %d (%d pages)", spaceID, count)
	return nil
}

// checkImportedPage 校验单个页面的位图描述
func (cb *ChangeBuffer) checkImportedPage(space spaceReader, bm *pages.IBufBitMapPage, pageNo uint32) error {
	slot := bitmapSlot(pageNo, cb.pageSize)
	desc := bm.GetDesc(slot)

	// 导入的表空间不可能是ibuf树的宿主
	if desc.IsIbuf {
		return errors.Annotatef(basic.ErrBitmapInconsistent,
			"import space %d: page %d flagged as ibuf tree page", space.SpaceID(), pageNo)
	}

	// 源实例的缓存操作不会跟着文件过来，buffered位必须为零
	if desc.IsBuffered {
		return errors.Annotatef(basic.ErrBitmapInconsistent,
			"import space %d: page %d has buffered bit set", space.SpaceID(), pageNo)
	}

	if desc.FreeBits == common.BYTES_0 {
		return nil
	}

	// 空闲等级只许低估，高估会让后续的缓冲插入撑爆页面
	content, err := space.ReadPage(pageNo)
	if err != nil {
		return errors.Trace(err)
	}
	p, err := pages.WrapPage(content)
	if err != nil {
		return errors.Trace(err)
	}
	if p.GetPageType() != common.FILE_PAGE_INDEX {
		return nil
	}
	ip, err := pages.IndexPageFromBytes(content)
	if err != nil {
		return errors.Trace(err)
	}
	if ClassMaxBytes(desc.FreeBits) > uint32(ip.FreeSpace()) {
		return errors.Annotatef(basic.ErrBitmapInconsistent,
			"import space %d: page %d free class %d promises %d bytes but page has %d",
			space.SpaceID(), pageNo, desc.FreeBits, ClassMaxBytes(desc.FreeBits), ip.FreeSpace())
	}
	return nil
}

// spaceReader 导入检查需要的最小读取面
type spaceReader interface {
	SpaceID() uint32
	ReadPage(pageNo uint32) ([]byte, error)
}
