package pages

import (
	"github.com/zhukovaskychina/xmysql-ibuf/server/common"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-ibuf/util"
)

// BitMapDesc 单个页面在位图中的描述
//
//其中4个bit描述每个page的change_buffer信息
//IBUF_BITMAP_FREE	2	使用2个bit来描述page的空闲空间范围：0（0 bytes）、1（512 bytes）、2（1024 bytes）、3（2048 bytes）
//IBUF_BITMAP_BUFFERED	1	是否有ibuf操作缓存
//IBUF_BITMAP_IBUF	1	该Page本身是否是Ibuf Btree的节点
type BitMapDesc struct {
	FreeBits   uint8 //空闲空间等级 0..3
	IsBuffered bool  //是否有缓存的ibuf操作
	IsIbuf     bool  //是否ibuf树自身的页面
}

// IBufBitMapPage Insert Buffer位图页
// 每个页面占4个bit，一个位图页管理本表空间内紧随其后的page_size个页面
type IBufBitMapPage struct {
	*AbstractPage
}

// NewIBufBitMapPage 初始化位图页，所有bit清零
func NewIBufBitMapPage(pageSize uint32, spaceID, pageNo uint32) *IBufBitMapPage {
	p := NewAbstractPage(pageSize, spaceID, pageNo, common.FILE_PAGE_IBUF_BITMAP)
	return &IBufBitMapPage{AbstractPage: p}
}

// BitmapPageFromBytes 包装已有的位图页镜像
func BitmapPageFromBytes(content []byte) (*IBufBitMapPage, error) {
	p, err := WrapPage(content)
	if err != nil {
		return nil, err
	}
	if p.GetPageType() != common.FILE_PAGE_IBUF_BITMAP {
		return nil, basic.ErrInvalidPageType
	}
	return &IBufBitMapPage{AbstractPage: p}, nil
}

// slot 页面在本位图页管理范围内的下标
func (bm *IBufBitMapPage) nibble(slot uint32) (int, int) {
	byteIdx := int(slot / 2)
	nibbleIdx := int(slot % 2)
	return byteIdx, nibbleIdx
}

// GetDesc 读取某个页面的位图描述
func (bm *IBufBitMapPage) GetDesc(slot uint32) BitMapDesc {
	body := bm.Body()
	byteIdx, nibbleIdx := bm.nibble(slot)
	nib := util.ReadNibble(body[byteIdx], nibbleIdx)
	return BitMapDesc{
		FreeBits:   (nib >> 2) & 0x03,
		IsBuffered: nib&0x02 != 0,
		IsIbuf:     nib&0x01 != 0,
	}
}

// GetFreeBits 读取空闲等级
func (bm *IBufBitMapPage) GetFreeBits(slot uint32) uint8 {
	return bm.GetDesc(slot).FreeBits
}

// SetFreeBits 写入空闲等级，其余bit保持不变
func (bm *IBufBitMapPage) SetFreeBits(slot uint32, bits uint8) {
	body := bm.Body()
	byteIdx, nibbleIdx := bm.nibble(slot)
	nib := util.ReadNibble(body[byteIdx], nibbleIdx)
	nib = (nib & 0x03) | ((bits & 0x03) << 2)
	body[byteIdx] = util.WriteNibble(body[byteIdx], nibbleIdx, nib)
}

// GetBuffered 读取"存在缓存操作"标记
func (bm *IBufBitMapPage) GetBuffered(slot uint32) bool {
	return bm.GetDesc(slot).IsBuffered
}

// SetBuffered 写入"存在缓存操作"标记
func (bm *IBufBitMapPage) SetBuffered(slot uint32, buffered bool) {
	body := bm.Body()
	byteIdx, nibbleIdx := bm.nibble(slot)
	nib := util.ReadNibble(body[byteIdx], nibbleIdx)
	if buffered {
		nib |= 0x02
	} else {
		nib &^= 0x02
	}
	body[byteIdx] = util.WriteNibble(body[byteIdx], nibbleIdx, nib)
}

// GetIbuf 读取"属于ibuf树"标记
func (bm *IBufBitMapPage) GetIbuf(slot uint32) bool {
	return bm.GetDesc(slot).IsIbuf
}

// SetIbuf 写入"属于ibuf树"标记
func (bm *IBufBitMapPage) SetIbuf(slot uint32, isIbuf bool) {
	body := bm.Body()
	byteIdx, nibbleIdx := bm.nibble(slot)
	nib := util.ReadNibble(body[byteIdx], nibbleIdx)
	if isIbuf {
		nib |= 0x01
	} else {
		nib &^= 0x01
	}
	body[byteIdx] = util.WriteNibble(body[byteIdx], nibbleIdx, nib)
}
