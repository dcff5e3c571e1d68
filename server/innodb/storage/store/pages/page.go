package pages

import (
	"github.com/zhukovaskychina/xmysql-ibuf/server/common"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-ibuf/util"
)

//FileHeader 字段偏移
const (
	FHeaderCheckSum  = 0  //4字节 校验和
	FHeaderOffset    = 4  //4字节 页号
	FHeaderPrev      = 8  //4字节 上一个页号
	FHeaderNext      = 12 //4字节 下一个页号
	FHeaderLSN       = 16 //8字节 页面最近修改的LSN
	FHeaderPageType  = 24 //2字节 页面类型
	FHeaderFlushLSN  = 26 //8字节 仅系统表空间第一页使用
	FHeaderSpaceID   = 34 //4字节 所属表空间
	FileHeaderSize   = common.PAGE_FILE_HEADER_SIZE
	FileTrailerSize  = common.PAGE_FILE_TRAILER_SIZE
)

// AbstractPage 包装一个完整页面镜像，页内字段原地读写
//
//	//////////////////////////
//	//      FileHeader      //
//	//////////////////////////
//	//      FileBody        //
//	//////////////////////////
//	//      FileTrailer     //
//	//////////////////////////
type AbstractPage struct {
	Content []byte
}

// NewAbstractPage 按给定类型初始化一个空页面
func NewAbstractPage(pageSize uint32, spaceID, pageNo uint32, pageType uint16) *AbstractPage {
	p := &AbstractPage{Content: make([]byte, pageSize)}
	p.SetPageNo(pageNo)
	p.SetSpaceID(spaceID)
	p.SetPageType(pageType)
	p.SetPrevPage(0)
	p.SetNextPage(0)
	return p
}

// WrapPage 包装已有页面镜像
func WrapPage(content []byte) (*AbstractPage, error) {
	if len(content) < FileHeaderSize+FileTrailerSize {
		return nil, basic.ErrInvalidPageSize
	}
	return &AbstractPage{Content: content}, nil
}

func (p *AbstractPage) GetPageNo() uint32 {
	return util.ReadUB4Byte2UInt32(p.Content[FHeaderOffset : FHeaderOffset+4])
}

func (p *AbstractPage) SetPageNo(pageNo uint32) {
	copy(p.Content[FHeaderOffset:], util.ConvertUInt4Bytes(pageNo))
}

func (p *AbstractPage) GetPrevPage() uint32 {
	return util.ReadUB4Byte2UInt32(p.Content[FHeaderPrev : FHeaderPrev+4])
}

func (p *AbstractPage) SetPrevPage(pageNo uint32) {
	copy(p.Content[FHeaderPrev:], util.ConvertUInt4Bytes(pageNo))
}

func (p *AbstractPage) GetNextPage() uint32 {
	return util.ReadUB4Byte2UInt32(p.Content[FHeaderNext : FHeaderNext+4])
}

func (p *AbstractPage) SetNextPage(pageNo uint32) {
	copy(p.Content[FHeaderNext:], util.ConvertUInt4Bytes(pageNo))
}

func (p *AbstractPage) GetPageLSN() uint64 {
	return util.ReadUB8Byte2Long(p.Content[FHeaderLSN : FHeaderLSN+8])
}

func (p *AbstractPage) SetPageLSN(lsn uint64) {
	copy(p.Content[FHeaderLSN:], util.ConvertULong8Bytes(lsn))
}

func (p *AbstractPage) GetPageType() uint16 {
	return util.ReadUB2Byte2Int(p.Content[FHeaderPageType : FHeaderPageType+2])
}

func (p *AbstractPage) SetPageType(pageType uint16) {
	copy(p.Content[FHeaderPageType:], util.ConvertUInt2Bytes(pageType))
}

func (p *AbstractPage) GetSpaceID() uint32 {
	return util.ReadUB4Byte2UInt32(p.Content[FHeaderSpaceID : FHeaderSpaceID+4])
}

func (p *AbstractPage) SetSpaceID(spaceID uint32) {
	copy(p.Content[FHeaderSpaceID:], util.ConvertUInt4Bytes(spaceID))
}

// Body 页面体，介于FileHeader与FileTrailer之间
func (p *AbstractPage) Body() []byte {
	return p.Content[FileHeaderSize : len(p.Content)-FileTrailerSize]
}

// StampChecksum 计算页面体校验和，写入头部与尾部
func (p *AbstractPage) StampChecksum() {
	sum := util.PageChecksum(p.Body())
	copy(p.Content[FHeaderCheckSum:], util.ConvertUInt4Bytes(sum))
	trailer := len(p.Content) - FileTrailerSize
	copy(p.Content[trailer:], util.ConvertUInt4Bytes(sum))
	// 尾部低4字节存放LSN低位，用于半写检测
	copy(p.Content[trailer+4:], util.ConvertUInt4Bytes(uint32(p.GetPageLSN()&0xFFFFFFFF)))
}

// VerifyChecksum 校验头尾校验和是否一致且与页面体匹配
func (p *AbstractPage) VerifyChecksum() bool {
	head := util.ReadUB4Byte2UInt32(p.Content[FHeaderCheckSum : FHeaderCheckSum+4])
	trailer := len(p.Content) - FileTrailerSize
	tail := util.ReadUB4Byte2UInt32(p.Content[trailer : trailer+4])
	if head != tail {
		return false
	}
	return head == util.PageChecksum(p.Body())
}
