package ibuf

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/storage/store/pages"
	"github.com/zhukovaskychina/xmysql-ibuf/util"
)

// Op 缓存的操作类型
// 数值直接落盘，绝对不可改动
type Op byte

const (
	OpInsert     Op = 0 // 插入
	OpDeleteMark Op = 1 // 删除标记
	OpDelete     Op = 2 // 物理删除（purge）
	OpCount         = 3 // 操作类型个数
)

func (op Op) String() string {
	switch op {
	case OpInsert:
		return "INSERT"
	case OpDeleteMark:
		return "DELETE_MARK"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Valid 是否合法的操作类型
func (op Op) Valid() bool {
	return op < OpCount
}

// CounterUndefined counter字段无法读取时的哨兵值
// 旧版本记录没有counter，属于正常情况而非错误
const CounterUndefined uint32 = 0xFFFFFFFF

// 记录头部固定长度：space(4) marker(1) page(4) counter(2) op(1) flags(1)
const recHeaderSize = 13

// Rec 一条缓存在ibuf树中的记录
//
// 磁盘编码：
//	space(4)   目标表空间ID
//	marker(1)  固定为0，用于区分新老版本格式
//	page(4)    目标页号
//	counter(2) 同一目标页上缓存操作的递增序号
//	op(1)      操作类型
//	flags(1)   行格式标记，预留
//	key(2+n)   二级索引键
//	value(2+n) 记录内容
type Rec struct {
	SpaceID uint32
	PageNo  uint32
	Counter uint16
	Op      Op
	Flags   byte
	Key     []byte
	Value   []byte
}

// Encode 编码为ibuf树的叶子记录
func (r *Rec) Encode() []byte {
	buff := make([]byte, 0, recHeaderSize+4+len(r.Key)+len(r.Value))
	buff = util.WriteUB4(buff, r.SpaceID)
	buff = util.WriteByte(buff, 0) // marker
	buff = util.WriteUB4(buff, r.PageNo)
	buff = util.WriteUB2(buff, r.Counter)
	buff = util.WriteByte(buff, byte(r.Op))
	buff = util.WriteByte(buff, r.Flags)
	buff = util.WriteWithLength(buff, r.Key)
	buff = util.WriteWithLength(buff, r.Value)
	return buff
}

// DecodeRec 解码一条ibuf记录
func DecodeRec(buf []byte) (*Rec, error) {
	if len(buf) < recHeaderSize+4 {
		return nil, errors.Annotate(basic.ErrIbufCorrupted, "record too short")
	}
	offset := 0
	r := new(Rec)
	offset, r.SpaceID = util.ReadUB4(buf, offset)
	var marker byte
	offset, marker = util.ReadByte(buf, offset)
	if marker != 0 {
		return nil, errors.Annotatef(basic.ErrIbufCorrupted, "unknown record marker %d", marker)
	}
	offset, r.PageNo = util.ReadUB4(buf, offset)
	offset, r.Counter = util.ReadUB2(buf, offset)
	var op byte
	offset, op = util.ReadByte(buf, offset)
	r.Op = Op(op)
	if !r.Op.Valid() {
		return nil, errors.Annotatef(basic.ErrIbufCorrupted, "unknown op %d", op)
	}
	offset, r.Flags = util.ReadByte(buf, offset)
	if offset+2 > len(buf) {
		return nil, errors.Annotate(basic.ErrIbufCorrupted, "truncated key")
	}
	offset, r.Key = util.ReadWithLength(buf, offset)
	if offset+2 > len(buf) {
		return nil, errors.Annotate(basic.ErrIbufCorrupted, "truncated value")
	}
	_, r.Value = util.ReadWithLength(buf, offset)
	return r, nil
}

// RecCounter 从记录中读取counter字段
// 旧格式（marker非0）或过短的记录返回CounterUndefined，不算错误
func RecCounter(buf []byte) uint32 {
	if len(buf) < recHeaderSize {
		return CounterUndefined
	}
	if buf[4] != 0 { // marker
		return CounterUndefined
	}
	return uint32(util.ReadUB2Byte2Int(buf[9:11]))
}

// RecTargetPage 从记录中读取目标页标识
func RecTargetPage(buf []byte) (basic.PageID, error) {
	if len(buf) < recHeaderSize {
		return basic.PageID{}, errors.Annotate(basic.ErrIbufCorrupted, "record too short")
	}
	spaceID := util.ReadUB4Byte2UInt32(buf[0:4])
	pageNo := util.ReadUB4Byte2UInt32(buf[5:9])
	return basic.NewPageID(spaceID, pageNo), nil
}

// NodeKey 该记录在ibuf树中的排序键
func (r *Rec) NodeKey() pages.NodeKey {
	return pages.NodeKey{SpaceID: r.SpaceID, PageNo: r.PageNo, Counter: r.Counter}
}

// DiskSize 记录的磁盘字节数，用于空闲空间估算
func (r *Rec) DiskSize() int {
	return recHeaderSize + 4 + len(r.Key) + len(r.Value)
}
