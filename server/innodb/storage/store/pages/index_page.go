package pages

import (
	"bytes"

	"github.com/zhukovaskychina/xmysql-ibuf/server/common"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-ibuf/util"
)

// IndexRec 二级索引叶子页中的一条记录
type IndexRec struct {
	DeleteMarked bool
	Key          []byte
	Value        []byte
}

func (r *IndexRec) diskSize() int {
	// flags(1) + keyLen(2) + key + valLen(2) + val
	return 5 + len(r.Key) + len(r.Value)
}

// IndexPage 简化的二级索引叶子页
// 记录按键序存放，支持插入、删除标记与删除
type IndexPage struct {
	*AbstractPage
	Recs []IndexRec
}

// NewIndexPage 初始化一个空的叶子页
func NewIndexPage(pageSize uint32, spaceID, pageNo uint32) *IndexPage {
	p := NewAbstractPage(pageSize, spaceID, pageNo, common.FILE_PAGE_INDEX)
	ip := &IndexPage{AbstractPage: p}
	ip.Serialize()
	return ip
}

// IndexPageFromBytes 解析已有叶子页镜像
func IndexPageFromBytes(content []byte) (*IndexPage, error) {
	p, err := WrapPage(content)
	if err != nil {
		return nil, err
	}
	if p.GetPageType() != common.FILE_PAGE_INDEX {
		return nil, basic.ErrInvalidPageType
	}
	ip := &IndexPage{AbstractPage: p}
	if err := ip.parse(); err != nil {
		return nil, err
	}
	return ip, nil
}

func (ip *IndexPage) parse() error {
	body := ip.Body()
	offset, nRecs := util.ReadUB2(body, 0)
	ip.Recs = make([]IndexRec, 0, nRecs)
	for i := 0; i < int(nRecs); i++ {
		if offset+1 > len(body) {
			return basic.ErrPageCorrupted
		}
		var flags byte
		offset, flags = util.ReadByte(body, offset)
		if offset+2 > len(body) {
			return basic.ErrPageCorrupted
		}
		var key, val []byte
		offset, key = util.ReadWithLength(body, offset)
		if offset+2 > len(body) {
			return basic.ErrPageCorrupted
		}
		offset, val = util.ReadWithLength(body, offset)
		ip.Recs = append(ip.Recs, IndexRec{
			DeleteMarked: flags&0x01 != 0,
			Key:          key,
			Value:        val,
		})
	}
	return nil
}

// Serialize 将内存中的记录写回页面镜像
func (ip *IndexPage) Serialize() {
	body := ip.Body()
	buff := make([]byte, 0, len(body))
	buff = util.WriteUB2(buff, uint16(len(ip.Recs)))
	for i := range ip.Recs {
		rec := &ip.Recs[i]
		var flags byte
		if rec.DeleteMarked {
			flags |= 0x01
		}
		buff = util.WriteByte(buff, flags)
		buff = util.WriteWithLength(buff, rec.Key)
		buff = util.WriteWithLength(buff, rec.Value)
	}
	copy(body, buff)
	// 残留的旧字节不影响解析，nRecs决定有效范围
	for i := len(buff); i < len(body) && i < len(buff)+8; i++ {
		body[i] = 0
	}
}

// usedBytes 记录占用的字节数
func (ip *IndexPage) usedBytes() int {
	used := 2
	for i := range ip.Recs {
		used += ip.Recs[i].diskSize()
	}
	return used
}

// FreeSpace 页面体剩余可用字节数
func (ip *IndexPage) FreeSpace() int {
	free := len(ip.Body()) - ip.usedBytes()
	if free < 0 {
		return 0
	}
	return free
}

// RecCount 记录条数（含删除标记的记录）
func (ip *IndexPage) RecCount() int {
	return len(ip.Recs)
}

// find 返回key应当所在的下标以及是否命中
func (ip *IndexPage) find(key []byte) (int, bool) {
	lo, hi := 0, len(ip.Recs)
	for lo < hi {
		mid := (lo + hi) / 2
		switch bytes.Compare(ip.Recs[mid].Key, key) {
		case -1:
			lo = mid + 1
		case 0:
			return mid, true
		default:
			hi = mid
		}
	}
	return lo, false
}

// InsertRec 按键序插入一条记录
func (ip *IndexPage) InsertRec(key, value []byte) error {
	rec := IndexRec{Key: key, Value: value}
	if rec.diskSize() > ip.FreeSpace() {
		return basic.ErrPageFull
	}
	idx, found := ip.find(key)
	if found {
		// 非唯一二级索引：同键记录重新插入时复活删除标记的旧记录
		ip.Recs[idx].DeleteMarked = false
		ip.Recs[idx].Value = value
		ip.Serialize()
		return nil
	}
	ip.Recs = append(ip.Recs, IndexRec{})
	copy(ip.Recs[idx+1:], ip.Recs[idx:])
	ip.Recs[idx] = rec
	ip.Serialize()
	return nil
}

// DeleteMarkRec 给记录打删除标记
func (ip *IndexPage) DeleteMarkRec(key []byte) error {
	idx, found := ip.find(key)
	if !found {
		return basic.ErrRecordNotFound
	}
	ip.Recs[idx].DeleteMarked = true
	ip.Serialize()
	return nil
}

// DeleteRec 物理删除记录
func (ip *IndexPage) DeleteRec(key []byte) error {
	idx, found := ip.find(key)
	if !found {
		return basic.ErrRecordNotFound
	}
	ip.Recs = append(ip.Recs[:idx], ip.Recs[idx+1:]...)
	ip.Serialize()
	return nil
}

// GetRec 按键查找记录
func (ip *IndexPage) GetRec(key []byte) (*IndexRec, bool) {
	idx, found := ip.find(key)
	if !found {
		return nil, false
	}
	return &ip.Recs[idx], true
}
