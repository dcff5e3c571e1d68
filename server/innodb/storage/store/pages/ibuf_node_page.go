package pages

import (
	"github.com/zhukovaskychina/xmysql-ibuf/server/common"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-ibuf/util"
)

// NodeKey ibuf树的排序键 (space, page, counter)
type NodeKey struct {
	SpaceID uint32
	PageNo  uint32
	Counter uint16
}

// Compare 按(space, page, counter)字典序比较
func (k NodeKey) Compare(o NodeKey) int {
	if k.SpaceID != o.SpaceID {
		if k.SpaceID < o.SpaceID {
			return -1
		}
		return 1
	}
	if k.PageNo != o.PageNo {
		if k.PageNo < o.PageNo {
			return -1
		}
		return 1
	}
	if k.Counter != o.Counter {
		if k.Counter < o.Counter {
			return -1
		}
		return 1
	}
	return 0
}

// IBufNodePage Insert Buffer B+树节点页
// 叶子节点存放完整的ibuf记录，内部节点存放(键, 子页号)对
type IBufNodePage struct {
	*AbstractPage
	Leaf bool

	// 叶子节点：已编码的ibuf记录，键序排列
	Entries [][]byte

	// 内部节点：Keys[i]为Children[i]子树的最小键
	Keys     []NodeKey
	Children []uint32
}

// NewIBufNodePage 初始化一个节点页
func NewIBufNodePage(pageSize uint32, spaceID, pageNo uint32, leaf bool) *IBufNodePage {
	p := NewAbstractPage(pageSize, spaceID, pageNo, common.FILE_PAGE_IBUF_INDEX)
	np := &IBufNodePage{AbstractPage: p, Leaf: leaf}
	np.Serialize()
	return np
}

// NodePageFromBytes 解析已有节点页镜像
func NodePageFromBytes(content []byte) (*IBufNodePage, error) {
	p, err := WrapPage(content)
	if err != nil {
		return nil, err
	}
	if p.GetPageType() != common.FILE_PAGE_IBUF_INDEX {
		return nil, basic.ErrInvalidPageType
	}
	np := &IBufNodePage{AbstractPage: p}
	if err := np.parse(); err != nil {
		return nil, err
	}
	return np, nil
}

func (np *IBufNodePage) parse() error {
	body := np.Body()
	offset := 0
	var leaf byte
	offset, leaf = util.ReadByte(body, offset)
	np.Leaf = leaf == 1
	var n uint16
	offset, n = util.ReadUB2(body, offset)

	if np.Leaf {
		np.Entries = make([][]byte, 0, n)
		for i := 0; i < int(n); i++ {
			if offset+2 > len(body) {
				return basic.ErrPageCorrupted
			}
			var rec []byte
			offset, rec = util.ReadWithLength(body, offset)
			np.Entries = append(np.Entries, rec)
		}
		return nil
	}

	np.Keys = make([]NodeKey, 0, n)
	np.Children = make([]uint32, 0, n)
	for i := 0; i < int(n); i++ {
		if offset+14 > len(body) {
			return basic.ErrPageCorrupted
		}
		var key NodeKey
		offset, key.SpaceID = util.ReadUB4(body, offset)
		offset, key.PageNo = util.ReadUB4(body, offset)
		offset, key.Counter = util.ReadUB2(body, offset)
		var child uint32
		offset, child = util.ReadUB4(body, offset)
		np.Keys = append(np.Keys, key)
		np.Children = append(np.Children, child)
	}
	return nil
}

// Serialize 将节点内容写回页面镜像
func (np *IBufNodePage) Serialize() {
	body := np.Body()
	buff := make([]byte, 0, len(body))
	buff = util.WriteByte(buff, util.ConvertBool2Byte(np.Leaf))
	if np.Leaf {
		buff = util.WriteUB2(buff, uint16(len(np.Entries)))
		for _, rec := range np.Entries {
			buff = util.WriteWithLength(buff, rec)
		}
	} else {
		buff = util.WriteUB2(buff, uint16(len(np.Children)))
		for i := range np.Children {
			buff = util.WriteUB4(buff, np.Keys[i].SpaceID)
			buff = util.WriteUB4(buff, np.Keys[i].PageNo)
			buff = util.WriteUB2(buff, np.Keys[i].Counter)
			buff = util.WriteUB4(buff, np.Children[i])
		}
	}
	copy(body, buff)
}

// UsedBytes 节点内容占用的字节数
func (np *IBufNodePage) UsedBytes() int {
	used := 3
	if np.Leaf {
		for _, rec := range np.Entries {
			used += 2 + len(rec)
		}
	} else {
		used += 14 * len(np.Children)
	}
	return used
}

// FreeSpace 页面体剩余可用字节数
func (np *IBufNodePage) FreeSpace() int {
	free := len(np.Body()) - np.UsedBytes()
	if free < 0 {
		return 0
	}
	return free
}
