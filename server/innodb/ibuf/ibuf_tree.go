package ibuf

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-ibuf/logger"
	"github.com/zhukovaskychina/xmysql-ibuf/server/common"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/mtr"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/storage/store/pages"
	"github.com/zhukovaskychina/xmysql-ibuf/util"
)

// ibuf树的实现
//
// 键为(space, page, counter)，叶子存放完整记录，内部节点存放
// (子树最小键, 子页号)。根固定在IBUF_TREE_ROOT_PAGE_NO，分裂到根时
// 把根的内容搬到新页，根自身变为内部节点，树高加一。
// 结构性修改由cb.treeMu串行化，页面锁仍通过mini-transaction memo
// 持有到提交，保证与merge路径的读者互斥。

// recKey 解出编码记录的排序键
func recKey(buf []byte) pages.NodeKey {
	k := pages.NodeKey{}
	if len(buf) < recHeaderSize {
		return k
	}
	k.SpaceID = util.ReadUB4Byte2UInt32(buf[0:4])
	k.PageNo = util.ReadUB4Byte2UInt32(buf[5:9])
	k.Counter = uint16(util.ReadUB2Byte2Int(buf[9:11]))
	return k
}

// treeHandle 一次树操作期间持有的页面帧，操作结束统一Unpin
// 页面锁不在这里释放，由mtr提交时按逆序释放
type treeHandle struct {
	blocks []*buffer_pool.BufferBlock
}

func (h *treeHandle) track(block *buffer_pool.BufferBlock) {
	h.blocks = append(h.blocks, block)
}

func (h *treeHandle) release() {
	for _, b := range h.blocks {
		b.Unpin()
	}
	h.blocks = nil
}

// getNode 取一个树节点页并加锁
func (cb *ChangeBuffer) getNode(m *mtr.Mtr, h *treeHandle, pageNo uint32, exclusive bool) (*buffer_pool.BufferBlock, *pages.IBufNodePage, error) {
	block, err := cb.pool.GetPageBlock(common.IBUF_SPACE_ID, pageNo)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	h.track(block)
	if exclusive {
		m.XLatch(block.Latch())
	} else {
		m.SLatch(block.Latch())
	}
	np, err := pages.NodePageFromBytes(block.Content())
	if err != nil {
		return nil, nil, errors.Annotatef(err, "ibuf node page %d", pageNo)
	}
	return block, np, nil
}

// writeNode 节点修改后的统一落地动作
func (cb *ChangeBuffer) writeNode(m *mtr.Mtr, block *buffer_pool.BufferBlock, np *pages.IBufNodePage) {
	np.Serialize()
	block.MarkDirty()
	m.LogWrite(common.IBUF_SPACE_ID, np.GetPageNo(), pages.FileHeaderSize,
		np.Body()[:np.UsedBytes()])
}

// allocNodePage 为树分配一个新页，优先复用空闲链表
// 调用方持有cb.treeMu
func (cb *ChangeBuffer) allocNodePage(m *mtr.Mtr, h *treeHandle, leaf bool) (*buffer_pool.BufferBlock, *pages.IBufNodePage, error) {
	cb.mu.Lock()
	head := cb.freeListHead
	cb.mu.Unlock()

	var pageNo uint32
	if head != 0 {
		pageNo = head
	} else {
		sys, err := cb.spaces.GetSpace(common.IBUF_SPACE_ID)
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		pageNo, err = sys.AllocatePage(common.FILE_PAGE_IBUF_INDEX)
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		cb.mu.Lock()
		cb.segSize++
		cb.mu.Unlock()
	}

	// 页面帧可能已在缓冲池中（空闲页复用），在帧内原地重新初始化
	block, err := cb.pool.GetPageBlock(common.IBUF_SPACE_ID, pageNo)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	h.track(block)
	m.XLatch(block.Latch())

	if head != 0 {
		// 空闲链表头指针存放在空闲页的next字段
		p, err := pages.WrapPage(block.Content())
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		cb.mu.Lock()
		cb.freeListHead = p.GetNextPage()
		cb.freeListLen--
		cb.mu.Unlock()
	}

	np := pages.NewIBufNodePage(cb.pageSize, common.IBUF_SPACE_ID, pageNo, leaf)
	copy(block.Content(), np.Content)
	block.MarkDirty()
	np2, err := pages.NodePageFromBytes(block.Content())
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	cb.size.Add(1)
	return block, np2, nil
}

// freeNodePage 将空树页挂回空闲链表
// 页面改写为空闲链表页类型，next字段指向原链表头
func (cb *ChangeBuffer) freeNodePage(m *mtr.Mtr, block *buffer_pool.BufferBlock, pageNo uint32) error {
	p, err := pages.WrapPage(block.Content())
	if err != nil {
		return errors.Trace(err)
	}

	cb.mu.Lock()
	p.SetPageType(common.FILE_PAGE_IBUF_FREE_LIST)
	p.SetNextPage(cb.freeListHead)
	cb.freeListHead = pageNo
	cb.freeListLen++
	cb.mu.Unlock()

	block.MarkDirty()
	m.LogWrite(common.IBUF_SPACE_ID, pageNo, 0, block.Content()[:pages.FileHeaderSize])
	cb.size.Add(-1)
	return nil
}

// pathEntry 下降路径上的一层
type pathEntry struct {
	block *buffer_pool.BufferBlock
	node  *pages.IBufNodePage
	idx   int // 所走的child下标
}

// descend 从根下降到key所在叶子，记录完整路径
// 内部节点取"最后一个键不大于key"的孩子；key比所有键都小时走第0个
func (cb *ChangeBuffer) descend(m *mtr.Mtr, h *treeHandle, key pages.NodeKey) ([]pathEntry, error) {
	var path []pathEntry
	pageNo := uint32(common.IBUF_TREE_ROOT_PAGE_NO)
	for {
		block, np, err := cb.getNode(m, h, pageNo, true)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if np.Leaf {
			path = append(path, pathEntry{block: block, node: np})
			return path, nil
		}
		if len(np.Children) == 0 {
			return nil, errors.Annotatef(basic.ErrIbufCorrupted, "internal node %d without children", pageNo)
		}
		idx := 0
		for i := 1; i < len(np.Keys); i++ {
			if np.Keys[i].Compare(key) <= 0 {
				idx = i
			} else {
				break
			}
		}
		path = append(path, pathEntry{block: block, node: np, idx: idx})
		pageNo = np.Children[idx]
	}
}

// leftmostLeaf 下降到不小于key的第一个可能叶子（与descend相同路径）
// 随后调用方沿叶子链表向右扫描
func (cb *ChangeBuffer) leftmostLeaf(m *mtr.Mtr, h *treeHandle, key pages.NodeKey, exclusive bool) (*buffer_pool.BufferBlock, *pages.IBufNodePage, error) {
	pageNo := uint32(common.IBUF_TREE_ROOT_PAGE_NO)
	for {
		block, np, err := cb.getNode(m, h, pageNo, exclusive)
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		if np.Leaf {
			return block, np, nil
		}
		if len(np.Children) == 0 {
			return nil, nil, errors.Annotatef(basic.ErrIbufCorrupted, "internal node %d without children", pageNo)
		}
		idx := 0
		for i := 1; i < len(np.Keys); i++ {
			if np.Keys[i].Compare(key) <= 0 {
				idx = i
			} else {
				break
			}
		}
		pageNo = np.Children[idx]
	}
}

// treeInsert 把一条编码好的记录插入树中
// 调用方持有cb.treeMu，页面锁挂在m上
func (cb *ChangeBuffer) treeInsert(m *mtr.Mtr, h *treeHandle, rec []byte) error {
	key := recKey(rec)
	path, err := cb.descend(m, h, key)
	if err != nil {
		return errors.Trace(err)
	}

	leaf := path[len(path)-1]
	pos := len(leaf.node.Entries)
	for i, e := range leaf.node.Entries {
		if recKey(e).Compare(key) > 0 {
			pos = i
			break
		}
	}

	need := 2 + len(rec)
	if leaf.node.FreeSpace() >= need {
		leaf.node.Entries = append(leaf.node.Entries, nil)
		copy(leaf.node.Entries[pos+1:], leaf.node.Entries[pos:])
		leaf.node.Entries[pos] = rec
		cb.writeNode(m, leaf.block, leaf.node)
		cb.fixSeparators(m, path, key)
		cb.setEmpty(false)
		return nil
	}

	return cb.splitAndInsert(m, h, path, rec)
}

// fixSeparators 新键比子树原最小键更小时，更新路径上的分隔键
func (cb *ChangeBuffer) fixSeparators(m *mtr.Mtr, path []pathEntry, key pages.NodeKey) {
	for i := len(path) - 2; i >= 0; i-- {
		pe := path[i]
		// 分裂可能已把该下标的键移去右兄弟
		if pe.idx >= len(pe.node.Keys) {
			continue
		}
		if key.Compare(pe.node.Keys[pe.idx]) < 0 {
			pe.node.Keys[pe.idx] = key
			cb.writeNode(m, pe.block, pe.node)
		}
	}
}

// splitAndInsert 叶子已满，先分裂再插入，必要时向上传播
func (cb *ChangeBuffer) splitAndInsert(m *mtr.Mtr, h *treeHandle, path []pathEntry, rec []byte) error {
	leaf := path[len(path)-1]

	// 按字节量对半切分
	total := 0
	for _, e := range leaf.node.Entries {
		total += 2 + len(e)
	}
	splitAt, acc := 0, 0
	for i, e := range leaf.node.Entries {
		acc += 2 + len(e)
		if acc >= total/2 {
			splitAt = i + 1
			break
		}
	}
	if splitAt == 0 || splitAt >= len(leaf.node.Entries) {
		splitAt = len(leaf.node.Entries) / 2
	}
	if splitAt == 0 {
		// 单条记录都放不下，页面尺寸配置有误
		return errors.Annotatef(basic.ErrIbufNoRoom, "record of %d bytes exceeds node capacity", len(rec))
	}

	rightBlock, rightNode, err := cb.allocNodePage(m, h, true)
	if err != nil {
		return errors.Trace(err)
	}

	rightNode.Entries = append(rightNode.Entries, leaf.node.Entries[splitAt:]...)
	leaf.node.Entries = leaf.node.Entries[:splitAt]

	// 叶子链表
	rightNode.SetNextPage(leaf.node.GetNextPage())
	rightNode.SetPrevPage(leaf.node.GetPageNo())
	leaf.node.SetNextPage(rightNode.GetPageNo())

	// 插入到正确的一侧
	key := recKey(rec)
	target := leaf.node
	if len(rightNode.Entries) > 0 && key.Compare(recKey(rightNode.Entries[0])) >= 0 {
		target = rightNode
	}
	insPos := len(target.Entries)
	for i, e := range target.Entries {
		if recKey(e).Compare(key) > 0 {
			insPos = i
			break
		}
	}
	if target.FreeSpace() < 2+len(rec) {
		return errors.Annotatef(basic.ErrIbufNoRoom, "record of %d bytes exceeds node capacity", len(rec))
	}
	target.Entries = append(target.Entries, nil)
	copy(target.Entries[insPos+1:], target.Entries[insPos:])
	target.Entries[insPos] = rec

	cb.writeNode(m, leaf.block, leaf.node)
	cb.writeNode(m, rightBlock, rightNode)

	sepKey := recKey(rightNode.Entries[0])
	if err := cb.insertSeparator(m, h, path[:len(path)-1], sepKey, rightNode.GetPageNo()); err != nil {
		return errors.Trace(err)
	}
	cb.fixSeparators(m, path, key)
	cb.setEmpty(false)
	return nil
}

// insertSeparator 向父节点插入(分隔键, 右兄弟)，内部节点满时继续分裂
func (cb *ChangeBuffer) insertSeparator(m *mtr.Mtr, h *treeHandle, path []pathEntry, key pages.NodeKey, child uint32) error {
	if len(path) == 0 {
		return cb.growRoot(m, h, key, child)
	}

	parent := path[len(path)-1]
	at := parent.idx + 1
	parent.node.Keys = append(parent.node.Keys, pages.NodeKey{})
	parent.node.Children = append(parent.node.Children, 0)
	copy(parent.node.Keys[at+1:], parent.node.Keys[at:])
	copy(parent.node.Children[at+1:], parent.node.Children[at:])
	parent.node.Keys[at] = key
	parent.node.Children[at] = child

	if parent.node.FreeSpace() >= 0 && parent.node.UsedBytes() <= len(parent.node.Body()) {
		cb.writeNode(m, parent.block, parent.node)
		return nil
	}

	// 内部节点分裂
	half := len(parent.node.Children) / 2
	rightBlock, rightNode, err := cb.allocNodePage(m, h, false)
	if err != nil {
		return errors.Trace(err)
	}
	rightNode.Keys = append(rightNode.Keys, parent.node.Keys[half:]...)
	rightNode.Children = append(rightNode.Children, parent.node.Children[half:]...)
	parent.node.Keys = parent.node.Keys[:half]
	parent.node.Children = parent.node.Children[:half]

	cb.writeNode(m, parent.block, parent.node)
	cb.writeNode(m, rightBlock, rightNode)

	return cb.insertSeparator(m, h, path[:len(path)-1], rightNode.Keys[0], rightNode.GetPageNo())
}

// growRoot 根分裂：根的现有内容搬到新页，根变为两个孩子的内部节点
func (cb *ChangeBuffer) growRoot(m *mtr.Mtr, h *treeHandle, sepKey pages.NodeKey, rightChild uint32) error {
	rootBlock, rootNode, err := cb.getNode(m, h, common.IBUF_TREE_ROOT_PAGE_NO, true)
	if err != nil {
		return errors.Trace(err)
	}

	leftBlock, leftNode, err := cb.allocNodePage(m, h, rootNode.Leaf)
	if err != nil {
		return errors.Trace(err)
	}
	leftNode.Leaf = rootNode.Leaf
	leftNode.Entries = append(leftNode.Entries, rootNode.Entries...)
	leftNode.Keys = append(leftNode.Keys, rootNode.Keys...)
	leftNode.Children = append(leftNode.Children, rootNode.Children...)
	leftNode.SetNextPage(rootNode.GetNextPage())
	leftNode.SetPrevPage(0)

	var leftMin pages.NodeKey
	if leftNode.Leaf && len(leftNode.Entries) > 0 {
		leftMin = recKey(leftNode.Entries[0])
	} else if len(leftNode.Keys) > 0 {
		leftMin = leftNode.Keys[0]
	}

	rootNode.Leaf = false
	rootNode.Entries = nil
	rootNode.Keys = []pages.NodeKey{leftMin, sepKey}
	rootNode.Children = []uint32{leftNode.GetPageNo(), rightChild}
	rootNode.SetNextPage(0)
	rootNode.SetPrevPage(0)

	cb.writeNode(m, leftBlock, leftNode)
	cb.writeNode(m, rootBlock, rootNode)

	cb.mu.Lock()
	cb.height++
	height := cb.height
	cb.mu.Unlock()
	logger.Debugf("ibuf tree grew to height %d", height)
	return nil
}

// treeScanForPage 收集某个目标页的全部缓存记录，按counter升序
// exclusive为true时叶子加排它锁，供随后的删除使用
func (cb *ChangeBuffer) treeScanForPage(m *mtr.Mtr, h *treeHandle, id basic.PageID, exclusive bool) ([][]byte, error) {
	low := pages.NodeKey{SpaceID: id.SpaceID, PageNo: id.PageNo, Counter: 0}
	_, np, err := cb.leftmostLeaf(m, h, low, exclusive)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var out [][]byte
	for {
		for _, e := range np.Entries {
			k := recKey(e)
			if k.SpaceID == id.SpaceID && k.PageNo == id.PageNo {
				cp := make([]byte, len(e))
				copy(cp, e)
				out = append(out, cp)
				continue
			}
			if k.Compare(low) > 0 {
				return out, nil
			}
		}
		next := np.GetNextPage()
		if next == 0 {
			return out, nil
		}
		// 分隔键可能滞后，继续沿叶子链表确认
		_, np, err = cb.getNode(m, h, next, exclusive)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}
}

// treeDeleteForPage 删除某目标页的全部缓存记录
// 返回删除的记录条数；空出的叶子挂回空闲链表
func (cb *ChangeBuffer) treeDeleteForPage(m *mtr.Mtr, h *treeHandle, id basic.PageID) (int, error) {
	deleted := 0
	for {
		n, err := cb.deleteOnePass(m, h, id)
		if err != nil {
			return deleted, errors.Trace(err)
		}
		deleted += n
		if n == 0 {
			break
		}
	}
	if deleted > 0 {
		cb.refreshEmpty(m, h)
	}
	return deleted, nil
}

// deleteOnePass 删除目标页在单个叶子内的记录，一次处理一个叶子
func (cb *ChangeBuffer) deleteOnePass(m *mtr.Mtr, h *treeHandle, id basic.PageID) (int, error) {
	low := pages.NodeKey{SpaceID: id.SpaceID, PageNo: id.PageNo, Counter: 0}
	path, err := cb.descend(m, h, low)
	if err != nil {
		return 0, errors.Trace(err)
	}

	leaf := path[len(path)-1]
	block, np := leaf.block, leaf.node
	for {
		kept := np.Entries[:0]
		removed := 0
		for _, e := range np.Entries {
			k := recKey(e)
			if k.SpaceID == id.SpaceID && k.PageNo == id.PageNo {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if removed > 0 {
			np.Entries = kept
			if len(np.Entries) == 0 && np.GetPageNo() != common.IBUF_TREE_ROOT_PAGE_NO {
				if err := cb.unlinkLeaf(m, h, path, np, block); err != nil {
					return removed, errors.Trace(err)
				}
			} else {
				cb.writeNode(m, block, np)
			}
			return removed, nil
		}

		// 本叶子没有目标记录，看下一叶子是否还有
		next := np.GetNextPage()
		if next == 0 {
			return 0, nil
		}
		nb, nn, err := cb.getNode(m, h, next, true)
		if err != nil {
			return 0, errors.Trace(err)
		}
		if len(nn.Entries) == 0 {
			path = nil
			block, np = nb, nn
			continue
		}
		k := recKey(nn.Entries[0])
		if k.SpaceID != id.SpaceID || k.PageNo != id.PageNo {
			return 0, nil
		}

		// 用下一叶子的首条键重新下降，拿到精确路径后空出来的叶子
		// 才能从父节点摘除并挂回空闲链表
		path, err = cb.descend(m, h, k)
		if err != nil {
			return 0, errors.Trace(err)
		}
		leaf = path[len(path)-1]
		if leaf.node.GetPageNo() == np.GetPageNo() {
			// 分隔键滞后到定位不了目标叶子，退回链式处理
			path = nil
			block, np = nb, nn
		} else {
			block, np = leaf.block, leaf.node
		}
	}
}

// unlinkLeaf 把空叶子从父节点和叶子链表中摘除
// path为nil时（分隔键滞后的退化场景）叶子保留为空页，父节点仍指向
// 它，落在其键区间的后续插入会重新用上
func (cb *ChangeBuffer) unlinkLeaf(m *mtr.Mtr, h *treeHandle, path []pathEntry, np *pages.IBufNodePage, block *buffer_pool.BufferBlock) error {
	if path == nil || len(path) < 2 {
		cb.writeNode(m, block, np)
		return nil
	}

	parent := path[len(path)-2]
	at := parent.idx
	if at >= len(parent.node.Children) || parent.node.Children[at] != np.GetPageNo() {
		cb.writeNode(m, block, np)
		return nil
	}

	// 叶子链表摘除
	prev, next := np.GetPrevPage(), np.GetNextPage()
	if prev != 0 {
		pb, pn, err := cb.getNode(m, h, prev, true)
		if err != nil {
			return errors.Trace(err)
		}
		pn.SetNextPage(next)
		cb.writeNode(m, pb, pn)
	}
	if next != 0 {
		nb, nn, err := cb.getNode(m, h, next, true)
		if err != nil {
			return errors.Trace(err)
		}
		nn.SetPrevPage(prev)
		cb.writeNode(m, nb, nn)
	}

	parent.node.Keys = append(parent.node.Keys[:at], parent.node.Keys[at+1:]...)
	parent.node.Children = append(parent.node.Children[:at], parent.node.Children[at+1:]...)
	cb.writeNode(m, parent.block, parent.node)

	if err := cb.freeNodePage(m, block, np.GetPageNo()); err != nil {
		return errors.Trace(err)
	}

	// 父节点只剩一个孩子且父为根时收拢根
	if parent.node.GetPageNo() == common.IBUF_TREE_ROOT_PAGE_NO && len(parent.node.Children) == 1 {
		return cb.collapseRoot(m, h, parent)
	}
	return nil
}

// collapseRoot 根只剩一个孩子时，把孩子的内容提升回根，树高减一
func (cb *ChangeBuffer) collapseRoot(m *mtr.Mtr, h *treeHandle, root pathEntry) error {
	childNo := root.node.Children[0]
	childBlock, childNode, err := cb.getNode(m, h, childNo, true)
	if err != nil {
		return errors.Trace(err)
	}

	root.node.Leaf = childNode.Leaf
	root.node.Entries = append([][]byte(nil), childNode.Entries...)
	root.node.Keys = append([]pages.NodeKey(nil), childNode.Keys...)
	root.node.Children = append([]uint32(nil), childNode.Children...)
	root.node.SetNextPage(0)
	root.node.SetPrevPage(0)
	cb.writeNode(m, root.block, root.node)

	if err := cb.freeNodePage(m, childBlock, childNo); err != nil {
		return errors.Trace(err)
	}

	cb.mu.Lock()
	if cb.height > 1 {
		cb.height--
	}
	height := cb.height
	cb.mu.Unlock()
	logger.Debugf("ibuf tree shrank to height %d", height)
	return nil
}

// refreshEmpty 删除后重算empty标记，需要根页面排它锁在m上
func (cb *ChangeBuffer) refreshEmpty(m *mtr.Mtr, h *treeHandle) {
	_, root, err := cb.getNode(m, h, common.IBUF_TREE_ROOT_PAGE_NO, true)
	if err != nil {
		logger.Errorf("ibuf root reload: %v", err)
		return
	}
	cb.setEmpty(root.Leaf && len(root.Entries) == 0)
}

// firstEntryAfter 返回树中严格大于key的第一条记录的键
// 轮转收缩用它挑选下一个merge目标；树空时ok为false
func (cb *ChangeBuffer) firstEntryAfter(m *mtr.Mtr, h *treeHandle, key pages.NodeKey) (pages.NodeKey, bool, error) {
	_, np, err := cb.leftmostLeaf(m, h, key, false)
	if err != nil {
		return pages.NodeKey{}, false, errors.Trace(err)
	}
	for {
		for _, e := range np.Entries {
			k := recKey(e)
			if k.Compare(key) > 0 {
				return k, true, nil
			}
		}
		next := np.GetNextPage()
		if next == 0 {
			return pages.NodeKey{}, false, nil
		}
		_, np, err = cb.getNode(m, h, next, false)
		if err != nil {
			return pages.NodeKey{}, false, errors.Trace(err)
		}
	}
}
