package ibuf

import (
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-ibuf/logger"
	"github.com/zhukovaskychina/xmysql-ibuf/server/common"
	"github.com/zhukovaskychina/xmysql-ibuf/server/conf"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/mtr"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/storage/store"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/storage/store/pages"
	"github.com/zhukovaskychina/xmysql-ibuf/util"
)

// Mode innodb_change_buffering的取值
type Mode int

const (
	ModeNone Mode = iota
	ModeInserts
	ModeDeletes
	ModePurges
	ModeChanges
	ModeAll
)

// ParseMode 解析innodb_change_buffering配置
func ParseMode(s string) (Mode, error) {
	switch s {
	case "none":
		return ModeNone, nil
	case "inserts":
		return ModeInserts, nil
	case "deletes":
		return ModeDeletes, nil
	case "purges":
		return ModePurges, nil
	case "changes":
		return ModeChanges, nil
	case "all":
		return ModeAll, nil
	default:
		return ModeNone, errors.Annotatef(basic.ErrInvalidParameter, "innodb_change_buffering=%q", s)
	}
}

// Allows 该模式下是否允许缓存此操作
func (m Mode) Allows(op Op) bool {
	switch m {
	case ModeAll:
		return true
	case ModeInserts:
		return op == OpInsert
	case ModeDeletes:
		return op == OpDeleteMark
	case ModePurges:
		return op == OpDelete
	case ModeChanges:
		return op == OpInsert || op == OpDeleteMark
	default:
		return false
	}
}

// ibuf头页面body内的字段偏移
const (
	hdrSegSize      = 0  //4字节 ibuf段已分配页数
	hdrFreeListHead = 4  //4字节 空闲页链表头，0表示空
	hdrFreeListLen  = 8  //4字节 空闲页链表长度
	hdrHeight       = 12 //4字节 树高度
	hdrSize         = 16 //4字节 树页面数
)

// ChangeBuffer change buffer子系统的全部状态
// 每个引擎实例持有一个，由引擎显式传递，不使用全局单例
type ChangeBuffer struct {
	// size 树的页面数，宽松原子计数，近似可见性即可
	size atomic.Int64

	// treeMu 串行化树的结构性修改（插入、删除、分裂、收缩）
	treeMu sync.Mutex

	// mu 保护下面的结构字段
	mu           sync.Mutex
	segSize      uint32 // 含头页面在内，ibuf段占用的页数
	freeListLen  uint32 // 空闲页链表长度
	freeListHead uint32
	height       uint32 // 树高度，1表示仅根节点

	// empty 当且仅当树中没有任何记录
	// 只能在持有根页面排它锁时修改
	empty bool

	mode     Mode
	maxSize  int64 // 树页面数上限，超出后插入前强制收缩
	pageSize uint32

	pool   *buffer_pool.BufferPool
	spaces *store.SpaceManager
	redo   *manager.RedoLogManager
	env    basic.Env

	// contractCursor 轮转收缩的游标，记录上次处理到的目标页
	cursorMu       sync.Mutex
	contractCursor pages.NodeKey

	contractStop chan struct{}
	contractWG   sync.WaitGroup
}

// Init 在引擎启动时创建change buffer
// 失败属于致命错误，引擎启动应当中止
func Init(cfg *conf.Cfg, pool *buffer_pool.BufferPool, spaces *store.SpaceManager,
	redo *manager.RedoLogManager, env basic.Env) (*ChangeBuffer, error) {

	mode, err := ParseMode(cfg.InnodbChangeBuffering)
	if err != nil {
		return nil, errors.Trace(err)
	}

	maxSize := int64(cfg.InnodbBufferPoolPages) * int64(cfg.InnodbChangeBufferMaxSize) / 100
	if maxSize < 1 {
		maxSize = 1
	}

	cb := &ChangeBuffer{
		mode:     mode,
		maxSize:  maxSize,
		pageSize: uint32(cfg.InnodbPageSize),
		pool:     pool,
		spaces:   spaces,
		redo:     redo,
		env:      env,
	}

	if err := cb.bootstrapSystemSpace(); err != nil {
		return nil, errors.Annotate(err, "change buffer init")
	}

	pool.SetPageReadObserver(cb.onPageRead)

	logger.Infof("change buffer initialized: mode=%s size=%d seg_size=%d height=%d empty=%v",
		cfg.InnodbChangeBuffering, cb.size.Load(), cb.segSize, cb.height, cb.empty)
	return cb, nil
}

// bootstrapSystemSpace 保证系统表空间内ibuf的固定页面就位并装载状态
func (cb *ChangeBuffer) bootstrapSystemSpace() error {
	sys, err := cb.spaces.GetSpace(common.IBUF_SPACE_ID)
	if err != nil {
		sys, err = cb.spaces.CreateSpace(common.IBUF_SPACE_ID, "ibdata1", 0)
		if err != nil {
			return errors.Trace(err)
		}
	}

	fresh := sys.PageCount() <= common.IBUF_TREE_ROOT_PAGE_NO

	// 页面0: FSP头，页面1: ibuf位图，页面2: 预留，页面3: ibuf头，页面4: ibuf树根
	if fresh {
		if err := cb.allocateFixedPages(sys); err != nil {
			return errors.Trace(err)
		}
	}

	return cb.loadState()
}

func (cb *ChangeBuffer) allocateFixedPages(sys *store.Space) error {
	type fixedPage struct {
		pageNo   uint32
		pageType uint16
	}
	fixed := []fixedPage{
		{0, common.FILE_PAGE_TYPE_FSP_HDR},
		{common.FSP_IBUF_BITMAP_OFFSET, common.FILE_PAGE_IBUF_BITMAP},
		{2, common.FILE_PAGE_TYPE_SYS},
		{common.IBUF_HEADER_PAGE_NO, common.FILE_PAGE_TYPE_SYS},
		{common.IBUF_TREE_ROOT_PAGE_NO, common.FILE_PAGE_IBUF_INDEX},
	}
	for _, fp := range fixed {
		if sys.PageCount() > fp.pageNo {
			continue
		}
		no, err := sys.AllocatePage(fp.pageType)
		if err != nil {
			return errors.Trace(err)
		}
		basic.DebugAssert(no == fp.pageNo, "unexpected fixed page allocation order")
	}

	// 根页面初始化为空叶子节点
	root := pages.NewIBufNodePage(sys.PageSize(), common.IBUF_SPACE_ID, common.IBUF_TREE_ROOT_PAGE_NO, true)
	if err := sys.WritePage(common.IBUF_TREE_ROOT_PAGE_NO, root.Content); err != nil {
		return errors.Trace(err)
	}

	// 头页面记录初始段信息
	hdr := pages.NewAbstractPage(sys.PageSize(), common.IBUF_SPACE_ID, common.IBUF_HEADER_PAGE_NO, common.FILE_PAGE_TYPE_SYS)
	body := hdr.Body()
	copy(body[hdrSegSize:], util.ConvertUInt4Bytes(2)) // 头页面+根页面
	copy(body[hdrHeight:], util.ConvertUInt4Bytes(1))
	if err := sys.WritePage(common.IBUF_HEADER_PAGE_NO, hdr.Content); err != nil {
		return errors.Trace(err)
	}

	// 位图中把ibuf自身的页面标记出来，防止递归缓冲
	bmContent, err := sys.ReadPage(common.FSP_IBUF_BITMAP_OFFSET)
	if err != nil {
		return errors.Trace(err)
	}
	bm, err := pages.BitmapPageFromBytes(bmContent)
	if err != nil {
		return errors.Trace(err)
	}
	bm.SetIbuf(common.IBUF_HEADER_PAGE_NO, true)
	bm.SetIbuf(common.IBUF_TREE_ROOT_PAGE_NO, true)
	return errors.Trace(sys.WritePage(common.FSP_IBUF_BITMAP_OFFSET, bm.Content))
}

// loadState 从头页面与根页面恢复内存状态
func (cb *ChangeBuffer) loadState() error {
	hdrBlock, err := cb.pool.GetPageBlock(common.IBUF_SPACE_ID, common.IBUF_HEADER_PAGE_NO)
	if err != nil {
		return errors.Trace(err)
	}
	defer hdrBlock.Unpin()

	hdr, err := pages.WrapPage(hdrBlock.Content())
	if err != nil {
		return errors.Trace(err)
	}
	body := hdr.Body()
	cb.segSize = util.ReadUB4Byte2UInt32(body[hdrSegSize : hdrSegSize+4])
	cb.freeListHead = util.ReadUB4Byte2UInt32(body[hdrFreeListHead : hdrFreeListHead+4])
	cb.freeListLen = util.ReadUB4Byte2UInt32(body[hdrFreeListLen : hdrFreeListLen+4])
	cb.height = util.ReadUB4Byte2UInt32(body[hdrHeight : hdrHeight+4])
	cb.size.Store(int64(util.ReadUB4Byte2UInt32(body[hdrSize : hdrSize+4])))
	if cb.height == 0 {
		cb.height = 1
	}
	if cb.size.Load() == 0 {
		cb.size.Store(1)
	}

	// empty标记必须在根页面锁下确认
	rootBlock, err := cb.pool.GetPageBlock(common.IBUF_SPACE_ID, common.IBUF_TREE_ROOT_PAGE_NO)
	if err != nil {
		return errors.Trace(err)
	}
	defer rootBlock.Unpin()

	m := mtr.NewMtr(cb.redo)
	cb.MtrStart(m)
	m.XLatch(rootBlock.Latch())
	root, err := pages.NodePageFromBytes(rootBlock.Content())
	if err != nil {
		cb.MtrCommit(m)
		return errors.Annotate(err, "ibuf root page")
	}
	cb.empty = root.Leaf && len(root.Entries) == 0
	return errors.Trace(cb.mtrCommitChecked(m))
}

// persistHeader 将段信息写回头页面，调用方持有cb.mu
func (cb *ChangeBuffer) persistHeaderLocked(m *mtr.Mtr) error {
	hdrBlock, err := cb.pool.GetPageBlock(common.IBUF_SPACE_ID, common.IBUF_HEADER_PAGE_NO)
	if err != nil {
		return errors.Trace(err)
	}
	defer hdrBlock.Unpin()

	m.XLatch(hdrBlock.Latch())
	hdr, err := pages.WrapPage(hdrBlock.Content())
	if err != nil {
		return errors.Trace(err)
	}
	body := hdr.Body()
	copy(body[hdrSegSize:], util.ConvertUInt4Bytes(cb.segSize))
	copy(body[hdrFreeListHead:], util.ConvertUInt4Bytes(cb.freeListHead))
	copy(body[hdrFreeListLen:], util.ConvertUInt4Bytes(cb.freeListLen))
	copy(body[hdrHeight:], util.ConvertUInt4Bytes(cb.height))
	copy(body[hdrSize:], util.ConvertUInt4Bytes(uint32(cb.size.Load())))
	hdrBlock.MarkDirty()
	m.LogWrite(common.IBUF_SPACE_ID, common.IBUF_HEADER_PAGE_NO, pages.FileHeaderSize, body[:hdrSize+4])
	return nil
}

// Size 树当前占用的页面数（近似值）
func (cb *ChangeBuffer) Size() int64 {
	return cb.size.Load()
}

// SegSize ibuf段已分配的页面数
func (cb *ChangeBuffer) SegSize() uint32 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.segSize
}

// FreeListLen 空闲页链表长度
func (cb *ChangeBuffer) FreeListLen() uint32 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.freeListLen
}

// Height 树高度
func (cb *ChangeBuffer) Height() uint32 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.height
}

// IsEmpty 树是否为空
// 读取empty标记需要根页面锁，确保与并发插入/合并互斥
func (cb *ChangeBuffer) IsEmpty() bool {
	rootBlock, err := cb.pool.GetPageBlock(common.IBUF_SPACE_ID, common.IBUF_TREE_ROOT_PAGE_NO)
	if err != nil {
		logger.Errorf("ibuf root unavailable: %v", err)
		return false
	}
	defer rootBlock.Unpin()

	rootBlock.Latch().SLock()
	defer rootBlock.Latch().SUnlock()
	return cb.empty
}

// setEmpty 修改empty标记，调用方必须已持有根页面排它锁
func (cb *ChangeBuffer) setEmpty(empty bool) {
	cb.empty = empty
}

// MtrStart 启动一个change buffer mini-transaction
// 只读服务器下切换为no-redo模式：不会有持久状态变更
func (cb *ChangeBuffer) MtrStart(m *mtr.Mtr) {
	m.Start()
	m.EnterIbuf()
	if cb.env.IsReadOnly() {
		m.SetLogMode(mtr.LogModeNoRedo)
	}
}

// MtrCommit 提交一个change buffer mini-transaction
func (cb *ChangeBuffer) MtrCommit(m *mtr.Mtr) {
	basic.DebugAssert(m.IsInsideIbuf(), "committing non-ibuf mtr via ibuf")
	m.ExitIbuf()
	if err := m.Commit(); err != nil {
		logger.Errorf("ibuf mtr commit: %v", err)
	}
}

// mtrCommitChecked 与MtrCommit相同但透传错误
func (cb *ChangeBuffer) mtrCommitChecked(m *mtr.Mtr) error {
	basic.DebugAssert(m.IsInsideIbuf(), "committing non-ibuf mtr via ibuf")
	m.ExitIbuf()
	return m.Commit()
}

// Inside 当前mini-transaction是否在change buffer例程内部
// 缓冲例程执行期间禁止普通页面的read-ahead
func Inside(m *mtr.Mtr) bool {
	return m != nil && m.IsInsideIbuf()
}

// onPageRead 缓冲池读取完成回调
// 普通索引叶子页读入后merge缓存的操作；新建页面则丢弃遗留的缓存项
func (cb *ChangeBuffer) onPageRead(block *buffer_pool.BufferBlock, created bool) error {
	if cb.env.RecoveryDisablesIbuf() {
		return nil
	}

	id := block.PageID()
	p, err := pages.WrapPage(block.Content())
	if err != nil {
		return errors.Trace(err)
	}
	// 只有普通索引叶子页(level 0)参与merge，ibuf自身页面绝不参与
	if p.GetPageType() != common.FILE_PAGE_INDEX {
		return nil
	}
	if cb.isFixedIbufPage(id) || IsBitmapPage(id, cb.pageSize) {
		return nil
	}

	if created {
		return cb.MergeOrDeleteForPage(nil, id, cb.pageSize)
	}
	return cb.MergeOrDeleteForPage(block, id, cb.pageSize)
}

// Close 关闭change buffer，持久化段信息
func (cb *ChangeBuffer) Close() error {
	cb.StopContractor()

	m := mtr.NewMtr(cb.redo)
	cb.MtrStart(m)
	cb.mu.Lock()
	err := cb.persistHeaderLocked(m)
	cb.mu.Unlock()
	if cmErr := cb.mtrCommitChecked(m); err == nil {
		err = cmErr
	}

	logger.Infof("change buffer closed: size=%d seg_size=%d free_list_len=%d height=%d empty=%v",
		cb.size.Load(), cb.SegSize(), cb.FreeListLen(), cb.Height(), cb.empty)
	return errors.Trace(err)
}
