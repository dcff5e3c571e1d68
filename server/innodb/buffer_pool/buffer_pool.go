package buffer_pool

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/zhukovaskychina/xmysql-ibuf/logger"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/storage/store"
)

// PageReadObserver 页面从磁盘进入缓冲池后的回调
// created为true表示页面是在缓冲池中新建的，没有经过磁盘读取
// change buffer通过该回调在读取完成后触发merge
type PageReadObserver func(block *BufferBlock, created bool) error

// BufferPool represents the InnoDB buffer pool
type BufferPool struct {
	mu sync.RWMutex

	capacity int               // 最大页面帧数
	cache    map[uint64]*list.Element // PageID.Key() -> lru元素
	lru      *list.List        // 队首为最近使用

	spaceManager *store.SpaceManager // 存储管理器

	// Statistics
	hitCount  uint64 // 缓存命中次数
	missCount uint64 // 缓存未命中次数

	readObserver PageReadObserver

	prefetchManager *PrefetchManager // 预读管理器
}

// NewBufferPool creates a new buffer pool
func NewBufferPool(capacity int, spaceManager *store.SpaceManager) *BufferPool {
	bp := &BufferPool{
		capacity:     capacity,
		cache:        make(map[uint64]*list.Element),
		lru:          list.New(),
		spaceManager: spaceManager,
	}
	bp.prefetchManager = NewPrefetchManager(bp, 8, 64, 2)
	return bp
}

// SetPageReadObserver 注册页面读取完成回调，必须在使用前设置
func (bp *BufferPool) SetPageReadObserver(observer PageReadObserver) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.readObserver = observer
}

// GetPrefetchManager 预读管理器
func (bp *BufferPool) GetPrefetchManager() *PrefetchManager {
	return bp.prefetchManager
}

// GetHitRatio returns the cache hit ratio
func (bp *BufferPool) GetHitRatio() float64 {
	total := atomic.LoadUint64(&bp.hitCount) + atomic.LoadUint64(&bp.missCount)
	if total == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&bp.hitCount)) / float64(total)
}

// GetPageBlockIfInPool 页面已在缓冲池时返回它，否则返回nil
// 调用方据此判断目标页是否内存驻留，决定是否走change buffer
func (bp *BufferPool) GetPageBlockIfInPool(spaceID, pageNo uint32) *BufferBlock {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	key := basic.NewPageID(spaceID, pageNo).Key()
	if elem, ok := bp.cache[key]; ok {
		bp.lru.MoveToFront(elem)
		block := elem.Value.(*BufferBlock)
		block.Pin()
		return block
	}
	return nil
}

// GetPageBlock 获取页面帧，不在缓冲池时从磁盘读入
// 返回的block已Pin，调用方用完必须Unpin
func (bp *BufferPool) GetPageBlock(spaceID, pageNo uint32) (*BufferBlock, error) {
	bp.mu.Lock()
	key := basic.NewPageID(spaceID, pageNo).Key()
	if elem, ok := bp.cache[key]; ok {
		atomic.AddUint64(&bp.hitCount, 1)
		bp.lru.MoveToFront(elem)
		block := elem.Value.(*BufferBlock)
		block.Pin()
		bp.mu.Unlock()
		return block, nil
	}
	atomic.AddUint64(&bp.missCount, 1)
	observer := bp.readObserver
	bp.mu.Unlock()

	// 磁盘读取在池锁外进行
	space, err := bp.spaceManager.GetSpace(spaceID)
	if err != nil {
		return nil, err
	}
	content, err := space.ReadPage(pageNo)
	if err != nil {
		return nil, err
	}

	block, loaded := bp.insertBlock(spaceID, pageNo, content)
	if !loaded {
		// 其它线程已抢先装入
		return block, nil
	}

	// 读取完成回调：change buffer在此时merge缓存的操作
	if observer != nil {
		if err := observer(block, false); err != nil {
			block.Unpin()
			return nil, err
		}
	}
	return block, nil
}

// NewPageBlock 在缓冲池中新建页面，不经过磁盘读取
// 用于刚分配的页面；change buffer会丢弃该页遗留的缓存操作
func (bp *BufferPool) NewPageBlock(spaceID, pageNo uint32, content []byte) (*BufferBlock, error) {
	bp.mu.RLock()
	observer := bp.readObserver
	bp.mu.RUnlock()

	block, loaded := bp.insertBlock(spaceID, pageNo, content)
	if loaded && observer != nil {
		if err := observer(block, true); err != nil {
			block.Unpin()
			return nil, err
		}
	}
	return block, nil
}

// insertBlock 将页面装入缓冲池，必要时先淘汰
// 返回的block已Pin；loaded为false表示命中了并发装入的帧
func (bp *BufferPool) insertBlock(spaceID, pageNo uint32, content []byte) (*BufferBlock, bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	key := basic.NewPageID(spaceID, pageNo).Key()
	if elem, ok := bp.cache[key]; ok {
		bp.lru.MoveToFront(elem)
		block := elem.Value.(*BufferBlock)
		block.Pin()
		return block, false
	}

	for bp.lru.Len() >= bp.capacity {
		if !bp.evictOneLocked() {
			logger.Warnf("buffer pool over capacity and nothing evictable, %d pages", bp.lru.Len())
			break
		}
	}

	block := NewBufferBlock(spaceID, pageNo, content)
	block.Pin()
	elem := bp.lru.PushFront(block)
	bp.cache[key] = elem
	return block, true
}

// evictOneLocked 从LRU尾部淘汰一个未固定的干净页面
func (bp *BufferPool) evictOneLocked() bool {
	for elem := bp.lru.Back(); elem != nil; elem = elem.Prev() {
		block := elem.Value.(*BufferBlock)
		if block.PinCount() > 0 {
			continue
		}
		if block.IsDirty() {
			// 脏页先刷后淘汰
			if err := bp.flushBlock(block); err != nil {
				logger.Errorf("flush before evict failed for %s: %v", block.PageID(), err)
				continue
			}
		}
		bp.lru.Remove(elem)
		delete(bp.cache, block.PageID().Key())
		return true
	}
	return false
}

// flushBlock 将页面写回表空间
func (bp *BufferPool) flushBlock(block *BufferBlock) error {
	space, err := bp.spaceManager.GetSpace(block.GetSpaceID())
	if err != nil {
		return err
	}
	if err := space.WritePage(block.GetPageNo(), block.Content()); err != nil {
		return err
	}
	block.ClearDirty()
	return nil
}

// FlushPage 显式刷出一个页面
func (bp *BufferPool) FlushPage(block *BufferBlock) error {
	return bp.flushBlock(block)
}

// FlushAll 刷出全部脏页
func (bp *BufferPool) FlushAll() error {
	bp.mu.RLock()
	blocks := make([]*BufferBlock, 0, bp.lru.Len())
	for elem := bp.lru.Front(); elem != nil; elem = elem.Next() {
		blocks = append(blocks, elem.Value.(*BufferBlock))
	}
	bp.mu.RUnlock()

	for _, block := range blocks {
		if block.IsDirty() {
			if err := bp.flushBlock(block); err != nil {
				return err
			}
		}
	}
	return nil
}

// DiscardSpacePages 丢弃某表空间在缓冲池中的全部页面，不回写
// 用于DISCARD TABLESPACE
func (bp *BufferPool) DiscardSpacePages(spaceID uint32) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	var next *list.Element
	for elem := bp.lru.Front(); elem != nil; elem = next {
		next = elem.Next()
		block := elem.Value.(*BufferBlock)
		if block.GetSpaceID() == spaceID {
			bp.lru.Remove(elem)
			delete(bp.cache, block.PageID().Key())
		}
	}
}

// Close 停止预读并刷出全部脏页
func (bp *BufferPool) Close() error {
	bp.prefetchManager.Stop()
	return bp.FlushAll()
}
