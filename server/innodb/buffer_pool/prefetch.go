package buffer_pool

import (
	"sync"

	"github.com/zhukovaskychina/xmysql-ibuf/logger"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/mtr"
)

// PrefetchManager 管理预读
type PrefetchManager struct {
	bufferPool   *BufferPool
	prefetchSize int // 每次预读的页面数量

	mu       sync.Mutex
	queue    chan prefetchRequest
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type prefetchRequest struct {
	spaceID   uint32
	startPage uint32
	endPage   uint32
}

// NewPrefetchManager 创建预读管理器
func NewPrefetchManager(bufferPool *BufferPool, prefetchSize int, maxQueueSize int, workers int) *PrefetchManager {
	pm := &PrefetchManager{
		bufferPool:   bufferPool,
		prefetchSize: prefetchSize,
		queue:        make(chan prefetchRequest, maxQueueSize),
		stopCh:       make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		pm.wg.Add(1)
		go pm.prefetchWorker()
	}

	return pm
}

// TriggerPrefetch 触发线性预读
// m为发起预读的mini-transaction；当它在change buffer例程内部时，
// 普通页面的预读一律拒绝，防止在缓冲操作中引发无界的递归I/O
func (pm *PrefetchManager) TriggerPrefetch(spaceID uint32, startPage uint32, m *mtr.Mtr) bool {
	if m != nil && m.IsInsideIbuf() {
		logger.Debugf("read-ahead refused: mtr inside change buffer, space %d page %d", spaceID, startPage)
		return false
	}

	request := prefetchRequest{
		spaceID:   spaceID,
		startPage: startPage,
		endPage:   startPage + uint32(pm.prefetchSize),
	}

	select {
	case pm.queue <- request:
		return true
	default:
		// 队列已满，放弃本次预读
		return false
	}
}

// prefetchWorker 预读工作线程
func (pm *PrefetchManager) prefetchWorker() {
	defer pm.wg.Done()
	for {
		select {
		case req := <-pm.queue:
			pm.doPrefetch(req)
		case <-pm.stopCh:
			return
		}
	}
}

func (pm *PrefetchManager) doPrefetch(req prefetchRequest) {
	for pageNo := req.startPage; pageNo < req.endPage; pageNo++ {
		block, err := pm.bufferPool.GetPageBlock(req.spaceID, pageNo)
		if err != nil {
			// 预读失败不致命，超出文件末尾属正常情况
			logger.Debugf("prefetch stop at space %d page %d: %v", req.spaceID, pageNo, err)
			return
		}
		block.Unpin()
	}
}

// Stop 停止全部预读工作线程
func (pm *PrefetchManager) Stop() {
	pm.stopOnce.Do(func() {
		close(pm.stopCh)
	})
	pm.wg.Wait()
}
