package manager

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/zhukovaskychina/xmysql-ibuf/logger"
)

// 超过该长度的日志数据启用snappy压缩
const redoCompressThreshold = 128

// RedoLogEntry Redo日志条目，记录一次页面内的物理修改
type RedoLogEntry struct {
	LSN       uint64    // 日志序列号
	SpaceID   uint32    // 表空间ID
	PageNo    uint32    // 页号
	Offset    uint16    // 页内偏移
	Data      []byte    // 修改后的字节
	Timestamp time.Time // 写入时间
}

// RedoLogManager 重做日志管理器
type RedoLogManager struct {
	mu            sync.RWMutex
	logFile       *os.File       // 日志文件
	nextLSN       uint64         // 下一个LSN
	logBufferSize int            // 日志缓冲区大小
	logBuffer     []RedoLogEntry // 日志缓冲区
	logDir        string         // 日志目录
	flushInterval time.Duration  // 刷新间隔
	stopCh        chan struct{}
	closed        bool
}

// NewRedoLogManager 创建新的重做日志管理器
func NewRedoLogManager(logDir string, bufferSize int) (*RedoLogManager, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}

	logFile, err := os.OpenFile(
		filepath.Join(logDir, "redo.log"),
		os.O_CREATE|os.O_RDWR|os.O_APPEND,
		0644,
	)
	if err != nil {
		return nil, err
	}

	manager := &RedoLogManager{
		logFile:       logFile,
		nextLSN:       1,
		logBufferSize: bufferSize,
		logBuffer:     make([]RedoLogEntry, 0, bufferSize),
		logDir:        logDir,
		flushInterval: 1 * time.Second,
		stopCh:        make(chan struct{}),
	}

	// 启动异步刷新协程
	go manager.backgroundFlush()

	return manager, nil
}

// Append 追加一条重做日志
func (r *RedoLogManager) Append(entry *RedoLogEntry) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendLocked(entry)
}

// AppendBatch 原子地追加一批日志，对应一个mini-transaction的全部修改
func (r *RedoLogManager) AppendBatch(entries []RedoLogEntry) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastLSN uint64
	for i := range entries {
		lsn, err := r.appendLocked(&entries[i])
		if err != nil {
			return 0, err
		}
		lastLSN = lsn
	}
	return lastLSN, nil
}

func (r *RedoLogManager) appendLocked(entry *RedoLogEntry) (uint64, error) {
	entry.LSN = r.nextLSN
	r.nextLSN++
	entry.Timestamp = time.Now()

	r.logBuffer = append(r.logBuffer, *entry)

	// 如果缓冲区满了，触发刷新
	if len(r.logBuffer) >= r.logBufferSize {
		if err := r.flushBuffer(); err != nil {
			return 0, err
		}
	}

	return entry.LSN, nil
}

// CurrentLSN 当前已分配的最大LSN
func (r *RedoLogManager) CurrentLSN() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nextLSN - 1
}

// Flush 将日志刷新到磁盘
func (r *RedoLogManager) Flush(untilLSN uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushBuffer()
}

// flushBuffer 将缓冲区中的日志写入文件
func (r *RedoLogManager) flushBuffer() error {
	if len(r.logBuffer) == 0 {
		return nil
	}

	for _, entry := range r.logBuffer {
		if err := binary.Write(r.logFile, binary.BigEndian, entry.LSN); err != nil {
			return err
		}
		if err := binary.Write(r.logFile, binary.BigEndian, entry.SpaceID); err != nil {
			return err
		}
		if err := binary.Write(r.logFile, binary.BigEndian, entry.PageNo); err != nil {
			return err
		}
		if err := binary.Write(r.logFile, binary.BigEndian, entry.Offset); err != nil {
			return err
		}

		// 数据段：1字节压缩标记 + 2字节长度 + 数据
		data := entry.Data
		var compressed byte
		if len(data) >= redoCompressThreshold {
			packed := snappy.Encode(nil, data)
			if len(packed) < len(data) {
				data = packed
				compressed = 1
			}
		}
		if err := binary.Write(r.logFile, binary.BigEndian, compressed); err != nil {
			return err
		}
		if err := binary.Write(r.logFile, binary.BigEndian, uint16(len(data))); err != nil {
			return err
		}
		if _, err := r.logFile.Write(data); err != nil {
			return err
		}
	}

	r.logBuffer = r.logBuffer[:0]

	return r.logFile.Sync()
}

// backgroundFlush 后台定期刷新
func (r *RedoLogManager) backgroundFlush() {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.mu.Lock()
			if err := r.flushBuffer(); err != nil {
				logger.Errorf("redo background flush failed: %v", err)
			}
			r.mu.Unlock()
		case <-r.stopCh:
			return
		}
	}
}

// ReadAll 从日志文件读出全部条目，崩溃恢复时由调用方重放
func (r *RedoLogManager) ReadAll() ([]RedoLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.flushBuffer(); err != nil {
		return nil, err
	}
	if _, err := r.logFile.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var result []RedoLogEntry
	for {
		var entry RedoLogEntry

		if err := binary.Read(r.logFile, binary.BigEndian, &entry.LSN); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if err := binary.Read(r.logFile, binary.BigEndian, &entry.SpaceID); err != nil {
			return nil, err
		}
		if err := binary.Read(r.logFile, binary.BigEndian, &entry.PageNo); err != nil {
			return nil, err
		}
		if err := binary.Read(r.logFile, binary.BigEndian, &entry.Offset); err != nil {
			return nil, err
		}

		var compressed byte
		if err := binary.Read(r.logFile, binary.BigEndian, &compressed); err != nil {
			return nil, err
		}
		var dataLen uint16
		if err := binary.Read(r.logFile, binary.BigEndian, &dataLen); err != nil {
			return nil, err
		}
		entry.Data = make([]byte, dataLen)
		if _, err := io.ReadFull(r.logFile, entry.Data); err != nil {
			return nil, err
		}
		if compressed == 1 {
			decoded, err := snappy.Decode(nil, entry.Data)
			if err != nil {
				return nil, err
			}
			entry.Data = decoded
		}

		result = append(result, entry)
	}

	// 回到追加位置
	if _, err := r.logFile.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}
	return result, nil
}

// Close 停止后台刷新并关闭文件
func (r *RedoLogManager) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	close(r.stopCh)

	if err := r.flushBuffer(); err != nil {
		return err
	}
	return r.logFile.Close()
}
