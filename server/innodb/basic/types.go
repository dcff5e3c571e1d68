package basic

import "fmt"

// PageID 页面标识，由表空间ID与页号组成
type PageID struct {
	SpaceID uint32
	PageNo  uint32
}

func NewPageID(spaceID, pageNo uint32) PageID {
	return PageID{SpaceID: spaceID, PageNo: pageNo}
}

func (id PageID) String() string {
	return fmt.Sprintf("[space=%d, page=%d]", id.SpaceID, id.PageNo)
}

// Key 缓存页面映射所用的64位键
func (id PageID) Key() uint64 {
	return uint64(id.SpaceID)<<32 | uint64(id.PageNo)
}

// Env 引擎全局状态查询接口
// 由引擎实例实现，change buffer通过它判断只读/恢复状态
type Env interface {
	// IsReadOnly 服务器是否以只读模式运行
	IsReadOnly() bool
	// RecoveryDisablesIbuf 崩溃恢复是否暂时禁用了change buffer操作
	RecoveryDisablesIbuf() bool
}

// DefaultEnv 常规运行状态
type DefaultEnv struct {
	ReadOnly bool
	Recovery bool
}

func (e *DefaultEnv) IsReadOnly() bool          { return e.ReadOnly }
func (e *DefaultEnv) RecoveryDisablesIbuf() bool { return e.Recovery }
