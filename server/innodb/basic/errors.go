package basic

import "errors"

// 页面相关错误
var (
	ErrPageNotFound    = errors.New("page not found")
	ErrPageCorrupted   = errors.New("page corrupted")
	ErrInvalidPageType = errors.New("invalid page type")
	ErrInvalidPageSize = errors.New("invalid page size")
	ErrInvalidPageID   = errors.New("invalid page ID")
	ErrPageFull        = errors.New("page full")
	ErrRecordNotFound  = errors.New("record not found")
)

// 存储相关错误
var (
	ErrSpaceNotFound      = errors.New("space not found")
	ErrSpaceAlreadyExists = errors.New("space already exists")
	ErrNoFreePages        = errors.New("no free pages")
	ErrNoFreeSpace        = errors.New("no free space")
)

// Insert Buffer相关错误
var (
	ErrIbufNoRoom        = errors.New("change buffer: target page may not fit the operation")
	ErrIbufCorrupted     = errors.New("change buffer: corrupted buffered record")
	ErrIbufDisabled      = errors.New("change buffer: buffering disabled")
	ErrBitmapInconsistent = errors.New("change buffer: bitmap inconsistent with page content")
)

// 系统错误
var (
	ErrNotImplemented   = errors.New("not implemented")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInternalError    = errors.New("internal error")
	ErrIOError          = errors.New("I/O error")
)
