//go:build !ibufdebug

package basic

// DebugAssert 仅在ibufdebug构建下生效，release构建为空操作
func DebugAssert(cond bool, msg string) {}

// DebugEnabled 是否启用调试断言
const DebugEnabled = false
