//go:build ibufdebug

package basic

import "fmt"

// DebugAssert 断言失败时panic，仅用于调试构建
func DebugAssert(cond bool, msg string) {
	if !cond {
		panic(fmt.Sprintf("debug assertion failed: %s", msg))
	}
}

// DebugEnabled 是否启用调试断言
const DebugEnabled = true
