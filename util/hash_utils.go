package util

import (
	"github.com/OneOfOne/xxhash"
)

// 将一个键进行Hash
func HashCode(key []byte) uint64 {
	h := xxhash.New64()
	h.Write(key)
	return h.Sum64()
}

// PageChecksum 计算页面体的4字节校验和，存放于FileHeader与FileTrailer
func PageChecksum(body []byte) uint32 {
	return uint32(HashCode(body) & 0xFFFFFFFF)
}
