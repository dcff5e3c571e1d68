package util

import (
	"strconv"
	"strings"
)

func ToBinaryString(data byte) string {
	result := make([]string, 0)
	for i := 0; i < 8; i++ {
		move := uint(7 - i)
		result = append(result, strconv.Itoa(int((data>>move)&1)))
	}
	return strings.Join(result, "")
}

// ReadBits 读取data中从hi位开始的width个bit，hi=7为最高位
func ReadBits(data byte, hi uint, width uint) byte {
	mask := byte(1<<width) - 1
	return (data >> (hi + 1 - width)) & mask
}

// WriteBits 将value写入data中从hi位开始的width个bit
func WriteBits(data byte, hi uint, width uint, value byte) byte {
	mask := byte(1<<width) - 1
	shift := hi + 1 - width
	data &^= mask << shift
	data |= (value & mask) << shift
	return data
}

// ReadNibble 读取data的高/低4位，idx为0取高4位
func ReadNibble(data byte, idx int) byte {
	if idx == 0 {
		return (data >> 4) & 0x0F
	}
	return data & 0x0F
}

// WriteNibble 写入data的高/低4位，idx为0写高4位
func WriteNibble(data byte, idx int, value byte) byte {
	if idx == 0 {
		return (data & 0x0F) | ((value & 0x0F) << 4)
	}
	return (data & 0xF0) | (value & 0x0F)
}
