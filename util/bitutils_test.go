package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToBinaryString(t *testing.T) {
	assert.Equal(t, "00000000", ToBinaryString(0))
	assert.Equal(t, "11111111", ToBinaryString(0xFF))
	assert.Equal(t, "10100101", ToBinaryString(0xA5))
}

func TestReadWriteBits(t *testing.T) {
	// 高2位
	b := WriteBits(0, 7, 2, 3)
	assert.Equal(t, byte(0xC0), b)
	assert.Equal(t, byte(3), ReadBits(b, 7, 2))

	// 第5位单独写入不影响其它位
	b = WriteBits(b, 5, 1, 1)
	assert.Equal(t, byte(0xE0), b)
	assert.Equal(t, byte(3), ReadBits(b, 7, 2))

	b = WriteBits(b, 7, 2, 0)
	assert.Equal(t, byte(0x20), b)
}

func TestReadWriteNibble(t *testing.T) {
	b := WriteNibble(0, 0, 0x0B)
	b = WriteNibble(b, 1, 0x05)
	assert.Equal(t, byte(0xB5), b)
	assert.Equal(t, byte(0x0B), ReadNibble(b, 0))
	assert.Equal(t, byte(0x05), ReadNibble(b, 1))
}

func TestBufferReadWriteRoundTrip(t *testing.T) {
	buf := make([]byte, 0)
	buf = WriteUB2(buf, 0xBEEF)
	buf = WriteUB4(buf, 0xDEADBEEF)
	buf = WriteUB8(buf, 0x0102030405060708)
	buf = WriteWithLength(buf, []byte("ibuf"))

	offset, v2 := ReadUB2(buf, 0)
	assert.Equal(t, uint16(0xBEEF), v2)
	offset, v4 := ReadUB4(buf, offset)
	assert.Equal(t, uint32(0xDEADBEEF), v4)
	offset, v8 := ReadUB8(buf, offset)
	assert.Equal(t, uint64(0x0102030405060708), v8)
	_, data := ReadWithLength(buf, offset)
	assert.Equal(t, []byte("ibuf"), data)
}
