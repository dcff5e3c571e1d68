package util

func ReadByte(buff []byte, offset int) (int, byte) {
	return offset + 1, buff[offset]
}

func ReadUB2(buff []byte, offset int) (int, uint16) {
	v := uint16(buff[offset]) | uint16(buff[offset+1])<<8
	return offset + 2, v
}

func ReadUB4(buff []byte, offset int) (int, uint32) {
	v := uint32(buff[offset]) |
		uint32(buff[offset+1])<<8 |
		uint32(buff[offset+2])<<16 |
		uint32(buff[offset+3])<<24
	return offset + 4, v
}

func ReadUB8(buff []byte, offset int) (int, uint64) {
	v := uint64(buff[offset]) |
		uint64(buff[offset+1])<<8 |
		uint64(buff[offset+2])<<16 |
		uint64(buff[offset+3])<<24 |
		uint64(buff[offset+4])<<32 |
		uint64(buff[offset+5])<<40 |
		uint64(buff[offset+6])<<48 |
		uint64(buff[offset+7])<<56
	return offset + 8, v
}

// ReadWithLength 读取2字节长度前缀的内容
func ReadWithLength(buff []byte, offset int) (int, []byte) {
	next, length := ReadUB2(buff, offset)
	data := make([]byte, length)
	copy(data, buff[next:next+int(length)])
	return next + int(length), data
}

func ReadUB2Byte2Int(buff []byte) uint16 {
	_, rs := ReadUB2(buff, 0)
	return rs
}

func ReadUB4Byte2UInt32(buff []byte) uint32 {
	_, rs := ReadUB4(buff, 0)
	return rs
}

func ReadUB8Byte2Long(buff []byte) uint64 {
	_, rs := ReadUB8(buff, 0)
	return rs
}
