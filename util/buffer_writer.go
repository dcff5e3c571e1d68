package util

func WriteByte(buf []byte, b byte) []byte {
	buf = append(buf, b)
	return buf
}

func WriteBytes(buf []byte, from []byte) []byte {
	buf = append(buf, from...)
	return buf
}

func WriteUB2(buf []byte, i uint16) []byte {
	buf = append(buf, byte(i&0xFF))
	buf = append(buf, byte((i>>8)&0xFF))
	return buf
}

func WriteUB4(buf []byte, i uint32) []byte {
	buf = append(buf, byte(i&0xFF))
	buf = append(buf, byte((i>>8)&0xFF))
	buf = append(buf, byte((i>>16)&0xFF))
	buf = append(buf, byte((i>>24)&0xFF))
	return buf
}

func WriteUB8(buf []byte, i uint64) []byte {
	buf = append(buf, byte(i&0xFF))
	buf = append(buf, byte((i>>8)&0xFF))
	buf = append(buf, byte((i>>16)&0xFF))
	buf = append(buf, byte((i>>24)&0xFF))
	buf = append(buf, byte((i>>32)&0xFF))
	buf = append(buf, byte((i>>40)&0xFF))
	buf = append(buf, byte((i>>48)&0xFF))
	buf = append(buf, byte((i>>56)&0xFF))
	return buf
}

// WriteWithLength 写入2字节长度前缀和内容
func WriteWithLength(buf []byte, from []byte) []byte {
	buf = WriteUB2(buf, uint16(len(from)))
	buf = WriteBytes(buf, from)
	return buf
}

func ConvertUInt2Bytes(i uint16) []byte {
	buff := make([]byte, 0, 2)
	return WriteUB2(buff, i)
}

func ConvertUInt4Bytes(i uint32) []byte {
	buff := make([]byte, 0, 4)
	return WriteUB4(buff, i)
}

func ConvertULong8Bytes(i uint64) []byte {
	buff := make([]byte, 0, 8)
	return WriteUB8(buff, i)
}

func ConvertBool2Byte(boolValue bool) byte {
	if boolValue {
		return 1
	}
	return 0
}
