package crypto

import "hash/crc32"

// ComputeCRC32 matches Python's binascii.crc32: standard zlib/IEEE CRC32
// over the whole buffer, used to checksum intermediate-framed messages.
func ComputeCRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
