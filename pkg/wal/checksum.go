package wal

import "hash/crc32"

// ieeeTable is the standard CRC-32 (IEEE 802.3) polynomial table, mandated
// by the wire format: every frame's checksum covers its payload bytes.
var ieeeTable = crc32.MakeTable(crc32.IEEE)

func CalculateCRC32(data []byte) uint32 {
	return crc32.Checksum(data, ieeeTable)
}

func ValidateCRC32(data []byte, expected uint32) bool {
	return CalculateCRC32(data) == expected
}
