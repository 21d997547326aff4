package wal

import (
	"encoding/binary"
	"io"
)

// FrameHeaderSize is the fixed 8-byte prefix before every frame's payload:
// a little-endian length followed by a little-endian CRC32 (IEEE) of the
// payload bytes.
const FrameHeaderSize = 8

// MaxPayloadLen guards against allocating on garbage length bytes read
// from a corrupt or truncated file.
const MaxPayloadLen = 1 << 30 // 1GB

// WALEntry is one decoded frame: its raw payload bytes (a BSON-encoded
// Record) plus the checksum read from disk.
type WALEntry struct {
	CRC32   uint32
	Payload []byte
}

// EncodeFrameHeader writes the 8-byte length+checksum prefix into buf.
func EncodeFrameHeader(buf []byte, payloadLen uint32, crc uint32) {
	binary.LittleEndian.PutUint32(buf[0:4], payloadLen)
	binary.LittleEndian.PutUint32(buf[4:8], crc)
}

// DecodeFrameHeader reads the 8-byte length+checksum prefix from buf.
func DecodeFrameHeader(buf []byte) (payloadLen uint32, crc uint32) {
	payloadLen = binary.LittleEndian.Uint32(buf[0:4])
	crc = binary.LittleEndian.Uint32(buf[4:8])
	return
}

// WriteFrame writes len|crc32|payload to w.
func WriteFrame(w io.Writer, payload []byte) (int64, error) {
	var header [FrameHeaderSize]byte
	crc := CalculateCRC32(payload)
	EncodeFrameHeader(header[:], uint32(len(payload)), crc)

	n, err := w.Write(header[:])
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(payload)
	return int64(n + m), err
}
