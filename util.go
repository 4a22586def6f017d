package crypt4gh

import (
	"encoding/binary"
	"io"
)

// readLEUint32 reads one little-endian uint32 from the stream.
func readLEUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// putLEUint32 appends a little-endian uint32.
func putLEUint32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}
