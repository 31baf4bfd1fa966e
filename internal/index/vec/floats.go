// Package vec provides the binary embedding codec and registers the
// vec_dist scalar function used by the sqlite-backed vector index.
package vec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVector packs a float64 slice into little-endian bytes, 8 bytes per
// value, for BLOB storage.
func EncodeVector(floats []float64) []byte {
	buf := make([]byte, len(floats)*8)
	for i, f := range floats {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

// DecodeVector unpacks a BLOB produced by EncodeVector.
func DecodeVector(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("invalid data length: %d is not divisible by 8", len(data))
	}
	result := make([]float64, len(data)/8)
	for i := range result {
		result[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return result, nil
}
