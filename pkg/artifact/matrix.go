package artifact

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Matrix header: magic, rows, cols (all little-endian uint32).
const (
	matrixMagic      uint32 = 0x31564454 // "TDV1"
	matrixHeaderSize        = 12
)

// EncodeMatrix serialises a dense float32 matrix. All rows must have the same
// length.
func EncodeMatrix(m [][]float32) ([]byte, error) {
	rows := len(m)
	cols := 0
	if rows > 0 {
		cols = len(m[0])
	}

	buf := make([]byte, matrixHeaderSize+rows*cols*4)
	binary.LittleEndian.PutUint32(buf[0:], matrixMagic)
	binary.LittleEndian.PutUint32(buf[4:], uint32(rows))
	binary.LittleEndian.PutUint32(buf[8:], uint32(cols))

	off := matrixHeaderSize
	for i, row := range m {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), cols)
		}
		for _, v := range row {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
			off += 4
		}
	}
	return buf, nil
}

// DecodeMatrix parses a matrix written by EncodeMatrix.
func DecodeMatrix(data []byte) ([][]float32, error) {
	if len(data) < matrixHeaderSize {
		return nil, fmt.Errorf("%w: matrix header truncated", ErrCorrupt)
	}
	if binary.LittleEndian.Uint32(data[0:]) != matrixMagic {
		return nil, fmt.Errorf("%w: bad matrix magic", ErrCorrupt)
	}
	rows := int(binary.LittleEndian.Uint32(data[4:]))
	cols := int(binary.LittleEndian.Uint32(data[8:]))
	if want := matrixHeaderSize + rows*cols*4; len(data) != want {
		return nil, fmt.Errorf("%w: matrix is %d bytes, want %d", ErrCorrupt, len(data), want)
	}

	out := make([][]float32, rows)
	flat := make([]float32, rows*cols)
	off := matrixHeaderSize
	for i := range flat {
		flat[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}
	for i := range out {
		out[i] = flat[i*cols : (i+1)*cols : (i+1)*cols]
	}
	return out, nil
}
