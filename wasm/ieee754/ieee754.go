package ieee754

import (
	"encoding/binary"
	"io"
	"math"
)

func DecodeFloat32(r io.Reader) (float32, error) {
	buf := make([]byte, 4)
	_, err := io.ReadFull(r, buf)
	if err != nil {
		return 0, err
	}
	raw := binary.LittleEndian.Uint32(buf)
	return math.Float32frombits(raw), nil
}

func DecodeFloat64(r io.Reader) (float64, error) {
	buf := make([]byte, 8)
	_, err := io.ReadFull(r, buf)
	if err != nil {
		return 0, err
	}
	raw := binary.LittleEndian.Uint64(buf)
	return math.Float64frombits(raw), nil
}

// LoadFloat32Bits reads the raw little-endian bits of a float32 constant
// embedded at off in a function body. The compiler stores the offset and
// re-reads the payload at emit time so NaN bit patterns survive intact.
func LoadFloat32Bits(body []byte, off uint64) uint32 {
	return binary.LittleEndian.Uint32(body[off:])
}

// LoadFloat64Bits is LoadFloat32Bits for float64 constants.
func LoadFloat64Bits(body []byte, off uint64) uint64 {
	return binary.LittleEndian.Uint64(body[off:])
}
