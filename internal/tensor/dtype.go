package tensor

import "fmt"

// DType identifies the element storage format of a tensor. The numeric
// values of the float and quantized entries are the wire values used by
// checkpoint tensor records.
type DType uint32

const (
	DTypeF32  DType = 0
	DTypeF16  DType = 1
	DTypeQ4_0 DType = 2
	DTypeQ8_0 DType = 8

	// DTypeI32 is internal only (token id buffers); never on the wire.
	DTypeI32 DType = 26
)

const (
	// QNTVersionFactor packs the quantization version into the ftype
	// hyperparameter field: qntvr = ftype / factor, ftype %= factor.
	QNTVersionFactor = 1000

	// Q4/Q8 block layout: 32 elements per block.
	QBlockSize = 32
	q4_0Bytes  = 2 + QBlockSize/2 // f16 scale + 32 nibbles
	q8_0Bytes  = 2 + QBlockSize   // f16 scale + 32 int8
)

func (t DType) String() string {
	switch t {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	case DTypeQ4_0:
		return "q4_0"
	case DTypeQ8_0:
		return "q8_0"
	case DTypeI32:
		return "i32"
	default:
		return fmt.Sprintf("dtype(%d)", uint32(t))
	}
}

// BlockSize returns the number of elements stored per block.
func (t DType) BlockSize() int {
	switch t {
	case DTypeQ4_0, DTypeQ8_0:
		return QBlockSize
	default:
		return 1
	}
}

// BlockBytes returns the byte size of one block.
func (t DType) BlockBytes() int {
	switch t {
	case DTypeF32, DTypeI32:
		return 4
	case DTypeF16:
		return 2
	case DTypeQ4_0:
		return q4_0Bytes
	case DTypeQ8_0:
		return q8_0Bytes
	default:
		return 0
	}
}

// Valid reports whether t is a storage format this engine understands.
func (t DType) Valid() bool {
	switch t {
	case DTypeF32, DTypeF16, DTypeQ4_0, DTypeQ8_0, DTypeI32:
		return true
	}
	return false
}

// RowBytes returns the byte size of a row of n elements, which must be a
// whole number of blocks.
func RowBytes(t DType, n int) int {
	return n / t.BlockSize() * t.BlockBytes()
}

// SizeF returns the fractional byte size of a single element, used when
// summing arena requirements for quantized tensors.
func SizeF(t DType) float64 {
	return float64(t.BlockBytes()) / float64(t.BlockSize())
}

// WeightType resolves the checkpoint ftype field (already reduced modulo
// QNTVersionFactor) to the storage format of the large weight tensors.
func WeightType(ftype int32) (DType, bool) {
	switch ftype {
	case 0:
		return DTypeF32, true
	case 1:
		return DTypeF16, true
	case 2:
		return DTypeQ4_0, true
	case 7:
		return DTypeQ8_0, true
	default:
		return 0, false
	}
}
