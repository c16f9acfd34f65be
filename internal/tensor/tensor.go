package tensor

import (
	"fmt"
	"unsafe"
)

// Tensor is a handle to a contiguous typed buffer with up to two logical
// dimensions, carved out of an Arena. ne[0] is the row length (number of
// elements along the contiguous dimension), ne[1] the number of rows.
type Tensor struct {
	dtype DType
	ne    [2]int
	data  []byte
}

// New1D carves a 1-dimensional tensor from the arena.
func New1D(a *Arena, dt DType, ne0 int) (*Tensor, error) {
	return New2D(a, dt, ne0, 1)
}

// New2D carves a 2-dimensional tensor from the arena. ne0 must be a whole
// number of blocks for quantized dtypes.
func New2D(a *Arena, dt DType, ne0, ne1 int) (*Tensor, error) {
	if ne0%dt.BlockSize() != 0 {
		return nil, fmt.Errorf("tensor row length %d not divisible by %s block size %d", ne0, dt, dt.BlockSize())
	}
	buf, err := a.Alloc(RowBytes(dt, ne0) * ne1)
	if err != nil {
		return nil, err
	}
	return &Tensor{dtype: dt, ne: [2]int{ne0, ne1}, data: buf}, nil
}

// AllocF32 carves n float32s of scratch from the arena.
func AllocF32(a *Arena, n int) ([]float32, error) {
	if n == 0 {
		return nil, nil
	}
	buf, err := a.Alloc(4 * n)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&buf[0])), n), nil
}

func (t *Tensor) DType() DType { return t.dtype }

// Ne returns the extent along dimension i (1 beyond the stored dims).
func (t *Tensor) Ne(i int) int {
	if i < 2 {
		return t.ne[i]
	}
	return 1
}

// Elements returns the total logical element count.
func (t *Tensor) Elements() int { return t.ne[0] * t.ne[1] }

// Bytes returns the byte size of the tensor's storage.
func (t *Tensor) Bytes() int { return len(t.data) }

// Data exposes the raw storage; the checkpoint loader streams payloads
// directly into it.
func (t *Tensor) Data() []byte { return t.data }

// F32 views the storage as float32. Only valid for DTypeF32.
func (t *Tensor) F32() []float32 {
	if t.dtype != DTypeF32 {
		panic(fmt.Sprintf("f32 view of %s tensor", t.dtype))
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&t.data[0])), t.Elements())
}

// F16 views the storage as half-precision bits. Only valid for DTypeF16.
func (t *Tensor) F16() []uint16 {
	if t.dtype != DTypeF16 {
		panic(fmt.Sprintf("f16 view of %s tensor", t.dtype))
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(&t.data[0])), t.Elements())
}

// I32 views the storage as int32. Only valid for DTypeI32.
func (t *Tensor) I32() []int32 {
	if t.dtype != DTypeI32 {
		panic(fmt.Sprintf("i32 view of %s tensor", t.dtype))
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&t.data[0])), t.Elements())
}

// Row returns the raw bytes of row i.
func (t *Tensor) Row(i int) []byte {
	rb := RowBytes(t.dtype, t.ne[0])
	return t.data[i*rb : (i+1)*rb]
}

// DequantRow decodes row i into dst, which must hold ne0 float32s.
func (t *Tensor) DequantRow(i int, dst []float32) {
	DequantizeRow(t.dtype, t.Row(i), dst)
}
