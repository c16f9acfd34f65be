package checkpoint

import (
	"fmt"

	"github.com/23skdu/longbow-mosaic/internal/tensor"
)

const (
	// Magic is the 4-byte value opening every checkpoint stream.
	Magic uint32 = 0x67676d6c

	// maxTokenLen bounds a vocabulary entry's declared byte length so a
	// corrupt length field cannot drive reads past the stream.
	maxTokenLen = 1 << 20

	// maxDims is the highest tensor rank the format carries.
	maxDims = 2
)

// Hparams are the model hyperparameters, read field-by-field in fixed
// order with no padding or version negotiation.
type Hparams struct {
	DModel       int32
	MaxSeqLen    int32
	NHeads       int32
	NLayers      int32
	NVocab       int32
	AlibiBiasMax float32
	ClipQKV      float32
	FType        int32

	// Derived at load time
	NCtx   int32
	QntVer int32
	WType  tensor.DType
}

// Error types

type ErrInvalidMagic struct{ Magic uint32 }

func (e ErrInvalidMagic) Error() string {
	return fmt.Sprintf("invalid checkpoint magic: %08x", e.Magic)
}

type ErrBadFType struct{ FType int32 }

func (e ErrBadFType) Error() string {
	return fmt.Sprintf("bad ftype value %d", e.FType)
}

type ErrUnknownTensor struct{ Name string }

func (e ErrUnknownTensor) Error() string {
	return fmt.Sprintf("unknown tensor %q in checkpoint", e.Name)
}

type ErrSizeMismatch struct {
	Name string
	Want int
	Got  int
}

func (e ErrSizeMismatch) Error() string {
	return fmt.Sprintf("tensor %q has wrong size: got %d, expected %d", e.Name, e.Got, e.Want)
}

type ErrShapeMismatch struct {
	Name string
	Want [2]int
	Got  [2]int
}

func (e ErrShapeMismatch) Error() string {
	return fmt.Sprintf("tensor %q has wrong shape: got [%d, %d], expected [%d, %d]",
		e.Name, e.Got[0], e.Got[1], e.Want[0], e.Want[1])
}
