package tensor

import (
	"encoding/binary"
	"math"
)

// Block quantization formats. Both store one f16 scale followed by 32
// quantized elements; q4_0 packs two 4-bit values per byte (element j in
// the low nibble, element j+16 in the high nibble of byte j).

// QuantizeQ4_0 encodes src (a multiple of 32 floats) into q4_0 blocks.
func QuantizeQ4_0(src []float32, dst []byte) {
	nb := len(src) / QBlockSize
	for b := 0; b < nb; b++ {
		blk := src[b*QBlockSize : (b+1)*QBlockSize]
		out := dst[b*q4_0Bytes : (b+1)*q4_0Bytes]

		var amax, vmax float32
		for _, v := range blk {
			if a := float32(math.Abs(float64(v))); a > amax {
				amax = a
				vmax = v
			}
		}

		d := vmax / -8
		var id float32
		if d != 0 {
			id = 1 / d
		}
		binary.LittleEndian.PutUint16(out, F32ToF16(d))

		for j := 0; j < QBlockSize/2; j++ {
			x0 := blk[j]*id + 8.5
			x1 := blk[j+QBlockSize/2]*id + 8.5
			out[2+j] = nibble(x0) | nibble(x1)<<4
		}
	}
}

// DequantizeQ4_0 decodes q4_0 blocks into dst.
func DequantizeQ4_0(src []byte, dst []float32) {
	nb := len(dst) / QBlockSize
	for b := 0; b < nb; b++ {
		in := src[b*q4_0Bytes : (b+1)*q4_0Bytes]
		out := dst[b*QBlockSize : (b+1)*QBlockSize]

		d := F16ToF32(binary.LittleEndian.Uint16(in))
		for j := 0; j < QBlockSize/2; j++ {
			q := in[2+j]
			out[j] = float32(int(q&0x0f)-8) * d
			out[j+QBlockSize/2] = float32(int(q>>4)-8) * d
		}
	}
}

// QuantizeQ8_0 encodes src (a multiple of 32 floats) into q8_0 blocks.
func QuantizeQ8_0(src []float32, dst []byte) {
	nb := len(src) / QBlockSize
	for b := 0; b < nb; b++ {
		blk := src[b*QBlockSize : (b+1)*QBlockSize]
		out := dst[b*q8_0Bytes : (b+1)*q8_0Bytes]

		var amax float32
		for _, v := range blk {
			if a := float32(math.Abs(float64(v))); a > amax {
				amax = a
			}
		}

		d := amax / 127
		var id float32
		if d != 0 {
			id = 1 / d
		}
		binary.LittleEndian.PutUint16(out, F32ToF16(d))

		for j, v := range blk {
			out[2+j] = byte(int8(math.RoundToEven(float64(v * id))))
		}
	}
}

// DequantizeQ8_0 decodes q8_0 blocks into dst.
func DequantizeQ8_0(src []byte, dst []float32) {
	nb := len(dst) / QBlockSize
	for b := 0; b < nb; b++ {
		in := src[b*q8_0Bytes : (b+1)*q8_0Bytes]
		out := dst[b*QBlockSize : (b+1)*QBlockSize]

		d := F16ToF32(binary.LittleEndian.Uint16(in))
		for j := range out {
			out[j] = float32(int8(in[2+j])) * d
		}
	}
}

// DequantizeRow decodes one row of the given storage format into dst.
func DequantizeRow(dt DType, src []byte, dst []float32) {
	switch dt {
	case DTypeF32:
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		}
	case DTypeF16:
		for i := range dst {
			dst[i] = F16ToF32(binary.LittleEndian.Uint16(src[i*2:]))
		}
	case DTypeQ4_0:
		DequantizeQ4_0(src, dst)
	case DTypeQ8_0:
		DequantizeQ8_0(src, dst)
	default:
		panic("dequantize: unsupported dtype " + dt.String())
	}
}

// QuantizeRow encodes one row of float32s into the given storage format.
// Used by tests and tooling that synthesize checkpoints.
func QuantizeRow(dt DType, src []float32, dst []byte) {
	switch dt {
	case DTypeF32:
		for i, v := range src {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
		}
	case DTypeF16:
		for i, v := range src {
			binary.LittleEndian.PutUint16(dst[i*2:], F32ToF16(v))
		}
	case DTypeQ4_0:
		QuantizeQ4_0(src, dst)
	case DTypeQ8_0:
		QuantizeQ8_0(src, dst)
	default:
		panic("quantize: unsupported dtype " + dt.String())
	}
}

func nibble(x float32) byte {
	n := int(x)
	if n < 0 {
		n = 0
	}
	if n > 15 {
		n = 15
	}
	return byte(n)
}
