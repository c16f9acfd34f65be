package tensor

import "math"

// F32ToF16 converts an IEEE 754 float32 to half precision bits.
// Subnormal halves are flushed to signed zero.
func F32ToF16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := (bits >> 31) & 0x1
	exp := (bits >> 23) & 0xff
	mant := bits & 0x7fffff

	if exp == 0 {
		return uint16(sign << 15)
	} else if exp == 0xff {
		return uint16((sign << 15) | 0x7c00 | (mant >> 13))
	}

	newExp := int(exp) - 127 + 15
	if newExp <= 0 {
		return uint16(sign << 15)
	} else if newExp >= 31 {
		return uint16((sign << 15) | 0x7c00)
	}

	return uint16((sign << 15) | (uint32(newExp) << 10) | (mant >> 13))
}

// F16ToF32 converts half precision bits to float32.
func F16ToF32(h uint16) float32 {
	sign := (uint32(h) >> 15) & 0x1
	exp := (uint32(h) >> 10) & 0x1f
	mant := uint32(h) & 0x3ff

	if exp == 0 {
		if mant == 0 {
			return math.Float32frombits(sign << 31)
		}
		// Subnormal half: renormalize into the f32 range
		e := 0
		for mant&0x400 == 0 {
			mant <<= 1
			e--
		}
		mant &= 0x3ff
		newExp := uint32(e-15+127+1) & 0xff
		return math.Float32frombits((sign << 31) | (newExp << 23) | (mant << 13))
	} else if exp == 31 {
		if mant == 0 {
			return math.Float32frombits((sign << 31) | 0x7f800000)
		}
		return math.Float32frombits((sign << 31) | 0x7f800000 | (mant << 13))
	}

	newExp := exp - 15 + 127
	return math.Float32frombits((sign << 31) | (newExp << 23) | (mant << 13))
}
