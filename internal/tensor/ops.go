package tensor

import (
	"math"
	"sync"
)

// Parallel splits [0, n) into contiguous spans executed across the given
// number of worker goroutines. The caller blocks until all spans finish;
// this is the execution scheduler behind the threaded kernels.
func Parallel(workers, n int, fn func(start, end int)) {
	if workers <= 1 || n <= 1 {
		fn(0, n)
		return
	}
	if workers > n {
		workers = n
	}
	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// MatMul computes dst = W @ x where W is [out=ne1, in=ne0] and x has ne0
// elements. Quantized and f16 weight rows are decoded on the fly into a
// per-worker scratch row. Rows are partitioned across the worker count.
func MatMul(dst []float32, w *Tensor, x []float32, workers int) {
	in := w.Ne(0)
	out := w.Ne(1)

	if w.DType() == DTypeF32 {
		wf := w.F32()
		Parallel(workers, out, func(start, end int) {
			for i := start; i < end; i++ {
				dst[i] = Dot(wf[i*in:(i+1)*in], x)
			}
		})
		return
	}

	Parallel(workers, out, func(start, end int) {
		row := make([]float32, in)
		for i := start; i < end; i++ {
			w.DequantRow(i, row)
			dst[i] = Dot(row, x)
		}
	})
}

// DotF16 returns the inner product of a float32 vector and a
// half-precision vector of the same length.
func DotF16(a []float32, b []uint16) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * F16ToF32(b[i])
	}
	return sum
}

// Dot returns the inner product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// LayerNorm normalizes x to zero mean and unit variance and scales
// elementwise by weight, writing into dst.
func LayerNorm(dst, x, weight []float32, eps float32) {
	var mean float32
	for _, v := range x {
		mean += v
	}
	mean /= float32(len(x))

	var variance float32
	for _, v := range x {
		d := v - mean
		variance += d * d
	}
	variance /= float32(len(x))

	scale := 1 / float32(math.Sqrt(float64(variance+eps)))
	for i, v := range x {
		dst[i] = weight[i] * (v - mean) * scale
	}
}

// Softmax normalizes x in place into a probability distribution,
// subtracting the max first for numerical stability.
func Softmax(x []float32) {
	max := x[0]
	for _, v := range x {
		if v > max {
			max = v
		}
	}
	var sum float32
	for i, v := range x {
		x[i] = float32(math.Exp(float64(v - max)))
		sum += x[i]
	}
	for i := range x {
		x[i] /= sum
	}
}

// GELU applies the tanh-approximated Gaussian error linear unit in place.
func GELU(x []float32) {
	const c = 0.797884560802865 // sqrt(2/pi)
	for i, v := range x {
		f := float64(v)
		x[i] = float32(0.5 * f * (1 + math.Tanh(c*(f+0.044715*f*f*f))))
	}
}

// Clamp bounds every element of x to [lo, hi] in place.
func Clamp(x []float32, lo, hi float32) {
	for i, v := range x {
		if v < lo {
			x[i] = lo
		} else if v > hi {
			x[i] = hi
		}
	}
}

// Accum adds b into a elementwise.
func Accum(a, b []float32) {
	for i := range a {
		a[i] += b[i]
	}
}
