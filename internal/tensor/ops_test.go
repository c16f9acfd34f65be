package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func TestMatMulF32(t *testing.T) {
	a := NewArena(1 << 12)
	w, err := New2D(a, DTypeF32, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	copy(w.F32(), []float32{1, 2, 3, 4, 5, 6})

	x := []float32{1, 0, -1}
	dst := make([]float32, 2)
	MatMul(dst, w, x, 1)

	if dst[0] != -2 || dst[1] != -2 {
		t.Errorf("matmul = %v, want [-2 -2]", dst)
	}
}

func TestMatMulThreadedMatchesSerial(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a := NewArena(1 << 20)
	w, err := New2D(a, DTypeF32, 64, 48)
	if err != nil {
		t.Fatal(err)
	}
	for i := range w.F32() {
		w.F32()[i] = rng.Float32() - 0.5
	}
	x := make([]float32, 64)
	for i := range x {
		x[i] = rng.Float32() - 0.5
	}

	serial := make([]float32, 48)
	threaded := make([]float32, 48)
	MatMul(serial, w, x, 1)
	MatMul(threaded, w, x, 4)

	for i := range serial {
		if serial[i] != threaded[i] {
			t.Fatalf("row %d: serial %v != threaded %v", i, serial[i], threaded[i])
		}
	}
}

func TestMatMulQuantizedClose(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a := NewArena(1 << 20)

	wf, _ := New2D(a, DTypeF32, 32, 8)
	wq, _ := New2D(a, DTypeQ8_0, 32, 8)
	row := make([]float32, 32)
	for i := 0; i < 8; i++ {
		for j := range row {
			row[j] = rng.Float32() - 0.5
		}
		copy(wf.F32()[i*32:], row)
		QuantizeRow(DTypeQ8_0, row, wq.Row(i))
	}

	x := make([]float32, 32)
	for i := range x {
		x[i] = rng.Float32() - 0.5
	}

	exact := make([]float32, 8)
	quant := make([]float32, 8)
	MatMul(exact, wf, x, 2)
	MatMul(quant, wq, x, 2)

	for i := range exact {
		if math.Abs(float64(exact[i]-quant[i])) > 0.05 {
			t.Errorf("row %d: f32 %v vs q8_0 %v", i, exact[i], quant[i])
		}
	}
}

func TestSoftmax(t *testing.T) {
	x := []float32{1, 2, 3, 4}
	Softmax(x)

	var sum float32
	for i := 0; i < len(x)-1; i++ {
		if x[i] >= x[i+1] {
			t.Errorf("softmax not monotone at %d: %v", i, x)
		}
		sum += x[i]
	}
	sum += x[len(x)-1]
	if math.Abs(float64(sum-1)) > 1e-6 {
		t.Errorf("softmax sum = %v", sum)
	}
}

func TestSoftmaxLargeValuesStable(t *testing.T) {
	x := []float32{1000, 1000, 1000}
	Softmax(x)
	for i, v := range x {
		if math.IsNaN(float64(v)) || math.Abs(float64(v)-1.0/3) > 1e-6 {
			t.Errorf("softmax[%d] = %v", i, v)
		}
	}
}

func TestLayerNorm(t *testing.T) {
	x := []float32{1, 2, 3, 4}
	weight := []float32{1, 1, 1, 1}
	dst := make([]float32, 4)
	LayerNorm(dst, x, weight, 1e-5)

	var mean, variance float32
	for _, v := range dst {
		mean += v
	}
	mean /= 4
	for _, v := range dst {
		variance += (v - mean) * (v - mean)
	}
	variance /= 4

	if math.Abs(float64(mean)) > 1e-5 {
		t.Errorf("normalized mean = %v", mean)
	}
	if math.Abs(float64(variance)-1) > 1e-3 {
		t.Errorf("normalized variance = %v", variance)
	}
}

func TestLayerNormWeightScales(t *testing.T) {
	x := []float32{1, 2, 3, 4}
	w1 := []float32{1, 1, 1, 1}
	w2 := []float32{2, 2, 2, 2}
	a := make([]float32, 4)
	b := make([]float32, 4)
	LayerNorm(a, x, w1, 1e-5)
	LayerNorm(b, x, w2, 1e-5)
	for i := range a {
		if math.Abs(float64(b[i]-2*a[i])) > 1e-6 {
			t.Errorf("weight scaling broken at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestGELU(t *testing.T) {
	x := []float32{-10, 0, 10}
	GELU(x)
	if math.Abs(float64(x[0])) > 1e-3 {
		t.Errorf("gelu(-10) = %v, want ~0", x[0])
	}
	if x[1] != 0 {
		t.Errorf("gelu(0) = %v, want 0", x[1])
	}
	if math.Abs(float64(x[2]-10)) > 1e-3 {
		t.Errorf("gelu(10) = %v, want ~10", x[2])
	}
}

func TestClamp(t *testing.T) {
	x := []float32{-5, -1, 0, 1, 5}
	Clamp(x, -2, 2)
	want := []float32{-2, -1, 0, 1, 2}
	for i := range x {
		if x[i] != want[i] {
			t.Errorf("clamp[%d] = %v, want %v", i, x[i], want[i])
		}
	}
}

func TestParallelCoversRange(t *testing.T) {
	seen := make([]int32, 100)
	Parallel(7, 100, func(start, end int) {
		for i := start; i < end; i++ {
			seen[i]++
		}
	})
	for i, c := range seen {
		if c != 1 {
			t.Errorf("index %d visited %d times", i, c)
		}
	}
}
