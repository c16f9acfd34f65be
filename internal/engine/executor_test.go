package engine

import (
	"math"
	"testing"
)

func TestEvaluateShapes(t *testing.T) {
	m := tinyModel(t)
	e := NewExecutor(m, 1, testLog)

	logits, err := e.Evaluate(0, []int{1, 2, 3}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(logits) != tinyVocab {
		t.Errorf("last-position logits length %d, want %d", len(logits), tinyVocab)
	}

	all, err := e.Evaluate(0, []int{1, 2, 3}, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3*tinyVocab {
		t.Errorf("all-position logits length %d, want %d", len(all), 3*tinyVocab)
	}

	// Last row of the full output matches the single-row output.
	last := all[2*tinyVocab:]
	for i := range logits {
		if diff := math.Abs(float64(last[i] - logits[i])); diff > 1e-5 {
			t.Errorf("logit %d differs between modes: %v vs %v", i, logits[i], last[i])
		}
	}
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	m := tinyModel(t)
	e := NewExecutor(m, 1, testLog)

	if _, err := e.Evaluate(0, nil, false); err == nil {
		t.Error("empty token list should fail")
	}
	if _, err := e.Evaluate(0, []int{tinyVocab}, false); err == nil {
		t.Error("out-of-vocab token should fail")
	}
	if _, err := e.Evaluate(tinySeqLen, []int{1}, false); err == nil {
		t.Error("context overflow should fail")
	}
}

func TestKVCacheMatchesFullPass(t *testing.T) {
	m := tinyModel(t)
	tokens := []int{1, 2, 3, 1, 2}

	full := NewExecutor(m, 1, testLog)
	want, err := full.Evaluate(0, tokens, false)
	if err != nil {
		t.Fatal(err)
	}

	// Feeding the same tokens one at a time through the cache must land
	// on the same final logits.
	step := NewExecutor(m, 1, testLog)
	var got []float32
	for i, tok := range tokens {
		got, err = step.Evaluate(i, []int{tok}, false)
		if err != nil {
			t.Fatal(err)
		}
	}

	for i := range want {
		if diff := math.Abs(float64(got[i] - want[i])); diff > 1e-4 {
			t.Errorf("logit %d: incremental %v vs full %v", i, got[i], want[i])
		}
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	m := tinyModel(t)
	e := NewExecutor(m, 4, testLog)

	a, err := e.Evaluate(0, []int{1, 2}, false)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Evaluate(0, []int{1, 2}, false)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("repeated evaluation diverged at logit %d", i)
		}
	}
}

func TestEvaluateFiniteLogits(t *testing.T) {
	m := tinyModel(t)
	e := NewExecutor(m, 2, testLog)

	logits, err := e.Evaluate(0, []int{0, 1, 2, 3}, true)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range logits {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("non-finite logit at %d: %v", i, v)
		}
	}
}

func TestAlibiSlopes(t *testing.T) {
	slopes := alibiSlopes(4, 8)
	want := []float32{0.25, 0.0625, 0.015625, 0.00390625}
	for i := range want {
		if math.Abs(float64(slopes[i]-want[i])) > 1e-7 {
			t.Errorf("slope[%d] = %v, want %v", i, slopes[i], want[i])
		}
	}

	// Non-power-of-two head counts interleave the half-step sequence.
	s6 := alibiSlopes(6, 8)
	if len(s6) != 6 {
		t.Fatalf("got %d slopes, want 6", len(s6))
	}
	for i, v := range s6 {
		if v <= 0 || v >= 1 {
			t.Errorf("slope[%d] = %v outside (0, 1)", i, v)
		}
	}
}

func TestScratchCalibration(t *testing.T) {
	m := tinyModel(t)
	e := NewExecutor(m, 1, testLog)

	if e.MemPerToken() != 0 {
		t.Error("mem per token should be zero before the first pass")
	}
	if _, err := e.Evaluate(0, []int{0, 1, 2, 3}, false); err != nil {
		t.Fatal(err)
	}
	if e.MemPerToken() <= 0 {
		t.Error("first pass should calibrate mem per token")
	}
}

func TestScratchGrowsForLargerBatch(t *testing.T) {
	m := tinyModel(t)
	e := NewExecutor(m, 1, testLog)

	if _, err := e.Evaluate(0, []int{0, 1, 2, 3}, false); err != nil {
		t.Fatal(err)
	}
	before := e.scratch[scratchEval].Cap()

	// Force a projected need beyond the current capacity.
	e.perToken[scratchEval] = before
	e.growScratch(2)
	after := e.scratch[scratchEval].Cap()
	if after <= before {
		t.Errorf("arena should grow: %d -> %d", before, after)
	}
	want := before*16 + before*16/10
	if after != want {
		t.Errorf("growth margin: got %d, want %d", after, want)
	}
}
