package config

import (
	"fmt"
	"runtime"
	"time"
)

// Params holds everything the runtime recognizes. Degenerate values are
// normalized up front (Normalize), never treated as errors downstream.
type Params struct {
	ModelPath string

	Seed    int64
	Threads int
	Batch   int
	CtxLen  int
	Predict int

	Temp          float32
	TopK          int
	TopP          float32
	RepeatLastN   int
	RepeatPenalty float32

	Perplexity bool

	MetricsAddr string
	LogLevel    string
	LogFormat   string
}

func Default() Params {
	return Params{
		Seed:          -1,
		Threads:       runtime.NumCPU(),
		Batch:         8,
		CtxLen:        512,
		Predict:       200,
		Temp:          0.8,
		TopK:          40,
		TopP:          0.9,
		RepeatLastN:   64,
		RepeatPenalty: 1.02,
		MetricsAddr:   ":9090",
		LogLevel:      "info",
		LogFormat:     "console",
	}
}

// Normalize resolves the sentinel values recognized on the command line:
// negative seed derives from the clock, negative predict means none,
// repeat_last_n of -1 tracks the context length. TopK 0 is resolved
// against the vocabulary size once the model is loaded (ClampToModel).
func (p *Params) Normalize() {
	if p.Seed < 0 {
		p.Seed = time.Now().UnixNano()
	}
	if p.Predict < 0 {
		p.Predict = 0
	}
	if p.RepeatLastN == -1 {
		p.RepeatLastN = p.CtxLen
	}
}

// ClampToModel applies the model-dependent defaults: context length never
// exceeds the checkpoint's max sequence length, and TopK 0 means the full
// vocabulary.
func (p *Params) ClampToModel(maxSeqLen, vocabSize int) {
	if p.CtxLen > maxSeqLen {
		p.CtxLen = maxSeqLen
	}
	if p.TopK == 0 {
		p.TopK = vocabSize
	}
	if p.RepeatLastN > p.CtxLen {
		p.RepeatLastN = p.CtxLen
	}
}

func (p *Params) Validate() error {
	if p.Threads <= 0 {
		return fmt.Errorf("invalid threads: %d (must be positive)", p.Threads)
	}
	if p.Batch <= 0 {
		return fmt.Errorf("invalid batch: %d (must be positive)", p.Batch)
	}
	if p.CtxLen <= 0 {
		return fmt.Errorf("invalid ctx_len: %d (must be positive)", p.CtxLen)
	}
	if p.Temp <= 0 {
		return fmt.Errorf("invalid temp: %f (must be positive)", p.Temp)
	}
	if p.TopK < 0 {
		return fmt.Errorf("invalid top_k: %d (must be non-negative)", p.TopK)
	}
	if p.TopP <= 0 || p.TopP > 1.0 {
		return fmt.Errorf("invalid top_p: %f (must be in (0, 1])", p.TopP)
	}
	if p.RepeatPenalty <= 0 {
		return fmt.Errorf("invalid repeat_penalty: %f (must be positive)", p.RepeatPenalty)
	}
	if p.RepeatLastN < -1 {
		return fmt.Errorf("invalid repeat_last_n: %d", p.RepeatLastN)
	}
	return nil
}
