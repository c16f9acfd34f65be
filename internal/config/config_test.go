package config

import (
	"testing"
)

func TestDefault(t *testing.T) {
	p := Default()

	if p.CtxLen != 512 {
		t.Errorf("expected CtxLen 512, got %d", p.CtxLen)
	}
	if p.Temp != 0.8 {
		t.Errorf("expected Temp 0.8, got %v", p.Temp)
	}
	if p.Seed != -1 {
		t.Errorf("expected Seed -1, got %d", p.Seed)
	}
	if p.Threads <= 0 {
		t.Errorf("expected positive Threads, got %d", p.Threads)
	}
}

func TestNormalize(t *testing.T) {
	p := Default()
	p.Seed = -1
	p.Predict = -5
	p.RepeatLastN = -1
	p.Normalize()

	if p.Seed < 0 {
		t.Errorf("negative seed not resolved: %d", p.Seed)
	}
	if p.Predict != 0 {
		t.Errorf("negative predict should normalize to 0, got %d", p.Predict)
	}
	if p.RepeatLastN != p.CtxLen {
		t.Errorf("repeat_last_n -1 should track ctx_len %d, got %d", p.CtxLen, p.RepeatLastN)
	}
}

func TestNormalizeKeepsExplicitSeed(t *testing.T) {
	p := Default()
	p.Seed = 42
	p.Normalize()
	if p.Seed != 42 {
		t.Errorf("explicit seed changed: %d", p.Seed)
	}
}

func TestClampToModel(t *testing.T) {
	p := Default()
	p.CtxLen = 4096
	p.TopK = 0
	p.ClampToModel(2048, 50432)

	if p.CtxLen != 2048 {
		t.Errorf("ctx_len should clamp to max_seq_len 2048, got %d", p.CtxLen)
	}
	if p.TopK != 50432 {
		t.Errorf("top_k 0 should resolve to vocab size, got %d", p.TopK)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Params)
		wantErr bool
	}{
		{"valid defaults", func(p *Params) {}, false},
		{"zero threads", func(p *Params) { p.Threads = 0 }, true},
		{"zero batch", func(p *Params) { p.Batch = 0 }, true},
		{"zero ctx", func(p *Params) { p.CtxLen = 0 }, true},
		{"zero temp", func(p *Params) { p.Temp = 0 }, true},
		{"negative top_k", func(p *Params) { p.TopK = -1 }, true},
		{"top_p over 1", func(p *Params) { p.TopP = 1.5 }, true},
		{"zero repeat penalty", func(p *Params) { p.RepeatPenalty = 0 }, true},
		{"repeat_last_n sentinel", func(p *Params) { p.RepeatLastN = -1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(&p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
