package engine

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/23skdu/longbow-mosaic/internal/checkpoint"
	"github.com/23skdu/longbow-mosaic/internal/logger"
	"github.com/23skdu/longbow-mosaic/internal/tokenizer"
)

// RunnerConfig carries the generation loop parameters.
type RunnerConfig struct {
	Threads     int
	Batch       int
	Predict     int
	RepeatLastN int
	Sampler     SamplerConfig
}

// Runner drives autoregressive generation: prompt prefill in batches,
// then one token per pass until the budget or the end-of-sequence token.
type Runner struct {
	model    *checkpoint.Model
	exec     *Executor
	tok      *tokenizer.Tokenizer
	sampler  *Sampler
	cfg      RunnerConfig
	log      *logger.Logger
	warmedUp bool
}

func NewRunner(m *checkpoint.Model, cfg RunnerConfig, rng *rand.Rand, log *logger.Logger) *Runner {
	return &Runner{
		model:   m,
		exec:    NewExecutor(m, cfg.Threads, log),
		tok:     tokenizer.New(m.Vocab, log),
		sampler: NewSampler(cfg.Sampler, rng),
		cfg:     cfg,
		log:     log,
	}
}

// Tokenizer exposes the runner's tokenizer for prompt handling.
func (r *Runner) Tokenizer() *tokenizer.Tokenizer { return r.tok }

// Executor exposes the underlying executor, used by the perplexity
// evaluator which shares the KV cache and scratch state.
func (r *Runner) Executor() *Executor { return r.exec }

// TokenizeMessage encodes a prompt.
func (r *Runner) TokenizeMessage(text string) []int {
	ids := r.tok.Encode(text)
	r.log.Debug("prompt tokenized", "count", len(ids), "ids", ids)
	return ids
}

// Process tokenizes text and generates a continuation, returning the
// accumulated generated text. emit sees every processed token's string,
// prompt tokens included.
func (r *Runner) Process(text string, emit func(string)) (string, error) {
	return r.ProcessTokenized(r.TokenizeMessage(text), emit)
}

// warmup runs a throwaway pass over a few low tokens so the scratch
// estimates are calibrated before real work. The KV slots it touches are
// rewritten by the prompt prefill.
func (r *Runner) warmup() error {
	if r.warmedUp {
		return nil
	}
	if _, err := r.exec.Evaluate(0, []int{0, 1, 2, 3}, false); err != nil {
		return err
	}
	r.warmedUp = true
	return nil
}

// ProcessTokenized generates up to Predict tokens after the prompt and
// returns their decoded concatenation. It stops early at the
// end-of-sequence token or when the context fills. Prompt tokens are
// streamed through emit as they are consumed; only generated tokens land
// in the returned string.
func (r *Runner) ProcessTokenized(prompt []int, emit func(string)) (string, error) {
	nCtx := int(r.model.Hparams.NCtx)
	if emit == nil {
		emit = func(string) {}
	}

	if err := r.warmup(); err != nil {
		return "", err
	}

	lastN := make([]int, r.cfg.RepeatLastN)
	nPast := 0
	var logits []float32

	prefillStart := time.Now()
	for len(prompt) > 0 && nPast < nCtx {
		batch := r.cfg.Batch
		if batch > len(prompt) {
			batch = len(prompt)
		}
		if nPast+batch > nCtx {
			batch = nCtx - nPast
		}

		var err error
		logits, err = r.exec.Evaluate(nPast, prompt[:batch], false)
		if err != nil {
			return "", err
		}
		for _, tok := range prompt[:batch] {
			lastN = pushLastN(lastN, tok)
			emit(r.tok.Decode([]int{tok}))
		}
		nPast += batch
		prompt = prompt[batch:]
	}
	prefillElapsed := time.Since(prefillStart)
	if logits == nil {
		return "", fmt.Errorf("nothing to condition on: empty prompt")
	}

	nSampled := 0
	var result strings.Builder
	var sampleElapsed, predictElapsed time.Duration
	stopped := false

	// The prompt itself may end in the end-of-sequence token.
	if len(lastN) > 0 && nPast > 0 && lastN[len(lastN)-1] == checkpoint.EOS {
		stopped = true
	}

	for !stopped && nSampled < r.cfg.Predict && nPast < nCtx {
		t0 := time.Now()
		id := r.sampler.Sample(logits, lastN)
		sampleElapsed += time.Since(t0)

		lastN = pushLastN(lastN, id)
		nSampled++
		text := r.tok.Decode([]int{id})
		result.WriteString(text)
		emit(text)

		if id == checkpoint.EOS {
			break
		}

		t1 := time.Now()
		var err error
		logits, err = r.exec.Evaluate(nPast, []int{id}, false)
		if err != nil {
			return result.String(), err
		}
		predictElapsed += time.Since(t1)
		nPast++
	}

	if nPast > 0 {
		r.log.Info("prompt processed",
			"positions", nPast-nSampled,
			"elapsed", prefillElapsed,
		)
	}
	if nSampled > 0 {
		r.log.Info("generation finished",
			"tokens", nSampled,
			"mem_per_token_bytes", r.exec.MemPerToken(),
			"sample_ms_per_token", float64(sampleElapsed.Milliseconds())/float64(nSampled),
			"predict_ms_per_token", float64(predictElapsed.Milliseconds())/float64(nSampled),
		)
	}
	return result.String(), nil
}

// pushLastN appends id to the fixed-size recency window, dropping the
// oldest entry.
func pushLastN(window []int, id int) []int {
	if len(window) == 0 {
		return window
	}
	copy(window, window[1:])
	window[len(window)-1] = id
	return window
}
