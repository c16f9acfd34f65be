package engine

import (
	"math"
	"math/rand"
	"sort"

	"github.com/23skdu/longbow-mosaic/internal/metrics"
)

// SamplerConfig holds the token selection knobs.
type SamplerConfig struct {
	TopK          int
	TopP          float64
	Temperature   float64
	RepeatPenalty float64
}

// Sampler draws the next token from model logits. The random source is
// injected so generation is reproducible under a fixed seed.
type Sampler struct {
	Config SamplerConfig
	rng    *rand.Rand
}

func NewSampler(cfg SamplerConfig, rng *rand.Rand) *Sampler {
	return &Sampler{Config: cfg, rng: rng}
}

type tokenProb struct {
	id   int
	prob float64
}

// Sample picks one token id from logits. lastN is the recent-token window
// for repetition penalty; logits is not modified.
func (s *Sampler) Sample(logits []float32, lastN []int) int {
	scaled := make([]float64, len(logits))

	invTemp := 1.0
	if s.Config.Temperature > 0 {
		invTemp = 1.0 / s.Config.Temperature
	}

	seen := make(map[int]struct{}, len(lastN))
	for _, id := range lastN {
		seen[id] = struct{}{}
	}

	for i, v := range logits {
		l := float64(v)
		if _, ok := seen[i]; ok && s.Config.RepeatPenalty != 1.0 {
			// Repeated tokens are pushed toward improbable in both
			// signs: positive logits shrink, negative ones grow more
			// negative.
			if l > 0 {
				l /= s.Config.RepeatPenalty
			} else {
				l *= s.Config.RepeatPenalty
			}
		}
		scaled[i] = l * invTemp
	}

	if s.Config.Temperature == 0 {
		return argMax(scaled)
	}

	candidates := make([]tokenProb, len(scaled))
	for i, l := range scaled {
		candidates[i] = tokenProb{id: i, prob: l}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].prob > candidates[j].prob
	})

	candidates = applyTopK(candidates, s.Config.TopK)
	softmaxInPlace(candidates)
	candidates = applyTopP(candidates, s.Config.TopP)

	metrics.RecordSample()
	return s.draw(candidates)
}

// applyTopK keeps the k highest-logit candidates. Candidates must be
// sorted descending.
func applyTopK(candidates []tokenProb, k int) []tokenProb {
	if k <= 0 || k >= len(candidates) {
		return candidates
	}
	return candidates[:k]
}

// softmaxInPlace converts sorted logits to probabilities, subtracting the
// leading (maximum) entry for stability.
func softmaxInPlace(candidates []tokenProb) {
	if len(candidates) == 0 {
		return
	}
	maxLogit := candidates[0].prob
	sum := 0.0
	for i := range candidates {
		candidates[i].prob = math.Exp(candidates[i].prob - maxLogit)
		sum += candidates[i].prob
	}
	for i := range candidates {
		candidates[i].prob /= sum
	}
}

// applyTopP keeps the smallest prefix of the sorted distribution whose
// cumulative probability reaches p, then renormalizes it.
func applyTopP(candidates []tokenProb, p float64) []tokenProb {
	if p <= 0 || p >= 1 || len(candidates) == 0 {
		return candidates
	}

	cum := 0.0
	cut := len(candidates)
	for i, c := range candidates {
		cum += c.prob
		if cum >= p {
			cut = i + 1
			break
		}
	}
	candidates = candidates[:cut]

	norm := 1.0 / cum
	for i := range candidates {
		candidates[i].prob *= norm
	}
	return candidates
}

func argMax(v []float64) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}

func (s *Sampler) draw(candidates []tokenProb) int {
	r := s.rng.Float64()
	acc := 0.0
	for _, c := range candidates {
		acc += c.prob
		if r < acc {
			return c.id
		}
	}
	return candidates[len(candidates)-1].id
}
