package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/23skdu/longbow-mosaic/internal/logger"
	"github.com/23skdu/longbow-mosaic/internal/metrics"
	"github.com/23skdu/longbow-mosaic/internal/tensor"
)

// Perplexity scores a token stream in non-overlapping context-sized
// chunks and returns the cumulative perplexity. Each chunk restarts the
// KV cache; within a chunk the model sees a growing prefix via sub-batch
// evaluation with all logits kept.
func Perplexity(exec *Executor, tokens []int, batchSize int, log *logger.Logger) (float64, error) {
	h := exec.model.Hparams
	nCtx := int(h.NCtx)
	nVocab := int(h.NVocab)

	if batchSize <= 0 {
		batchSize = nCtx
	}
	nChunks := len(tokens) / nCtx
	if nChunks == 0 {
		return 0, fmt.Errorf("need at least %d tokens for one chunk, have %d", nCtx, len(tokens))
	}

	// Early positions have too little context to be a fair test; scoring
	// starts halfway in, capped at 512.
	scoreFrom := nCtx / 2
	if scoreFrom > 512 {
		scoreFrom = 512
	}

	log.Info("perplexity evaluation",
		"tokens", len(tokens),
		"chunks", nChunks,
		"chunk_size", nCtx,
		"batch_size", batchSize,
		"score_from", scoreFrom,
	)

	// Throwaway pass to calibrate the scratch estimates; chunk 0 rewrites
	// the KV slots it touches.
	if _, err := exec.Evaluate(0, []int{0, 1, 2, 3}, false); err != nil {
		return 0, err
	}

	nll := 0.0
	count := 0
	probs := make([]float32, nVocab)

	for chunk := 0; chunk < nChunks; chunk++ {
		window := tokens[chunk*nCtx : (chunk+1)*nCtx]
		chunkStart := time.Now()
		chunkNLL := 0.0
		chunkCount := 0

		logits := make([]float32, 0, nCtx*nVocab)
		for j := 0; j < nCtx; j += batchSize {
			end := j + batchSize
			if end > nCtx {
				end = nCtx
			}
			part, err := exec.Evaluate(j, window[j:end], true)
			if err != nil {
				return 0, fmt.Errorf("chunk %d batch at %d: %w", chunk, j, err)
			}
			logits = append(logits, part...)
		}

		for j := scoreFrom; j < nCtx-1; j++ {
			copy(probs, logits[j*nVocab:(j+1)*nVocab])
			tensor.Softmax(probs)
			p := probs[window[j+1]]
			chunkNLL -= math.Log(float64(p))
			chunkCount++
		}
		nll += chunkNLL
		count += chunkCount

		ppl := math.Exp(nll / float64(count))
		metrics.RecordPerplexityChunk(ppl)
		log.Info("chunk scored",
			"chunk", chunk+1,
			"of", nChunks,
			"ppl", ppl,
			"chunk_ppl", math.Exp(chunkNLL/float64(chunkCount)),
			"elapsed", time.Since(chunkStart),
		)

		if chunk == 0 {
			total := time.Since(chunkStart) * time.Duration(nChunks)
			if total > time.Hour {
				log.Info("estimated total time", "hours", total.Hours())
			} else {
				log.Info("estimated total time", "minutes", total.Minutes())
			}
		}
	}

	return math.Exp(nll / float64(count)), nil
}
