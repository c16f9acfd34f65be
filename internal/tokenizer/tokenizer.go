package tokenizer

import (
	"math/rand"
	"strings"
	"time"

	"github.com/23skdu/longbow-mosaic/internal/checkpoint"
	"github.com/23skdu/longbow-mosaic/internal/logger"
	"github.com/23skdu/longbow-mosaic/internal/metrics"
)

// Tokenizer encodes text against a checkpoint vocabulary with greedy
// longest-match and decodes token ids back to text.
type Tokenizer struct {
	vocab  *checkpoint.Vocab
	maxLen int // longest token in bytes, bounds the match window
	log    *logger.Logger
}

func New(vocab *checkpoint.Vocab, log *logger.Logger) *Tokenizer {
	maxLen := 0
	for id := 0; id < vocab.Size(); id++ {
		if n := len(vocab.Token(id)); n > maxLen {
			maxLen = n
		}
	}
	return &Tokenizer{vocab: vocab, maxLen: maxLen, log: log}
}

// Encode maps text to token ids, always taking the longest vocabulary
// entry that matches at the current position. Bytes with no match at all
// are skipped.
func (t *Tokenizer) Encode(text string) []int {
	start := time.Now()
	ids := make([]int, 0, len(text)/4+1)
	unknown := 0

	for pos := 0; pos < len(text); {
		end := pos + t.maxLen
		if end > len(text) {
			end = len(text)
		}

		matched := false
		for l := end - pos; l > 0; l-- {
			if id, ok := t.vocab.ID(text[pos : pos+l]); ok {
				ids = append(ids, id)
				pos += l
				matched = true
				break
			}
		}
		if !matched {
			unknown++
			pos++
		}
	}

	if unknown > 0 {
		t.log.Warn("no vocabulary match for some input", "skipped_bytes", unknown)
	}
	metrics.RecordTokenizerEncode(len(ids), unknown, time.Since(start))
	return ids
}

// Decode concatenates the token strings for ids; out-of-range ids decode
// to nothing.
func (t *Tokenizer) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(t.vocab.Token(id))
	}
	return sb.String()
}

// RandomPrompt draws n uniformly random token ids, avoiding the reserved
// end-of-sequence id so the prompt cannot terminate generation by itself.
func (t *Tokenizer) RandomPrompt(rng *rand.Rand, n int) []int {
	if t.vocab.Size() <= 1 {
		return nil
	}
	ids := make([]int, n)
	for i := range ids {
		ids[i] = 1 + rng.Intn(t.vocab.Size()-1)
	}
	return ids
}
