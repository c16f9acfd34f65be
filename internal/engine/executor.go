package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/23skdu/longbow-mosaic/internal/checkpoint"
	"github.com/23skdu/longbow-mosaic/internal/logger"
	"github.com/23skdu/longbow-mosaic/internal/metrics"
	"github.com/23skdu/longbow-mosaic/internal/tensor"
)

const normEps = 1e-5

// Scratch arena indices. eval holds the residual stream and logits for a
// whole forward pass; attn and ffn are reset at every layer.
const (
	scratchEval = iota
	scratchAttn
	scratchFFN
	numScratch
)

var scratchNames = [numScratch]string{"eval", "attn", "ffn"}

// Executor runs forward passes over a loaded model. It owns the scratch
// arenas and the per-token memory estimates that drive their growth; a
// single Executor must not be used from multiple goroutines.
type Executor struct {
	model   *checkpoint.Model
	threads int
	log     *logger.Logger

	scratch    [numScratch]*tensor.Arena
	perToken   [numScratch]int
	calibrated bool

	slopes []float32 // per-head position-bias slopes
}

func NewExecutor(m *checkpoint.Model, threads int, log *logger.Logger) *Executor {
	h := m.Hparams
	nEmbd := int(h.DModel)
	nVocab := int(h.NVocab)
	nHeads := int(h.NHeads)
	nCtx := int(h.NCtx)

	e := &Executor{model: m, threads: threads, log: log}

	// Analytic per-token estimates seed the arenas until the first pass
	// reports real usage. The attention estimate folds in the score
	// buffer, which scales with context rather than batch.
	e.perToken[scratchEval] = (3*nEmbd + nVocab + 32) * 4
	e.perToken[scratchAttn] = (4*nEmbd + 32) * 4
	e.perToken[scratchFFN] = (4*nEmbd + 32) * 4

	attnFixed := nHeads * nCtx * 4
	for i := range e.scratch {
		size := e.perToken[i] * 16
		if i == scratchAttn {
			size += attnFixed
		}
		e.scratch[i] = tensor.NewArena(size)
	}

	e.slopes = alibiSlopes(nHeads, h.AlibiBiasMax)
	return e
}

// alibiSlopes computes the per-head slope of the linear position bias.
// Head counts that are not powers of two interleave a second geometric
// sequence for the overflow heads.
func alibiSlopes(nHeads int, biasMax float32) []float32 {
	floor2 := 1
	for floor2*2 <= nHeads {
		floor2 *= 2
	}

	m0 := math.Pow(2, float64(-biasMax)/float64(floor2))
	m1 := math.Pow(2, float64(-biasMax)/float64(2*floor2))

	slopes := make([]float32, nHeads)
	for h := 0; h < nHeads; h++ {
		if h < floor2 {
			slopes[h] = float32(math.Pow(m0, float64(h+1)))
		} else {
			slopes[h] = float32(math.Pow(m1, float64(2*(h-floor2)+1)))
		}
	}
	return slopes
}

// MemPerToken returns the calibrated eval-arena bytes per token, zero
// before the first pass.
func (e *Executor) MemPerToken() int {
	if !e.calibrated {
		return 0
	}
	return e.perToken[scratchEval]
}

// Evaluate runs the decoder over tokens with the KV cache holding nPast
// positions. It returns the logits of the final position, or of every
// position when logitsAll is set. The returned slice is owned by the
// caller; scratch is recycled on the next call.
func (e *Executor) Evaluate(nPast int, tokens []int, logitsAll bool) ([]float32, error) {
	h := e.model.Hparams
	n := len(tokens)
	nEmbd := int(h.DModel)
	nHeads := int(h.NHeads)
	nLayer := int(h.NLayers)
	nVocab := int(h.NVocab)
	nCtx := int(h.NCtx)
	headDim := nEmbd / nHeads

	if n == 0 {
		return nil, fmt.Errorf("evaluate called with no tokens")
	}
	if nPast+n > nCtx {
		return nil, fmt.Errorf("context overflow: %d past + %d new > %d", nPast, n, nCtx)
	}
	for _, tok := range tokens {
		if tok < 0 || tok >= nVocab {
			return nil, fmt.Errorf("token id %d out of vocabulary range %d", tok, nVocab)
		}
	}

	start := time.Now()
	e.growScratch(n)

	eval := e.scratch[scratchEval]
	attn := e.scratch[scratchAttn]
	ffn := e.scratch[scratchFFN]
	for _, a := range e.scratch {
		a.Reset()
	}

	inpL, err := tensor.AllocF32(eval, n*nEmbd)
	if err != nil {
		return nil, err
	}
	cur, err := tensor.AllocF32(eval, n*nEmbd)
	if err != nil {
		return nil, err
	}
	tmp, err := tensor.AllocF32(eval, n*nEmbd)
	if err != nil {
		return nil, err
	}

	for i, tok := range tokens {
		e.model.Wte.DequantRow(tok, inpL[i*nEmbd:(i+1)*nEmbd])
	}

	memK := e.model.MemK.F16()
	memV := e.model.MemV.F16()
	maxAttn, maxFFN := 0, 0

	for l := 0; l < nLayer; l++ {
		layer := &e.model.Layers[l]
		attn.Reset()
		ffn.Reset()

		qkv, err := tensor.AllocF32(attn, n*3*nEmbd)
		if err != nil {
			return nil, err
		}
		attnOut, err := tensor.AllocF32(attn, n*nEmbd)
		if err != nil {
			return nil, err
		}
		scores, err := tensor.AllocF32(attn, nHeads*nCtx)
		if err != nil {
			return nil, err
		}

		for i := 0; i < n; i++ {
			x := inpL[i*nEmbd : (i+1)*nEmbd]
			c := cur[i*nEmbd : (i+1)*nEmbd]
			tensor.LayerNorm(c, x, layer.Norm1.F32(), normEps)
			tensor.MatMul(qkv[i*3*nEmbd:(i+1)*3*nEmbd], layer.WQKV, c, e.threads)
		}
		if h.ClipQKV > 0 {
			tensor.Clamp(qkv, -h.ClipQKV, h.ClipQKV)
		}

		// Cache K and V for the new positions. Each (layer, position)
		// slot is written exactly once.
		for i := 0; i < n; i++ {
			base := (l*nCtx + nPast + i) * nEmbd
			k := qkv[i*3*nEmbd+nEmbd : i*3*nEmbd+2*nEmbd]
			v := qkv[i*3*nEmbd+2*nEmbd : i*3*nEmbd+3*nEmbd]
			for j := 0; j < nEmbd; j++ {
				memK[base+j] = tensor.F32ToF16(k[j])
				memV[base+j] = tensor.F32ToF16(v[j])
			}
		}

		scale := float32(1 / math.Sqrt(float64(headDim)))
		tensor.Parallel(e.threads, nHeads, func(hs, he int) {
			for head := hs; head < he; head++ {
				slope := e.slopes[head]
				sc := scores[head*nCtx : (head+1)*nCtx]

				for i := 0; i < n; i++ {
					q := qkv[i*3*nEmbd+head*headDim : i*3*nEmbd+(head+1)*headDim]
					span := nPast + i + 1

					for j := 0; j < span; j++ {
						kOff := (l*nCtx+j)*nEmbd + head*headDim
						sc[j] = tensor.DotF16(q, memK[kOff:kOff+headDim])*scale + slope*float32(j)
					}
					tensor.Softmax(sc[:span])

					out := attnOut[i*nEmbd+head*headDim : i*nEmbd+(head+1)*headDim]
					for d := 0; d < headDim; d++ {
						out[d] = 0
					}
					for j := 0; j < span; j++ {
						vOff := (l*nCtx+j)*nEmbd + head*headDim
						p := sc[j]
						for d := 0; d < headDim; d++ {
							out[d] += p * tensor.F16ToF32(memV[vOff+d])
						}
					}
				}
			}
		})

		for i := 0; i < n; i++ {
			tensor.MatMul(tmp[i*nEmbd:(i+1)*nEmbd], layer.OutProj, attnOut[i*nEmbd:(i+1)*nEmbd], e.threads)
		}
		tensor.Accum(inpL, tmp)

		up, err := tensor.AllocF32(ffn, n*4*nEmbd)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			c := cur[i*nEmbd : (i+1)*nEmbd]
			tensor.LayerNorm(c, inpL[i*nEmbd:(i+1)*nEmbd], layer.Norm2.F32(), normEps)

			u := up[i*4*nEmbd : (i+1)*4*nEmbd]
			tensor.MatMul(u, layer.FFNUp, c, e.threads)
			tensor.GELU(u)
			tensor.MatMul(tmp[i*nEmbd:(i+1)*nEmbd], layer.FFNDown, u, e.threads)
		}
		tensor.Accum(inpL, tmp)

		if u := attn.Used(); u > maxAttn {
			maxAttn = u
		}
		if u := ffn.Used(); u > maxFFN {
			maxFFN = u
		}
	}

	for i := 0; i < n; i++ {
		tensor.LayerNorm(cur[i*nEmbd:(i+1)*nEmbd], inpL[i*nEmbd:(i+1)*nEmbd], e.model.NormF.F32(), normEps)
	}

	// Tied output head: logits come from the embedding table.
	nOut := 1
	if logitsAll {
		nOut = n
	}
	logits := make([]float32, nOut*nVocab)
	row, err := tensor.AllocF32(eval, nVocab)
	if err != nil {
		return nil, err
	}
	for o := 0; o < nOut; o++ {
		pos := n - 1
		if logitsAll {
			pos = o
		}
		tensor.MatMul(row, e.model.Wte, cur[pos*nEmbd:(pos+1)*nEmbd], e.threads)
		copy(logits[o*nVocab:(o+1)*nVocab], row)
	}

	if !e.calibrated {
		e.perToken[scratchEval] = ceilDiv(eval.Used(), n)
		e.perToken[scratchAttn] = ceilDiv(maxAttn, n)
		e.perToken[scratchFFN] = ceilDiv(maxFFN, n)
		e.calibrated = true
		e.log.Debug("scratch calibrated",
			"eval_per_token", e.perToken[scratchEval],
			"attn_per_token", e.perToken[scratchAttn],
			"ffn_per_token", e.perToken[scratchFFN],
		)
	}

	metrics.RecordInference(n, time.Since(start))
	metrics.RecordContextLength(nPast + n)
	metrics.RecordKVCacheStats(int64(e.model.MemK.Bytes()+e.model.MemV.Bytes()), int64(nPast+n))
	return logits, nil
}

// growScratch resizes any arena whose projected need for n tokens exceeds
// its capacity, before the pass touches it. Growth carries a 10% margin
// and arenas never shrink.
func (e *Executor) growScratch(n int) {
	est := n
	if est < 16 {
		est = 16
	}
	for i, a := range e.scratch {
		need := e.perToken[i] * est
		if need > a.Cap() {
			size := need + need/10
			a.Grow(size)
			metrics.RecordScratchGrow(scratchNames[i], size)
			e.log.Debug("scratch grown", "arena", scratchNames[i], "bytes", size, "tokens", n)
		}
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
