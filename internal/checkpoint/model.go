package checkpoint

import (
	"fmt"

	"github.com/23skdu/longbow-mosaic/internal/tensor"
)

// Layer holds the per-block weights in graph order.
type Layer struct {
	Norm1   *tensor.Tensor // pre-attention norm weight [d_model]
	WQKV    *tensor.Tensor // fused QKV projection [d_model, 3*d_model]
	OutProj *tensor.Tensor // attention output projection [d_model, d_model]
	Norm2   *tensor.Tensor // post-attention norm weight [d_model]
	FFNUp   *tensor.Tensor // feed-forward up projection [d_model, 4*d_model]
	FFNDown *tensor.Tensor // feed-forward down projection [4*d_model, d_model]
}

// Model is the loaded checkpoint: hyperparameters, vocabulary, the named
// tensor store, and the KV cache buffers, all carved from one arena whose
// lifetime is the model's.
type Model struct {
	Hparams Hparams
	Vocab   *Vocab

	arena   *tensor.Arena
	Tensors map[string]*tensor.Tensor

	Wte    *tensor.Tensor // token embedding table [d_model, n_vocab], tied output head
	NormF  *tensor.Tensor // final norm weight [d_model]
	Layers []Layer

	// KV cache: half precision, logically layers x n_ctx x d_model,
	// flattened. Slice [layer, pos, :] is written once by the forward
	// pass that processes pos and read by every later pass.
	MemK *tensor.Tensor
	MemV *tensor.Tensor
}

// Tensor naming scheme: the wire contract binding streamed payloads to
// logical weights.
const (
	nameWte   = "transformer.wte.weight"
	nameNormF = "transformer.norm_f.weight"
)

func layerName(i int, suffix string) string {
	return fmt.Sprintf("transformer.blocks.%d.%s", i, suffix)
}

// declare instantiates every named tensor inside the arena, in the fixed
// naming scheme the payload stream binds against.
func (m *Model) declare() error {
	h := &m.Hparams
	nEmbd := int(h.DModel)
	nLayer := int(h.NLayers)
	nVocab := int(h.NVocab)
	nCtx := int(h.NCtx)

	m.Tensors = make(map[string]*tensor.Tensor, 2+6*nLayer)
	m.Layers = make([]Layer, nLayer)

	var err error
	if m.Wte, err = tensor.New2D(m.arena, h.WType, nEmbd, nVocab); err != nil {
		return err
	}
	if m.NormF, err = tensor.New1D(m.arena, tensor.DTypeF32, nEmbd); err != nil {
		return err
	}
	m.Tensors[nameWte] = m.Wte
	m.Tensors[nameNormF] = m.NormF

	for i := 0; i < nLayer; i++ {
		l := &m.Layers[i]
		if l.Norm1, err = tensor.New1D(m.arena, tensor.DTypeF32, nEmbd); err != nil {
			return err
		}
		if l.WQKV, err = tensor.New2D(m.arena, h.WType, nEmbd, 3*nEmbd); err != nil {
			return err
		}
		if l.OutProj, err = tensor.New2D(m.arena, h.WType, nEmbd, nEmbd); err != nil {
			return err
		}
		if l.Norm2, err = tensor.New1D(m.arena, tensor.DTypeF32, nEmbd); err != nil {
			return err
		}
		if l.FFNUp, err = tensor.New2D(m.arena, h.WType, nEmbd, 4*nEmbd); err != nil {
			return err
		}
		if l.FFNDown, err = tensor.New2D(m.arena, h.WType, 4*nEmbd, nEmbd); err != nil {
			return err
		}

		m.Tensors[layerName(i, "norm_1.weight")] = l.Norm1
		m.Tensors[layerName(i, "attn.Wqkv.weight")] = l.WQKV
		m.Tensors[layerName(i, "attn.out_proj.weight")] = l.OutProj
		m.Tensors[layerName(i, "norm_2.weight")] = l.Norm2
		m.Tensors[layerName(i, "ffn.up_proj.weight")] = l.FFNUp
		m.Tensors[layerName(i, "ffn.down_proj.weight")] = l.FFNDown
	}

	nMem := nLayer * nCtx * nEmbd
	if m.MemK, err = tensor.New1D(m.arena, tensor.DTypeF16, nMem); err != nil {
		return err
	}
	if m.MemV, err = tensor.New1D(m.arena, tensor.DTypeF16, nMem); err != nil {
		return err
	}

	return nil
}

// arenaSize computes the byte budget for every weight tensor, the KV
// cache, and fixed per-object overhead.
func arenaSize(h *Hparams) int {
	nEmbd := float64(h.DModel)
	nLayer := float64(h.NLayers)
	nVocab := float64(h.NVocab)
	nCtx := float64(h.NCtx)

	wsize := tensor.SizeF(h.WType)
	f32size := tensor.SizeF(tensor.DTypeF32)
	f16size := tensor.SizeF(tensor.DTypeF16)

	size := nEmbd * nVocab * wsize // wte
	size += nEmbd * f32size        // norm_f

	size += nLayer * (nEmbd * f32size)             // norm_1
	size += nLayer * (3 * nEmbd * nEmbd * wsize)   // attn.Wqkv
	size += nLayer * (nEmbd * nEmbd * wsize)       // attn.out_proj
	size += nLayer * (nEmbd * f32size)             // norm_2
	size += nLayer * (4 * nEmbd * nEmbd * wsize)   // ffn.up_proj
	size += nLayer * (4 * nEmbd * nEmbd * wsize)   // ffn.down_proj
	size += 2 * (nCtx * nLayer * nEmbd * f16size)  // memory_k, memory_v
	size += (1 + 6*nLayer) * 512                   // object overhead

	return int(size)
}
