package engine

import (
	"bytes"
	"encoding/binary"
	"io"
	"math/rand"
	"testing"

	"github.com/23skdu/longbow-mosaic/internal/checkpoint"
	"github.com/23skdu/longbow-mosaic/internal/logger"
)

var testLog = logger.New("json", io.Discard)

const (
	tinyEmbd   = 8
	tinySeqLen = 16
	tinyHeads  = 2
	tinyLayers = 1
	tinyVocab  = 4
)

// tinyModel builds a one-block model with seeded pseudo-random weights
// by serializing a checkpoint stream and loading it back.
func tinyModel(t *testing.T) *checkpoint.Model {
	t.Helper()

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, checkpoint.Magic)
	for _, v := range []int32{tinyEmbd, tinySeqLen, tinyHeads, tinyLayers, tinyVocab} {
		binary.Write(&buf, binary.LittleEndian, v)
	}
	binary.Write(&buf, binary.LittleEndian, float32(8.0)) // alibi_bias_max
	binary.Write(&buf, binary.LittleEndian, float32(0.0)) // clip_qkv
	binary.Write(&buf, binary.LittleEndian, int32(0))     // ftype f32

	for _, tok := range []string{"<eos>", "x", "y", "z"} {
		binary.Write(&buf, binary.LittleEndian, uint32(len(tok)))
		buf.WriteString(tok)
	}

	rng := rand.New(rand.NewSource(1234))
	writeWeights := func(name string, ne []int32, scale float32) {
		binary.Write(&buf, binary.LittleEndian, int32(len(ne)))
		binary.Write(&buf, binary.LittleEndian, int32(len(name)))
		binary.Write(&buf, binary.LittleEndian, int32(0)) // f32
		n := 1
		for _, e := range ne {
			binary.Write(&buf, binary.LittleEndian, e)
			n *= int(e)
		}
		buf.WriteString(name)
		for i := 0; i < n; i++ {
			v := scale
			if scale == 0 {
				v = float32(rng.NormFloat64()) * 0.1
			}
			binary.Write(&buf, binary.LittleEndian, v)
		}
	}

	writeWeights("transformer.wte.weight", []int32{tinyEmbd, tinyVocab}, 0)
	writeWeights("transformer.norm_f.weight", []int32{tinyEmbd}, 1)
	writeWeights("transformer.blocks.0.norm_1.weight", []int32{tinyEmbd}, 1)
	writeWeights("transformer.blocks.0.attn.Wqkv.weight", []int32{tinyEmbd, 3 * tinyEmbd}, 0)
	writeWeights("transformer.blocks.0.attn.out_proj.weight", []int32{tinyEmbd, tinyEmbd}, 0)
	writeWeights("transformer.blocks.0.norm_2.weight", []int32{tinyEmbd}, 1)
	writeWeights("transformer.blocks.0.ffn.up_proj.weight", []int32{tinyEmbd, 4 * tinyEmbd}, 0)
	writeWeights("transformer.blocks.0.ffn.down_proj.weight", []int32{4 * tinyEmbd, tinyEmbd}, 0)

	m, err := checkpoint.Load(&buf, tinySeqLen, testLog)
	if err != nil {
		t.Fatalf("loading tiny model: %v", err)
	}
	return m
}
