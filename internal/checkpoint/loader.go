package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/23skdu/longbow-mosaic/internal/logger"
	"github.com/23skdu/longbow-mosaic/internal/metrics"
	"github.com/23skdu/longbow-mosaic/internal/tensor"
)

// LoadFile opens and parses a checkpoint file. nCtx is the requested
// context length; it is clamped to the checkpoint's max sequence length.
func LoadFile(path string, nCtx int, log *logger.Logger) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	log.Info("loading model", "path", path)
	start := time.Now()

	m, err := Load(f, nCtx, log)
	if err != nil {
		return nil, err
	}

	metrics.RecordModelLoad(time.Since(start))
	log.Info("model load complete", "elapsed", time.Since(start))
	return m, nil
}

// Load parses a checkpoint stream in strict order: magic, hyperparameters,
// vocabulary, arena allocation, tensor declaration, payload streaming.
// Any failure aborts the load; the partially built model is dropped by
// normal teardown.
func Load(r io.Reader, nCtx int, log *logger.Logger) (*Model, error) {
	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic{Magic: magic}
	}

	m := &Model{}
	if err := readHparams(r, &m.Hparams, nCtx); err != nil {
		return nil, err
	}
	h := &m.Hparams

	log.Info("hyperparameters",
		"d_model", h.DModel,
		"max_seq_len", h.MaxSeqLen,
		"n_ctx", h.NCtx,
		"n_heads", h.NHeads,
		"n_layers", h.NLayers,
		"n_vocab", h.NVocab,
		"alibi_bias_max", h.AlibiBiasMax,
		"clip_qkv", h.ClipQKV,
		"ftype", h.FType,
		"qntvr", h.QntVer,
	)

	vocab, err := readVocab(r, int(h.NVocab))
	if err != nil {
		return nil, err
	}
	m.Vocab = vocab

	wtype, ok := tensor.WeightType(h.FType)
	if !ok {
		return nil, ErrBadFType{FType: h.FType}
	}
	h.WType = wtype

	size := arenaSize(h)
	log.Info("allocating arena", "bytes", size, "mb", float64(size)/(1024*1024))
	m.arena = tensor.NewArena(size)

	if err := m.declare(); err != nil {
		return nil, fmt.Errorf("declare tensors: %w", err)
	}

	kvBytes := m.MemK.Bytes() + m.MemV.Bytes()
	metrics.RecordKVCacheStats(int64(kvBytes), 0)
	log.Info("kv cache reserved",
		"bytes", kvBytes,
		"positions", int(h.NLayers)*int(h.NCtx),
	)

	if err := m.fill(r, log); err != nil {
		return nil, err
	}

	return m, nil
}

func readHparams(r io.Reader, h *Hparams, nCtx int) error {
	fields := []interface{}{
		&h.DModel, &h.MaxSeqLen, &h.NHeads, &h.NLayers, &h.NVocab,
		&h.AlibiBiasMax, &h.ClipQKV, &h.FType,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("read hparams: %w", err)
		}
	}

	h.NCtx = int32(nCtx)
	if h.NCtx > h.MaxSeqLen || h.NCtx <= 0 {
		h.NCtx = h.MaxSeqLen
	}

	h.QntVer = h.FType / tensor.QNTVersionFactor
	h.FType %= tensor.QNTVersionFactor
	return nil
}

// readVocab reads n length-prefixed token entries. Go strings carry raw
// bytes, so string(buf) is the byte-preserving transcoding step.
func readVocab(r io.Reader, n int) (*Vocab, error) {
	v := newVocab(n)
	buf := make([]byte, 0, 128)

	for i := 0; i < n; i++ {
		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, fmt.Errorf("read vocab entry %d length: %w", i, err)
		}
		if length > maxTokenLen {
			return nil, fmt.Errorf("vocab entry %d: implausible token length %d", i, length)
		}

		if cap(buf) < int(length) {
			buf = make([]byte, length)
		}
		buf = buf[:length]
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read vocab entry %d: %w", i, err)
		}
		v.add(string(buf))
	}
	return v, nil
}

// fill streams tensor payloads into the declared tensors, stopping
// cleanly at end-of-stream. Every record is validated by name, element
// count, extents, and byte size before any payload bytes are copied.
func (m *Model) fill(r io.Reader, log *logger.Logger) error {
	nTensors := 0
	totalBytes := 0

	for {
		var nDims, nameLen, elemType int32
		if err := binary.Read(r, binary.LittleEndian, &nDims); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("read tensor header: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return fmt.Errorf("read tensor header: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &elemType); err != nil {
			return fmt.Errorf("read tensor header: %w", err)
		}

		if nDims < 1 || nDims > maxDims {
			return fmt.Errorf("tensor record with %d dims (max %d)", nDims, maxDims)
		}
		if nameLen < 0 || nameLen > maxTokenLen {
			return fmt.Errorf("tensor record with implausible name length %d", nameLen)
		}

		ne := [2]int32{1, 1}
		nElements := 1
		for i := 0; i < int(nDims); i++ {
			if err := binary.Read(r, binary.LittleEndian, &ne[i]); err != nil {
				return fmt.Errorf("read tensor extents: %w", err)
			}
			nElements *= int(ne[i])
		}

		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBuf); err != nil {
			return fmt.Errorf("read tensor name: %w", err)
		}
		name := string(nameBuf)

		t, ok := m.Tensors[name]
		if !ok {
			return ErrUnknownTensor{Name: name}
		}

		if t.Elements() != nElements {
			return ErrSizeMismatch{Name: name, Want: t.Elements(), Got: nElements}
		}
		if t.Ne(0) != int(ne[0]) || t.Ne(1) != int(ne[1]) {
			return ErrShapeMismatch{
				Name: name,
				Want: [2]int{t.Ne(0), t.Ne(1)},
				Got:  [2]int{int(ne[0]), int(ne[1])},
			}
		}

		dt := tensor.DType(elemType)
		if !dt.Valid() || dt == tensor.DTypeI32 {
			return ErrBadFType{FType: elemType}
		}
		if nElements*dt.BlockBytes()/dt.BlockSize() != t.Bytes() {
			return ErrSizeMismatch{Name: name, Want: t.Bytes(), Got: nElements * dt.BlockBytes() / dt.BlockSize()}
		}

		if _, err := io.ReadFull(r, t.Data()); err != nil {
			return fmt.Errorf("read tensor %q payload: %w", name, err)
		}

		totalBytes += t.Bytes()
		nTensors++
		if nTensors%8 == 0 {
			log.Debug("loading tensors", "count", nTensors, "bytes", totalBytes)
		}
	}

	log.Info("tensor payloads loaded",
		"tensors", nTensors,
		"mb", float64(totalBytes)/(1024*1024),
	)
	metrics.RecordTensorsLoaded(nTensors, int64(totalBytes))
	return nil
}
