// Package corpus stores and retrieves evaluation token streams as Arrow
// record batches, either from IPC files or over Flight.
package corpus

import (
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

const tokenColumn = "token"

// Schema is the single-column int32 layout of a token corpus.
func Schema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: tokenColumn, Type: arrow.PrimitiveTypes.Int32},
	}, nil)
}

// WriteTokens writes a token stream as one Arrow IPC record batch.
func WriteTokens(w io.Writer, tokens []int) error {
	mem := memory.DefaultAllocator
	schema := Schema()

	b := array.NewInt32Builder(mem)
	defer b.Release()
	b.Reserve(len(tokens))
	for _, t := range tokens {
		b.Append(int32(t))
	}
	arr := b.NewInt32Array()
	defer arr.Release()

	rec := array.NewRecord(schema, []arrow.Array{arr}, int64(len(tokens)))
	defer rec.Release()

	fw := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("write token batch: %w", err)
	}
	return fw.Close()
}

// ReadTokens reads every record batch of an Arrow IPC stream and returns
// the concatenated token column.
func ReadTokens(r io.Reader) ([]int, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("open token stream: %w", err)
	}
	defer rdr.Release()

	var tokens []int
	for rdr.Next() {
		rec := rdr.Record()
		idx := rec.Schema().FieldIndices(tokenColumn)
		if len(idx) == 0 {
			return nil, fmt.Errorf("token column missing from record batch")
		}
		col, ok := rec.Column(idx[0]).(*array.Int32)
		if !ok {
			return nil, fmt.Errorf("token column has type %s, want int32", rec.Column(idx[0]).DataType())
		}
		for i := 0; i < col.Len(); i++ {
			tokens = append(tokens, int(col.Value(i)))
		}
	}
	if err := rdr.Err(); err != nil {
		return nil, fmt.Errorf("read token stream: %w", err)
	}
	return tokens, nil
}

// WriteTokensFile writes a token corpus to an Arrow IPC file.
func WriteTokensFile(path string, tokens []int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteTokens(f, tokens); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadTokensFile reads a token corpus from an Arrow IPC file.
func ReadTokensFile(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTokens(f)
}
