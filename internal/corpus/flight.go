package corpus

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-mosaic/internal/logger"
)

// Client fetches token corpora from an Arrow Flight endpoint, keyed by
// dataset name.
type Client struct {
	fc  flight.Client
	log *logger.Logger
}

// Dial connects to a Flight server without transport security; corpus
// servers are expected to sit inside the same trust boundary.
func Dial(addr string, log *logger.Logger) (*Client, error) {
	fc, err := flight.NewClientWithMiddleware(addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial flight server %s: %w", addr, err)
	}
	return &Client{fc: fc, log: log}, nil
}

func (c *Client) Close() error {
	return c.fc.Close()
}

// FetchTokens streams the named dataset and returns its token column.
func (c *Client) FetchTokens(ctx context.Context, name string) ([]int, error) {
	stream, err := c.fc.DoGet(ctx, &flight.Ticket{Ticket: []byte(name)})
	if err != nil {
		return nil, fmt.Errorf("fetch dataset %q: %w", name, err)
	}

	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, fmt.Errorf("open dataset %q: %w", name, err)
	}
	defer rdr.Release()

	var tokens []int
	for rdr.Next() {
		rec := rdr.Record()
		idx := rec.Schema().FieldIndices(tokenColumn)
		if len(idx) == 0 {
			return nil, fmt.Errorf("dataset %q has no token column", name)
		}
		col, ok := rec.Column(idx[0]).(*array.Int32)
		if !ok {
			return nil, fmt.Errorf("dataset %q token column has type %s, want int32",
				name, rec.Column(idx[0]).DataType())
		}
		for i := 0; i < col.Len(); i++ {
			tokens = append(tokens, int(col.Value(i)))
		}
	}
	if err := rdr.Err(); err != nil {
		return nil, fmt.Errorf("stream dataset %q: %w", name, err)
	}

	c.log.Info("corpus fetched", "dataset", name, "tokens", len(tokens))
	return tokens, nil
}
