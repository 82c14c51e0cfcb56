package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"quant/internal/domain"
)

// Client connects to a market-data gRPC server and populates a local Model,
// providing an automatic mirror of the server-side model.
type Client struct {
	addr  string
	conn  *grpc.ClientConn
	model *Model
	log   *slog.Logger
}

// NewClient creates a client targeting addr. Extra dial options are
// appended after insecure transport credentials.
func NewClient(addr string, model *Model, log *slog.Logger, opts ...grpc.DialOption) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{addr: addr, conn: conn, model: model, log: log.With("component", "grpc-client")}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Model returns the local mirror.
func (c *Client) Model() *Model { return c.model }

// Snapshot fetches the server's latest bars for symbols, or all of them.
func (c *Client) Snapshot(ctx context.Context, symbols ...string) ([]domain.Bar, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, snapshotMethod, symbolsRequest(symbols), out); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	vals := out.GetFields()["bars"].GetListValue().GetValues()
	bars := make([]domain.Bar, 0, len(vals))
	for _, v := range vals {
		b, err := structToBar(v.GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("decoding snapshot: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// Sync streams bars for symbols, or all of them, into the local model. It
// blocks until ctx is cancelled or the stream ends.
func (c *Client) Sync(ctx context.Context, symbols ...string) error {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], streamMethod)
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	if err := stream.SendMsg(symbolsRequest(symbols)); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("closing send: %w", err)
	}

	c.log.Info("connected to tick stream", "addr", c.addr, "symbols", symbols)

	for {
		msg := new(structpb.Struct)
		err := stream.RecvMsg(msg)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving tick: %w", err)
		}
		bar, err := structToBar(msg)
		if err != nil {
			c.log.Warn("dropping undecodable tick", "error", err)
			continue
		}
		c.model.Add(bar)
	}
}
