package ingest

import (
	"context"
	"fmt"

	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Client: удаленный коллектор для исполнителей планов в других процессах.
type Client struct {
	conn  *grpc.ClientConn
	token string
}

// Dial по умолчанию без TLS (внутренняя сеть); opts могут переопределить транспорт.
func Dial(target, token string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial collector: %w", err)
	}
	return &Client{conn: conn, token: token}, nil
}

func (c *Client) Enqueue(ctx context.Context, e domain.Event) error {
	req, err := EventToStruct(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, TokenHeader, c.token)
	}
	return c.conn.Invoke(ctx, EnqueueMethod, req, new(emptypb.Empty))
}

func (c *Client) Close() error {
	return c.conn.Close()
}
