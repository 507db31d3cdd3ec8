package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/moroshma/mqsim/internal/usecase"
)

// Client calls a remote Operations service
type Client struct {
	conn     *grpc.ClientConn
	imposter int
}

// NewClient connects to target. Without options the connection is
// plaintext.
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// WithImposter returns a client whose operations run against the queues of
// the imposter on port. It shares the connection; zero targets the main
// queue manager.
func (c *Client) WithImposter(port int) *Client {
	return &Client{conn: c.conn, imposter: port}
}

// Execute runs one operation remotely
func (c *Client) Execute(ctx context.Context, operation string, req *usecase.OperationRequest) (*usecase.Envelope, error) {
	if req == nil {
		req = &usecase.OperationRequest{}
	}
	var fields map[string]interface{}
	if err := remarshal(req, &fields, false); err != nil {
		return nil, err
	}

	call := map[string]interface{}{
		"operation": operation,
		"request":   fields,
	}
	if c.imposter != 0 {
		call["imposter"] = c.imposter
	}

	in, err := structpb.NewStruct(call)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, ExecuteMethod, in, out); err != nil {
		return nil, fmt.Errorf("failed to execute %s: %w", operation, err)
	}
	return StructToEnvelope(out)
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}
