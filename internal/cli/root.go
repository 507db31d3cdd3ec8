package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	grpcClient "github.com/moroshma/mqsim/internal/delivery/grpc"
	"github.com/moroshma/mqsim/internal/usecase"
)

// Executor runs operations against a simulator
type Executor interface {
	Execute(ctx context.Context, operation string, req *usecase.OperationRequest) (*usecase.Envelope, error)
	Close() error
}

// Dialer opens an Executor for a server address. A nonzero imposter port
// targets that imposter's queues instead of the main queue manager.
type Dialer func(server string, imposter int) (Executor, error)

// DialGRPC connects over plaintext gRPC
func DialGRPC(server string, imposter int) (Executor, error) {
	client, err := grpcClient.NewClient(server)
	if err != nil {
		return nil, err
	}
	return client.WithImposter(imposter), nil
}

// StatusError is returned when the server answers with an error envelope
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("operation failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("operation failed with status %d: %s", e.StatusCode, e.Message)
}

type options struct {
	server   string
	imposter int
	timeout  time.Duration
	output   string
	dial     Dialer
}

// NewRootCommand builds the mqctl command tree
func NewRootCommand(dial Dialer) *cobra.Command {
	if dial == nil {
		dial = DialGRPC
	}
	opts := &options{dial: dial}

	root := &cobra.Command{
		Use:   "mqctl",
		Short: "Talk to an MQ simulator over gRPC",
		Long: `mqctl sends queue operations to a running MQ simulator and
prints the resulting envelope.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&opts.server, "server", "s", "localhost:50051", "Simulator gRPC address")
	root.PersistentFlags().IntVar(&opts.imposter, "imposter", 0, "Imposter port whose queues to use")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Per-call timeout")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format (table|json)")

	root.AddCommand(
		newSendCommand(opts),
		newReceiveCommand(opts),
		newDepthCommand(opts),
		newListCommand(opts),
		newCreateCommand(opts),
		newClearCommand(opts),
		newHealthCommand(opts),
	)

	return root
}

// run executes one operation and returns its body. Error envelopes
// become a StatusError; 204 is not an error.
func (o *options) run(cmd *cobra.Command, operation string, req *usecase.OperationRequest) (*usecase.Envelope, error) {
	if o.output != "table" && o.output != "json" {
		return nil, fmt.Errorf("unknown output format: %q", o.output)
	}

	if o.imposter < 0 || o.imposter > 65535 {
		return nil, fmt.Errorf("imposter port out of range: %d", o.imposter)
	}

	client, err := o.dial(o.server, o.imposter)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	env, err := client.Execute(ctx, operation, req)
	if err != nil {
		return nil, err
	}
	if env.StatusCode >= 400 {
		msg, _ := env.Body["message"].(string)
		if msg == "" {
			msg, _ = env.Body["error"].(string)
		}
		return env, &StatusError{StatusCode: env.StatusCode, Message: msg}
	}
	return env, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// payload accepts any JSON value; anything else is sent as a string
func payload(arg string) json.RawMessage {
	if json.Valid([]byte(arg)) {
		return json.RawMessage(arg)
	}
	quoted, _ := json.Marshal(arg)
	return quoted
}
