package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/moroshma/mqsim/internal/usecase"
)

func newSendCommand(opts *options) *cobra.Command {
	req := &usecase.OperationRequest{}

	cmd := &cobra.Command{
		Use:   "send QUEUE MESSAGE",
		Short: "Put a message on a queue",
		Long: `Put a message on a queue. MESSAGE is sent as JSON when it parses as
JSON and as a string otherwise.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Queue = args[0]
			req.Message = payload(args[1])
			env, err := opts.run(cmd, usecase.OpSend, req)
			if err != nil {
				return err
			}
			return opts.printBody(cmd.OutOrStdout(), env)
		},
	}

	cmd.Flags().StringVar(&req.CorrelationID, "correlation-id", "", "Correlation ID (generated when empty)")
	cmd.Flags().StringVar(&req.ReplyQueue, "reply-queue", "", "Reply-to queue")
	cmd.Flags().IntVar(&req.Priority, "priority", 0, "Message priority")
	cmd.Flags().BoolVar(&req.Persistence, "persistent", false, "Mark the message persistent")
	return cmd
}

func newReceiveCommand(opts *options) *cobra.Command {
	req := &usecase.OperationRequest{}

	cmd := &cobra.Command{
		Use:   "receive QUEUE",
		Short: "Get the next message from a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Queue = args[0]
			env, err := opts.run(cmd, usecase.OpReceive, req)
			if err != nil {
				return err
			}
			return opts.printBody(cmd.OutOrStdout(), env)
		},
	}

	cmd.Flags().BoolVar(&req.Browse, "browse", false, "Read without removing the message")
	return cmd
}

func newDepthCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "depth QUEUE",
		Short: "Show queue depth and counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.run(cmd, usecase.OpDepth, &usecase.OperationRequest{Queue: args[0]})
			if err != nil {
				return err
			}
			return opts.printBody(cmd.OutOrStdout(), env)
		},
	}
}

func newListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.run(cmd, usecase.OpList, nil)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), env.Body)
			}
			renderQueues(cmd.OutOrStdout(), env.Body)
			return nil
		},
	}
}

func newCreateCommand(opts *options) *cobra.Command {
	req := &usecase.OperationRequest{}

	cmd := &cobra.Command{
		Use:   "create QUEUE",
		Short: "Create a local queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Queue = args[0]
			env, err := opts.run(cmd, usecase.OpCreate, req)
			if err != nil {
				return err
			}
			return opts.printBody(cmd.OutOrStdout(), env)
		},
	}

	cmd.Flags().IntVar(&req.MaxDepth, "max-depth", 0, "Maximum depth (server default when 0)")
	cmd.Flags().StringVar(&req.Description, "description", "", "Queue description")
	return cmd
}

func newClearCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear QUEUE",
		Short: "Remove every message from a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.run(cmd, usecase.OpClear, &usecase.OperationRequest{Queue: args[0]})
			if err != nil {
				return err
			}
			return opts.printBody(cmd.OutOrStdout(), env)
		},
	}
}

func newHealthCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show queue manager health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.run(cmd, usecase.OpHealth, nil)
			if err != nil {
				return err
			}
			return opts.printBody(cmd.OutOrStdout(), env)
		},
	}
}

// printBody writes the envelope body as JSON or as a key/value table
func (o *options) printBody(w io.Writer, env *usecase.Envelope) error {
	if o.output == "json" {
		return printJSON(w, env.Body)
	}

	keys := make([]string, 0, len(env.Body))
	for k := range env.Body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := newTable(w)
	t.AppendHeader(table.Row{"KEY", "VALUE"})
	for _, k := range keys {
		t.AppendRow(table.Row{k, formatValue(env.Body[k])})
	}
	t.Render()
	return nil
}

func renderQueues(w io.Writer, body map[string]interface{}) {
	rows, _ := body["queues"].([]interface{})
	if len(rows) == 0 {
		fmt.Fprintln(w, "No queues found")
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"NAME", "DEPTH", "MAX DEPTH", "DESCRIPTION"})
	for _, row := range rows {
		q, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		t.AppendRow(table.Row{q["name"], formatValue(q["currentDepth"]), formatValue(q["maxDepth"]), q["description"]})
	}
	t.AppendFooter(table.Row{"Total", len(rows), "", ""})
	t.Render()
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault
	return t
}

// formatValue prints whole numbers without a fraction; values arriving
// over gRPC are float64.
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case nil:
		return ""
	case string:
		return val
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
	return fmt.Sprint(v)
}
