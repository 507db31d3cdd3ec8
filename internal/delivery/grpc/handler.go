package grpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/moroshma/mqsim/internal/imposter"
	"github.com/moroshma/mqsim/internal/usecase"
	"github.com/moroshma/mqsim/pkg/logger"
)

// OperationExecutor runs queue operations
type OperationExecutor interface {
	Execute(ctx context.Context, operation string, req *usecase.OperationRequest) *usecase.Envelope
}

// ImposterLookup finds running imposters by port
type ImposterLookup interface {
	Get(port int) (*imposter.Imposter, bool)
}

// OperationsHandler implements the gRPC Operations service
type OperationsHandler struct {
	ops       OperationExecutor
	imposters ImposterLookup
	logger    *logger.Logger
}

// NewOperationsHandler creates a new gRPC handler instance. imposters may be
// nil, in which case requests naming an imposter are rejected.
func NewOperationsHandler(ops OperationExecutor, imposters ImposterLookup, log *logger.Logger) *OperationsHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &OperationsHandler{
		ops:       ops,
		imposters: imposters,
		logger:    log,
	}
}

// Execute implements the Execute RPC method
func (h *OperationsHandler) Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if in == nil {
		h.logger.Warn("Execute request rejected: nil request")
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}

	fields := in.AsMap()
	operation, _ := fields["operation"].(string)
	if operation == "" {
		h.logger.Warn("Execute request rejected: empty operation")
		return nil, status.Error(codes.InvalidArgument, "operation cannot be empty")
	}

	var req usecase.OperationRequest
	if raw, ok := fields["request"]; ok && raw != nil {
		if err := remarshal(raw, &req, true); err != nil {
			h.logger.Warn("Execute request rejected: bad request body",
				logger.String("operation", operation),
				logger.Error(err),
			)
			return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
		}
	}

	target, err := h.target(fields["imposter"])
	if err != nil {
		h.logger.Warn("Execute request rejected", logger.String("operation", operation), logger.Error(err))
		return nil, err
	}

	env := target.Execute(ctx, operation, &req)

	out, err := EnvelopeToStruct(env)
	if err != nil {
		h.logger.Error("Failed to encode envelope", logger.String("operation", operation), logger.Error(err))
		return nil, status.Error(codes.Internal, "failed to encode envelope")
	}
	return out, nil
}

// target picks the executor: the main queue manager, or the imposter named
// by port. Struct numbers arrive as float64.
func (h *OperationsHandler) target(raw interface{}) (OperationExecutor, error) {
	if raw == nil {
		return h.ops, nil
	}
	port, ok := raw.(float64)
	if !ok || port != float64(int(port)) || port <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "imposter must be a port number, got %v", raw)
	}
	if h.imposters == nil {
		return nil, status.Error(codes.NotFound, "imposters are not available")
	}
	imp, ok := h.imposters.Get(int(port))
	if !ok {
		return nil, status.Errorf(codes.NotFound, "imposter %d not found", int(port))
	}
	return imp, nil
}

// EnvelopeToStruct converts an envelope to its wire form
func EnvelopeToStruct(env *usecase.Envelope) (*structpb.Struct, error) {
	var m map[string]interface{}
	if err := remarshal(env, &m, false); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// StructToEnvelope converts the wire form back to an envelope
func StructToEnvelope(s *structpb.Struct) (*usecase.Envelope, error) {
	var env usecase.Envelope
	if err := remarshal(s.AsMap(), &env, false); err != nil {
		return nil, err
	}
	return &env, nil
}

// remarshal moves a value between representations through JSON
func remarshal(in, out interface{}, strict bool) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	if strict {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("failed to decode: %w", err)
	}
	return nil
}
