package grpc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/moroshma/mqsim/internal/imposter"
	"github.com/moroshma/mqsim/internal/queue"
	"github.com/moroshma/mqsim/internal/usecase"
	"github.com/moroshma/mqsim/pkg/logger"
)

const bufSize = 1024 * 1024

func setupClient(t *testing.T) *Client {
	t.Helper()
	return setupClientWithImposters(t, nil)
}

func setupClientWithImposters(t *testing.T, imposters ImposterLookup) *Client {
	t.Helper()

	store := queue.NewStore(logger.NewNop(), nil)
	ops := usecase.NewOperationsUseCase(store, usecase.Config{QueueManager: "QM1", Version: "test"}, nil, logger.NewNop())

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		LoggingInterceptor(logger.NewNop()),
		TimeoutInterceptor(5*time.Second),
	))
	RegisterOperationsServer(server, NewOperationsHandler(ops, imposters, logger.NewNop()))
	go func() {
		_ = server.Serve(listener)
	}()
	t.Cleanup(server.Stop)

	client, err := NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestExecute_RoundTrip(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	env, err := client.Execute(ctx, usecase.OpCreate, &usecase.OperationRequest{Queue: "DEV.QUEUE.1", MaxDepth: 10})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, env.StatusCode)
	assert.Equal(t, "application/json", env.Headers["Content-Type"])

	env, err = client.Execute(ctx, usecase.OpSend, &usecase.OperationRequest{
		Queue:         "DEV.QUEUE.1",
		Message:       json.RawMessage(`{"op":"GET_PRODUCT","id":12}`),
		CorrelationID: "CORR-1",
		Priority:      3,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, env.StatusCode)

	env, err = client.Execute(ctx, usecase.OpReceive, &usecase.OperationRequest{Queue: "DEV.QUEUE.1"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, env.StatusCode)
	msg := env.Body["message"].(map[string]interface{})
	assert.Equal(t, "CORR-1", msg["correlationId"])
	assert.Equal(t, 3.0, msg["priority"])
	assert.Equal(t, map[string]interface{}{"op": "GET_PRODUCT", "id": 12.0}, msg["payload"])

	env, err = client.Execute(ctx, usecase.OpReceive, &usecase.OperationRequest{Queue: "DEV.QUEUE.1"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, env.StatusCode)
	assert.Equal(t, usecase.StatusNoMessages, env.Body["status"])
}

func TestExecute_Health(t *testing.T) {
	client := setupClient(t)

	env, err := client.Execute(context.Background(), usecase.OpHealth, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, env.StatusCode)
	assert.Equal(t, "QM1", env.Body["queueManager"])
	assert.Equal(t, usecase.StatusRunning, env.Body["status"])
}

func TestExecute_LogicalErrorsAreNotRPCErrors(t *testing.T) {
	client := setupClient(t)

	env, err := client.Execute(context.Background(), usecase.OpDepth, &usecase.OperationRequest{Queue: "MISSING"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, env.StatusCode)
	assert.Equal(t, usecase.StatusError, env.Body["status"])
}

func TestHandler_InvalidArgument(t *testing.T) {
	h := NewOperationsHandler(usecase.NewOperationsUseCase(queue.NewStore(nil, nil), usecase.Config{}, nil, nil), nil, nil)

	_, err := h.Execute(context.Background(), nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	empty, err := structpb.NewStruct(map[string]interface{}{"request": map[string]interface{}{}})
	require.NoError(t, err)
	_, err = h.Execute(context.Background(), empty)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	unknown, err := structpb.NewStruct(map[string]interface{}{
		"operation": "send",
		"request":   map[string]interface{}{"queue": "Q", "colour": "red"},
	})
	require.NoError(t, err)
	_, err = h.Execute(context.Background(), unknown)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

const orderImposter = `{
	"port": 2526,
	"protocol": "mq",
	"mq": {"queueManager": "QM2"},
	"queues": [
		{"name": "ORDER.REQUEST", "type": "request"},
		{"name": "ORDER.RESPONSE", "type": "response"}
	],
	"stubs": [
		{
			"predicates": [{"contains": {"body": "GET_ORDER"}}],
			"responses": [{"is": {"orderId": "A-1"}}]
		}
	]
}`

func newImposterManager(t *testing.T) *imposter.Manager {
	t.Helper()

	var cfg imposter.Config
	require.NoError(t, json.Unmarshal([]byte(orderImposter), &cfg))

	manager := imposter.NewManager(imposter.Options{Logger: logger.NewNop(), PollInterval: 5 * time.Millisecond})
	_, err := manager.Create(cfg)
	require.NoError(t, err)
	t.Cleanup(manager.Close)
	return manager
}

func TestExecute_ImposterQueues(t *testing.T) {
	client := setupClientWithImposters(t, newImposterManager(t)).WithImposter(2526)
	ctx := context.Background()

	env, err := client.Execute(ctx, usecase.OpSend, &usecase.OperationRequest{
		Queue:         "ORDER.REQUEST",
		Message:       json.RawMessage(`"GET_ORDER"`),
		CorrelationID: "CORR-7",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, env.StatusCode)

	var reply map[string]interface{}
	require.Eventually(t, func() bool {
		env, err := client.Execute(ctx, usecase.OpReceive, &usecase.OperationRequest{Queue: "ORDER.RESPONSE"})
		if err != nil || env.StatusCode != http.StatusOK {
			return false
		}
		reply = env.Body["message"].(map[string]interface{})
		return true
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "CORR-7", reply["correlationId"])
	assert.Equal(t, map[string]interface{}{"orderId": "A-1"}, reply["payload"])
}

func TestExecute_ImposterIsolatedFromMainQueues(t *testing.T) {
	base := setupClientWithImposters(t, newImposterManager(t))
	ctx := context.Background()

	env, err := base.Execute(ctx, usecase.OpDepth, &usecase.OperationRequest{Queue: "ORDER.REQUEST"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, env.StatusCode)

	env, err = base.WithImposter(2526).Execute(ctx, usecase.OpDepth, &usecase.OperationRequest{Queue: "ORDER.REQUEST"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, env.StatusCode)
}

func TestExecute_UnknownImposter(t *testing.T) {
	client := setupClientWithImposters(t, newImposterManager(t)).WithImposter(9999)

	_, err := client.Execute(context.Background(), usecase.OpHealth, nil)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestHandler_ImposterArgument(t *testing.T) {
	h := NewOperationsHandler(usecase.NewOperationsUseCase(queue.NewStore(nil, nil), usecase.Config{}, nil, nil), nil, nil)

	tests := []struct {
		name     string
		imposter interface{}
		code     codes.Code
	}{
		{name: "not a number", imposter: "2525", code: codes.InvalidArgument},
		{name: "fractional", imposter: 25.5, code: codes.InvalidArgument},
		{name: "negative", imposter: -1, code: codes.InvalidArgument},
		{name: "no registry", imposter: 2525, code: codes.NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := structpb.NewStruct(map[string]interface{}{
				"operation": "health",
				"imposter":  tt.imposter,
			})
			require.NoError(t, err)

			_, err = h.Execute(context.Background(), in)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestEnvelopeStructRoundTrip(t *testing.T) {
	in := &usecase.Envelope{
		StatusCode: 409,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       map[string]interface{}{"status": usecase.StatusQueueExists, "queue": "Q"},
	}

	s, err := EnvelopeToStruct(in)
	require.NoError(t, err)
	out, err := StructToEnvelope(s)
	require.NoError(t, err)

	assert.Equal(t, 409, out.StatusCode)
	assert.Equal(t, in.Headers, out.Headers)
	assert.Equal(t, "Q", out.Body["queue"])
}
