package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/moroshma/mqsim/internal/domain/entity"
	"github.com/moroshma/mqsim/internal/imposter"
	"github.com/moroshma/mqsim/internal/usecase"
	"github.com/moroshma/mqsim/pkg/logger"
)

// StatusHeader carries the logical status code of an operation envelope
const StatusHeader = "X-MQ-Status-Code"

const maxBodyBytes = 4 << 20

// OperationExecutor runs queue operations
type OperationExecutor interface {
	Execute(ctx context.Context, operation string, req *usecase.OperationRequest) *usecase.Envelope
}

// ImposterRegistry manages imposters
type ImposterRegistry interface {
	Create(cfg imposter.Config) (*imposter.Imposter, error)
	Get(port int) (*imposter.Imposter, bool)
	List() []*imposter.Imposter
	Delete(port int) (*imposter.Imposter, error)
	Replace(cfgs []imposter.Config) error
}

// Handler serves the HTTP API
type Handler struct {
	ops       OperationExecutor
	imposters ImposterRegistry
	logger    *logger.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(ops OperationExecutor, imposters ImposterRegistry, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{
		ops:       ops,
		imposters: imposters,
		logger:    log,
	}
}

// Health reports the queue manager state
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	env := h.ops.Execute(r.Context(), usecase.OpHealth, nil)
	respondJSON(w, env.StatusCode, env.Body)
}

// ExecuteOperation runs the operation named in the path. The envelope is
// always returned with HTTP 200; its statusCode is mirrored in StatusHeader.
func (h *Handler) ExecuteOperation(w http.ResponseWriter, r *http.Request) {
	op := chi.URLParam(r, "op")

	var req usecase.OperationRequest
	if err := decodeBody(r, &req, true); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	env := h.ops.Execute(r.Context(), op, &req)
	w.Header().Set(StatusHeader, strconv.Itoa(env.StatusCode))
	respondJSON(w, http.StatusOK, env)
}

// ListQueues lists the queues of the queue manager
func (h *Handler) ListQueues(w http.ResponseWriter, r *http.Request) {
	env := h.ops.Execute(r.Context(), usecase.OpList, nil)
	respondJSON(w, env.StatusCode, env.Body)
}

// CreateImposter creates an imposter from the request body
func (h *Handler) CreateImposter(w http.ResponseWriter, r *http.Request) {
	var cfg imposter.Config
	if err := decodeBody(r, &cfg, false); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	imp, err := h.imposters.Create(cfg)
	if err != nil {
		h.respondImposterError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/imposters/%d", imp.Port()))
	respondJSON(w, http.StatusCreated, imp.Info())
}

// ListImposters lists every imposter
func (h *Handler) ListImposters(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"imposters": infos(h.imposters.List()),
	})
}

type replaceRequest struct {
	Imposters []imposter.Config `json:"imposters"`
}

// ReplaceImposters swaps the whole imposter set
func (h *Handler) ReplaceImposters(w http.ResponseWriter, r *http.Request) {
	var req replaceRequest
	if err := decodeBody(r, &req, false); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.imposters.Replace(req.Imposters); err != nil {
		h.respondImposterError(w, err)
		return
	}
	h.ListImposters(w, r)
}

// DeleteImposters removes every imposter
func (h *Handler) DeleteImposters(w http.ResponseWriter, r *http.Request) {
	removed := infos(h.imposters.List())
	if err := h.imposters.Replace(nil); err != nil {
		h.respondImposterError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"imposters": removed})
}

// GetImposter returns one imposter
func (h *Handler) GetImposter(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}
	imp, found := h.imposters.Get(port)
	if !found {
		respondError(w, http.StatusNotFound, fmt.Sprintf("imposter %d not found", port))
		return
	}
	respondJSON(w, http.StatusOK, imp.Info())
}

// DeleteImposter stops and removes one imposter
func (h *Handler) DeleteImposter(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}
	imp, err := h.imposters.Delete(port)
	if err != nil {
		h.respondImposterError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, imp.Info())
}

type respondRequest struct {
	Message       json.RawMessage `json:"message,omitempty"`
	Body          json.RawMessage `json:"body,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	ReplyQueue    string          `json:"replyQueue,omitempty"`
	Priority      int             `json:"priority,omitempty"`
	Persistence   bool            `json:"persistence,omitempty"`
}

// ExecuteImposterOperation runs a queue operation against the queues owned
// by one imposter, answering like ExecuteOperation
func (h *Handler) ExecuteImposterOperation(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}
	imp, found := h.imposters.Get(port)
	if !found {
		respondError(w, http.StatusNotFound, fmt.Sprintf("imposter %d not found", port))
		return
	}

	var req usecase.OperationRequest
	if err := decodeBody(r, &req, true); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	env := imp.Execute(r.Context(), chi.URLParam(r, "op"), &req)
	w.Header().Set(StatusHeader, strconv.Itoa(env.StatusCode))
	respondJSON(w, http.StatusOK, env)
}

// RespondMessage runs a message through an imposter's stubs and returns the
// response payload without touching any queue
func (h *Handler) RespondMessage(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}
	imp, found := h.imposters.Get(port)
	if !found {
		respondError(w, http.StatusNotFound, fmt.Sprintf("imposter %d not found", port))
		return
	}
	queueName := chi.URLParam(r, "queue")
	if !imp.Store().HasQueue(queueName) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("queue %s is not declared by imposter %d", queueName, port))
		return
	}

	var req respondRequest
	if err := decodeBody(r, &req, false); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	payload := req.Message
	if len(payload) == 0 {
		payload = req.Body
	}
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	msg := &entity.Message{
		MessageID:     "HTTP-" + uuid.NewString(),
		CorrelationID: req.CorrelationID,
		Payload:       payload,
		PutTime:       time.Now().UTC(),
		Priority:      req.Priority,
		Persistence:   req.Persistence,
		Format:        entity.DefaultFormat,
		ReplyToQueue:  req.ReplyQueue,
		Expiry:        entity.NoExpiry,
	}

	resp, err := imp.Respond(r.Context(), queueName, msg)
	if err != nil {
		h.logger.Error("Failed to respond", logger.Int("port", port), logger.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"messageId":     msg.MessageID,
		"correlationId": resp.CorrelationID,
		"payload":       resp.Payload,
	})
}

func (h *Handler) respondImposterError(w http.ResponseWriter, err error) {
	var ve *imposter.ValidationError
	switch {
	case errors.As(err, &ve):
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":    "invalid imposter configuration",
			"problems": ve.Problems,
		})
	case errors.Is(err, imposter.ErrImposterExists):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, imposter.ErrImposterNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("Imposter request failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func infos(list []*imposter.Imposter) []imposter.Info {
	out := make([]imposter.Info, 0, len(list))
	for _, imp := range list {
		out = append(out, imp.Info())
	}
	return out
}

func portParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	port, err := strconv.Atoi(chi.URLParam(r, "port"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "port must be a number")
		return 0, false
	}
	return port, true
}

func decodeBody(r *http.Request, v interface{}, allowEmpty bool) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
