package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	vmetrics "github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"

	"github.com/BrightID/BrightID-Node-sub000/node"
	"github.com/BrightID/BrightID-Node-sub000/protocol"
)

// NodeHandler exposes the operation pipeline over HTTP: clients submit
// signed operations, the consensus collaborator settles them with a block
// time, and anyone polls their state by hash.
type NodeHandler struct {
	engine *node.Engine
	log    *slog.Logger
}

// NewNodeHandler creates the operations handler group.
func NewNodeHandler(engine *node.Engine, log *slog.Logger) *NodeHandler {
	if log == nil {
		log = slog.Default()
	}
	return &NodeHandler{engine: engine, log: log}
}

// RegisterRoutes mounts the operation endpoints.
func (h *NodeHandler) RegisterRoutes(r chi.Router) {
	r.Post("/operations", h.handleSubmit)
	r.Put("/operations/{hash}", h.handleApply)
	r.Get("/operations/{hash}", h.handleGet)
}

func (h *NodeHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var op protocol.Operation
	if err := json.NewDecoder(r.Body).Decode(&op); err != nil {
		writeError(w, protocol.WrapError(protocol.ErrorMalformedOperation, err, "decoding operation"))
		return
	}

	hash, err := h.engine.Submit(r.Context(), &op)
	if err != nil {
		writeError(w, err)
		return
	}

	operationCounter("submitted", op.Name).Inc()
	writeJSON(w, http.StatusOK, SubmitOperationResponse{Hash: hash})
}

func (h *NodeHandler) handleApply(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	var req ApplyOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, protocol.WrapError(protocol.ErrorMalformedOperation, err, "decoding request"))
		return
	}

	op, err := h.engine.Apply(r.Context(), hash, req.BlockTime)
	if err != nil {
		writeError(w, err)
		return
	}

	switch op.State {
	case protocol.StateApplied:
		operationCounter("applied", op.Name).Inc()
	case protocol.StateFailed:
		operationCounter("failed", op.Name).Inc()
	}
	writeJSON(w, http.StatusOK, OperationStateResponse{
		Hash: op.Hash, State: op.State, Result: op.Result,
	})
}

func (h *NodeHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	op, err := h.engine.OperationState(r.Context(), hash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OperationStateResponse{
		Hash: op.Hash, State: op.State, Result: op.Result,
	})
}

func operationCounter(outcome string, kind protocol.Kind) *vmetrics.Counter {
	return vmetrics.GetOrCreateCounter(
		fmt.Sprintf(`brightid_operations_total{outcome=%q,kind=%q}`, outcome, string(kind)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := protocol.CodeOf(err)
	msg := err.Error()
	var perr *protocol.Error
	if errors.As(err, &perr) {
		msg = perr.Message
	}
	writeJSON(w, code.HTTPStatus(), ErrorResponse{Error: msg, Code: code})
}
