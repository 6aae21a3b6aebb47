package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nvandessel/pfstudy/internal/engine"
)

// maxRequestBytes caps a single request body.
const maxRequestBytes = 1 << 20

// Handler serves an engine.Engine over the bridge protocol. It lets the
// in-process engine stand in for a simulator host.
type Handler struct {
	eng    engine.Engine
	token  string
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewHandler creates a handler for eng. A non-empty token is required as a
// bearer token on every request.
func NewHandler(eng engine.Engine, token string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &Handler{eng: eng, token: token, logger: logger, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /v1/{op}", h.serveOp)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && r.Header.Get("Authorization") != "Bearer "+h.token {
		writeEnvelope(w, http.StatusUnauthorized, nil, &Error{Code: "unauthorized", Message: "missing or invalid token"})
		return
	}
	h.mux.ServeHTTP(w, r)
}

type opFunc func(ctx context.Context, h *Handler, req *elementRequestBody) (any, error)

// elementRequestBody is the union of every request shape.
type elementRequestBody struct {
	elementRequest
	Pattern string               `json:"pattern"`
	Project engine.Project       `json:"project"`
	Mode    int                  `json:"mode"`
	Config  engine.DynamicConfig `json:"config"`
	Event   engine.ShortCircuit  `json:"event"`
}

var ops = map[string]opFunc{
	"activate": func(ctx context.Context, h *Handler, req *elementRequestBody) (any, error) {
		return nil, h.eng.Activate(ctx, req.Project)
	},
	"elements": func(ctx context.Context, h *Handler, req *elementRequestBody) (any, error) {
		elms, err := h.eng.Elements(ctx, req.Pattern)
		if elms == nil {
			elms = []engine.Element{}
		}
		return map[string]any{"elements": elms}, err
	},
	"attribute": func(ctx context.Context, h *Handler, req *elementRequestBody) (any, error) {
		v, err := h.eng.Attribute(ctx, req.Element, req.Name)
		return map[string]any{"value": v}, err
	},
	"set_attribute": func(ctx context.Context, h *Handler, req *elementRequestBody) (any, error) {
		if req.Value == nil {
			return nil, &Error{Code: "bad_request", Message: "value is required"}
		}
		return nil, h.eng.SetAttribute(ctx, req.Element, req.Name, *req.Value)
	},
	"terminal": func(ctx context.Context, h *Handler, req *elementRequestBody) (any, error) {
		if req.Side == nil {
			return nil, &Error{Code: "bad_request", Message: "side is required"}
		}
		el, err := h.eng.Terminal(ctx, req.Element, *req.Side)
		return map[string]any{"element": el}, err
	},
	"switches": func(ctx context.Context, h *Handler, req *elementRequestBody) (any, error) {
		elms, err := h.eng.Switches(ctx, req.Element)
		if elms == nil {
			elms = []engine.Element{}
		}
		return map[string]any{"elements": elms}, err
	},
	"prepare_load_flow": func(ctx context.Context, h *Handler, req *elementRequestBody) (any, error) {
		return nil, h.eng.PrepareLoadFlow(ctx, engine.LoadFlowMode(req.Mode))
	},
	"solve_load_flow": func(ctx context.Context, h *Handler, _ *elementRequestBody) (any, error) {
		failed, err := h.eng.SolveLoadFlow(ctx)
		return failedResult{Failed: failed}, err
	},
	"prepare_dynamic": func(ctx context.Context, h *Handler, req *elementRequestBody) (any, error) {
		return nil, h.eng.PrepareDynamic(ctx, req.Config)
	},
	"solve_time_domain": func(ctx context.Context, h *Handler, _ *elementRequestBody) (any, error) {
		failed, err := h.eng.SolveTimeDomain(ctx)
		return failedResult{Failed: failed}, err
	},
	"results": func(ctx context.Context, h *Handler, req *elementRequestBody) (any, error) {
		s, err := h.eng.Results(ctx, req.Element, req.Variable)
		return map[string]any{"series": s}, err
	},
	"create_short_circuit": func(ctx context.Context, h *Handler, req *elementRequestBody) (any, error) {
		return nil, h.eng.CreateShortCircuit(ctx, req.Event)
	},
	"delete_short_circuit": func(ctx context.Context, h *Handler, req *elementRequestBody) (any, error) {
		return nil, h.eng.DeleteShortCircuit(ctx, req.Name)
	},
	"close": func(ctx context.Context, h *Handler, _ *elementRequestBody) (any, error) {
		return nil, h.eng.Close()
	},
}

func (h *Handler) serveOp(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("op")
	op, ok := ops[name]
	if !ok {
		writeEnvelope(w, http.StatusNotFound, nil, &Error{Code: "unknown_operation", Message: fmt.Sprintf("unknown operation %q", name)})
		return
	}

	var req elementRequestBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, nil, &Error{Code: "bad_request", Message: err.Error()})
		return
	}

	result, err := op(r.Context(), h, &req)
	if err != nil {
		h.logger.Debug("bridge operation failed", "op", name, "error", err)
		var bErr *Error
		switch {
		case errors.As(err, &bErr):
			writeEnvelope(w, http.StatusBadRequest, nil, bErr)
		case errors.Is(err, engine.ErrNotFound):
			writeEnvelope(w, http.StatusOK, nil, &Error{Code: "not_found", Message: err.Error()})
		default:
			writeEnvelope(w, http.StatusOK, nil, &Error{Code: "engine_error", Message: err.Error()})
		}
		return
	}
	if result == nil {
		result = struct{}{}
	}
	writeEnvelope(w, http.StatusOK, result, nil)
}

func writeEnvelope(w http.ResponseWriter, status int, result any, e *Error) {
	body := struct {
		Result any    `json:"result,omitempty"`
		Error  *Error `json:"error,omitempty"`
	}{result, e}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck // client sees a truncated body
}
