package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"switchboard/internal/domain"
	"switchboard/internal/usecase/orchestrator"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// agentView is one row of the GET /v1/agents response: the descriptor plus
// its live circuit state.
type agentView struct {
	domain.Descriptor
	CircuitState string `json:"circuit_state"`
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	agents := s.dispatch.Registry().List()
	views := make([]agentView, 0, len(agents))
	for _, d := range agents {
		views = append(views, agentView{
			Descriptor:   d,
			CircuitState: s.dispatch.BreakerState(d.Name),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": views})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg domain.InboundMessage
	if err := decodeBody(r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	out, err := s.router.Handle(r.Context(), msg)
	if err != nil {
		s.logger.Error("message handling failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// workflowRequest selects exactly one orchestration mode per submission.
type workflowRequest struct {
	Workflow *domain.WorkflowSpec        `json:"workflow,omitempty"`
	Parallel []orchestrator.ParallelTask `json:"parallel,omitempty"`
	Fallback *fallbackRequest            `json:"fallback,omitempty"`
	// TimeoutSeconds bounds the whole run; 0 means the server default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

type fallbackRequest struct {
	Candidates []string `json:"candidates"`
	Task       string   `json:"task"`
}

const defaultWorkflowTimeout = 120 * time.Second

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	modes := 0
	if req.Workflow != nil {
		modes++
	}
	if len(req.Parallel) > 0 {
		modes++
	}
	if req.Fallback != nil {
		modes++
	}
	if modes != 1 {
		writeError(w, http.StatusBadRequest, "exactly one of workflow, parallel, fallback is required")
		return
	}

	timeout := defaultWorkflowTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	switch {
	case req.Workflow != nil:
		result, err := s.orch.RunWorkflow(ctx, *req.Workflow)
		s.writeWorkflowResult(w, result, err)
	case len(req.Parallel) > 0:
		result, err := s.orch.RunParallel(ctx, req.Parallel)
		s.writeWorkflowResult(w, result, err)
	default:
		result, err := s.orch.RunFallback(ctx, req.Fallback.Candidates, req.Fallback.Task)
		s.writeFallbackResult(w, result, err)
	}
}

// writeWorkflowResult renders a workflow outcome. Partial failure still
// returns the full per-step detail with 200; only a rejected spec or an
// internal fault is an HTTP error.
func (s *Server) writeWorkflowResult(w http.ResponseWriter, result *domain.WorkflowResult, err error) {
	if err != nil {
		var pf *domain.WorkflowPartialFailure
		switch {
		case errors.As(err, &pf):
			// Fall through: result carries the step-level detail.
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		default:
			s.logger.Error("workflow failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeFallbackResult(w http.ResponseWriter, result *domain.FallbackResult, err error) {
	if err != nil {
		var fe *domain.FallbackExhausted
		if errors.As(err, &fe) {
			attempts := make([]map[string]string, 0, len(fe.Attempts))
			for _, a := range fe.Attempts {
				attempts = append(attempts, map[string]string{"agent": a.Agent, "error": a.Err.Error()})
			}
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":    "all candidates failed",
				"attempts": attempts,
			})
			return
		}
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("fallback failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	attempts := make([]map[string]string, 0, len(result.Attempts))
	for _, a := range result.Attempts {
		attempts = append(attempts, map[string]string{"agent": a.Agent, "error": a.Err.Error()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":    result.Agent,
		"output":   result.Output,
		"attempts": attempts,
		"duration": result.Duration.String(),
	})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
