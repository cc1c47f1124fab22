package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/deepauras/auroraflow/core"
	"github.com/deepauras/auroraflow/telemetry"
)

// Server is the Task Orchestrator's HTTP surface: the inbound task API
// (create, inspect, cancel) plus a dispatch endpoint that runs one task
// through Orchestrator.Dispatch (DispatchLoop, the Work Queue consumer,
// calls Dispatch directly rather than through it), following the teacher's BaseTool
// net/http.ServeMux + json.NewEncoder(w).Encode shape rather than a web
// framework. Requests are traced end to end by telemetry.TracingMiddleware
// before reaching the mux.
type Server struct {
	orch   *Orchestrator
	mux    *http.ServeMux
	traced http.Handler
	logger core.Logger
}

// NewServer builds the Orchestrator's HTTP mux.
func NewServer(orch *Orchestrator, logger core.Logger) *Server {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator/http")
	}
	s := &Server{orch: orch, mux: http.NewServeMux(), logger: logger}
	s.routes()
	s.traced = telemetry.TracingMiddleware("orchestrator")(s.mux)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.traced.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /tasks", s.handleEnqueue)
	s.mux.HandleFunc("GET /tasks/{id}", s.handleGet)
	s.mux.HandleFunc("POST /tasks/{id}/cancel", s.handleCancel)
	s.mux.HandleFunc("POST /dispatch/{id}", s.handleDispatch)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

type enqueueBody struct {
	TenantID       string                 `json:"tenant_id"`
	TemplateID     string                 `json:"template_id"`
	Parameters     map[string]interface{} `json:"parameters"`
	UserID         string                 `json:"user_id"`
	Priority       int                    `json:"priority"`
	Testing        bool                   `json:"testing"`
	MessageContext *core.MessageContext   `json:"message_context,omitempty"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var body enqueueBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.TenantID == "" || body.TemplateID == "" {
		s.writeError(w, http.StatusBadRequest, "tenant_id and template_id are required")
		return
	}

	taskID, err := s.orch.Enqueue(r.Context(), EnqueueRequest{
		TenantID:       body.TenantID,
		TemplateID:     body.TemplateID,
		Parameters:     body.Parameters,
		UserID:         body.UserID,
		Priority:       body.Priority,
		Testing:        body.Testing,
		MessageContext: body.MessageContext,
	})
	if err != nil {
		s.logger.Error("enqueue failed", map[string]interface{}{"template_id": body.TemplateID, "error": err.Error()})
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue task")
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"task_id": taskID})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		s.writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}
	taskID := r.PathValue("id")

	task, err := s.orch.Tasks.Get(r.Context(), tenantID, taskID)
	if err != nil {
		if err == core.ErrTaskNotFound {
			s.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		s.writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}
	taskID := r.PathValue("id")

	if err := s.orch.Cancel(r.Context(), tenantID, taskID); err != nil {
		s.logger.Error("cancel failed", map[string]interface{}{"task_id": taskID, "error": err.Error()})
		s.writeError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "cancelled"})
}

// handleDispatch runs one task through Orchestrator.Dispatch; the
// tenant_id travels in the query string since the path only carries the
// task id.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		s.writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}
	taskID := r.PathValue("id")

	if err := s.orch.Dispatch(r.Context(), taskID, tenantID); err != nil {
		s.logger.Error("dispatch failed", map[string]interface{}{"task_id": taskID, "error": err.Error()})
		s.writeError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "dispatched"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy", "time": time.Now().UTC()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{"error": message})
}

// DispatchLoop drains the Work Queue and calls Dispatch for each delivery
// until ctx is cancelled, the shape the teacher's worker entry point uses
// around RedisTaskQueue's BRPOP loop.
func DispatchLoop(ctx context.Context, orch *Orchestrator, wq WorkQueue, pollTimeout time.Duration, logger core.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delivery, err := wq.Dequeue(ctx, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dequeue failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		if delivery == nil {
			continue
		}

		if err := orch.Dispatch(ctx, delivery.TaskID, delivery.TenantID); err != nil {
			logger.Error("dispatch failed", map[string]interface{}{"task_id": delivery.TaskID, "error": fmt.Sprintf("%v", err)})
		}
	}
}
