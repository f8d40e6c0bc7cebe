// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/javimosch/superbackend-sub004/internal/domain/model"
	"github.com/javimosch/superbackend-sub004/internal/experiment"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the engine implementation.
type Dependencies interface {
	GetOrCreateAssignment(ctx context.Context, orgID, code, subjectID string, assignCtx map[string]any) (*model.Assignment, error)
	IngestEvents(ctx context.Context, orgID, code, subjectID string, batch []experiment.IncomingEvent) (int, error)
	GetWinnerSnapshot(ctx context.Context, orgID, code string) (*experiment.WinnerSnapshot, error)
	RunAggregationAndWinner(ctx context.Context, width time.Duration, start, end time.Time) (*experiment.RunSummary, error)
	RunRetentionCleanup(ctx context.Context) (*experiment.RetentionResult, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	assignmentsHandler *AssignmentsHandler
	eventsHandler      *EventsHandler
	winnerHandler      *WinnerHandler
	jobsHandler        *JobsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		assignmentsHandler: NewAssignmentsHandler(deps),
		eventsHandler:      NewEventsHandler(deps),
		winnerHandler:      NewWinnerHandler(deps),
		jobsHandler:        NewJobsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("POST /v1/experiments/{code}/assignments", MetricsMiddleware(s.assignmentsHandler.HandlePostAssignment, "assignments"))
	mux.HandleFunc("POST /v1/experiments/{code}/events", MetricsMiddleware(s.eventsHandler.HandlePostEvents, "events"))
	mux.HandleFunc("GET /v1/experiments/{code}/winner", MetricsMiddleware(s.winnerHandler.HandleGetWinner, "winner"))
	mux.HandleFunc("POST /v1/jobs/aggregate", MetricsMiddleware(s.jobsHandler.HandleAggregate, "jobs_aggregate"))
	mux.HandleFunc("POST /v1/jobs/retention", MetricsMiddleware(s.jobsHandler.HandleRetention, "jobs_retention"))
}

// orgFrom extracts the caller's organization scope. The header wins over
// the query parameter; both empty means the global scope.
func orgFrom(r *http.Request) string {
	if org := r.Header.Get("X-Org-ID"); org != "" {
		return org
	}
	return r.URL.Query().Get("org")
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeEngineError translates engine error kinds onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, experiment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation", err)
	case errors.Is(err, experiment.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, experiment.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal", errors.New("internal error"))
	}
}
