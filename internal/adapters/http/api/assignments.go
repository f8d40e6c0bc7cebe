// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// AssignmentsHandler handles sticky assignment requests.
type AssignmentsHandler struct {
	deps Dependencies
}

// NewAssignmentsHandler creates a new assignments handler.
func NewAssignmentsHandler(deps Dependencies) *AssignmentsHandler {
	return &AssignmentsHandler{deps: deps}
}

// assignmentRequest mirrors the POST assignments body.
type assignmentRequest struct {
	SubjectID string         `json:"subject_id"`
	Context   map[string]any `json:"context,omitempty"`
}

type assignmentResponse struct {
	ExperimentID string         `json:"experiment_id"`
	SubjectKey   string         `json:"subject_key"`
	VariantKey   string         `json:"variant_key"`
	Context      map[string]any `json:"context,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// HandlePostAssignment handles POST /v1/experiments/{code}/assignments.
// The operation is idempotent per subject: repeat calls return the same
// variant.
func (h *AssignmentsHandler) HandlePostAssignment(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_assignment"
	var req assignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.SubjectID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrMissingSubject))
		return
	}

	a, err := h.deps.GetOrCreateAssignment(r.Context(), orgFrom(r), r.PathValue("code"), req.SubjectID, req.Context)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignmentResponse{
		ExperimentID: a.ExperimentID,
		SubjectKey:   a.SubjectKey,
		VariantKey:   a.VariantKey,
		Context:      a.Context,
		CreatedAt:    a.CreatedAt,
	})
}
