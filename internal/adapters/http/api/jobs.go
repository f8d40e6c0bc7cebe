// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"
)

// JobsHandler exposes the maintenance sweeps as on-demand endpoints, for
// external schedulers and operators. The same engine methods back the
// in-process scheduler.
type JobsHandler struct {
	deps Dependencies
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(deps Dependencies) *JobsHandler {
	return &JobsHandler{deps: deps}
}

// aggregateRequest optionally narrows the sweep. Zero values fall back to
// the engine defaults. BucketWidth uses Go duration syntax, e.g. "1h".
type aggregateRequest struct {
	BucketWidth string    `json:"bucket_width,omitempty"`
	Start       time.Time `json:"start,omitzero"`
	End         time.Time `json:"end,omitzero"`
}

// HandleAggregate handles POST /v1/jobs/aggregate. An empty body runs the
// default sweep.
func (h *JobsHandler) HandleAggregate(w http.ResponseWriter, r *http.Request) {
	const op = "api.jobs_aggregate"
	var req aggregateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	var width time.Duration
	if req.BucketWidth != "" {
		var err error
		if width, err = time.ParseDuration(req.BucketWidth); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
	}

	summary, err := h.deps.RunAggregationAndWinner(r.Context(), width, req.Start, req.End)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleRetention handles POST /v1/jobs/retention.
func (h *JobsHandler) HandleRetention(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.RunRetentionCleanup(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
