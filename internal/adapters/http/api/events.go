// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/javimosch/superbackend-sub004/internal/experiment"
)

// EventsHandler handles metric event ingestion requests.
type EventsHandler struct {
	deps Dependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps Dependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

// eventsRequest mirrors the POST events body. The batch is accepted or
// rejected as a whole.
type eventsRequest struct {
	SubjectID string                     `json:"subject_id"`
	Events    []experiment.IncomingEvent `json:"events"`
}

type eventsResponse struct {
	Accepted int `json:"accepted"`
}

// HandlePostEvents handles POST /v1/experiments/{code}/events.
func (h *EventsHandler) HandlePostEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_events"
	var req eventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.SubjectID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrMissingSubject))
		return
	}

	n, err := h.deps.IngestEvents(r.Context(), orgFrom(r), r.PathValue("code"), req.SubjectID, req.Events)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, eventsResponse{Accepted: n})
}
