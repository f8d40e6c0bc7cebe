// Package api declares HTTP contracts and route registration helpers.
package api

import "net/http"

// WinnerHandler serves winner snapshots.
type WinnerHandler struct {
	deps Dependencies
}

// NewWinnerHandler creates a new winner handler.
func NewWinnerHandler(deps Dependencies) *WinnerHandler {
	return &WinnerHandler{deps: deps}
}

// HandleGetWinner handles GET /v1/experiments/{code}/winner.
func (h *WinnerHandler) HandleGetWinner(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.GetWinnerSnapshot(r.Context(), orgFrom(r), r.PathValue("code"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
