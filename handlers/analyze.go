package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"mediarelay/services/probe"
)

// Analyzer reports a best-effort stream inventory for a locator.
type Analyzer interface {
	Analyze(ctx context.Context, locator string) *probe.Inventory
}

// AnalyzeHandler exposes media introspection. Analysis is advisory, so the
// endpoint always answers 200; a missing prober shows up as
// ffprobeAvailable=false in the body instead of an error status.
type AnalyzeHandler struct {
	probe Analyzer
}

func NewAnalyzeHandler(service Analyzer) *AnalyzeHandler {
	return &AnalyzeHandler{probe: service}
}

func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	locator := r.URL.Query().Get("url")
	if locator == "" {
		writeJSONError(w, "url parameter is required", http.StatusBadRequest)
		return
	}

	inventory := h.probe.Analyze(r.Context(), locator)

	writeCommonHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(inventory)
}
