package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"mediarelay/services/extract"
)

// Extractor remuxes one embedded subtitle stream into WebVTT.
type Extractor interface {
	Extract(ctx context.Context, locator string, typeIndex int) ([]byte, error)
}

// ExtractHandler serves embedded-subtitle extraction as a synchronous
// request: one call, one complete WebVTT document.
type ExtractHandler struct {
	extract Extractor
}

func NewExtractHandler(service Extractor) *ExtractHandler {
	return &ExtractHandler{extract: service}
}

func (h *ExtractHandler) Extract(w http.ResponseWriter, r *http.Request) {
	locator := r.URL.Query().Get("url")
	if locator == "" {
		writeJSONError(w, "url parameter is required", http.StatusBadRequest)
		return
	}

	typeIndex := 0
	if raw := r.URL.Query().Get("index"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSONError(w, "index must be a non-negative integer", http.StatusBadRequest)
			return
		}
		typeIndex = parsed
	}

	data, err := h.extract.Extract(r.Context(), locator, typeIndex)
	if err != nil {
		switch {
		case errors.Is(err, extract.ErrExtractorUnavailable):
			writeJSONError(w, "subtitle extractor is not installed", http.StatusServiceUnavailable)
		case errors.Is(err, extract.ErrExtractionFailed):
			log.Printf("[extract] extraction failed: url=%s index=%d err=%v", locator, typeIndex, err)
			writeJSONError(w, "subtitle extraction failed", http.StatusBadGateway)
		default:
			log.Printf("[extract] unexpected error: url=%s index=%d err=%v", locator, typeIndex, err)
			writeJSONError(w, "subtitle extraction failed", http.StatusBadGateway)
		}
		return
	}

	writeCommonHeaders(w)
	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
