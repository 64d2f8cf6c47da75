package handlers

import (
	"log"
	"net/http"
	"net/url"
	"path"
	"strings"

	"mediarelay/internal/subtitle"
	"mediarelay/services/relay"
)

// subtitleContentTypes are the media types passed through unchanged by the
// subtitle proxy. Anything else gets substituted so players treat the body as
// a text track instead of refusing it.
var subtitleContentTypes = map[string]bool{
	"text/vtt":             true,
	"text/srt":             true,
	"application/x-subrip": true,
	"text/x-ssa":           true,
	"text/plain":           true,
}

const defaultSubtitleContentType = "text/vtt; charset=utf-8"

// SubtitleHandler serves the subtitle proxy and the ASS/SSA conversion
// endpoint.
type SubtitleHandler struct {
	client *relay.Client
}

func NewSubtitleHandler(client *relay.Client) *SubtitleHandler {
	return &SubtitleHandler{client: client}
}

// Proxy relays a remote subtitle file as-is. Upstreams routinely mislabel
// subtitle payloads, so an unrecognized content type is substituted rather
// than rejected.
func (h *SubtitleHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	locator := r.URL.Query().Get("url")
	if locator == "" {
		writeJSONError(w, "url parameter is required", http.StatusBadRequest)
		return
	}

	res, err := h.client.Do(r.Context(), http.MethodGet, locator, nil)
	if err != nil {
		writeRelayError(w, locator, err)
		return
	}
	defer res.Response.Body.Close()

	if res.Response.StatusCode >= 400 {
		writeJSONError(w, "upstream returned an error", http.StatusBadGateway)
		return
	}

	writeCommonHeaders(w)
	w.Header().Set("Content-Type", subtitleContentType(res.Response.Header.Get("Content-Type")))
	w.WriteHeader(http.StatusOK)
	copyStream(w, r, res.Response.Body, res.OriginalURL.Redacted())
}

// Convert fetches an ASS/SSA script and streams it to the client as WebVTT.
func (h *SubtitleHandler) Convert(w http.ResponseWriter, r *http.Request) {
	locator := r.URL.Query().Get("url")
	if locator == "" {
		writeJSONError(w, "url parameter is required", http.StatusBadRequest)
		return
	}

	res, err := h.client.Do(r.Context(), http.MethodGet, locator, nil)
	if err != nil {
		writeRelayError(w, locator, err)
		return
	}
	defer res.Response.Body.Close()

	if res.Response.StatusCode >= 400 {
		writeJSONError(w, "upstream returned an error", http.StatusBadGateway)
		return
	}

	// Headers are committed by the first converted write. A failure before
	// that still gets a proper error status.
	lazy := &lazyHeaderWriter{w: w, contentType: defaultSubtitleContentType, filename: subtitleFilename(locator)}
	if err := subtitle.Convert(lazy, res.Response.Body); err != nil {
		if !lazy.committed {
			log.Printf("[subtitle] conversion failed: url=%s err=%v", res.OriginalURL.Redacted(), err)
			writeJSONError(w, "subtitle conversion failed", http.StatusBadGateway)
			return
		}
		log.Printf("[subtitle] conversion ended early: url=%s err=%v", res.OriginalURL.Redacted(), err)
		return
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func subtitleContentType(upstream string) string {
	mediaType := strings.ToLower(strings.TrimSpace(upstream))
	if idx := strings.Index(mediaType, ";"); idx >= 0 {
		mediaType = strings.TrimSpace(mediaType[:idx])
	}
	if subtitleContentTypes[mediaType] {
		return upstream
	}
	return defaultSubtitleContentType
}

// lazyHeaderWriter defers the status line until the first body write so error
// handling can still pick a status code.
type lazyHeaderWriter struct {
	w           http.ResponseWriter
	contentType string
	filename    string
	committed   bool
}

func (l *lazyHeaderWriter) Write(p []byte) (int, error) {
	if !l.committed {
		writeCommonHeaders(l.w)
		l.w.Header().Set("Content-Type", l.contentType)
		if l.filename != "" {
			l.w.Header().Set("X-Original-Filename", relay.HeaderSafeFilename(l.filename))
		}
		l.w.WriteHeader(http.StatusOK)
		l.committed = true
	}
	return l.w.Write(p)
}

// subtitleFilename swaps the locator's extension for .vtt.
func subtitleFilename(locator string) string {
	name := ""
	if parsed, err := url.Parse(locator); err == nil {
		name = path.Base(parsed.Path)
	}
	name = strings.TrimSuffix(name, path.Ext(name))
	if name == "" || name == "." || name == "/" {
		name = "subtitle"
	}
	return name + ".vtt"
}
