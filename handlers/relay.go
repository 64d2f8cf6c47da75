package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"mediarelay/services/relay"
)

// RelayHandler serves the passthrough stream and download endpoints. It never
// buffers whole payloads; bodies are copied chunk by chunk to the client.
type RelayHandler struct {
	client *relay.Client
}

func NewRelayHandler(client *relay.Client) *RelayHandler {
	return &RelayHandler{client: client}
}

// Stream proxies the media at the url query parameter, forwarding the inbound
// Range header verbatim and echoing the upstream 206/Content-Range back so
// seeking behaves exactly as against the origin.
func (h *RelayHandler) Stream(w http.ResponseWriter, r *http.Request) {
	locator := r.URL.Query().Get("url")
	if locator == "" {
		writeJSONError(w, "url parameter is required", http.StatusBadRequest)
		return
	}

	header := make(http.Header)
	rangeHeader := r.Header.Get("Range")
	if rangeHeader != "" {
		header.Set("Range", rangeHeader)
	}

	res, err := h.client.Do(r.Context(), r.Method, locator, header)
	if err != nil {
		writeRelayError(w, locator, err)
		return
	}
	defer res.Response.Body.Close()

	if res.Response.StatusCode >= 400 {
		log.Printf("[relay] upstream status %d for %s", res.Response.StatusCode, res.FinalURL.Redacted())
		writeJSONError(w, "upstream returned "+strconv.Itoa(res.Response.StatusCode), http.StatusBadGateway)
		return
	}

	meta := relay.DeriveMeta(res.Response, res.OriginalURL)

	body := res.Response.Body
	contentType := meta.ContentType
	var head []byte
	// Partial responses start mid-file, so their leading bytes carry no
	// container signature worth sniffing.
	if relay.NeedsSniff(contentType) && meta.ContentRange == "" {
		head = make([]byte, relay.SniffLen)
		n, _ := io.ReadFull(body, head)
		head = head[:n]
		contentType = relay.SniffContentType(head)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	writeCommonHeaders(w)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", meta.AcceptRanges)
	if meta.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(meta.ContentLength, 10))
	}
	if meta.ContentRange != "" {
		w.Header().Set("Content-Range", meta.ContentRange)
	}
	w.Header().Set("X-Original-Filename", relay.HeaderSafeFilename(meta.Filename))

	log.Printf("[relay] stream: url=%s status=%d hops=%d range=%q length=%d",
		res.OriginalURL.Redacted(), res.Response.StatusCode, res.Hops, rangeHeader, meta.ContentLength)
	w.WriteHeader(res.Response.StatusCode)

	if r.Method == http.MethodHead {
		return
	}
	if len(head) > 0 {
		if _, err := w.Write(head); err != nil {
			return
		}
	}
	copyStream(w, r, body, res.OriginalURL.Redacted())
}

// Download proxies the media as an attachment. Range is deliberately not
// forwarded; downloads always start at byte zero.
func (h *RelayHandler) Download(w http.ResponseWriter, r *http.Request) {
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
		writeJSONError(w, "upstream returned "+strconv.Itoa(res.Response.StatusCode), http.StatusBadGateway)
		return
	}

	meta := relay.DeriveMeta(res.Response, res.OriginalURL)
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = meta.Filename
	}

	writeCommonHeaders(w)
	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if meta.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(meta.ContentLength, 10))
	}
	w.Header().Set("Content-Disposition", relay.AttachmentDisposition(relay.HeaderSafeFilename(filename)))

	log.Printf("[relay] download: url=%s filename=%q length=%d", res.OriginalURL.Redacted(), filename, meta.ContentLength)
	w.WriteHeader(http.StatusOK)
	copyStream(w, r, res.Response.Body, res.OriginalURL.Redacted())
}

// copyStream pumps the upstream body to the client in large chunks, flushing
// after each write so players start decoding without waiting on buffers. A
// disconnected client ends the copy quietly.
func copyStream(w http.ResponseWriter, r *http.Request, body io.Reader, label string) {
	ctx := r.Context()
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, copyBufferSize)
	var total int64

	for {
		select {
		case <-ctx.Done():
			log.Printf("[relay] stream cancelled: url=%s total=%d reason=%v", label, total, ctx.Err())
			return
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			written, writeErr := w.Write(buf[:n])
			if writeErr != nil {
				if isClientGone(writeErr) || ctx.Err() != nil {
					log.Printf("[relay] client disconnected: url=%s total=%d", label, total)
					return
				}
				log.Printf("[relay] write error: url=%s total=%d err=%v", label, total, writeErr)
				return
			}
			total += int64(written)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				// Headers are long gone; ending the stream is all we can do.
				log.Printf("[relay] upstream read error: url=%s total=%d err=%v", label, total, readErr)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			log.Printf("[relay] stream complete: url=%s total=%d", label, total)
			return
		}
	}
}

func writeRelayError(w http.ResponseWriter, locator string, err error) {
	switch {
	case errors.Is(err, relay.ErrBadLocator):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, relay.ErrUpstreamTimeout):
		log.Printf("[relay] upstream timeout: url=%s err=%v", locator, err)
		writeJSONError(w, "upstream timed out", http.StatusGatewayTimeout)
	case errors.Is(err, relay.ErrTooManyRedirects):
		log.Printf("[relay] redirect bound exceeded: url=%s err=%v", locator, err)
		writeJSONError(w, "too many upstream redirects", http.StatusBadGateway)
	default:
		log.Printf("[relay] upstream error: url=%s err=%v", locator, err)
		writeJSONError(w, "upstream connection failed", http.StatusBadGateway)
	}
}
