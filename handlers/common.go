package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
)

// copyBufferSize is the chunk size of the relay copy loops. Large chunks keep
// syscall overhead down on high-bitrate media.
const copyBufferSize = 512 * 1024

func writeCommonHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	w.Header().Set(
		"Access-Control-Allow-Headers",
		"Range, Content-Type, Accept, Origin, Authorization, X-Requested-With",
	)
	w.Header().Set(
		"Access-Control-Expose-Headers",
		"Content-Length, Content-Range, Accept-Ranges, Content-Type, Content-Disposition, X-Original-Filename",
	)
	w.Header().Set("Cross-Origin-Resource-Policy", "cross-origin")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
}

// HandleOptions answers CORS preflight requests for every relay route.
func HandleOptions(w http.ResponseWriter, r *http.Request) {
	writeCommonHeaders(w)
	w.WriteHeader(http.StatusOK)
}

// writeJSONError writes a JSON error response
func writeJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func isClientGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Err != nil {
			if errors.Is(netErr.Err, syscall.EPIPE) || errors.Is(netErr.Err, syscall.ECONNRESET) || errors.Is(netErr.Err, os.ErrClosed) {
				return true
			}
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset")
}
