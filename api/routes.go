// Package api wires the HTTP routes onto a gorilla/mux router.
package api

import (
	"encoding/json"
	"net/http"

	"mediarelay/handlers"

	"github.com/gorilla/mux"
)

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Register mounts every relay route under /api.
func Register(
	r *mux.Router,
	relayHandler *handlers.RelayHandler,
	subtitleHandler *handlers.SubtitleHandler,
	analyzeHandler *handlers.AnalyzeHandler,
	extractHandler *handlers.ExtractHandler,
) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)

	api.HandleFunc("/stream", relayHandler.Stream).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/stream", handlers.HandleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/download", relayHandler.Download).Methods(http.MethodGet)
	api.HandleFunc("/download", handlers.HandleOptions).Methods(http.MethodOptions)

	api.HandleFunc("/subtitle", subtitleHandler.Proxy).Methods(http.MethodGet)
	api.HandleFunc("/subtitle", handlers.HandleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/subtitle/convert", subtitleHandler.Convert).Methods(http.MethodGet)
	api.HandleFunc("/subtitle/convert", handlers.HandleOptions).Methods(http.MethodOptions)

	api.HandleFunc("/analyze", analyzeHandler.Analyze).Methods(http.MethodGet)
	api.HandleFunc("/analyze", handlers.HandleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/extract", extractHandler.Extract).Methods(http.MethodGet)
	api.HandleFunc("/extract", handlers.HandleOptions).Methods(http.MethodOptions)

	api.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/health", handlers.HandleOptions).Methods(http.MethodOptions)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
