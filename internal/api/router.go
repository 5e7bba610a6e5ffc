package api

import (
	"log/slog"
	"net/http"

	"docsync/internal/middleware"

	"github.com/gorilla/mux"
)

// SetupRoutes mounts the API and the realtime endpoint. Middleware runs in order:
// tracing, then recovery, then CORS. mux only runs middleware on a matched route, so
// API routes also match OPTIONS and CORS answers the preflight.
func SetupRoutes(h *Handler, realtime http.Handler, allowedOrigins []string, logger *slog.Logger) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Tracing(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(allowedOrigins))

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.Health).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/documents/{id}/presence", h.DocumentPresence).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/documents/{id}/evictions", h.EvictUser).Methods(http.MethodPost, http.MethodOptions)

	r.Handle("/ws", realtime).Methods(http.MethodGet)

	return r
}
