/**
 * @description
 * This file sets up the HTTP router for the drop-service's internal ops API.
 * It defines the endpoints, associates them with their handlers, and applies
 * the internal API key middleware. The ops API is server-to-server only;
 * customers never reach it.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// OpsRoutes creates and returns the router for the internal ops API.
func OpsRoutes(h *OpsHandlers, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/messages/{messageID}/requeue", h.RequeueMessageHandler)
		r.Put("/sessions/{sessionID}/override", h.SetSessionOverrideHandler)
		r.Get("/drops/{dropID}/stock", h.GetDropStockHandler)
	})

	return r
}
