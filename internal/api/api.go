// Package api sets up the HTTP routes and middleware for the ctxmon REST API.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Manjussha/ctxmon/internal/api/handlers"
	"github.com/Manjussha/ctxmon/internal/monitor"
	"github.com/Manjussha/ctxmon/internal/ws"
)

// Deps holds all dependencies injected into the API handlers.
type Deps struct {
	Monitor *monitor.Monitor
	Hub     *ws.Hub
	APIKey  string
}

// SetupRoutes registers all HTTP routes on the given ServeMux.
// Uses Go 1.22 method+pattern routing syntax.
func SetupRoutes(mux *http.ServeMux, deps *Deps) {
	var counter handlers.ClientCounter
	if deps.Hub != nil {
		counter = deps.Hub
	}
	h := handlers.New(deps.Monitor, counter)

	requireKey := func(next http.HandlerFunc) http.Handler {
		return RequireAPIKey(deps.APIKey, next)
	}

	// ── Public routes ────────────────────────────────────────────────────────
	mux.HandleFunc("GET /healthz", h.Healthz)

	// ── Protected routes ─────────────────────────────────────────────────────
	mux.Handle("GET /api/v1/status", requireKey(h.Status))

	// Ingestion
	mux.Handle("POST /api/v1/messages", requireKey(h.TrackMessage))
	mux.Handle("POST /api/v1/files", requireKey(h.TrackFile))
	mux.Handle("POST /api/v1/reset", requireKey(h.Reset))

	// Queries
	mux.Handle("GET /api/v1/metrics", requireKey(h.Metrics))
	mux.Handle("GET /api/v1/recommendations", requireKey(h.Recommendations))
	mux.Handle("GET /api/v1/session", requireKey(h.Session))

	// Live feed
	if deps.Hub != nil {
		mux.Handle("GET /ws", requireKey(deps.Hub.ServeWS))
	}
}

// RequireAPIKey rejects requests without "Authorization: Bearer <key>" (or a
// ?key= query parameter, for websocket clients). An empty key disables the check.
func RequireAPIKey(key string, next http.Handler) http.Handler {
	if key == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = auth[len("Bearer "):]
		}
		if token == "" {
			token = r.URL.Query().Get("key")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
			http.Error(w, `{"success":false,"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LogRequests logs each request at debug level.
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug("http request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}
