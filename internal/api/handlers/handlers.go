// Package handlers provides HTTP handler implementations for the ctxmon REST API.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Manjussha/ctxmon/internal/monitor"
)

// maxBody bounds request bodies; file contents can be large.
const maxBody = 16 << 20

// ClientCounter reports connected live-feed clients.
type ClientCounter interface {
	ClientCount() int
}

// Handler holds all shared dependencies for API handler methods.
type Handler struct {
	mon     *monitor.Monitor
	hub     ClientCounter
	started time.Time
}

// New creates a Handler. hub may be nil.
func New(mon *monitor.Monitor, hub ClientCounter) *Handler {
	return &Handler{mon: mon, hub: hub, started: time.Now()}
}

// ── Response helpers ──────────────────────────────────────────────────────────

type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func ok(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response{Success: true, Data: data})
}

func fail(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response{Success: false, Error: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v)
}
