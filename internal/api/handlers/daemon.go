package handlers

import (
	"net/http"
	"time"
)

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ok(w, map[string]string{"status": "ok"})
}

// Status handles GET /api/v1/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	clients := 0
	if h.hub != nil {
		clients = h.hub.ClientCount()
	}
	ok(w, map[string]interface{}{
		"session_id": h.mon.SessionID(),
		"tokenizer":  h.mon.Estimator().Name(),
		"ws_clients": clients,
		"started_at": h.started.Format(time.RFC3339),
		"uptime":     time.Since(h.started).Round(time.Second).String(),
	})
}
