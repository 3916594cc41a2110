package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/parley/internal/hub"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionStats reports live session counts.
type ConnectionStats interface {
	Stats() hub.Stats
}

// HealthHandler serves GET /health.
type HealthHandler struct {
	store Pinger
	stats ConnectionStats
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(store Pinger, stats ConnectionStats) *HealthHandler {
	return &HealthHandler{store: store, stats: stats}
}

// Check pings the store and reports connection counts.
func (h *HealthHandler) Check(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	body := map[string]interface{}{"status": "ok"}
	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		body["status"] = "degraded"
		body["store"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if h.stats != nil {
		st := h.stats.Stats()
		body["connections"] = st.Connections
		body["users_online"] = st.Users
		body["rooms"] = st.Rooms
	}
	return c.JSON(status, body)
}
