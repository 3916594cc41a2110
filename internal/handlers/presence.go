package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/parley/internal/presence"
)

// PresenceReader is the read side of the presence service.
type PresenceReader interface {
	GetOnlineUsers() []string
	GetPresence(userID string) presence.Presence
}

// PresenceHandler handles presence-related HTTP requests
type PresenceHandler struct {
	presenceService PresenceReader
}

// NewPresenceHandler creates a new presence handler
func NewPresenceHandler(presenceService PresenceReader) *PresenceHandler {
	return &PresenceHandler{presenceService: presenceService}
}

// GetPresence returns the current online users as JSON
func (h *PresenceHandler) GetPresence(c echo.Context) error {
	onlineUsers := h.presenceService.GetOnlineUsers()
	if onlineUsers == nil {
		onlineUsers = []string{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"online_users": onlineUsers,
		"count":        len(onlineUsers),
	})
}

// GetUserPresence returns the presence status for a specific user. Offline
// users are reported as such rather than as missing.
func (h *PresenceHandler) GetUserPresence(c echo.Context) error {
	userID := c.Param("userID")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "userID parameter required")
	}
	return c.JSON(http.StatusOK, h.presenceService.GetPresence(userID))
}
