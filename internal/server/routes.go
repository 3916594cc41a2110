package server

import (
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nfrund/parley/internal/handlers"
	"github.com/nfrund/parley/internal/middleware"
)

// API rate limit per user (or per IP before authentication).
const (
	apiRequestsPerSecond = 10
	apiBurst             = 30
)

// RegisterRoutes builds the services and sets up all the application routes.
func (s *Server) RegisterRoutes() error {
	store, err := s.App.Store()
	if err != nil {
		return fmt.Errorf("building store: %w", err)
	}
	reg, err := s.App.Registry()
	if err != nil {
		return fmt.Errorf("building registry: %w", err)
	}
	chatSvc, err := s.App.Chat()
	if err != nil {
		return fmt.Errorf("building chat service: %w", err)
	}
	presenceSvc, err := s.App.Presence()
	if err != nil {
		return fmt.Errorf("building presence service: %w", err)
	}
	verifier, err := s.App.Verifier()
	if err != nil {
		return fmt.Errorf("building verifier: %w", err)
	}
	gateway, err := s.App.Gateway()
	if err != nil {
		return fmt.Errorf("building websocket gateway: %w", err)
	}

	healthHandler := handlers.NewHealthHandler(store, reg)
	conversationHandler := handlers.NewConversationHandler(chatSvc)
	presenceHandler := handlers.NewPresenceHandler(presenceSvc)

	s.E.GET("/health", healthHandler.Check)
	s.E.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.E.GET("/ws", gateway.Handler())

	api := s.E.Group("/api",
		middleware.Auth(verifier),
		middleware.RateLimiter(apiRequestsPerSecond, apiBurst),
	)

	api.GET("/conversations", conversationHandler.List)
	api.POST("/conversations", conversationHandler.Create)
	api.GET("/conversations/:id", conversationHandler.Get)
	api.GET("/conversations/:id/messages", conversationHandler.Messages)
	api.POST("/conversations/:id/messages", conversationHandler.Send)
	api.PATCH("/conversations/:id/messages/read", conversationHandler.MarkRead)
	api.GET("/users/search", conversationHandler.SearchUsers)

	api.GET("/presence", presenceHandler.GetPresence)
	api.GET("/presence/:userID", presenceHandler.GetUserPresence)

	return nil
}
