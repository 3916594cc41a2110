package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/parley/internal/chat"
	"github.com/nfrund/parley/internal/domain"
	"github.com/nfrund/parley/internal/middleware"
)

// ConversationService is what the REST surface needs from the chat core. It
// is the same service the websocket path calls.
type ConversationService interface {
	OpenDirect(ctx context.Context, userID, otherID string) (*chat.ConversationView, bool, error)
	ListConversations(ctx context.Context, userID string) ([]domain.ConversationSummary, error)
	Conversation(ctx context.Context, userID, conversationID string) (*chat.ConversationView, error)
	History(ctx context.Context, userID, conversationID string, page, limit int) ([]domain.Message, error)
	Send(ctx context.Context, userID, conversationID, content string, typ domain.MessageType) (*domain.Message, error)
	MarkRead(ctx context.Context, userID, conversationID string) (int, error)
	SearchUsers(ctx context.Context, userID, query string) ([]domain.PublicProfile, error)
}

// ConversationHandler serves the request/response chat surface.
type ConversationHandler struct {
	chat ConversationService
}

// NewConversationHandler creates a new ConversationHandler.
func NewConversationHandler(svc ConversationService) *ConversationHandler {
	return &ConversationHandler{chat: svc}
}

// currentUser is a helper to retrieve the authenticated user set by the Auth middleware.
func currentUser(c echo.Context) (*domain.User, error) {
	user := middleware.UserFromContext(c)
	if user == nil || user.ID == "" {
		return nil, &domain.AuthError{Reason: domain.AuthMissing}
	}
	return user, nil
}

// List handles GET /api/conversations.
func (h *ConversationHandler) List(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	list, err := h.chat.ListConversations(c.Request().Context(), user.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

// Create handles POST /api/conversations. It answers 201 when a conversation
// was created and 200 when an existing one was found.
func (h *ConversationHandler) Create(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format.")
	}
	req.ParticipantID = strings.TrimSpace(req.ParticipantID)
	if err := c.Validate(&req); err != nil {
		return err
	}

	view, created, err := h.chat.OpenDirect(c.Request().Context(), user.ID, req.ParticipantID)
	if err != nil {
		return err
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, NewConversationResponse(view))
}

// Get handles GET /api/conversations/:id.
func (h *ConversationHandler) Get(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	view, err := h.chat.Conversation(c.Request().Context(), user.ID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

// Messages handles GET /api/conversations/:id/messages?page=&limit=.
func (h *ConversationHandler) Messages(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var q HistoryQuery
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid pagination parameters.")
	}
	if err := c.Validate(&q); err != nil {
		return err
	}

	msgs, err := h.chat.History(c.Request().Context(), user.ID, c.Param("id"), q.Page, q.Limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msgs)
}

// Send handles POST /api/conversations/:id/messages.
func (h *ConversationHandler) Send(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format.")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	msg, err := h.chat.Send(c.Request().Context(), user.ID, c.Param("id"), req.Content, domain.MessageType(req.Type))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, msg)
}

// MarkRead handles PATCH /api/conversations/:id/messages/read.
func (h *ConversationHandler) MarkRead(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	n, err := h.chat.MarkRead(c.Request().Context(), user.ID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MarkReadResponse{UpdatedCount: n, Success: n > 0})
}

// SearchUsers handles GET /api/users/search?q=. Short queries return an empty
// list rather than an error.
func (h *ConversationHandler) SearchUsers(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	users, err := h.chat.SearchUsers(c.Request().Context(), user.ID, c.QueryParam("q"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, users)
}
