package handlers

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/nfrund/parley/internal/chat"
	"github.com/nfrund/parley/internal/domain"
	"github.com/nfrund/parley/internal/middleware"
)

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConversationResponse is returned by create-or-fetch.
type ConversationResponse struct {
	ID          string                `json:"id"`
	Participant *domain.PublicProfile `json:"participant,omitempty"`
}

// NewConversationResponse maps a chat view to its DTO.
func NewConversationResponse(v *chat.ConversationView) *ConversationResponse {
	return &ConversationResponse{ID: v.ID, Participant: v.OtherParticipant}
}

// MarkReadResponse reports how many messages changed state.
type MarkReadResponse struct {
	UpdatedCount int  `json:"updatedCount"`
	Success      bool `json:"success"`
}

// errorStatus maps an error to its HTTP status and response body. Internal
// details of persistence failures are never echoed to the client.
func errorStatus(err error) (int, ErrorResponse) {
	var (
		httpErr *echo.HTTPError
		authErr *domain.AuthError
		valErr  *domain.ValidationError
		vErrs   validator.ValidationErrors
	)
	switch {
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, ErrorResponse{Code: "unauthenticated", Message: authErr.Error()}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, ErrorResponse{Code: "forbidden", Message: "Not authorized to access this conversation"}
	case errors.As(err, &valErr):
		return http.StatusBadRequest, ErrorResponse{Code: "invalid", Message: valErr.Error()}
	case errors.As(err, &vErrs):
		return http.StatusBadRequest, ErrorResponse{Code: "invalid", Message: vErrs.Error()}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Code: "not_found", Message: "Resource not found"}
	case errors.As(err, &httpErr):
		msg := http.StatusText(httpErr.Code)
		if s, ok := httpErr.Message.(string); ok {
			msg = s
		}
		return httpErr.Code, ErrorResponse{Code: "http_error", Message: msg}
	default:
		return http.StatusInternalServerError, ErrorResponse{Code: "internal", Message: "Internal server error"}
	}
}

// HTTPErrorHandler renders every handler error as an ErrorResponse.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, body := errorStatus(err)
	if status >= http.StatusInternalServerError {
		middleware.FromContext(c.Request().Context()).Error("Request failed",
			"method", c.Request().Method, "path", c.Path(), "error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to write error response", "error", err)
	}
}
