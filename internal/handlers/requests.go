package handlers

import (
	"github.com/go-playground/validator/v10"
)

// CustomValidator wraps the go-playground/validator library to implement Echo's Validator interface.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new CustomValidator.
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// NewValidatorWith shares an existing validator instance.
func NewValidatorWith(v *validator.Validate) *CustomValidator {
	return &CustomValidator{validator: v}
}

// Validate implements the echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// CreateConversationRequest is the body of POST /api/conversations.
type CreateConversationRequest struct {
	ParticipantID string `json:"participantId" validate:"required"`
}

// SendMessageRequest is the body of POST /api/conversations/:id/messages.
// Content limits are enforced by the chat service.
type SendMessageRequest struct {
	Content string `json:"content" validate:"required"`
	Type    string `json:"type" validate:"omitempty,oneof=TEXT IMAGE FILE text image file"`
}

// HistoryQuery holds the pagination parameters of the message history.
// Out-of-range limits are clamped rather than rejected.
type HistoryQuery struct {
	Page  int `query:"page" validate:"min=0"`
	Limit int `query:"limit" validate:"min=0"`
}
