package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer. Every typed error below matches exactly
// one of these through errors.Is, so transports can map failures without
// knowing the concrete type.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalid         = errors.New("invalid input")
	ErrNotFound        = errors.New("requested resource not found")
	ErrPersistence     = errors.New("persistence failure")
)

// AuthReason explains why a credential was refused.
type AuthReason string

const (
	AuthMissing  AuthReason = "missing"
	AuthInvalid  AuthReason = "invalid"
	AuthExpired  AuthReason = "expired"
	AuthInactive AuthReason = "inactive"
)

// AuthError is returned by the credential verifier. A connection that fails
// with it is never established.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	switch e.Reason {
	case AuthMissing:
		return "authentication token required"
	case AuthExpired:
		return "authentication token expired"
	case AuthInactive:
		return "account is inactive"
	default:
		return "invalid authentication token"
	}
}

func (e *AuthError) Unwrap() error        { return e.Err }
func (e *AuthError) Is(target error) bool { return target == ErrUnauthenticated }

// AuthorizationError is returned when a user acts on a conversation they do not
// participate in.
type AuthorizationError struct {
	UserID         string
	ConversationID string
}

func (e *AuthorizationError) Error() string {
	return "not a participant in this conversation"
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrForbidden }

// ValidationError rejects input before anything is persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// PersistenceError wraps a store failure. It is reported to the caller only and
// never retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error        { return e.Err }
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// NewValidationError is a small constructor used by the services.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Forbidden builds an AuthorizationError for userID on conversationID.
func Forbidden(userID, conversationID string) error {
	return &AuthorizationError{UserID: userID, ConversationID: conversationID}
}

// Persistence wraps err unless it is nil or already a domain error.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalid) || errors.Is(err, ErrForbidden) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
