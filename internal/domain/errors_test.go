package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrorsMatchTheirKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"auth", &AuthError{Reason: AuthExpired}, ErrUnauthenticated},
		{"authorization", Forbidden("u1", "c1"), ErrForbidden},
		{"validation", NewValidationError("content", "required"), ErrInvalid},
		{"persistence", Persistence("append message", errors.New("disk full")), ErrPersistence},
	}

	kinds := []error{ErrUnauthenticated, ErrForbidden, ErrInvalid, ErrPersistence}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("handler: %w", tt.err)
			for _, k := range kinds {
				assert.Equal(t, k == tt.kind, errors.Is(wrapped, k), "kind %v", k)
			}
		})
	}
}

func TestPersistenceKeepsDomainErrors(t *testing.T) {
	assert.Nil(t, Persistence("op", nil))
	assert.Same(t, ErrNotFound, Persistence("op", ErrNotFound))

	err := Persistence("op", errors.New("boom"))
	var pe *PersistenceError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, "op: boom", err.Error())
}

func TestAuthErrorMessages(t *testing.T) {
	assert.Equal(t, "authentication token required", (&AuthError{Reason: AuthMissing}).Error())
	assert.Equal(t, "account is inactive", (&AuthError{Reason: AuthInactive}).Error())
	assert.Equal(t, "invalid authentication token", (&AuthError{Reason: AuthInvalid}).Error())
}

func TestMessageTypeValid(t *testing.T) {
	assert.True(t, MessageText.Valid())
	assert.True(t, MessageFile.Valid())
	assert.False(t, MessageType("VIDEO").Valid())
	assert.False(t, MessageType("").Valid())
}
