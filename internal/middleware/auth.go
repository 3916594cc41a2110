package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/nfrund/parley/internal/auth"
	"github.com/nfrund/parley/internal/domain"
)

const UserContextKey = "user"

// Auth protects routes with a bearer token. The verified user is stored under
// UserContextKey and added to the request logger; failures are returned as domain errors for the HTTP error
// handler to map.
func Auth(verifier auth.Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, err := verifier.Verify(c.Request().Context(), auth.TokenFromRequest(c.Request()))
			if err != nil {
				FromContext(c.Request().Context()).Info("Rejected request", "path", c.Path(), "error", err)
				return err
			}

			c.Set(UserContextKey, user)
			attachLogger(c, FromContext(c.Request().Context()).With("user_id", user.ID))
			return next(c)
		}
	}
}

// UserFromContext returns the user set by Auth, or nil.
func UserFromContext(c echo.Context) *domain.User {
	u, _ := c.Get(UserContextKey).(*domain.User)
	return u
}
