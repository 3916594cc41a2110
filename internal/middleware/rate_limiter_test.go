package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/parley/internal/domain"
)

func TestRateLimiter(t *testing.T) {
	e := echo.New()

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	}

	// A negligible refill rate makes the burst the whole budget.
	rateLimiter := RateLimiter(0.0001, 3)
	e.GET("/", handler, rateLimiter)

	asUser := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(UserContextKey, &domain.User{ID: c.Request().Header.Get("X-Test-User")})
			return next(c)
		}
	}
	e.GET("/me", handler, asUser, rateLimiter)

	t.Run("allows requests within the limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()

		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("blocks requests exceeding the limit", func(t *testing.T) {
		clientIP := "192.0.2.2:1234"

		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = clientIP
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, "request %d should be allowed", i+1)
		}

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = clientIP
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Contains(t, rec.Body.String(), "Too many requests")
	})

	t.Run("authenticated users are limited separately", func(t *testing.T) {
		hit := func(user string) int {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			req.RemoteAddr = "192.0.2.3:1234"
			req.Header.Set("X-Test-User", user)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			return rec.Code
		}
		for i := 0; i < 3; i++ {
			require.Equal(t, http.StatusOK, hit("alice"))
		}
		assert.Equal(t, http.StatusTooManyRequests, hit("alice"))
		assert.Equal(t, http.StatusOK, hit("bob"), "same IP, different user")
	})
}
