package server

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/nfrund/parley/internal/app"
	"github.com/nfrund/parley/internal/config"
	"github.com/nfrund/parley/internal/domain"
	"github.com/nfrund/parley/internal/handlers"
	"github.com/nfrund/parley/internal/middleware"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	E   *echo.Echo
	Cfg config.Provider
	App *app.App
}

// New creates a new Server instance. The object graph is built lazily by
// RegisterRoutes.
func New(cfg config.Provider) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewValidator()
	setupErrorHandling(e)

	e.Use(echomw.RequestID())
	e.Use(middleware.Logger)
	e.Use(echomw.Recover())
	e.Use(middleware.Metrics)

	corsOrigins := cfg.GetAllowedOrigins()
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: corsOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	return &Server{
		E:   e,
		Cfg: cfg,
		App: app.New(cfg),
	}
}

// setupErrorHandling installs the JSON error handler. Unhandled errors are
// logged with a stack trace before the generic 500 is written.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if isUnhandled(err) {
			middleware.FromContext(c.Request().Context()).Error("Internal Server Error (Unhandled)",
				"error", err.Error(),
				"path", c.Request().URL.Path,
				"stack_trace", string(debug.Stack()),
			)
		}
		handlers.HTTPErrorHandler(err, c)
	}
}

func isUnhandled(err error) bool {
	var httpErr *echo.HTTPError
	var authErr *domain.AuthError
	var valErr *domain.ValidationError
	var vErrs validator.ValidationErrors
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code >= http.StatusInternalServerError
	case errors.As(err, &authErr), errors.As(err, &valErr), errors.As(err, &vErrs),
		errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrNotFound):
		return false
	}
	return true
}
