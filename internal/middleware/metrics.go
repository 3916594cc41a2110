package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/parley/internal/metrics"
)

// Metrics records request counts and latency by route pattern and logs one
// line per request.
func Metrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			// Let the error handler write the status before it is recorded.
			c.Error(err)
		}

		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		status := c.Response().Status
		elapsed := time.Since(start)

		metrics.HTTPRequestsTotal.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request().Method, path).Observe(elapsed.Seconds())
		FromContext(c.Request().Context()).Debug("Handled request",
			"method", c.Request().Method, "path", path, "status", status, "duration", elapsed)
		return nil
	}
}
