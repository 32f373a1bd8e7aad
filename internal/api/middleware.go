package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/samcharles93/cubetile/internal/logger"
	"github.com/samcharles93/cubetile/internal/version"
)

const HeaderRequestID = "X-Request-ID"

// RequestID tags every request with an id, echoed in the response header
// and attached to the request logger. A client supplied id is kept.
func RequestID(base logger.Logger) echo.MiddlewareFunc {
	if base == nil {
		base = logger.Nop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			req := c.Request()
			id := req.Header.Get(HeaderRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(HeaderRequestID, id)
			ctx := logger.WithContext(req.Context(), base.With("request_id", id))
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

// RateLimit rejects requests beyond limit per second with 429. A zero
// limit disables it.
func RateLimit(limit float64, burst int) echo.MiddlewareFunc {
	if limit <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	burst = max(burst, 1)
	lim := rate.NewLimiter(rate.Limit(limit), burst)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !lim.Allow() {
				return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "too many requests", "", "")
			}
			return next(c)
		}
	}
}

// ServerHeader stamps responses with the build version.
func ServerHeader() echo.MiddlewareFunc {
	ua := version.UserAgent()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			c.Response().Header().Set("Server", ua)
			return next(c)
		}
	}
}
