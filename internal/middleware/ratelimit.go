package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimitBody is returned when a client exceeds its request budget.
type RateLimitBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RateLimiter returns a per-client-IP token bucket limiter. Burst equals the
// rounded-up rate, matching echo's memory store.
func RateLimiter(rps float64) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(rps))
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, RateLimitBody{
				Error:   http.StatusText(http.StatusForbidden),
				Message: "could not identify client",
			})
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, RateLimitBody{
				Error:   http.StatusText(http.StatusTooManyRequests),
				Message: "rate limit exceeded, retry later",
			})
		},
	})
}
