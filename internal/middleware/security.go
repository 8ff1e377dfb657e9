package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders returns a route-level middleware that hardens responses the
// gateway generates itself. It must not be installed globally: proxied
// responses are relayed with the upstream's headers untouched.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}
