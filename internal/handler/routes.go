package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"api-gateway/internal/config"
	"api-gateway/internal/metrics"
	"api-gateway/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Static
// endpoints are registered first; every other path falls through to the
// proxy handler, which answers unmatched paths with the 404 responder.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, static *StaticHandler, m *metrics.Metrics, cfg *config.Config, logger *slog.Logger) {
	e.HTTPErrorHandler = static.ErrorHandler(logger)

	hardened := middleware.SecurityHeaders()
	getOrHead := []string{http.MethodGet, http.MethodHead}
	e.Match(getOrHead, "/health", static.Health, hardened)
	e.Match(getOrHead, "/", static.Info, hardened)
	e.Match(getOrHead, "/api/docs", static.Docs, hardened)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(m.Handler()))
	}

	e.Any("/*", proxy.Handle)
}
