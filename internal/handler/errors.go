package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ErrorBody is the payload for errors raised outside the proxy path.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorHandler returns the central Echo error handler. Router 404s get the
// same body as the 404 responder; other HTTP errors keep their status; any
// other error becomes a 500 without leaking internals.
func (h *StaticHandler) ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			logger.Warn("error after response committed", "err", err, "path", c.Request().URL.Path)
			return
		}

		var (
			he   *echo.HTTPError
			werr error
		)
		switch {
		case errors.As(err, &he) && he.Code == http.StatusNotFound:
			werr = h.NotFound(c)
		case errors.As(err, &he):
			msg := http.StatusText(he.Code)
			if m, ok := he.Message.(string); ok && m != "" {
				msg = m
			}
			werr = writeErrorBody(c, he.Code, ErrorBody{Error: http.StatusText(he.Code), Message: msg})
		default:
			logger.Error("unhandled error",
				"err", err,
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			werr = writeErrorBody(c, http.StatusInternalServerError, ErrorBody{
				Error:   http.StatusText(http.StatusInternalServerError),
				Message: "An unexpected error occurred",
			})
		}
		if werr != nil {
			logger.Error("writing error response", "err", werr)
		}
	}
}

func writeErrorBody(c echo.Context, code int, body ErrorBody) error {
	if c.Request().Method == http.MethodHead {
		return c.NoContent(code)
	}
	return c.JSON(code, body)
}
