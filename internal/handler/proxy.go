package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"api-gateway/internal/model"
	"api-gateway/internal/route"
	"api-gateway/internal/service"
)

// Forwarder performs one upstream exchange for a matched route.
type Forwarder interface {
	Forward(r route.Route, pr *model.ProxyRequest) (*model.ProxyResponse, error)
}

var _ Forwarder = (*service.Dispatcher)(nil)

// ProxyHandler matches inbound requests against the route table and relays
// them upstream. Requests matching no route get the 404 responder.
type ProxyHandler struct {
	table     *route.Table
	forwarder Forwarder
	notFound  echo.HandlerFunc
	logger    *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(table *route.Table, d *service.Dispatcher, static *StaticHandler, logger *slog.Logger) *ProxyHandler {
	return newProxyHandler(table, d, static.NotFound, logger)
}

func newProxyHandler(table *route.Table, f Forwarder, notFound echo.HandlerFunc, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		table:     table,
		forwarder: f,
		notFound:  notFound,
		logger:    logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request to the matched upstream and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	// Match on the escaped form so an encoded slash never creates a segment.
	r, ok := h.table.Match(req.URL.EscapedPath())
	if !ok {
		return h.notFound(c)
	}

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.Path,
		RawPath:       req.URL.RawPath,
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
		RemoteAddr:    req.RemoteAddr,
		RequestID:     c.Response().Header().Get(echo.HeaderXRequestID),
	}

	resp, err := h.forwarder.Forward(r, pr)
	if err != nil {
		return h.writeError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Upstream values replace any the middleware chain already set.
	dst := c.Response().Header()
	for key, vals := range resp.Header {
		dst.Del(key)
		for _, v := range vals {
			dst.Add(key, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)

	// The status is already sent, so a failure here leaves the client with a
	// truncated body under the upstream status. It is logged, not rewritten.
	if _, err := copyBody(c.Response(), resp.Body, shouldFlush(resp)); err != nil {
		h.logger.Warn("streaming response body",
			"err", err,
			"route", r.Name,
			"path", req.URL.Path,
			"request_id", pr.RequestID,
		)
	}
	return nil
}

// GatewayErrorBody is the uniform body for failed dispatches.
type GatewayErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details"`
	Kind    string `json:"kind"`
}

// writeError relays a dispatch failure as HTTP 500. Only the GatewayError's
// message reaches the client; the cause was logged by the dispatcher.
func (h *ProxyHandler) writeError(c echo.Context, err error) error {
	if c.Response().Committed {
		return nil
	}

	body := GatewayErrorBody{
		Error:   "Gateway error",
		Message: "Unable to reach the requested service",
		Details: "unexpected gateway failure",
		Kind:    string(model.KindOf(err)),
	}
	var ge *model.GatewayError
	if errors.As(err, &ge) {
		body.Details = ge.Message
	} else {
		h.logger.Error("proxy error", "err", err, "path", c.Request().URL.Path)
	}
	return c.JSON(http.StatusInternalServerError, body)
}

// shouldFlush reports whether each chunk must reach the client as soon as it
// arrives: responses of unknown length and server-sent event streams.
func shouldFlush(resp *model.ProxyResponse) bool {
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return true
	}
	return resp.Header.Get("Content-Length") == ""
}

// copyBody streams src to the response, flushing after every write when flush is set.
func copyBody(w *echo.Response, src io.Reader, flush bool) (int64, error) {
	if !flush {
		return io.Copy(w, src)
	}

	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			w.Flush()
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
