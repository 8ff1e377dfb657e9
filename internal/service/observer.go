package service

import (
	"log/slog"
	"net/http"

	"api-gateway/internal/metrics"
	"api-gateway/internal/model"
	"api-gateway/internal/route"
)

// Observer is notified at fixed points of every dispatch: before the request
// is sent, after response headers arrive, and on failure. Exactly one of
// OnResponse and OnError follows an OnRequest; OnError may also be called
// without a preceding OnRequest when the request could not be built.
type Observer interface {
	OnRequest(r route.Route, out *http.Request)
	OnResponse(r route.Route, out *http.Request, resp *model.ProxyResponse)
	OnError(r route.Route, pr *model.ProxyRequest, err *model.GatewayError)
}

// LogObserver writes one log line per dispatch event.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a LogObserver.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger.With("component", "proxy")}
}

func (o *LogObserver) OnRequest(r route.Route, out *http.Request) {
	o.logger.Info("proxying request",
		"route", r.Name,
		"method", out.Method,
		"path", out.URL.RequestURI(),
		"target", r.Target.Redacted(),
		"request_id", out.Header.Get("X-Request-Id"),
	)
}

func (o *LogObserver) OnResponse(r route.Route, out *http.Request, resp *model.ProxyResponse) {
	o.logger.Info("received upstream response",
		"route", r.Name,
		"method", out.Method,
		"status", resp.StatusCode,
		"request_id", out.Header.Get("X-Request-Id"),
	)
}

func (o *LogObserver) OnError(r route.Route, pr *model.ProxyRequest, err *model.GatewayError) {
	level := slog.LevelError
	if err.Kind == model.KindCanceled {
		level = slog.LevelInfo
	}
	o.logger.Log(pr.Ctx, level, "proxy error",
		"route", r.Name,
		"kind", string(err.Kind),
		"method", pr.Method,
		"path", pr.Path,
		"remote_addr", pr.RemoteAddr,
		"request_id", pr.RequestID,
		"err", err.Error(),
	)
}

// MetricsObserver counts failed dispatches by route and kind. Successful
// exchanges are already recorded by the upstream client.
type MetricsObserver struct {
	metrics *metrics.Metrics
}

// NewMetricsObserver creates a MetricsObserver.
func NewMetricsObserver(m *metrics.Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) OnRequest(route.Route, *http.Request) {}

func (o *MetricsObserver) OnResponse(route.Route, *http.Request, *model.ProxyResponse) {}

func (o *MetricsObserver) OnError(r route.Route, _ *model.ProxyRequest, err *model.GatewayError) {
	o.metrics.UpstreamErrors.WithLabelValues(r.Name, string(err.Kind)).Inc()
}
