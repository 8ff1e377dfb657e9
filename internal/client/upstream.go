// Package client provides the pooled upstream HTTP clients, one per route.
package client

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"api-gateway/internal/config"
	"api-gateway/internal/metrics"
	"api-gateway/internal/model"
	"api-gateway/internal/route"
)

// UpstreamClient sends requests to a single route's target.
type UpstreamClient struct {
	route      string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling. The
// route's ConnectTimeout bounds dialing, the TLS handshake and the wait for
// response headers; the overall exchange deadline is applied per request by
// the caller's context, so http.Client.Timeout stays unset to let bodies stream.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(r route.Route, idleConns int, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        idleConns,
		MaxIdleConnsPerHost: idleConns,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   r.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   r.ConnectTimeout,
		ResponseHeaderTimeout: r.ConnectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		// Relay Content-Encoding untouched; transparent decompression would
		// alter the bytes passed through to the client.
		DisableCompression: true,
	}

	return &UpstreamClient{
		route: r.Name,
		httpClient: &http.Client{
			Transport: transport,
			// Upstream redirects are relayed to the client, never followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "upstream_client", "route", r.Name),
		metrics: m,
	}
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"url", req.URL.Redacted(),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(c.route, method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(c.route, method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(c.route, method, status).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// Close releases idle pooled connections.
func (c *UpstreamClient) Close() {
	c.httpClient.CloseIdleConnections()
}

// Pool holds one UpstreamClient per route name.
type Pool struct {
	clients map[string]*UpstreamClient
}

// NewPool builds a client for every route in the table. The pool is
// read-only after construction.
func NewPool(table *route.Table, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Pool {
	p := &Pool{clients: make(map[string]*UpstreamClient)}
	for _, r := range table.Routes() {
		p.clients[r.Name] = NewUpstreamClient(r, cfg.Upstream.IdleConnections, logger, m)
	}
	return p
}

// For returns the client for the named route.
func (p *Pool) For(routeName string) (*UpstreamClient, bool) {
	c, ok := p.clients[routeName]
	return c, ok
}

// Close releases idle connections of every client.
func (p *Pool) Close() {
	for _, c := range p.clients {
		c.Close()
	}
}
