// Package service implements the upstream dispatch: one proxied exchange
// against a route's target.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"syscall"

	"api-gateway/internal/client"
	"api-gateway/internal/model"
	"api-gateway/internal/route"
)

// hopByHopHeaders are meaningful only for a single transport-level connection
// and are never forwarded in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Dispatcher forwards requests to the upstream selected by a route.
type Dispatcher struct {
	clients   *client.Pool
	observers []Observer
}

// NewDispatcher creates a Dispatcher. Observers are notified in order.
func NewDispatcher(clients *client.Pool, observers ...Observer) *Dispatcher {
	return &Dispatcher{
		clients:   clients,
		observers: observers,
	}
}

// Forward performs one exchange against the route's target. No retries are
// attempted. On success the caller must close the response body, which also
// releases the exchange deadline. Every failure is a *model.GatewayError.
func (d *Dispatcher) Forward(r route.Route, pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	c, ok := d.clients.For(r.Name)
	if !ok {
		return nil, d.fail(r, pr, model.NewGatewayError(model.KindInternal, r.Name, "no upstream client configured for route", nil))
	}

	ctx := pr.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	cancel := context.CancelFunc(func() {})
	if r.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
	}

	out, err := buildUpstreamRequest(ctx, r, pr)
	if err != nil {
		cancel()
		return nil, d.fail(r, pr, model.NewGatewayError(model.KindInternal, r.Name, "could not build upstream request", err))
	}

	for _, o := range d.observers {
		o.OnRequest(r, out)
	}

	resp, err := c.Do(out)
	if err != nil {
		ge := classify(ctx, r, err)
		cancel()
		return nil, d.fail(r, pr, ge)
	}

	removeHopByHop(resp.Header)
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}

	for _, o := range d.observers {
		o.OnResponse(r, out, resp)
	}
	return resp, nil
}

func (d *Dispatcher) fail(r route.Route, pr *model.ProxyRequest, ge *model.GatewayError) error {
	for _, o := range d.observers {
		o.OnError(r, pr, ge)
	}
	return ge
}

// buildUpstreamRequest rewrites the inbound request for the route's target:
// prefix stripped, query untouched, Host replaced, hop-by-hop headers dropped.
func buildUpstreamRequest(ctx context.Context, r route.Route, pr *model.ProxyRequest) (*http.Request, error) {
	u := *r.Target
	var ok bool
	u.Path, u.RawPath, ok = rewritePath(r, pr.Path, pr.RawPath)
	if !ok {
		return nil, fmt.Errorf("path %q is not served by route %s", pr.Path, r.Name)
	}
	u.RawQuery = pr.RawQuery
	u.Fragment = ""

	body := pr.Body
	if pr.ContentLength == 0 || body == nil {
		body = http.NoBody
	}

	out, err := http.NewRequestWithContext(ctx, pr.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	// NewRequest re-parses the URL; keep the exact escaped form.
	out.URL = &u
	if body != http.NoBody {
		out.ContentLength = pr.ContentLength
	}

	out.Header = pr.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	out.Header.Del("Host")
	removeHopByHop(out.Header)
	out.Host = r.Target.Host

	if _, ok := out.Header["User-Agent"]; !ok {
		// Suppress Go's default User-Agent so the upstream sees what the client sent.
		out.Header.Set("User-Agent", "")
	}
	if pr.RequestID != "" && out.Header.Get("X-Request-Id") == "" {
		out.Header.Set("X-Request-Id", pr.RequestID)
	}

	return out, nil
}

// rewritePath strips the route prefix from the escaped inbound path and joins
// the remainder onto the target's escaped base path. The decoded path is
// derived from that result so both forms always agree. It reports false when
// the escaped path does not fall under the route prefix.
func rewritePath(r route.Route, path, rawPath string) (string, string, bool) {
	escaped := (&url.URL{Path: path, RawPath: rawPath}).EscapedPath()
	if !r.Matches(escaped) {
		return "", "", false
	}
	joined := singleJoiningSlash(r.Target.EscapedPath(), r.StripPrefix(escaped))
	decoded, err := url.PathUnescape(joined)
	if err != nil {
		return "", "", false
	}
	return decoded, joined, true
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

// removeHopByHop deletes hop-by-hop headers, including any listed in Connection.
func removeHopByHop(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, sf := range strings.Split(f, ",") {
			if sf = textproto.TrimString(sf); sf != "" {
				h.Del(sf)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// classify maps a transport failure onto the gateway error taxonomy.
func classify(ctx context.Context, r route.Route, err error) *model.GatewayError {
	var (
		dnsErr *net.DNSError
		netErr net.Error
		opErr  *net.OpError
	)

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return model.NewGatewayError(model.KindTimeout, r.Name,
			fmt.Sprintf("%s did not respond within %s", r.Name, r.Timeout), err)
	case errors.Is(err, context.Canceled):
		return model.NewGatewayError(model.KindCanceled, r.Name,
			"client closed the request before the upstream responded", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return model.NewGatewayError(model.KindTimeout, r.Name,
			fmt.Sprintf("%s did not accept or answer the connection within %s", r.Name, r.ConnectTimeout), err)
	case errors.As(err, &dnsErr):
		return model.NewGatewayError(model.KindUnreachable, r.Name,
			fmt.Sprintf("%s host could not be resolved", r.Name), err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return model.NewGatewayError(model.KindUnreachable, r.Name,
			fmt.Sprintf("connection refused by %s", r.Name), err)
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return model.NewGatewayError(model.KindUnreachable, r.Name,
			fmt.Sprintf("%s closed the connection before responding", r.Name), err)
	case strings.Contains(err.Error(), "malformed HTTP"):
		return model.NewGatewayError(model.KindUpstreamProtocol, r.Name,
			fmt.Sprintf("%s sent a malformed response", r.Name), err)
	case errors.As(err, &opErr):
		return model.NewGatewayError(model.KindUnreachable, r.Name,
			fmt.Sprintf("could not connect to %s", r.Name), err)
	}
	return model.NewGatewayError(model.KindUnreachable, r.Name,
		fmt.Sprintf("request to %s failed", r.Name), err)
}

// cancelOnClose releases the exchange deadline once the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
