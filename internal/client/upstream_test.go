package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"api-gateway/internal/config"
	"api-gateway/internal/metrics"
	"api-gateway/internal/route"
)

func testRoute(t *testing.T, target string, connectTimeout time.Duration) route.Route {
	t.Helper()
	u, err := url.Parse(target)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	return route.Route{Name: "user-service", Prefix: "/api/users", Target: u, ConnectTimeout: connectTimeout, Timeout: 30 * time.Second}
}

func TestUpstreamClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	c := NewUpstreamClient(testRoute(t, srv.URL, 10*time.Second), 10, logger, m)
	defer c.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/42", http.NoBody)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", string(body), `{"status":"ok"}`)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "api_gateway_upstream_responses_total" {
			found = true
		}
	}
	if !found {
		t.Error("expected api_gateway_upstream_responses_total to be recorded")
	}
}

func TestUpstreamClient_Do_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewUpstreamClient(testRoute(t, srv.URL, 10*time.Second), 10, logger, nil)

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/login", http.NoBody)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if loc := resp.Header.Get("Location"); loc != "/elsewhere" {
		t.Errorf("Location = %q, want %q", loc, "/elsewhere")
	}
}

func TestUpstreamClient_Do_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewUpstreamClient(testRoute(t, "http://"+addr, time.Second), 10, logger, nil)

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://"+addr+"/", http.NoBody)
	_, err = c.Do(req)
	if err == nil {
		t.Fatal("Do() expected error for refused connection, got nil")
	}
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		t.Errorf("Do() error = %v, want *net.OpError in chain", err)
	}
}

func TestUpstreamClient_Do_ResponseHeaderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewUpstreamClient(testRoute(t, srv.URL, 100*time.Millisecond), 10, logger, nil)

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/slow", http.NoBody)
	start := time.Now()
	_, err := c.Do(req)
	if err == nil {
		t.Fatal("Do() expected timeout error, got nil")
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Errorf("Do() error = %v, want a net.Error with Timeout() == true", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Do() took %v, want it bounded by the connect timeout", elapsed)
	}
}

func TestUpstreamClient_Do_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewUpstreamClient(testRoute(t, srv.URL, 30*time.Second), 10, logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/slow", http.NoBody)
	_, err := c.Do(req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
}

func TestPool_For(t *testing.T) {
	u, _ := url.Parse("http://user-service:3001")
	v, _ := url.Parse("http://ticket-service:3002")
	table, err := route.NewTable(
		route.Route{Name: "user-service", Prefix: "/api/users", Target: u},
		route.Route{Name: "ticket-service", Prefix: "/api/tickets", Target: v},
	)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{Upstream: config.UpstreamConfig{IdleConnections: 10}}
	p := NewPool(table, cfg, logger, nil)
	defer p.Close()

	for _, name := range []string{"user-service", "ticket-service"} {
		if _, ok := p.For(name); !ok {
			t.Errorf("For(%q) = missing, want client", name)
		}
	}
	if _, ok := p.For("booking-service"); ok {
		t.Error("For(booking-service) = found, want missing")
	}
}
