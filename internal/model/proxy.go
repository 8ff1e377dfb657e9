// Package model defines shared types for the gateway.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx           context.Context
	Method        string
	Path          string
	RawPath       string // escaped form of Path, empty when the default encoding applies
	RawQuery      string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
	RemoteAddr    string
	RequestID     string
}

// ProxyResponse represents the upstream response to be streamed back.
// Closing Body releases the connection and the exchange deadline.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
