package model

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable, client-visible category of a gateway failure.
type ErrorKind string

const (
	KindUnreachable      ErrorKind = "UNREACHABLE"
	KindTimeout          ErrorKind = "TIMEOUT"
	KindUpstreamProtocol ErrorKind = "UPSTREAM_PROTOCOL_ERROR"
	KindNotFound         ErrorKind = "NOT_FOUND"
	KindInternal         ErrorKind = "INTERNAL"
	// KindCanceled means the client went away before the upstream answered.
	KindCanceled ErrorKind = "CANCELED"
)

// GatewayError is produced whenever a dispatch fails. Message is safe to show
// to clients; Cause is for server-side logs only.
type GatewayError struct {
	Kind    ErrorKind
	Message string
	Route   string
	Cause   error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	var s string
	if e.Route != "" {
		s = fmt.Sprintf("gateway error [%s] route=%s: %s", e.Kind, e.Route, e.Message)
	} else {
		s = fmt.Sprintf("gateway error [%s]: %s", e.Kind, e.Message)
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

// Unwrap returns the underlying error.
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// NewGatewayError creates a GatewayError.
func NewGatewayError(kind ErrorKind, route, message string, cause error) *GatewayError {
	return &GatewayError{Kind: kind, Route: route, Message: message, Cause: cause}
}

// KindOf returns the kind of the first GatewayError in err's chain, or
// KindInternal when there is none.
func KindOf(err error) ErrorKind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindInternal
}
