package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestGatewayError_Error(t *testing.T) {
	err := NewGatewayError(KindTimeout, "user-service", "upstream did not respond in time", context.DeadlineExceeded)

	got := err.Error()
	for _, want := range []string{"TIMEOUT", "user-service", "upstream did not respond in time", "context deadline exceeded"} {
		if !strings.Contains(got, want) {
			t.Errorf("Error() = %q, want it to contain %q", got, want)
		}
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("errors.Is(err, context.DeadlineExceeded) = false, want true")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"direct", NewGatewayError(KindUnreachable, "", "x", nil), KindUnreachable},
		{"wrapped", fmt.Errorf("forward: %w", NewGatewayError(KindUpstreamProtocol, "", "x", nil)), KindUpstreamProtocol},
		{"plain error", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}
