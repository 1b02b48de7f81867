package ipc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"workerhub/internal/supervisor"
	"workerhub/internal/transport"
)

func TestNewFaultClassifiesInboxErrors(t *testing.T) {
	deadline := fmt.Errorf("call: %w: %w", transport.ErrFull, context.DeadlineExceeded)
	if f := newFault(deadline); f.Code != CodeTimeout {
		t.Fatalf("full inbox past a deadline = %q, want %q", f.Code, CodeTimeout)
	}

	busy := fmt.Errorf("send: %w: %w", transport.ErrFull, context.Canceled)
	f := newFault(busy)
	if f.Code != CodeBusy {
		t.Fatalf("full inbox = %q, want %q", f.Code, CodeBusy)
	}
	if !errors.Is(f.Err(), transport.ErrFull) {
		t.Fatalf("busy fault should match transport.ErrFull")
	}

	if f := newFault(supervisor.ErrNotRunning); !errors.Is(f.Err(), supervisor.ErrNotRunning) {
		t.Fatalf("not running fault = %+v", f)
	}
}
