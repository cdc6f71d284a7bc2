// Package testutils provides simplified testing utilities and helper functions
package testutils

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// DiscardLogger returns a logger that drops every record
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestLogger returns a debug logger that writes through t.Log
func NewTestLogger(t testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(&testWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct {
	t testing.TB
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// Context returns a context with timeout that is cancelled at test cleanup
func Context(t testing.TB, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// Gate holds handlers in flight until the test opens it. Each handler that
// reaches the gate reports its name on Entered.
type Gate struct {
	open    chan struct{}
	once    sync.Once
	entered chan string
}

// NewGate creates a closed gate able to record up to capacity arrivals
func NewGate(capacity int) *Gate {
	return &Gate{
		open:    make(chan struct{}),
		entered: make(chan string, capacity),
	}
}

// Wait blocks until the gate opens or ctx ends
func (g *Gate) Wait(ctx context.Context, name string) error {
	select {
	case g.entered <- name:
	default:
	}
	select {
	case <-g.open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Open releases every current and future waiter
func (g *Gate) Open() {
	g.once.Do(func() { close(g.open) })
}

// Entered returns the arrivals channel
func (g *Gate) Entered() <-chan string {
	return g.entered
}

// RequireEntered waits for the next arrival and returns its name
func (g *Gate) RequireEntered(t testing.TB, timeout time.Duration) string {
	t.Helper()
	select {
	case name := <-g.entered:
		return name
	case <-time.After(timeout):
		require.FailNow(t, "no handler reached the gate")
		return ""
	}
}
