package browser

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"gardenbot/internal/domain"
)

// silentBrowser accepts DevTools connections and never answers, like a
// frozen Chrome.
func silentBrowser(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return "ws://" + ln.Addr().String()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAttach_HonorsCallerDeadline(t *testing.T) {
	b := NewBridge(BridgeConfig{
		DebugURL:        silentBrowser(t),
		NavigateTimeout: time.Minute,
		Logger:          quietLogger(),
	})
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := b.Attach(ctx)
	if err == nil {
		t.Fatal("expected attach to fail against a silent browser")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("attach returned %s after a 200ms deadline", elapsed)
	}
}

func TestAttach_DialBoundedWithoutDeadline(t *testing.T) {
	b := NewBridge(BridgeConfig{
		DebugURL:        silentBrowser(t),
		NavigateTimeout: 200 * time.Millisecond,
		Logger:          quietLogger(),
	})
	defer b.Close()

	start := time.Now()
	_, err := b.Attach(context.Background())
	if !errors.Is(err, domain.ErrSessionUnavailable) {
		t.Fatalf("expected SessionUnavailable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("attach took %s with a 200ms dial bound", elapsed)
	}
}

func TestProbe_DoesNotHangOnSilentBrowser(t *testing.T) {
	b := NewBridge(BridgeConfig{
		DebugURL:        silentBrowser(t),
		NavigateTimeout: time.Minute,
		Logger:          quietLogger(),
	})
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := b.Probe(ctx)
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected probe to fail")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("probe still blocked after the caller's deadline")
	}
}

func TestAttach_LaterCallerNotStuckBehindDial(t *testing.T) {
	b := NewBridge(BridgeConfig{
		DebugURL:        silentBrowser(t),
		NavigateTimeout: time.Minute,
		Logger:          quietLogger(),
	})
	defer b.Close()

	slow, cancelSlow := context.WithTimeout(context.Background(), time.Second)
	defer cancelSlow()
	go b.Attach(slow)
	time.Sleep(50 * time.Millisecond)

	fast, cancelFast := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelFast()
	start := time.Now()
	if _, err := b.Attach(fast); err == nil {
		t.Fatal("expected an error")
	}
	if elapsed := time.Since(start); elapsed > 700*time.Millisecond {
		t.Errorf("second caller waited %s for the first caller's dial", elapsed)
	}
}

func TestNewBridge_SettleDelay(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{-1, defaultSettleDelay},
		{0, 0},
		{3 * time.Second, 3 * time.Second},
	}
	for _, tt := range tests {
		if got := NewBridge(BridgeConfig{SettleDelay: tt.in}).settleDelay; got != tt.want {
			t.Errorf("SettleDelay %s: got %s, want %s", tt.in, got, tt.want)
		}
	}
}
