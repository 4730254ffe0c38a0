package driver

import (
	"context"
	"log/slog"
	"time"

	"gardenbot/internal/domain"
)

// LoginGate decides whether the attached session is logged in and, if not,
// waits for the operator to log in by hand. It never enters credentials.
type LoginGate struct {
	interval time.Duration
	logger   *slog.Logger
}

func NewLoginGate(interval time.Duration, logger *slog.Logger) *LoginGate {
	if interval <= 0 {
		interval = time.Second
	}
	return &LoginGate{interval: interval, logger: logger}
}

// IsAuthenticated runs one probe. It is cheap and safe to repeat.
func (g *LoginGate) IsAuthenticated(ctx context.Context, page domain.ChatPage) bool {
	return page.IsAuthenticated(ctx)
}

// AwaitLogin probes once per interval for timeout/interval attempts and
// reports whether any probe succeeded. It returns false early if ctx is done.
func (g *LoginGate) AwaitLogin(ctx context.Context, page domain.ChatPage, timeout time.Duration) bool {
	attempts := int(timeout / g.interval)
	if attempts < 1 {
		attempts = 1
	}
	for i := 1; i <= attempts; i++ {
		if g.IsAuthenticated(ctx, page) {
			g.logger.Info("login detected", "attempt", i)
			return true
		}
		if i == attempts {
			break
		}
		if err := sleepCtx(ctx, g.interval); err != nil {
			return false
		}
	}
	g.logger.Warn("login not detected", "attempts", attempts, "timeout", timeout)
	return false
}
