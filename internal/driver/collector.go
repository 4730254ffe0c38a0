package driver

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"gardenbot/internal/domain"
	"gardenbot/internal/metrics"
)

type pollKind int

const (
	pollText pollKind = iota
	pollEmpty
	// pollSoftFailure is a read error that must not end collection; the DOM
	// is mid-render often enough that single failed reads are expected.
	pollSoftFailure
)

type pollOutcome struct {
	kind pollKind
	text string
	err  error
}

// ResponseCollector waits for the chat application to finish answering.
//
// It sleeps through the initial delay, then polls the latest reply block once
// per interval. Each poll gets the remainder of its interval as a deadline, so
// collection never blocks past initialDelay + attempts*interval.
type ResponseCollector struct {
	initialDelay time.Duration
	interval     time.Duration
	attempts     int
	stableReads  int
	logger       *slog.Logger
}

func NewResponseCollector(t Timings, logger *slog.Logger) *ResponseCollector {
	c := &ResponseCollector{
		initialDelay: t.ReplyInitialDelay,
		interval:     t.ReplyPollInterval,
		attempts:     t.ReplyAttempts,
		stableReads:  t.ReplyStableReads,
		logger:       logger,
	}
	if c.interval <= 0 {
		c.interval = 2 * time.Second
	}
	if c.attempts < 1 {
		c.attempts = 1
	}
	if c.stableReads < 1 {
		c.stableReads = 1
	}
	return c
}

// Collect returns the reply once it is considered complete. Running out of
// attempts is reported through Reply.Status, not as an error; the error is
// non-nil only when ctx ends first.
func (c *ResponseCollector) Collect(ctx context.Context, page domain.ChatPage) (domain.Reply, error) {
	c.logger.Debug("waiting before first reply poll", "delay", c.initialDelay)
	if err := sleepCtx(ctx, c.initialDelay); err != nil {
		return domain.Reply{Status: domain.ReplyExhausted}, err
	}

	var (
		reply    domain.Reply
		lastText string
		streak   int
	)
	for i := 1; i <= c.attempts; i++ {
		slotEnd := time.Now().Add(c.interval)
		reply.Attempts = i

		out := c.poll(ctx, page, slotEnd)
		switch out.kind {
		case pollText:
			if out.text == lastText {
				streak++
			} else {
				lastText, streak = out.text, 1
			}
			if streak >= c.stableReads {
				reply.Status = domain.ReplyFound
				reply.Text = out.text
				c.logger.Info("reply collected", "attempt", i, "len", len(out.text))
				metrics.ReplyPollAttempts.Observe(float64(i))
				return reply, nil
			}
		case pollEmpty:
			lastText, streak = "", 0
		case pollSoftFailure:
			if ctx.Err() != nil {
				return domain.Reply{Status: domain.ReplyExhausted}, ctx.Err()
			}
			reply.SoftFailures++
			reply.LastErr = out.err
			metrics.ReplySoftFailures.Inc()
			c.logger.Warn("reply read failed, continuing", "attempt", i, "err", out.err)
		}

		if i == c.attempts {
			break
		}
		if err := sleepCtx(ctx, time.Until(slotEnd)); err != nil {
			return domain.Reply{Status: domain.ReplyExhausted}, err
		}
	}

	reply.Status = domain.ReplyExhausted
	if reply.SoftFailures == reply.Attempts {
		reply.Status = domain.ReplyExtractionFailed
	}
	metrics.ReplyPollAttempts.Observe(float64(reply.Attempts))
	c.logger.Warn("no reply within polling budget",
		"attempts", reply.Attempts, "softFailures", reply.SoftFailures, "status", reply.Status.String())
	return reply, nil
}

func (c *ResponseCollector) poll(ctx context.Context, page domain.ChatPage, deadline time.Time) pollOutcome {
	readCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	text, err := page.LatestReply(readCtx)
	text = strings.TrimSpace(text)
	switch {
	case err != nil:
		return pollOutcome{kind: pollSoftFailure, err: err}
	case text == "":
		return pollOutcome{kind: pollEmpty}
	default:
		return pollOutcome{kind: pollText, text: text}
	}
}
