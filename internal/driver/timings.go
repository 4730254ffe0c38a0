// Package driver runs one analysis against the chat application's web UI:
// login gate, attachment, prompt injection, reply collection and verdict
// extraction, in that order, on a single exclusively held session.
package driver

import (
	"context"
	"time"
)

// Timings holds every wait the pipeline performs. The chat application
// signals neither upload completion nor reply completion, so several of these
// are settle delays standing in for events that do not exist.
type Timings struct {
	LoginTimeout      time.Duration // how long to wait for a manual login
	LoginPollInterval time.Duration // cadence of the login probe
	UploadTimeout     time.Duration // wait for the file-input control
	UploadSettle      time.Duration // no upload-complete event; replace with a probe if the UI grows one
	PromptSettle      time.Duration // let the page react to the input event
	SubmitTimeout     time.Duration // wait for the submit control to become interactable
	ReplyInitialDelay time.Duration // generation latency; polling earlier only sees partial DOM
	ReplyPollInterval time.Duration
	ReplyAttempts     int
	// ReplyStableReads is how many consecutive identical non-empty reads count
	// as a finished reply. 1 accepts the first non-empty read.
	ReplyStableReads int
}

// DefaultTimings returns the waits tuned against the ChatGPT web UI.
func DefaultTimings() Timings {
	return Timings{
		LoginTimeout:      90 * time.Second,
		LoginPollInterval: time.Second,
		UploadTimeout:     20 * time.Second,
		UploadSettle:      2 * time.Second,
		PromptSettle:      time.Second,
		SubmitTimeout:     10 * time.Second,
		ReplyInitialDelay: 90 * time.Second,
		ReplyPollInterval: 2 * time.Second,
		ReplyAttempts:     40,
		ReplyStableReads:  1,
	}
}

// Budget is the longest a single run can block on the waits configured here,
// from the login check to the last reply poll. Attaching the session is
// bounded separately by the bridge's navigate timeout and settle delay.
func (t Timings) Budget() time.Duration {
	return t.LoginTimeout + t.UploadTimeout + t.UploadSettle + t.PromptSettle +
		t.SubmitTimeout + t.ReplyInitialDelay + time.Duration(t.ReplyAttempts)*t.ReplyPollInterval
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
