package driver

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gardenbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fastTimings keeps the production shape with millisecond waits.
func fastTimings() Timings {
	return Timings{
		LoginTimeout:      20 * time.Millisecond,
		LoginPollInterval: time.Millisecond,
		UploadTimeout:     50 * time.Millisecond,
		UploadSettle:      time.Millisecond,
		PromptSettle:      time.Millisecond,
		SubmitTimeout:     50 * time.Millisecond,
		ReplyInitialDelay: time.Millisecond,
		ReplyPollInterval: 2 * time.Millisecond,
		ReplyAttempts:     5,
		ReplyStableReads:  1,
	}
}

// fakePage scripts the chat UI.
type fakePage struct {
	mu sync.Mutex

	// authFrom is the 1-based probe call from which IsAuthenticated reports
	// true. 0 means always, negative means never.
	authFrom  int
	authCalls int

	attachErr error
	promptErr error
	submitErr error

	// replies[i] / replyErrs[i] answer the i-th LatestReply call; past the end
	// the last entry repeats.
	replies    []string
	replyErrs  []error
	replyCalls int

	attached  []string
	prompts   []string
	submitted int
	closed    bool
}

func (f *fakePage) IsAuthenticated(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	if f.authFrom < 0 {
		return false
	}
	return f.authCalls >= f.authFrom
}

func (f *fakePage) AttachFile(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attached = append(f.attached, path)
	return nil
}

func (f *fakePage) SetPrompt(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.promptErr != nil {
		return f.promptErr
	}
	f.prompts = append(f.prompts, text)
	return nil
}

func (f *fakePage) Submit(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted++
	return nil
}

func (f *fakePage) LatestReply(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.replyCalls
	f.replyCalls++
	var err error
	if len(f.replyErrs) > 0 {
		err = f.replyErrs[min(i, len(f.replyErrs)-1)]
	}
	if err != nil {
		return "", err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	return f.replies[min(i, len(f.replies)-1)], nil
}

func (f *fakePage) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

type fakeAttacher struct {
	page     *fakePage
	err      error
	attaches int
	// gate, when set, blocks Attach until it is closed.
	gate chan struct{}
	mu   sync.Mutex
}

func (a *fakeAttacher) Attach(ctx context.Context) (domain.Session, error) {
	a.mu.Lock()
	a.attaches++
	a.mu.Unlock()
	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	return a.page, nil
}

var errFlaky = errors.New("node detached from document")

func testImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "latest.jpg")
	if err := os.WriteFile(path, []byte{0xff, 0xd8, 0xff, 0xd9}, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
