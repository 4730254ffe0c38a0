package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/chromedp/chromedp"
)

var errPromptInputMissing = errors.New("prompt input not found")

// Page is one attached tab driven through the Contract's locators.
// It implements domain.Session.
type Page struct {
	taskCtx  context.Context
	cancel   context.CancelFunc
	contract Contract
	logger   *slog.Logger
}

// scope derives a chromedp context from the tab that also honours the
// caller's deadline and cancellation.
func (p *Page) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.taskCtx)
	if dl, ok := ctx.Deadline(); ok {
		var dlCancel context.CancelFunc
		runCtx, dlCancel = context.WithDeadline(runCtx, dl)
		prev := cancel
		cancel = func() {
			dlCancel()
			prev()
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *Page) IsAuthenticated(ctx context.Context) bool {
	runCtx, cancel := p.scope(ctx)
	defer cancel()

	var present bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(existsScript(p.contract.AuthProbe), &present)); err != nil {
		p.logger.Debug("auth probe failed", "err", err)
		return false
	}
	return present
}

func (p *Page) AttachFile(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	runCtx, cancel := p.scope(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx,
		chromedp.SetUploadFiles(p.contract.FileInput, []string{abs}, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("set upload file %s on %q: %w", abs, p.contract.FileInput, err)
	}
	p.logger.Debug("file attached", "path", abs)
	return nil
}

func (p *Page) SetPrompt(ctx context.Context, text string) error {
	runCtx, cancel := p.scope(ctx)
	defer cancel()

	var ok bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(setPromptScript(p.contract.PromptInput, text), &ok)); err != nil {
		return fmt.Errorf("set prompt: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %q", errPromptInputMissing, p.contract.PromptInput)
	}
	return nil
}

func (p *Page) Submit(ctx context.Context) error {
	runCtx, cancel := p.scope(ctx)
	defer cancel()

	sel := p.contract.SubmitButton
	if err := chromedp.Run(runCtx,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.WaitEnabled(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("click %q: %w", sel, err)
	}
	return nil
}

func (p *Page) LatestReply(ctx context.Context) (string, error) {
	runCtx, cancel := p.scope(ctx)
	defer cancel()

	var text string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(latestReplyScript(p.contract.ReplyBlock), &text)); err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	return text, nil
}

// Close closes the tab. The browser itself keeps running.
func (p *Page) Close() {
	p.cancel()
}
