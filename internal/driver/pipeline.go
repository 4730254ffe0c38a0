package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gardenbot/internal/domain"
	"gardenbot/internal/metrics"
	"gardenbot/internal/verdict"
)

// LoginNotifier tells the operator that the browser needs a manual login.
type LoginNotifier interface {
	NotifyLoginRequired(ctx context.Context, url string, timeout time.Duration) error
}

// LoginNotifiers fans a login request out to every notifier in the list.
type LoginNotifiers []LoginNotifier

func (ns LoginNotifiers) NotifyLoginRequired(ctx context.Context, url string, timeout time.Duration) error {
	var errs []error
	for _, n := range ns {
		if err := n.NotifyLoginRequired(ctx, url, timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pipeline drives one analysis at a time through the attached browser.
type Pipeline struct {
	attacher        domain.Attacher
	timings         Timings
	login           *LoginGate
	collector       *ResponseCollector
	notifier        LoginNotifier
	conversationURL string
	rejectWhenBusy  bool
	slot            chan struct{}
	logger          *slog.Logger
}

// PipelineConfig holds the pipeline's collaborators.
type PipelineConfig struct {
	Attacher        domain.Attacher
	Timings         Timings
	Notifier        LoginNotifier // optional
	ConversationURL string        // included in login notifications
	RejectWhenBusy  bool          // fail with SessionBusy instead of queueing
	Logger          *slog.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		attacher:        cfg.Attacher,
		timings:         cfg.Timings,
		login:           NewLoginGate(cfg.Timings.LoginPollInterval, cfg.Logger),
		collector:       NewResponseCollector(cfg.Timings, cfg.Logger),
		notifier:        cfg.Notifier,
		conversationURL: cfg.ConversationURL,
		rejectWhenBusy:  cfg.RejectWhenBusy,
		slot:            make(chan struct{}, 1),
		logger:          cfg.Logger,
	}
}

// Result is what a run produced. RawReply is set once a reply was collected,
// even if the verdict could not be recovered from it.
type Result struct {
	Verdict  domain.Verdict
	RawReply string
	Reply    domain.Reply
	Elapsed  time.Duration
}

// Busy reports whether a run currently holds the session.
func (p *Pipeline) Busy() bool {
	return len(p.slot) > 0
}

// Run executes the six stages for req. Only one Run holds the browser at a
// time; others queue until ctx ends, or fail with SessionBusy when the
// pipeline is configured to reject.
func (p *Pipeline) Run(ctx context.Context, req domain.PromptRequest) (*Result, error) {
	res := &Result{}
	if err := validateRequest(req); err != nil {
		return res, err
	}

	if err := p.acquire(ctx); err != nil {
		return res, err
	}
	defer p.release()

	start := time.Now()
	metrics.SessionBusy.Set(1)
	defer func() {
		metrics.SessionBusy.Set(0)
		res.Elapsed = time.Since(start)
		metrics.PipelineLatency.Observe(res.Elapsed.Seconds())
	}()

	err := p.run(ctx, req, res)
	metrics.AnalysesTotal.Inc()
	if err != nil {
		metrics.Failure(string(domain.KindOf(err))).Inc()
		p.logger.Error("analysis failed", "kind", domain.KindOf(err), "err", err)
		return res, err
	}
	p.logger.Info("analysis complete", "fields", len(res.Verdict), "elapsed", time.Since(start))
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, req domain.PromptRequest, res *Result) error {
	sess, err := p.attacher.Attach(ctx)
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) || ctx.Err() != nil {
			return err
		}
		return domain.NewError(domain.KindSessionUnavailable, "attach", err)
	}
	defer sess.Close()

	if err := p.ensureLogin(ctx, sess); err != nil {
		return err
	}

	if err := p.attach(ctx, sess, req.ImagePath); err != nil {
		return err
	}

	if err := p.sendPrompt(ctx, sess, req.Text); err != nil {
		return err
	}
	p.logger.Info("prompt submitted, waiting for reply", "initialDelay", p.timings.ReplyInitialDelay)

	reply, err := p.collector.Collect(ctx, sess)
	res.Reply = reply
	if err != nil {
		return err
	}
	if !reply.OK() {
		cause := fmt.Errorf("no reply after %d attempts (%s)", reply.Attempts, reply.Status)
		if reply.LastErr != nil {
			cause = fmt.Errorf("%w: last read error: %w", cause, reply.LastErr)
		}
		return domain.NewError(domain.KindResponseExhausted, "collect reply", cause)
	}
	res.RawReply = reply.Text

	v, err := verdict.Extract(reply.Text)
	if err != nil {
		return err
	}
	res.Verdict = v
	return nil
}

func (p *Pipeline) ensureLogin(ctx context.Context, page domain.ChatPage) error {
	if p.login.IsAuthenticated(ctx, page) {
		return nil
	}

	p.logger.Warn("chat session is not logged in, waiting for manual login", "timeout", p.timings.LoginTimeout)
	if p.notifier != nil {
		metrics.LoginPrompts.Inc()
		if err := p.notifier.NotifyLoginRequired(ctx, p.conversationURL, p.timings.LoginTimeout); err != nil {
			p.logger.Warn("login notification failed", "err", err)
		}
	}

	if !p.login.AwaitLogin(ctx, page, p.timings.LoginTimeout) {
		return p.fail(ctx, domain.KindLoginTimeout, "await login",
			fmt.Errorf("not logged in after %s", p.timings.LoginTimeout))
	}
	return nil
}

func (p *Pipeline) attach(ctx context.Context, page domain.ChatPage, path string) error {
	waitCtx, cancel := context.WithTimeout(ctx, p.timings.UploadTimeout)
	err := page.AttachFile(waitCtx, path)
	cancel()
	if err != nil {
		return p.fail(ctx, domain.KindElementNotFound, "attach file", err)
	}
	return sleepCtx(ctx, p.timings.UploadSettle)
}

func (p *Pipeline) sendPrompt(ctx context.Context, page domain.ChatPage, text string) error {
	setCtx, cancel := context.WithTimeout(ctx, p.timings.SubmitTimeout)
	err := page.SetPrompt(setCtx, text)
	cancel()
	if err != nil {
		return p.fail(ctx, domain.KindElementNotFound, "set prompt", err)
	}

	if err := sleepCtx(ctx, p.timings.PromptSettle); err != nil {
		return err
	}

	submitCtx, cancel := context.WithTimeout(ctx, p.timings.SubmitTimeout)
	err = page.Submit(submitCtx)
	cancel()
	if err != nil {
		return p.fail(ctx, domain.KindSubmitControlUnavailable, "submit", err)
	}
	return nil
}

// fail classifies err unless the caller's context ended, in which case the
// context error is returned as is.
func (p *Pipeline) fail(ctx context.Context, kind domain.ErrorKind, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return domain.NewError(kind, op, err)
}

func (p *Pipeline) acquire(ctx context.Context) error {
	if p.rejectWhenBusy {
		select {
		case p.slot <- struct{}{}:
			return nil
		default:
			metrics.Failure(string(domain.KindSessionBusy)).Inc()
			return domain.NewError(domain.KindSessionBusy, "acquire session",
				errors.New("another analysis is in progress"))
		}
	}
	select {
	case p.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) release() {
	<-p.slot
}

func validateRequest(req domain.PromptRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return domain.NewError(domain.KindInvalidInput, "validate request", errors.New("empty prompt text"))
	}
	info, err := os.Stat(req.ImagePath)
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, "validate request", fmt.Errorf("image: %w", err))
	}
	if info.IsDir() {
		return domain.NewError(domain.KindInvalidInput, "validate request",
			fmt.Errorf("image %s is a directory", req.ImagePath))
	}
	return nil
}
