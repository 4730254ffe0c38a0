package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gardenbot/internal/domain"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

const (
	defaultDebugURL        = "ws://127.0.0.1:9222"
	defaultNavigateTimeout = 30 * time.Second
	defaultSettleDelay     = 8 * time.Second
)

// Bridge attaches to a Chrome instance that is already running with remote
// debugging enabled. It never launches a browser, so whatever login state the
// operator left in that browser is reused.
type Bridge struct {
	debugURL        string
	contract        Contract
	navigateTimeout time.Duration
	settleDelay     time.Duration
	logger          *slog.Logger

	lock          chan struct{} // one slot; guards the cached connection
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// BridgeConfig holds configuration for the browser bridge.
type BridgeConfig struct {
	DebugURL        string        // DevTools address, e.g. ws://127.0.0.1:9222
	Contract        Contract      // page locators and conversation URL
	NavigateTimeout time.Duration // bound on dialing the browser and on the initial navigation
	SettleDelay     time.Duration // wait after navigation; 0 disables it, negative selects the 8s default
	Logger          *slog.Logger
}

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.DebugURL == "" {
		cfg.DebugURL = defaultDebugURL
	}
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = defaultNavigateTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.Contract.ConversationURL == "" {
		cfg.Contract = ChatGPTContract()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		debugURL:        cfg.DebugURL,
		contract:        cfg.Contract,
		navigateTimeout: cfg.NavigateTimeout,
		settleDelay:     cfg.SettleDelay,
		logger:          cfg.Logger,
		lock:            make(chan struct{}, 1),
	}
}

// Contract returns the page contract the bridge drives.
func (b *Bridge) Contract() Contract { return b.contract }

// connect returns the long-lived browser context, dialing the debug endpoint
// the first time or after a previous connection went away. The browser-level
// context owns a home tab; request tabs are children so closing one never
// touches the operator's browser.
//
// A browser that accepts the connection but never answers would block the
// dial forever, so the dial gives up when ctx is done or after the navigate
// timeout.
func (b *Bridge) connect(ctx context.Context) (context.Context, error) {
	select {
	case b.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-b.lock }()

	if b.browserCtx != nil && b.browserCtx.Err() == nil {
		return b.browserCtx, nil
	}

	// The connection lives as long as the context it was dialed with, so it
	// hangs off Background and the caller's ctx only bounds the wait.
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), b.debugURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		browserCancel()
		allocCancel()
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, b.navigateTimeout)
	defer dialCancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(browserCtx) }()

	select {
	case err := <-done:
		if err != nil {
			cancel()
			return nil, fmt.Errorf("connect to %s: %w", b.debugURL, err)
		}
	case <-dialCtx.Done():
		cancel()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("connect to %s: no answer within %s", b.debugURL, b.navigateTimeout)
	}

	b.browserCtx = browserCtx
	b.browserCancel = cancel
	b.logger.Info("connected to browser", "debugURL", b.debugURL)
	return browserCtx, nil
}

// reset drops the cached connection so the next Attach dials again.
func (b *Bridge) reset() {
	b.lock <- struct{}{}
	defer func() { <-b.lock }()
	if b.browserCancel != nil {
		b.browserCancel()
	}
	b.browserCtx = nil
	b.browserCancel = nil
}

// Close releases the DevTools connection. The browser keeps running.
func (b *Bridge) Close() {
	b.reset()
}

// Attach opens a new tab in the running browser, navigates it to the
// conversation URL and waits for the page to settle. The tab closes when the
// returned session is closed or ctx is cancelled.
func (b *Bridge) Attach(ctx context.Context) (domain.Session, error) {
	browserCtx, err := b.connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewError(domain.KindSessionUnavailable, "attach", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	stop := context.AfterFunc(ctx, tabCancel)
	closeTab := func() {
		stop()
		tabCancel()
	}

	b.logger.Info("opening conversation", "url", b.contract.ConversationURL, "contract", b.contract.Version)

	navCtx, navCancel := context.WithTimeout(tabCtx, b.navigateTimeout)
	err = chromedp.Run(navCtx, chromedp.Navigate(b.contract.ConversationURL))
	navCancel()
	if err != nil {
		closeTab()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.reset()
		return nil, domain.NewError(domain.KindSessionUnavailable, "attach",
			fmt.Errorf("navigate to %s: %w", b.contract.ConversationURL, err))
	}

	if b.settleDelay > 0 {
		if err := chromedp.Run(tabCtx, chromedp.Sleep(b.settleDelay)); err != nil {
			closeTab()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, domain.NewError(domain.KindSessionUnavailable, "attach", err)
		}
	}

	return &Page{
		taskCtx:  tabCtx,
		cancel:   closeTab,
		contract: b.contract,
		logger:   b.logger,
	}, nil
}

// Probe connects to the debug endpoint and reports the browser product string.
// Used by the status and doctor commands.
func (b *Bridge) Probe(ctx context.Context) (string, error) {
	browserCtx, err := b.connect(ctx)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var product string
	err = chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, p, _, _, _, err := cdpbrowser.GetVersion().Do(ctx)
		product = p
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("browser version: %w", err)
	}
	return product, nil
}
