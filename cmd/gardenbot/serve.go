package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gardenbot/internal/analysis"
	"gardenbot/internal/browser"
	"gardenbot/internal/bus"
	"gardenbot/internal/channel"
	"gardenbot/internal/config"
	"gardenbot/internal/driver"
	"gardenbot/internal/store"
	"gardenbot/internal/telemetry"

	"github.com/spf13/cobra"
)

// app holds the wired components shared by serve and analyze.
type app struct {
	bridge  *browser.Bridge
	service *analysis.Service
	store   *store.SQLiteStore // nil when the store is disabled
}

func (a *app) Close() {
	a.bridge.Close()
	if a.store != nil {
		a.store.Close()
	}
}

func loadContract(cfg *config.Config) (browser.Contract, error) {
	c := browser.ChatGPTContract()
	if cfg.Browser.ContractPath != "" {
		var err error
		if c, err = browser.LoadContract(cfg.Browser.ContractPath); err != nil {
			return c, err
		}
	}
	if cfg.Browser.ConversationURL != "" {
		c.ConversationURL = cfg.Browser.ConversationURL
	}
	return c, nil
}

func newBridge(cfg *config.Config, contract browser.Contract) *browser.Bridge {
	return browser.NewBridge(browser.BridgeConfig{
		DebugURL:        cfg.Browser.DebugURL,
		Contract:        contract,
		NavigateTimeout: cfg.Browser.NavigateTimeout.Std(),
		SettleDelay:     cfg.Browser.SettleDelay.Std(),
		Logger:          logger,
	})
}

func newTelemetry(cfg *config.Config) *telemetry.Client {
	return telemetry.NewClient(telemetry.ClientConfig{
		BaseURL:     cfg.Telemetry.BaseURL,
		Timeout:     cfg.Telemetry.Timeout.Std(),
		Calibration: telemetry.NewCalibration(cfg.Telemetry.SoilDry, cfg.Telemetry.SoilWet),
		Logger:      logger,
	})
}

// buildApp wires browser, pipeline, device, store and service. notifier and
// events may be nil.
func buildApp(cfg *config.Config, notifier driver.LoginNotifier, events *bus.EventBus) (*app, error) {
	contract, err := loadContract(cfg)
	if err != nil {
		return nil, err
	}
	bridge := newBridge(cfg, contract)

	pipeline := driver.NewPipeline(driver.PipelineConfig{
		Attacher:        bridge,
		Timings:         cfg.DriverTimings(),
		Notifier:        notifier,
		ConversationURL: contract.ConversationURL,
		RejectWhenBusy:  cfg.General.RejectWhenBusy,
		Logger:          logger,
	})

	a := &app{bridge: bridge}
	svcCfg := analysis.Config{
		Telemetry: newTelemetry(cfg),
		Runner:    pipeline,
		Preamble:  cfg.General.Preamble,
		UploadDir: config.ExpandPath(cfg.General.UploadDir),
		Retention: cfg.Retention(),
		Limiter:   cfg.Limiter(),
		Logger:    logger,
	}
	if events != nil {
		svcCfg.Events = events
	}
	if cfg.Store.Enabled {
		st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
		if err != nil {
			bridge.Close()
			return nil, fmt.Errorf("analysis store: %w", err)
		}
		a.store = st
		svcCfg.Store = st
	}
	if err := os.MkdirAll(svcCfg.UploadDir, 0o755); err != nil {
		a.Close()
		return nil, fmt.Errorf("upload dir: %w", err)
	}
	a.service = analysis.NewService(svcCfg)
	return a, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway and the Telegram bot",
		Long:  "Starts all enabled channels (Web, Telegram) in front of the chat session. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := bus.NewEventBus(logger)
	notifiers := driver.LoginNotifiers{events}

	tg := cfg.Channels.Telegram
	var telegramCh *channel.Telegram
	if tg.Enabled && tg.Token != "" {
		telegramCh = channel.NewTelegram(channel.TelegramConfig{
			Token:          tg.Token,
			AllowFrom:      tg.AllowFrom,
			NotifyChatID:   tg.NotifyChatID,
			ParseMode:      tg.ParseMode,
			AnalyzeTimeout: cfg.General.RequestTimeout.Std(),
			Logger:         logger,
		})
		notifiers = append(notifiers, telegramCh)
	}

	a, err := buildApp(cfg, notifiers, events)
	if err != nil {
		return err
	}
	defer a.Close()

	probeCtx, probeCancel := context.WithTimeout(ctx, 10*time.Second)
	if product, err := a.bridge.Probe(probeCtx); err != nil {
		logger.Warn("browser not reachable at startup, will retry per request", "debugUrl", cfg.Browser.DebugURL, "err", err)
	} else {
		logger.Info("browser reachable", "product", product)
	}
	probeCancel()

	var wg sync.WaitGroup
	if telegramCh != nil {
		telegramCh.SetAnalyzer(a.service)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := telegramCh.Start(ctx); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	var webCh *channel.Web
	if cfg.Channels.Web.Enabled {
		web := cfg.Channels.Web
		webCh = channel.NewWeb(channel.WebConfig{
			Host:     web.Host,
			Port:     web.Port,
			Analyzer: a.service,
			Auth: channel.WebAuth{
				Enabled:      web.Auth.Enabled,
				Username:     web.Auth.Username,
				PasswordHash: web.Auth.PasswordHash,
			},
			Metrics:        cfg.Metrics.Enabled,
			Events:         events,
			RequestTimeout: cfg.General.RequestTimeout.Std(),
			MaxUploadBytes: cfg.MaxUploadBytes(),
			Version:        version,
			Logger:         logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := webCh.Start(ctx); err != nil {
				logger.Error("web channel error", "err", err)
				stop()
			}
		}()
	}

	if telegramCh == nil && webCh == nil {
		return fmt.Errorf("no channel enabled: enable channels.web or channels.telegram")
	}

	logger.Info("gardenbot started. Press Ctrl+C to stop.", "version", version)

	<-ctx.Done()
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		if webCh != nil {
			webCh.Stop()
		}
		return fmt.Errorf("shutdown timed out")
	}
}
