// Package analysis runs one plant analysis end to end: read the device,
// drive the chat session, keep a record of the outcome.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gardenbot/internal/bus"
	"gardenbot/internal/domain"
	"gardenbot/internal/driver"

	"github.com/google/uuid"
)

// DefaultPreamble opens every prompt.
const DefaultPreamble = "This is my plant and its sensor data:"

// TelemetrySource is the edge device as the service sees it.
type TelemetrySource interface {
	Snapshot(ctx context.Context) (domain.TelemetrySnapshot, error)
	SavePhoto(ctx context.Context, path string) error
}

// Runner executes a prompt against the chat session.
type Runner interface {
	Run(ctx context.Context, req domain.PromptRequest) (*driver.Result, error)
	Busy() bool
}

// Publisher receives progress events.
type Publisher interface {
	Emit(e bus.Event)
}

// Service composes prompts from telemetry and records every analysis.
type Service struct {
	telemetry TelemetrySource
	runner    Runner
	store     domain.AnalysisStore
	preamble  string
	uploadDir string
	retention time.Duration
	limiter   *RateLimiter
	events    Publisher
	logger    *slog.Logger
}

// Config holds the service's collaborators.
type Config struct {
	Telemetry TelemetrySource
	Runner    Runner
	Store     domain.AnalysisStore // optional; nothing is recorded without it
	Preamble  string
	UploadDir string
	Retention time.Duration // records older than this are pruned after each save; 0 keeps all
	Limiter   *RateLimiter  // optional quota on prompts sent to the chat application
	Events    Publisher     // optional progress sink
	Logger    *slog.Logger
}

func NewService(cfg Config) *Service {
	if cfg.Preamble == "" {
		cfg.Preamble = DefaultPreamble
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		telemetry: cfg.Telemetry,
		runner:    cfg.Runner,
		store:     cfg.Store,
		preamble:  cfg.Preamble,
		uploadDir: cfg.UploadDir,
		retention: cfg.Retention,
		limiter:   cfg.Limiter,
		events:    cfg.Events,
		logger:    cfg.Logger,
	}
}

// Busy reports whether an analysis currently holds the chat session.
func (s *Service) Busy() bool {
	return s.runner.Busy()
}

// photoPath returns a fresh file for one device snapshot. Requests waiting
// for the session must not overwrite the image of the one holding it.
func (s *Service) photoPath() string {
	return filepath.Join(s.uploadDir, "latest-"+uuid.NewString()+".jpg")
}

// AnalyzeLatest reads the device's sensors and camera and analyzes both.
func (s *Service) AnalyzeLatest(ctx context.Context) (domain.Verdict, error) {
	rec := domain.AnalysisRecord{Source: domain.SourceDevice}
	s.emit(bus.EventAnalysisStarted, map[string]any{"source": rec.Source})

	snap, err := s.telemetry.Snapshot(ctx)
	if err != nil {
		return nil, s.finish(ctx, &rec, nil, err)
	}
	rec.Telemetry = snap

	path := s.photoPath()
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("remove device photo", "path", path, "err", err)
		}
	}()
	if err := s.telemetry.SavePhoto(ctx, path); err != nil {
		return nil, s.finish(ctx, &rec, nil, err)
	}
	return s.analyze(ctx, &rec, path)
}

// AnalyzeImage analyzes imagePath together with the device's current sensor
// readings.
func (s *Service) AnalyzeImage(ctx context.Context, imagePath string) (domain.Verdict, error) {
	rec := domain.AnalysisRecord{Source: domain.SourceUpload}
	s.emit(bus.EventAnalysisStarted, map[string]any{"source": rec.Source, "image": filepath.Base(imagePath)})

	snap, err := s.telemetry.Snapshot(ctx)
	if err != nil {
		return nil, s.finish(ctx, &rec, nil, err)
	}
	rec.Telemetry = snap
	return s.analyze(ctx, &rec, imagePath)
}

func (s *Service) analyze(ctx context.Context, rec *domain.AnalysisRecord, imagePath string) (domain.Verdict, error) {
	if s.limiter != nil {
		if ok, wait := s.limiter.Allow(); !ok {
			err := domain.NewError(domain.KindRateLimited, "analyze",
				fmt.Errorf("analysis quota used up, next slot in %s", wait.Round(time.Second)))
			return nil, s.finish(ctx, rec, nil, err)
		}
	}

	req := domain.NewPromptRequest(s.preamble, rec.Telemetry, imagePath)
	s.logger.Info("starting analysis", "source", rec.Source, "image", imagePath)

	res, err := s.runner.Run(ctx, req)
	if err != nil {
		return nil, s.finish(ctx, rec, res, err)
	}
	rec.Verdict = res.Verdict
	s.finish(ctx, rec, res, nil)
	return res.Verdict, nil
}

// finish records the outcome and returns err unchanged. Storage problems are
// logged; they never turn a finished analysis into a failed one.
func (s *Service) finish(ctx context.Context, rec *domain.AnalysisRecord, res *driver.Result, err error) error {
	if res != nil {
		rec.RawReply = res.RawReply
		rec.Elapsed = res.Elapsed
	}
	if err != nil {
		rec.Error = err.Error()
		rec.ErrorKind = domain.KindOf(err)
		s.emit(bus.EventAnalysisFailed, map[string]any{
			"source": rec.Source, "kind": rec.ErrorKind, "error": rec.Error,
		})
	} else {
		s.emit(bus.EventAnalysisFinished, map[string]any{
			"source": rec.Source, "verdict": rec.Verdict, "elapsed": rec.Elapsed.Round(time.Millisecond).String(),
		})
	}
	if s.store == nil {
		return err
	}

	// The caller may have gone away; the record is still worth keeping.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	rec.Timestamp = time.Now().UTC()
	if serr := s.store.Save(saveCtx, *rec); serr != nil {
		s.logger.Error("failed to record analysis", "err", serr)
		return err
	}
	if s.retention > 0 {
		if _, perr := s.store.Prune(saveCtx, time.Now().Add(-s.retention)); perr != nil {
			s.logger.Warn("prune failed", "err", perr)
		}
	}
	return err
}

func (s *Service) emit(typ string, payload map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Emit(bus.Event{Type: typ, Source: "analysis", Payload: payload})
}

// History returns up to limit stored analyses, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]domain.AnalysisRecord, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.Latest(ctx, limit)
}
