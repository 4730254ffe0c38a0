package channel

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"gardenbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	verdict  domain.Verdict
	err      error
	busy     bool
	history  []domain.AnalysisRecord
	uploads  map[string]string
	analyzed []string
	done     chan struct{}
}

func (f *fakeAnalyzer) AnalyzeLatest(ctx context.Context) (domain.Verdict, error) {
	return f.analyze("latest")
}

func (f *fakeAnalyzer) AnalyzeImage(ctx context.Context, path string) (domain.Verdict, error) {
	return f.analyze(path)
}

func (f *fakeAnalyzer) analyze(what string) (domain.Verdict, error) {
	f.mu.Lock()
	f.analyzed = append(f.analyzed, what)
	f.mu.Unlock()
	if f.done != nil {
		defer func() { f.done <- struct{}{} }()
	}
	return f.verdict, f.err
}

func (f *fakeAnalyzer) SaveUpload(name string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploads == nil {
		f.uploads = map[string]string{}
	}
	path := "/uploads/" + name
	f.uploads[path] = string(data)
	return path, nil
}

func (f *fakeAnalyzer) History(ctx context.Context, limit int) ([]domain.AnalysisRecord, error) {
	if len(f.history) > limit {
		return f.history[:limit], nil
	}
	return f.history, nil
}

func (f *fakeAnalyzer) Busy() bool { return f.busy }
