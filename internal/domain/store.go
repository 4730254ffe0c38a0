package domain

import (
	"context"
	"time"
)

// AnalysisSource records what triggered an analysis.
type AnalysisSource string

const (
	SourceDevice AnalysisSource = "device"
	SourceUpload AnalysisSource = "upload"
)

// AnalysisRecord is one persisted analysis, successful or not.
type AnalysisRecord struct {
	ID        string            `json:"_id"`
	Source    AnalysisSource    `json:"source"`
	Telemetry TelemetrySnapshot `json:"telemetry"`
	RawReply  string            `json:"raw_reply,omitempty"`
	Verdict   Verdict           `json:"verdict,omitempty"`
	Error     string            `json:"error,omitempty"`
	ErrorKind ErrorKind         `json:"error_kind,omitempty"`
	Elapsed   time.Duration     `json:"elapsed_ns,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// AnalysisStore persists analysis records.
type AnalysisStore interface {
	Save(ctx context.Context, rec AnalysisRecord) error
	Get(ctx context.Context, id string) (*AnalysisRecord, error)
	Latest(ctx context.Context, limit int) ([]AnalysisRecord, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}
