// Package store persists analysis records in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gardenbot/internal/domain"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const columns = `id, source, temperature_c, humidity_pct, soil_percent, soil_raw, captured_at,
	raw_reply, verdict, error, error_kind, elapsed_ms, created_at`

// SQLiteStore implements domain.AnalysisStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Save inserts rec. A missing ID is generated and a zero timestamp is set to now.
func (s *SQLiteStore) Save(ctx context.Context, rec domain.AnalysisRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	var verdict string
	if rec.Verdict != nil {
		b, err := json.Marshal(rec.Verdict)
		if err != nil {
			return fmt.Errorf("encode verdict: %w", err)
		}
		verdict = string(b)
	}

	var capturedAt sql.NullInt64
	if !rec.Telemetry.CapturedAt.IsZero() {
		capturedAt = sql.NullInt64{Int64: rec.Telemetry.CapturedAt.UnixMilli(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analyses (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Source),
		rec.Telemetry.TemperatureC, rec.Telemetry.HumidityPct, rec.Telemetry.SoilPercent, rec.Telemetry.SoilRaw, capturedAt,
		rec.RawReply, verdict, rec.Error, string(rec.ErrorKind), rec.Elapsed.Milliseconds(),
		rec.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save analysis %s: %w", rec.ID, err)
	}
	s.logger.Debug("analysis saved", "id", rec.ID, "source", rec.Source, "failed", rec.Error != "")
	return nil
}

// Get returns the record with id, or nil if there is none.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM analyses WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Latest returns up to limit records, newest first.
func (s *SQLiteStore) Latest(ctx context.Context, limit int) ([]domain.AnalysisRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM analyses ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.AnalysisRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// Prune deletes records created before olderThan and reports how many went.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE created_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune analyses: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("pruned old analyses", "count", n, "before", olderThan.Format(time.RFC3339))
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*domain.AnalysisRecord, error) {
	var (
		rec                   domain.AnalysisRecord
		source, verdict, kind string
		capturedAt            sql.NullInt64
		elapsedMS, createdAt  int64
	)
	if err := sc.Scan(&rec.ID, &source,
		&rec.Telemetry.TemperatureC, &rec.Telemetry.HumidityPct, &rec.Telemetry.SoilPercent, &rec.Telemetry.SoilRaw, &capturedAt,
		&rec.RawReply, &verdict, &rec.Error, &kind, &elapsedMS, &createdAt); err != nil {
		return nil, err
	}
	rec.Source = domain.AnalysisSource(source)
	rec.ErrorKind = domain.ErrorKind(kind)
	rec.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	rec.Timestamp = time.UnixMilli(createdAt).UTC()
	if capturedAt.Valid {
		rec.Telemetry.CapturedAt = time.UnixMilli(capturedAt.Int64).UTC()
	}
	if verdict != "" {
		if err := json.Unmarshal([]byte(verdict), &rec.Verdict); err != nil {
			return nil, fmt.Errorf("decode verdict of %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}
