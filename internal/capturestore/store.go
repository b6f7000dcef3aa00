// Package capturestore manages capture and sentiment-sample persistence
// backed by SQLite.
//
// A capture row holds the metadata of one stored webcam recording; the blob
// itself lives on disk under the store's data directory. Sentiment samples
// reference a capture when one is known and are stored unlinked otherwise.
package capturestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("capturestore: not found")

// timeFormat is a fixed-width RFC 3339 layout for created_at columns.
// RFC3339Nano truncates trailing fractional zeros, so its strings do not sort
// chronologically within a second ("...00.1Z" > "...00.09Z" as text); the
// zero-padded form keeps ORDER BY created_at correct.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Capture is one stored webcam recording's metadata row.
type Capture struct {
	ID           string
	UserID       string
	ExperimentID string
	MimeType     string
	Size         int64
	Duration     float64
	Path         string
	CreatedAt    time.Time
}

// SampleRecord is one stored sentiment sample. CaptureID is empty for
// unlinked samples.
type SampleRecord struct {
	CaptureID   string
	UserID      string
	Timestamp   float64
	Expressions map[string]float64
}

// Store manages capture persistence backed by SQLite.
type Store struct {
	db      *sql.DB
	dataDir string
}

// Open initializes or connects to the capture database at dbPath and stages
// recording blobs under dataDir. Both parent directories are created.
func Open(dbPath, dataDir string) (*Store, error) {
	for _, dir := range []string{filepath.Dir(dbPath), dataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("capturestore: ensure directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("capturestore: open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("capturestore: apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, dataDir: dataDir}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// applyMigrations creates the schema when missing.
func (s *Store) applyMigrations(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS captures (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    experiment_id TEXT NOT NULL DEFAULT '',
    mime_type     TEXT NOT NULL DEFAULT '',
    size          INTEGER NOT NULL DEFAULT 0,
    duration      REAL NOT NULL DEFAULT 0,
    path          TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_captures_user_created
    ON captures (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS sentiment_samples (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    capture_id  TEXT REFERENCES captures (id),
    user_id     TEXT NOT NULL,
    ts          REAL NOT NULL,
    expressions TEXT NOT NULL,
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_samples_capture ON sentiment_samples (capture_id);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("capturestore: apply schema: %w", err)
	}
	return nil
}

// SaveCapture writes the recording blob to the data directory and inserts
// its metadata row. The assigned capture ID is returned on the stored copy.
func (s *Store) SaveCapture(ctx context.Context, cap Capture, blob []byte) (*Capture, error) {
	if cap.UserID == "" {
		return nil, fmt.Errorf("capturestore: user id is required")
	}

	cap.ID = uuid.NewString()
	cap.CreatedAt = time.Now().UTC()
	cap.Size = int64(len(blob))

	if len(blob) > 0 {
		cap.Path = filepath.Join(s.dataDir, cap.ID+extForMime(cap.MimeType))
		if err := os.WriteFile(cap.Path, blob, 0o644); err != nil {
			return nil, fmt.Errorf("capturestore: write blob: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO captures (id, user_id, experiment_id, mime_type, size, duration, path, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cap.ID, cap.UserID, cap.ExperimentID, cap.MimeType, cap.Size, cap.Duration, cap.Path,
		cap.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		if cap.Path != "" {
			_ = os.Remove(cap.Path)
		}
		return nil, fmt.Errorf("capturestore: insert capture: %w", err)
	}
	return &cap, nil
}

// GetCapture returns the capture with the given id, or [ErrNotFound].
func (s *Store) GetCapture(ctx context.Context, id string) (*Capture, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, experiment_id, mime_type, size, duration, path, created_at
         FROM captures WHERE id = ?`, id)
	return scanCapture(row)
}

// MostRecentCapture returns the newest capture for userID, or [ErrNotFound]
// when the participant has no stored captures. This backs the best-effort
// fallback link for sentiment submissions that arrive without a capture id.
func (s *Store) MostRecentCapture(ctx context.Context, userID string) (*Capture, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, experiment_id, mime_type, size, duration, path, created_at
         FROM captures WHERE user_id = ?
         ORDER BY created_at DESC LIMIT 1`, userID)
	return scanCapture(row)
}

// SaveSamples inserts the given sample records in one transaction.
func (s *Store) SaveSamples(ctx context.Context, records []SampleRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("capturestore: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sentiment_samples (capture_id, user_id, ts, expressions, created_at)
         VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("capturestore: prepare sample insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(timeFormat)
	for _, rec := range records {
		expressions, err := encodeExpressions(rec.Expressions)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			nullableString(rec.CaptureID), rec.UserID, rec.Timestamp, expressions, now,
		); err != nil {
			return fmt.Errorf("capturestore: insert sample: %w", err)
		}
	}
	return tx.Commit()
}

// SamplesForCapture returns all samples linked to captureID in insertion
// order.
func (s *Store) SamplesForCapture(ctx context.Context, captureID string) ([]SampleRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT capture_id, user_id, ts, expressions
         FROM sentiment_samples WHERE capture_id = ? ORDER BY id`, captureID)
	if err != nil {
		return nil, fmt.Errorf("capturestore: query samples: %w", err)
	}
	defer rows.Close()
	return scanSamples(rows)
}

// UnlinkedSamplesForUser returns the user's samples that have no capture
// link, in insertion order.
func (s *Store) UnlinkedSamplesForUser(ctx context.Context, userID string) ([]SampleRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT capture_id, user_id, ts, expressions
         FROM sentiment_samples WHERE user_id = ? AND capture_id IS NULL ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("capturestore: query unlinked samples: %w", err)
	}
	defer rows.Close()
	return scanSamples(rows)
}

// Ping verifies the database connection, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func scanCapture(row *sql.Row) (*Capture, error) {
	var (
		cap       Capture
		createdAt string
	)
	err := row.Scan(&cap.ID, &cap.UserID, &cap.ExperimentID, &cap.MimeType,
		&cap.Size, &cap.Duration, &cap.Path, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("capturestore: scan capture: %w", err)
	}
	cap.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("capturestore: parse capture timestamp: %w", err)
	}
	return &cap, nil
}

func scanSamples(rows *sql.Rows) ([]SampleRecord, error) {
	var records []SampleRecord
	for rows.Next() {
		var (
			rec         SampleRecord
			captureID   sql.NullString
			expressions string
		)
		if err := rows.Scan(&captureID, &rec.UserID, &rec.Timestamp, &expressions); err != nil {
			return nil, fmt.Errorf("capturestore: scan sample: %w", err)
		}
		rec.CaptureID = captureID.String
		if err := json.Unmarshal([]byte(expressions), &rec.Expressions); err != nil {
			return nil, fmt.Errorf("capturestore: decode expressions: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("capturestore: iterate samples: %w", err)
	}
	return records, nil
}

func encodeExpressions(expressions map[string]float64) (string, error) {
	if expressions == nil {
		expressions = map[string]float64{}
	}
	encoded, err := json.Marshal(expressions)
	if err != nil {
		return "", fmt.Errorf("capturestore: encode expressions: %w", err)
	}
	return string(encoded), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func extForMime(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "webm"):
		return ".webm"
	case strings.Contains(mimeType, "mp4"):
		return ".mp4"
	case strings.Contains(mimeType, "matroska"):
		return ".mkv"
	default:
		return ".bin"
	}
}
