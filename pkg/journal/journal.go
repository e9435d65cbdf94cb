// Package journal keeps a SQLite record of every capture the scanner made,
// whether or not it was rectified or uploaded.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for an unknown capture ID.
var ErrNotFound = errors.New("journal: capture not found")

// Entry is one recorded capture.
type Entry struct {
	ID         string    `json:"id"`
	Mode       string    `json:"capture_mode"`
	Quadrant   string    `json:"quadrant,omitempty"`
	Sequence   int       `json:"sequence_number,omitempty"`
	Rectified  bool      `json:"rectified"`
	Fallback   string    `json:"fallback,omitempty"` // Why rectification was skipped
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Sharpness  float64   `json:"sharpness"`
	Uploaded   bool      `json:"uploaded"`
	Location   string    `json:"location,omitempty"`
	Error      string    `json:"error,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// timeLayout is fixed-width so captured_at sorts chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the SQLite database.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the database at path and ensures schema.
// Use ":memory:" for a throwaway journal.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS captures (
            id TEXT PRIMARY KEY,
            capture_mode TEXT NOT NULL,
            quadrant TEXT,
            sequence_number INTEGER,
            rectified BOOLEAN NOT NULL DEFAULT FALSE,
            fallback TEXT,
            width INTEGER,
            height INTEGER,
            sharpness REAL,
            uploaded BOOLEAN NOT NULL DEFAULT FALSE,
            location TEXT,
            error_message TEXT,
            captured_at TEXT NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_captures_captured_at ON captures(captured_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return fmt.Errorf("journal: schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Record inserts or replaces a capture. A nil store records nothing.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if s == nil {
		return nil
	}
	if e.ID == "" {
		return errors.New("journal: entry without id")
	}
	if e.CapturedAt.IsZero() {
		e.CapturedAt = time.Now()
	}
	_, err := s.DB.ExecContext(ctx, `INSERT OR REPLACE INTO captures
        (id, capture_mode, quadrant, sequence_number, rectified, fallback, width, height, sharpness, uploaded, location, error_message, captured_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.ID, e.Mode, e.Quadrant, e.Sequence, e.Rectified, e.Fallback, e.Width, e.Height, e.Sharpness,
		e.Uploaded, e.Location, e.Error, e.CapturedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("journal: record %s: %w", e.ID, err)
	}
	return nil
}

const selectEntry = `SELECT id, capture_mode, quadrant, sequence_number, rectified, fallback, width, height,
        sharpness, uploaded, location, error_message, captured_at FROM captures`

// List returns the latest captures, newest first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil {
		return nil, errors.New("journal: store not initialized")
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.DB.QueryContext(ctx, selectEntry+` ORDER BY captured_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns one capture by ID.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	if s == nil {
		return Entry{}, errors.New("journal: store not initialized")
	}
	e, err := scanEntry(s.DB.QueryRowContext(ctx, selectEntry+` WHERE id=?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var quadrant, fallback, location, errMsg sql.NullString
	var seq, width, height sql.NullInt64
	var sharpness sql.NullFloat64
	var capturedAt string

	if err := row.Scan(&e.ID, &e.Mode, &quadrant, &seq, &e.Rectified, &fallback, &width, &height,
		&sharpness, &e.Uploaded, &location, &errMsg, &capturedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("journal: scan: %w", err)
	}

	e.Quadrant = quadrant.String
	e.Sequence = int(seq.Int64)
	e.Fallback = fallback.String
	e.Width = int(width.Int64)
	e.Height = int(height.Int64)
	e.Sharpness = sharpness.Float64
	e.Location = location.String
	e.Error = errMsg.String

	t, err := time.Parse(timeLayout, capturedAt)
	if err != nil {
		return e, fmt.Errorf("journal: captured_at %q: %w", capturedAt, err)
	}
	e.CapturedAt = t
	return e, nil
}
