// Package journal keeps an optional SQLite history of status events.
// Ephemeral retention, the default, journals nothing and never touches
// disk.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/showctl/exabridge/internal/config"
	"github.com/showctl/exabridge/internal/status"
)

// timeLayout is RFC 3339 with fixed-width fractional seconds, so the
// stored strings order chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Record is one journaled status observation.
type Record struct {
	ID        int64         `json:"id"`
	Seq       uint64        `json:"seq"`
	Status    status.Status `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Store wraps the SQLite-backed status journal.
type Store struct {
	db    *sql.DB
	cfg   config.JournalConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the journal according to config.
func Open(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == config.RetentionEphemeral {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("journal vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("journal prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS statuses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    seq INTEGER NOT NULL,
    composition TEXT NOT NULL,
    state TEXT NOT NULL,
    position REAL NOT NULL,
    frame INTEGER NOT NULL,
    clip_index INTEGER NOT NULL,
    duration REAL NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_statuses_composition_id ON statuses(composition, id);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Persistent reports whether the journal writes to disk.
func (s *Store) Persistent() bool {
	return s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append writes one status observation. A no-op on ephemeral stores.
func (s *Store) Append(ctx context.Context, seq uint64, st status.Status) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO statuses(seq, composition, state, position, frame, clip_index, duration, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		seq, st.Composition, string(st.State), st.Time, st.Frame, st.ClipIndex, st.Duration,
		s.clock().UTC().Format(timeLayout))
	return err
}

// ListComposition retrieves up to limit records for a composition,
// newest first.
func (s *Store) ListComposition(ctx context.Context, composition string, limit int) ([]Record, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seq, composition, state, position, frame, clip_index, duration, created_at
		 FROM statuses WHERE composition = ? ORDER BY id DESC LIMIT ?`, composition, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var state, created string
		if err := rows.Scan(&r.ID, &r.Seq, &r.Status.Composition, &state,
			&r.Status.Time, &r.Status.Frame, &r.Status.ClipIndex, &r.Status.Duration, &created); err != nil {
			return nil, err
		}
		r.Status.State = status.State(state)
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Count reports the number of journaled records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, nil
	}
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM statuses`).Scan(&n)
	return n, err
}

// Prune applies configured retention. Called on startup.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM statuses WHERE created_at < ?`,
			cutoff.UTC().Format(timeLayout)); err != nil {
			return err
		}
	}
	if s.cfg.MaxEvents > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM statuses WHERE id IN (
			SELECT id FROM statuses ORDER BY id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxEvents)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
