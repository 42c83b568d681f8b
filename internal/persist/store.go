// Package persist carries the in-memory period cache across sessions. The
// snapshot lives in a local sqlite database and is validated on load:
// wrong version or too old and it is wiped rather than trusted.
package persist

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

	_ "modernc.org/sqlite"

	"conto/internal/cache"
	"conto/internal/core"
)

// SnapshotVersion stamps the on-disk format. A stored snapshot with any
// other version is discarded on load.
const SnapshotVersion = 1

const (
	// MaxSnapshotAge bounds the whole blob's age.
	MaxSnapshotAge = 24 * time.Hour
	// MaxMonthEntryAge bounds individual month-partition entries.
	MaxMonthEntryAge = 6 * time.Hour
	// MaxOtherEntryAge bounds every other entry class.
	MaxOtherEntryAge = 2 * time.Hour
)

// Store reads and writes cache snapshots.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

type envelope struct {
	Version   int                    `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]storedEntry `json:"data"`
}

type storedEntry struct {
	Data         []core.Transaction `json:"data"`
	Timestamp    time.Time          `json:"timestamp"`
	IsValidating bool               `json:"isValidating"`
}

// NewStore opens (and migrates) the snapshot database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open snapshot database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping snapshot database: %w", err)
	}
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save writes the cache entries as one versioned snapshot. Keys outside
// the transaction cache domain are skipped.
func (s *Store) Save(ctx context.Context, entries map[string]cache.Entry) error {
	data := make(map[string]storedEntry, len(entries))
	for key, e := range entries {
		if !core.IsPeriodKey(key) {
			continue
		}
		data[key] = storedEntry{Data: e.Data, Timestamp: e.Timestamp}
	}

	payload, err := json.Marshal(envelope{
		Version:   SnapshotVersion,
		Timestamp: s.now(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_snapshot (id, version, saved_at, payload)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			version = excluded.version,
			saved_at = excluded.saved_at,
			payload = excluded.payload`,
		SnapshotVersion, s.now(), string(payload))
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	slog.DebugContext(ctx, "Cache snapshot saved", "entries", len(data))
	return nil
}

// Load restores the latest snapshot. A corrupt, outdated or stale
// snapshot is wiped and reported as a clean miss; callers never see an
// error for anything self-healing.
func (s *Store) Load(ctx context.Context) map[string]cache.Entry {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM cache_snapshot WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		slog.WarnContext(ctx, "Snapshot read failed, clearing store", "error", err)
		s.Clear(ctx)
		return nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		slog.WarnContext(ctx, "Snapshot payload corrupt, clearing store", "error", err)
		s.Clear(ctx)
		return nil
	}

	if env.Version != SnapshotVersion {
		slog.InfoContext(ctx, "Snapshot version mismatch, clearing store",
			"stored", env.Version,
			"running", SnapshotVersion)
		s.Clear(ctx)
		return nil
	}

	now := s.now()
	if now.Sub(env.Timestamp) > MaxSnapshotAge {
		slog.InfoContext(ctx, "Snapshot too old, clearing store",
			"age", now.Sub(env.Timestamp))
		s.Clear(ctx)
		return nil
	}

	entries := make(map[string]cache.Entry, len(env.Data))
	dropped := 0
	for key, e := range env.Data {
		if now.Sub(e.Timestamp) > maxEntryAge(key) {
			dropped++
			continue
		}
		entries[key] = cache.Entry{Data: e.Data, Timestamp: e.Timestamp}
	}

	slog.InfoContext(ctx, "Cache snapshot restored",
		"entries", len(entries),
		"dropped_stale", dropped)
	return entries
}

// Clear drops the stored snapshot.
func (s *Store) Clear(ctx context.Context) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_snapshot`); err != nil {
		slog.ErrorContext(ctx, "Failed to clear snapshot store", "error", err)
	}
}

// SavedAt returns the timestamp of the stored snapshot, or zero when none
// exists. Diagnostic use only.
func (s *Store) SavedAt(ctx context.Context) time.Time {
	var savedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT saved_at FROM cache_snapshot WHERE id = 1`).Scan(&savedAt)
	if err != nil {
		return time.Time{}
	}
	return savedAt
}

// maxEntryAge gives month partitions a longer durable life than the more
// volatile range and aggregate entries.
func maxEntryAge(key string) time.Duration {
	if core.IsMonthKey(key) {
		return MaxMonthEntryAge
	}
	return MaxOtherEntryAge
}
