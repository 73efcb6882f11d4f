// Package settings persists the client-local notification toggles.
//
// These toggles are the only durable state the client keeps. A missing
// record loads as types.DefaultNotificationSettings.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pilot-net/healthdash/pkg/types"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Store loads and saves notification settings.
type Store interface {
	Load(ctx context.Context) (types.NotificationSettings, error)
	Save(ctx context.Context, s types.NotificationSettings) error
}

// =============================================================================
// SQLITE
// =============================================================================

// SQLiteStore keeps settings in a single-row SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the settings database at path and
// applies pending schema migrations. logger may be nil.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("settings: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("settings: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("settings: pragma %q: %w", p, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("settings: migration: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load returns the stored settings, or the defaults when none were saved.
func (s *SQLiteStore) Load(ctx context.Context) (types.NotificationSettings, error) {
	var out types.NotificationSettings
	err := s.db.QueryRowContext(ctx,
		`SELECT sound_enabled, desktop_enabled FROM notification_settings WHERE id = 1`,
	).Scan(&out.SoundEnabled, &out.DesktopEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return types.DefaultNotificationSettings(), nil
	}
	if err != nil {
		return types.NotificationSettings{}, fmt.Errorf("settings: load: %w", err)
	}
	return out, nil
}

// Save upserts the settings row.
func (s *SQLiteStore) Save(ctx context.Context, ns types.NotificationSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_settings (id, sound_enabled, desktop_enabled, updated_at)
		VALUES (1, ?, ?, datetime('now'))
		ON CONFLICT(id) DO UPDATE SET
			sound_enabled   = excluded.sound_enabled,
			desktop_enabled = excluded.desktop_enabled,
			updated_at      = excluded.updated_at`,
		ns.SoundEnabled, ns.DesktopEnabled)
	if err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// MEMORY
// =============================================================================

// MemoryStore keeps settings in memory. Used when no path is configured.
type MemoryStore struct {
	mu    sync.Mutex
	saved *types.NotificationSettings
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (types.NotificationSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		return types.DefaultNotificationSettings(), nil
	}
	return *m.saved, nil
}

func (m *MemoryStore) Save(ctx context.Context, s types.NotificationSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = &s
	return nil
}
