package settings

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pilot-net/healthdash/pkg/types"
)

func TestSQLiteStore_DefaultsThenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.db")
	ctx := context.Background()

	store, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != types.DefaultNotificationSettings() {
		t.Errorf("expected defaults, got %+v", got)
	}

	want := types.NotificationSettings{SoundEnabled: false, DesktopEnabled: true}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	store.Close()

	// Settings survive reopening.
	reopened, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err = reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load after reopen failed: %v", err)
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestOpenSQLite_OpenError(t *testing.T) {
	orig := openDB
	t.Cleanup(func() { openDB = orig })
	openDB = func(driver, dsn string) (*sql.DB, error) {
		return nil, errors.New("disk on fire")
	}

	if _, err := OpenSQLite(filepath.Join(t.TempDir(), "settings.db"), nil); err == nil {
		t.Fatal("expected open error")
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	got, _ := store.Load(ctx)
	if got != types.DefaultNotificationSettings() {
		t.Errorf("expected defaults, got %+v", got)
	}

	want := types.NotificationSettings{SoundEnabled: true}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, _ = store.Load(ctx)
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion int
		wantName    string
		wantErr     bool
	}{
		{"001_notification_settings.sql", 1, "notification_settings", false},
		{"012_name_with_underscores.sql", 12, "name_with_underscores", false},
		{"invalid.sql", 0, "", true},
		{"abc_name.sql", 0, "", true},
		{"001_.sql", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, err := parseMigrationFilename(tt.filename)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %s, got nil", tt.filename)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for %s: %v", tt.filename, err)
			}
			if version != tt.wantVersion || name != tt.wantName {
				t.Errorf("got %d %q, want %d %q", version, name, tt.wantVersion, tt.wantName)
			}
		})
	}
}

func TestAvailableMigrations_Sorted(t *testing.T) {
	migrations, err := availableMigrations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) == 0 || migrations[0].version != 1 {
		t.Fatalf("expected migrations starting at 001, got %+v", migrations)
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i].version <= migrations[i-1].version {
			t.Errorf("migrations not sorted: %d after %d", migrations[i].version, migrations[i-1].version)
		}
	}
	for _, m := range migrations {
		if strings.TrimSpace(m.sql) == "" {
			t.Errorf("migration %03d_%s has empty SQL", m.version, m.name)
		}
	}
}

func TestRunMigrations_AppliesOnce(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer db.Close()

	available, _ := availableMigrations()
	n, err := runMigrations(ctx, db, testLogger())
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if n != len(available) {
		t.Errorf("expected %d migrations applied, got %d", len(available), n)
	}

	n, err = runMigrations(ctx, db, testLogger())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no pending migrations, got %d", n)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
