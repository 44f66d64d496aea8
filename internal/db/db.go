package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/phantompen/pen/internal/config"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// FileName is the database file inside the data directory.
const FileName = "pen.db"

// Init initializes the SQLite database at baseDir/pen.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.phantompen.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	// Pragmas in the connection string apply to every pooled connection.
	// _txlock=immediate makes BeginTx take the write lock up front so
	// concurrent writers wait on busy_timeout instead of failing on upgrade.
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS users (
		  id                   TEXT PRIMARY KEY,
		  email                TEXT,
		  first_name           TEXT,
		  last_name            TEXT,
		  profile_picture      TEXT,
		  onboarding_completed INTEGER NOT NULL DEFAULT 0,
		  memoir_public        INTEGER NOT NULL DEFAULT 0,
		  voice_style          TEXT,
		  writing_style        TEXT,
		  candor_level         TEXT,
		  humor_style          TEXT,
		  feeling_intent       TEXT,
		  opener               TEXT,
		  created_at           INTEGER NOT NULL,
		  updated_at           INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS whispers (
		  id           TEXT PRIMARY KEY,
		  user_id      TEXT NOT NULL,
		  title        TEXT NOT NULL,
		  transcript   TEXT NOT NULL,
		  content_json TEXT,
		  public       INTEGER NOT NULL DEFAULT 1,
		  revision     INTEGER NOT NULL DEFAULT 0,
		  created_at   INTEGER NOT NULL,
		  updated_at   INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_whispers_user_updated
		ON whispers(user_id, updated_at DESC);

		CREATE VIRTUAL TABLE IF NOT EXISTS whispers_fts USING fts5(
		  title,
		  transcript,
		  content='whispers',
		  content_rowid='rowid'
		);

		CREATE TRIGGER IF NOT EXISTS whispers_fts_ai AFTER INSERT ON whispers BEGIN
		  INSERT INTO whispers_fts(rowid, title, transcript)
		  VALUES (new.rowid, new.title, new.transcript);
		END;

		CREATE TRIGGER IF NOT EXISTS whispers_fts_ad AFTER DELETE ON whispers BEGIN
		  INSERT INTO whispers_fts(whispers_fts, rowid, title, transcript)
		  VALUES ('delete', old.rowid, old.title, old.transcript);
		END;

		CREATE TRIGGER IF NOT EXISTS whispers_fts_au AFTER UPDATE OF title, transcript ON whispers BEGIN
		  INSERT INTO whispers_fts(whispers_fts, rowid, title, transcript)
		  VALUES ('delete', old.rowid, old.title, old.transcript);
		  INSERT INTO whispers_fts(rowid, title, transcript)
		  VALUES (new.rowid, new.title, new.transcript);
		END;

		CREATE TABLE IF NOT EXISTS memoirs (
		  id           TEXT PRIMARY KEY,
		  user_id      TEXT NOT NULL,
		  whisper_id   TEXT NOT NULL,
		  date         TEXT NOT NULL,
		  title        TEXT NOT NULL,
		  content      TEXT NOT NULL,
		  public       INTEGER NOT NULL,
		  generated_at INTEGER NOT NULL,
		  created_at   INTEGER NOT NULL,
		  updated_at   INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_memoirs_whisper
		ON memoirs(whisper_id);

		CREATE INDEX IF NOT EXISTS idx_memoirs_user_generated
		ON memoirs(user_id, generated_at DESC);

		CREATE TABLE IF NOT EXISTS memoir_schedules (
		  id            TEXT PRIMARY KEY,
		  user_id       TEXT NOT NULL,
		  whisper_id    TEXT NOT NULL,
		  scheduled_at  INTEGER NOT NULL,
		  status        TEXT NOT NULL,
		  error_message TEXT,
		  job_handle    TEXT,
		  revision      INTEGER NOT NULL,
		  created_at    INTEGER NOT NULL,
		  updated_at    INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_schedules_whisper
		ON memoir_schedules(whisper_id, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_schedules_status
		ON memoir_schedules(status);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_schedules_one_active
		ON memoir_schedules(whisper_id)
		WHERE status = 'active';

		CREATE TABLE IF NOT EXISTS voice_uploads (
		  id           TEXT PRIMARY KEY,
		  user_id      TEXT NOT NULL,
		  whisper_id   TEXT,
		  storage_id   TEXT NOT NULL,
		  status       TEXT NOT NULL,
		  content_type TEXT,
		  size_bytes   INTEGER NOT NULL DEFAULT 0,
		  error        TEXT,
		  created_at   INTEGER NOT NULL,
		  updated_at   INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_uploads_user_created
		ON voice_uploads(user_id, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_uploads_whisper
		ON voice_uploads(whisper_id)
		WHERE whisper_id IS NOT NULL;
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
