package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/H4tholdir/archibaldblackant-sub005/internal/config"
)

const (
	envDBPath         = "ARCHIBALD_DB_PATH"
	defaultDBDirName  = ".archibald"
	defaultDBFileName = "sync.sqlite"
)

// DB bundles the sqlite handle shared by the checkpoint, stats and record
// stores. One database file keeps page writes and checkpoint updates in the
// same transactional domain.
type DB struct {
	db   *sql.DB
	path string
}

// Open resolves the database path (env override or ~/.archibald), applies
// the pragmas and bootstraps the schema.
func Open() (*DB, error) {
	path, err := resolveDatabasePath()
	if err != nil {
		return nil, err
	}
	return OpenPath(path)
}

// OpenPath opens the database at an explicit path. Used by tests with
// t.TempDir().
func OpenPath(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "storage: open sqlite database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db, path: path}, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Path returns the resolved database file path.
func (d *DB) Path() string {
	if d == nil {
		return ""
	}
	return d.path
}

func resolveDatabasePath() (string, error) {
	if custom := config.String(envDBPath, ""); custom != "" {
		if err := ensureDirExists(filepath.Dir(custom)); err != nil {
			return "", err
		}
		return custom, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "storage: locate user home failed")
	}
	dir := filepath.Join(home, defaultDBDirName)
	if err := ensureDirExists(dir); err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultDBFileName), nil
}

func ensureDirExists(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errors.Wrapf(err, "storage: create dir %s failed", path)
	}
	return nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=60000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Wrapf(err, "storage: execute %s failed", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sync_records (
			entity_type TEXT NOT NULL,
			identity TEXT NOT NULL,
			hash TEXT NOT NULL,
			payload TEXT NOT NULL,
			last_sync INTEGER NOT NULL,
			PRIMARY KEY (entity_type, identity)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sync_records_type ON sync_records(entity_type);`,
		`CREATE TABLE IF NOT EXISTS sync_checkpoints (
			sync_type TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			current_page INTEGER NOT NULL DEFAULT 0,
			total_pages INTEGER NOT NULL DEFAULT 0,
			items_processed INTEGER NOT NULL DEFAULT 0,
			last_successful_page INTEGER NOT NULL DEFAULT 0,
			started_at INTEGER NOT NULL DEFAULT 0,
			completed_at INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS operation_stats (
			operation TEXT PRIMARY KEY,
			success_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			total_time_ns INTEGER NOT NULL DEFAULT 0,
			min_time_ns INTEGER NOT NULL DEFAULT 0,
			max_time_ns INTEGER NOT NULL DEFAULT 0,
			avg_time_ns INTEGER NOT NULL DEFAULT 0,
			current_timeout_ns INTEGER NOT NULL DEFAULT 0,
			last_adjustment INTEGER NOT NULL DEFAULT 0
		);`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "storage: init sqlite schema failed")
		}
	}
	return nil
}
