// Package db is the SQLite implementation of store.Store.
package db

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Manjussha/ctxmon/internal/store"
)

// DB wraps *sql.DB and tracks the active session.
type DB struct {
	*sql.DB

	mu        sync.Mutex
	sessionID int64 // 0 when no session is active
	now       func() time.Time
}

var _ store.Store = (*DB)(nil)

// New opens a SQLite connection with WAL mode and foreign keys enabled.
// Driver name is "sqlite" (modernc.org/sqlite, not mattn/go-sqlite3).
func New(path string) (*DB, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("db.New: open: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db.New: ping: %w", err)
	}
	// Limit to 1 writer at a time to avoid SQLITE_BUSY in WAL mode.
	sqlDB.SetMaxOpenConns(1)
	return &DB{DB: sqlDB, now: time.Now}, nil
}

// Open is New followed by Migrate.
func Open(path string) (*DB, error) {
	d, err := New(path)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Migrate runs all CREATE TABLE IF NOT EXISTS migrations exactly once per schema version.
func (d *DB) Migrate() error {
	// Ensure the settings table exists first (holds schema_version).
	if _, err := d.Exec(ddlSettings); err != nil {
		return fmt.Errorf("db.Migrate: settings table: %w", err)
	}

	var version int
	row := d.QueryRow(`SELECT value FROM settings WHERE key='schema_version' LIMIT 1`)
	_ = row.Scan(&version) // Row may not exist yet (version=0).

	if version >= schemaVersion {
		return nil
	}

	for _, ddl := range []string{
		ddlSessions,
		ddlMessages,
		ddlFileAccess,
		ddlMetrics,
		ddlCompactEvents,
		ddlAlerts,
		ddlIndexes,
	} {
		if _, err := d.Exec(ddl); err != nil {
			return fmt.Errorf("db.Migrate: %w", err)
		}
	}

	_, err := d.Exec(`INSERT INTO settings (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, schemaVersion)
	if err != nil {
		return fmt.Errorf("db.Migrate: schema_version upsert: %w", err)
	}
	return nil
}

const schemaVersion = 1

// Times are stored as unix milliseconds.

const ddlSettings = `CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT ''
);`

const ddlSessions = `CREATE TABLE IF NOT EXISTS sessions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_key  TEXT    NOT NULL UNIQUE,
	start_time   INTEGER NOT NULL,
	end_time     INTEGER,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	model        TEXT    NOT NULL DEFAULT '',
	status       TEXT    NOT NULL DEFAULT 'active'
);`

const ddlMessages = `CREATE TABLE IF NOT EXISTS messages (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id       INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role             TEXT    NOT NULL,
	tokens           INTEGER NOT NULL DEFAULT 0,
	target_tokens    INTEGER NOT NULL DEFAULT 0,
	latin_tokens     INTEGER NOT NULL DEFAULT 0,
	target_ratio     REAL,
	primary_language TEXT,
	timestamp        INTEGER NOT NULL
);`

const ddlFileAccess = `CREATE TABLE IF NOT EXISTS file_access (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id   INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	path         TEXT    NOT NULL,
	operation    TEXT    NOT NULL DEFAULT 'read',
	tokens       INTEGER NOT NULL DEFAULT 0,
	language     TEXT,
	target_ratio REAL,
	redundant    INTEGER NOT NULL DEFAULT 0,
	timestamp    INTEGER NOT NULL
);`

const ddlMetrics = `CREATE TABLE IF NOT EXISTS metrics (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	metric     TEXT    NOT NULL,
	value      REAL    NOT NULL,
	timestamp  INTEGER NOT NULL
);`

const ddlCompactEvents = `CREATE TABLE IF NOT EXISTS compact_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	before_size INTEGER NOT NULL,
	after_size  INTEGER NOT NULL,
	reduction   INTEGER NOT NULL,
	rate        REAL    NOT NULL,
	type        TEXT    NOT NULL,
	timestamp   INTEGER NOT NULL
);`

const ddlAlerts = `CREATE TABLE IF NOT EXISTS alerts (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	level         TEXT    NOT NULL,
	message       TEXT    NOT NULL DEFAULT '',
	usage_percent REAL    NOT NULL,
	current_size  INTEGER NOT NULL,
	timestamp     INTEGER NOT NULL
);`

const ddlIndexes = `
CREATE INDEX IF NOT EXISTS idx_messages_session       ON messages(session_id);
CREATE INDEX IF NOT EXISTS idx_file_access_session    ON file_access(session_id);
CREATE INDEX IF NOT EXISTS idx_metrics_session        ON metrics(session_id);
CREATE INDEX IF NOT EXISTS idx_compact_events_session ON compact_events(session_id);
CREATE INDEX IF NOT EXISTS idx_alerts_session         ON alerts(session_id);
CREATE INDEX IF NOT EXISTS idx_sessions_start         ON sessions(start_time);`

// ── Helpers ───────────────────────────────────────────────────────────────────

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
