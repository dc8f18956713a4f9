// Package pgstore is the PostgreSQL implementation of store.Store, for hosts that
// share one database between several monitors.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Manjussha/ctxmon/internal/compaction"
	"github.com/Manjussha/ctxmon/internal/store"
)

// Store records sessions into ctxmon_* tables.
type Store struct {
	pool *pgxpool.Pool

	mu        sync.Mutex
	sessionID int64
	now       func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open connects to databaseURL, pings it and applies the schema.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgstore.Open: pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore.Open: ping: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The caller keeps ownership of the pool's schema.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Pool returns the underlying pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pgstore.Migrate: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS ctxmon_sessions (
	id           BIGSERIAL PRIMARY KEY,
	session_key  UUID        NOT NULL UNIQUE,
	start_time   TIMESTAMPTZ NOT NULL,
	end_time     TIMESTAMPTZ,
	total_tokens INTEGER     NOT NULL DEFAULT 0,
	model        TEXT        NOT NULL DEFAULT '',
	status       TEXT        NOT NULL DEFAULT 'active'
);
CREATE TABLE IF NOT EXISTS ctxmon_messages (
	id               BIGSERIAL PRIMARY KEY,
	session_id       BIGINT      NOT NULL REFERENCES ctxmon_sessions(id) ON DELETE CASCADE,
	role             TEXT        NOT NULL,
	tokens           INTEGER     NOT NULL DEFAULT 0,
	target_tokens    INTEGER     NOT NULL DEFAULT 0,
	latin_tokens     INTEGER     NOT NULL DEFAULT 0,
	target_ratio     DOUBLE PRECISION,
	primary_language TEXT,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS ctxmon_file_access (
	id           BIGSERIAL PRIMARY KEY,
	session_id   BIGINT      NOT NULL REFERENCES ctxmon_sessions(id) ON DELETE CASCADE,
	path         TEXT        NOT NULL,
	operation    TEXT        NOT NULL DEFAULT 'read',
	tokens       INTEGER     NOT NULL DEFAULT 0,
	language     TEXT,
	target_ratio DOUBLE PRECISION,
	redundant    BOOLEAN     NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS ctxmon_metrics (
	id         BIGSERIAL PRIMARY KEY,
	session_id BIGINT           NOT NULL REFERENCES ctxmon_sessions(id) ON DELETE CASCADE,
	metric     TEXT             NOT NULL,
	value      DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ      NOT NULL
);
CREATE TABLE IF NOT EXISTS ctxmon_compact_events (
	id          BIGSERIAL PRIMARY KEY,
	session_id  BIGINT           NOT NULL REFERENCES ctxmon_sessions(id) ON DELETE CASCADE,
	before_size INTEGER          NOT NULL,
	after_size  INTEGER          NOT NULL,
	reduction   INTEGER          NOT NULL,
	rate        DOUBLE PRECISION NOT NULL,
	type        TEXT             NOT NULL,
	created_at  TIMESTAMPTZ      NOT NULL
);
CREATE TABLE IF NOT EXISTS ctxmon_alerts (
	id            BIGSERIAL PRIMARY KEY,
	session_id    BIGINT           NOT NULL REFERENCES ctxmon_sessions(id) ON DELETE CASCADE,
	level         TEXT             NOT NULL,
	message       TEXT             NOT NULL DEFAULT '',
	usage_percent DOUBLE PRECISION NOT NULL,
	current_size  INTEGER          NOT NULL,
	created_at    TIMESTAMPTZ      NOT NULL
);
CREATE INDEX IF NOT EXISTS ctxmon_messages_session_idx    ON ctxmon_messages(session_id);
CREATE INDEX IF NOT EXISTS ctxmon_file_access_session_idx ON ctxmon_file_access(session_id);
`

func (s *Store) active() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// StartSession aborts other active sessions and opens a new one in one transaction.
func (s *Store) StartSession(ctx context.Context, model string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var id int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE ctxmon_sessions SET status=$1, end_time=$2 WHERE status=$3`,
			store.StatusAborted, now, store.StatusActive,
		); err != nil {
			return fmt.Errorf("abort active: %w", err)
		}
		return tx.QueryRow(ctx,
			`INSERT INTO ctxmon_sessions (session_key, start_time, model, status) VALUES ($1,$2,$3,$4) RETURNING id`,
			uuid.New(), now, model, store.StatusActive,
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("pgstore.StartSession: %w", err)
	}
	s.sessionID = id
	return id, nil
}

// EndSession totals the session's message tokens and completes it.
func (s *Store) EndSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE ctxmon_sessions SET
			end_time = $1,
			status = $2,
			total_tokens = (SELECT COALESCE(SUM(tokens), 0) FROM ctxmon_messages WHERE session_id = $3)
		WHERE id = $3`,
		s.now(), store.StatusCompleted, s.sessionID,
	)
	if err != nil {
		return fmt.Errorf("pgstore.EndSession: %w", err)
	}
	s.sessionID = 0
	return nil
}

func (s *Store) RecordMessage(ctx context.Context, m store.MessageRecord) error {
	sid := s.active()
	if sid == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ctxmon_messages (session_id, role, tokens, target_tokens, latin_tokens, target_ratio, primary_language, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		sid, m.Role, m.Tokens, m.TargetTokens, m.LatinTokens, m.TargetRatio, nullString(m.PrimaryLanguage), m.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("pgstore.RecordMessage: %w", err)
	}
	return nil
}

func (s *Store) RecordFileAccess(ctx context.Context, f store.FileAccessRecord) error {
	sid := s.active()
	if sid == 0 {
		return nil
	}
	op := f.Operation
	if op == "" {
		op = "read"
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ctxmon_file_access (session_id, path, operation, tokens, language, target_ratio, redundant, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		sid, f.Path, op, f.Tokens, nullString(f.Language), f.TargetRatio, f.Redundant, f.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("pgstore.RecordFileAccess: %w", err)
	}
	return nil
}

func (s *Store) RecordCompact(ctx context.Context, ev compaction.Event) error {
	sid := s.active()
	if sid == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ctxmon_compact_events (session_id, before_size, after_size, reduction, rate, type, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		sid, ev.Before, ev.After, ev.Reduction, ev.Rate, string(ev.Type), ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("pgstore.RecordCompact: %w", err)
	}
	return nil
}

func (s *Store) RecordAlert(ctx context.Context, a store.AlertRecord) error {
	sid := s.active()
	if sid == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ctxmon_alerts (session_id, level, message, usage_percent, current_size, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		sid, a.Level, a.Message, a.UsagePercent, a.CurrentSize, a.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("pgstore.RecordAlert: %w", err)
	}
	return nil
}

func (s *Store) RecordReset(ctx context.Context, r store.ResetRecord) error {
	sid := s.active()
	if sid == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ctxmon_metrics (session_id, metric, value, created_at) VALUES ($1,$2,$3,$4)`,
		sid, store.ResetMetric(r.Source), float64(r.PreviousSize), r.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("pgstore.RecordReset: %w", err)
	}
	return nil
}

// CleanupOlderThan deletes finished sessions older than days; child rows cascade.
func (s *Store) CleanupOlderThan(ctx context.Context, days int) error {
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	_, err := s.pool.Exec(ctx,
		`DELETE FROM ctxmon_sessions WHERE start_time < $1 AND status <> $2`,
		cutoff, store.StatusActive,
	)
	if err != nil {
		return fmt.Errorf("pgstore.CleanupOlderThan: %w", err)
	}
	return nil
}

func (s *Store) SessionStats(ctx context.Context) (*store.SessionStats, error) {
	sid := s.active()
	if sid == 0 {
		return nil, store.ErrNoSession
	}

	st := &store.SessionStats{TopFiles: []store.FileUsage{}}
	var key uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT id, session_key, start_time, end_time, total_tokens, model, status
		FROM ctxmon_sessions WHERE id=$1`, sid,
	).Scan(&st.Session.ID, &key, &st.Session.StartTime, &st.Session.EndTime,
		&st.Session.TotalTokens, &st.Session.Model, &st.Session.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore.SessionStats: session: %w", err)
	}
	st.Session.Key = key.String()

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(tokens), 0), COALESCE(AVG(tokens), 0)::float8, COALESCE(AVG(target_ratio), 0)::float8,
			(SELECT COUNT(*) FROM ctxmon_compact_events WHERE session_id=$1),
			(SELECT COUNT(*) FROM ctxmon_alerts WHERE session_id=$1)
		FROM ctxmon_messages WHERE session_id=$1`, sid,
	).Scan(&st.MessageCount, &st.TotalTokens, &st.AvgTokens, &st.AvgTargetRatio, &st.CompactCount, &st.AlertCount)
	if err != nil {
		return nil, fmt.Errorf("pgstore.SessionStats: messages: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT path, COUNT(*)::int, COALESCE(SUM(tokens), 0)::int AS total_tokens
		FROM ctxmon_file_access WHERE session_id=$1
		GROUP BY path
		ORDER BY total_tokens DESC, path
		LIMIT $2`, sid, store.TopFilesLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("pgstore.SessionStats: files: %w", err)
	}
	files, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.FileUsage, error) {
		var f store.FileUsage
		err := row.Scan(&f.Path, &f.AccessCount, &f.TotalTokens)
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("pgstore.SessionStats: files: %w", err)
	}
	st.TopFiles = append(st.TopFiles, files...)
	return st, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
