package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Manjussha/ctxmon/internal/compaction"
	"github.com/Manjussha/ctxmon/internal/store"
)

// StartSession aborts any other active session and inserts a new active one.
func (d *DB) StartSession(ctx context.Context, model string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("db.StartSession: begin: %w", err)
	}
	defer tx.Rollback()

	now := millis(d.now())
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status=?, end_time=? WHERE status=?`,
		store.StatusAborted, now, store.StatusActive,
	); err != nil {
		return 0, fmt.Errorf("db.StartSession: abort active: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (session_key, start_time, model, status) VALUES (?,?,?,?)`,
		uuid.NewString(), now, model, store.StatusActive,
	)
	if err != nil {
		return 0, fmt.Errorf("db.StartSession: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("db.StartSession: last id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("db.StartSession: commit: %w", err)
	}
	d.sessionID = id
	return id, nil
}

// EndSession finalizes the active session's token total and marks it completed.
func (d *DB) EndSession(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sessionID == 0 {
		return nil
	}

	_, err := d.ExecContext(ctx, `
		UPDATE sessions SET
			end_time = ?,
			status = ?,
			total_tokens = (SELECT COALESCE(SUM(tokens), 0) FROM messages WHERE session_id = sessions.id)
		WHERE id = ?`,
		millis(d.now()), store.StatusCompleted, d.sessionID,
	)
	if err != nil {
		return fmt.Errorf("db.EndSession: %w", err)
	}
	d.sessionID = 0
	return nil
}

// active returns the current session id, or 0.
func (d *DB) active() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}

// RecordMessage stores message statistics. The message text is never stored.
func (d *DB) RecordMessage(ctx context.Context, m store.MessageRecord) error {
	sid := d.active()
	if sid == 0 {
		return nil
	}
	_, err := d.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, tokens, target_tokens, latin_tokens, target_ratio, primary_language, timestamp)
		VALUES (?,?,?,?,?,?,?,?)`,
		sid, m.Role, m.Tokens, m.TargetTokens, m.LatinTokens,
		nullFloat(m.TargetRatio), nullString(m.PrimaryLanguage), millis(m.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("db.RecordMessage: %w", err)
	}
	return nil
}

// RecordFileAccess stores file access statistics.
func (d *DB) RecordFileAccess(ctx context.Context, f store.FileAccessRecord) error {
	sid := d.active()
	if sid == 0 {
		return nil
	}
	op := f.Operation
	if op == "" {
		op = "read"
	}
	_, err := d.ExecContext(ctx, `
		INSERT INTO file_access (session_id, path, operation, tokens, language, target_ratio, redundant, timestamp)
		VALUES (?,?,?,?,?,?,?,?)`,
		sid, f.Path, op, f.Tokens, nullString(f.Language), nullFloat(f.TargetRatio),
		boolInt(f.Redundant), millis(f.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("db.RecordFileAccess: %w", err)
	}
	return nil
}

// RecordCompact stores a compaction event.
func (d *DB) RecordCompact(ctx context.Context, ev compaction.Event) error {
	sid := d.active()
	if sid == 0 {
		return nil
	}
	_, err := d.ExecContext(ctx, `
		INSERT INTO compact_events (session_id, before_size, after_size, reduction, rate, type, timestamp)
		VALUES (?,?,?,?,?,?,?)`,
		sid, ev.Before, ev.After, ev.Reduction, ev.Rate, string(ev.Type), millis(ev.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("db.RecordCompact: %w", err)
	}
	return nil
}

// RecordAlert stores a usage alert.
func (d *DB) RecordAlert(ctx context.Context, a store.AlertRecord) error {
	sid := d.active()
	if sid == 0 {
		return nil
	}
	_, err := d.ExecContext(ctx, `
		INSERT INTO alerts (session_id, level, message, usage_percent, current_size, timestamp)
		VALUES (?,?,?,?,?,?)`,
		sid, a.Level, a.Message, a.UsagePercent, a.CurrentSize, millis(a.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("db.RecordAlert: %w", err)
	}
	return nil
}

// RecordReset stores a reset as a reset_<source> metric valued at the previous size.
func (d *DB) RecordReset(ctx context.Context, r store.ResetRecord) error {
	sid := d.active()
	if sid == 0 {
		return nil
	}
	_, err := d.ExecContext(ctx,
		`INSERT INTO metrics (session_id, metric, value, timestamp) VALUES (?,?,?,?)`,
		sid, store.ResetMetric(r.Source), float64(r.PreviousSize), millis(r.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("db.RecordReset: %w", err)
	}
	return nil
}

// CleanupOlderThan deletes non-active sessions started more than days ago, with their records.
func (d *DB) CleanupOlderThan(ctx context.Context, days int) error {
	cutoff := millis(d.now().Add(-time.Duration(days) * 24 * time.Hour))

	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db.CleanupOlderThan: begin: %w", err)
	}
	defer tx.Rollback()

	const stale = `SELECT id FROM sessions WHERE start_time < ? AND status != 'active'`
	for _, table := range []string{"messages", "file_access", "metrics", "compact_events", "alerts"} {
		q := `DELETE FROM ` + table + ` WHERE session_id IN (` + stale + `)`
		if _, err := tx.ExecContext(ctx, q, cutoff); err != nil {
			return fmt.Errorf("db.CleanupOlderThan: %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE start_time < ? AND status != 'active'`, cutoff,
	); err != nil {
		return fmt.Errorf("db.CleanupOlderThan: sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db.CleanupOlderThan: commit: %w", err)
	}
	return nil
}

// SessionStats aggregates the active session.
func (d *DB) SessionStats(ctx context.Context) (*store.SessionStats, error) {
	sid := d.active()
	if sid == 0 {
		return nil, store.ErrNoSession
	}

	st := &store.SessionStats{TopFiles: []store.FileUsage{}}
	var (
		start int64
		end   sql.NullInt64
	)
	err := d.QueryRowContext(ctx, `
		SELECT id, session_key, start_time, end_time, total_tokens, model, status
		FROM sessions WHERE id=?`, sid,
	).Scan(&st.Session.ID, &st.Session.Key, &start, &end, &st.Session.TotalTokens, &st.Session.Model, &st.Session.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("db.SessionStats: session: %w", err)
	}
	st.Session.StartTime = fromMillis(start)
	if end.Valid {
		t := fromMillis(end.Int64)
		st.Session.EndTime = &t
	}

	err = d.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(tokens), 0), COALESCE(AVG(tokens), 0), COALESCE(AVG(target_ratio), 0)
		FROM messages WHERE session_id=?`, sid,
	).Scan(&st.MessageCount, &st.TotalTokens, &st.AvgTokens, &st.AvgTargetRatio)
	if err != nil {
		return nil, fmt.Errorf("db.SessionStats: messages: %w", err)
	}

	if err := d.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM compact_events WHERE session_id=?`, sid,
	).Scan(&st.CompactCount); err != nil {
		return nil, fmt.Errorf("db.SessionStats: compacts: %w", err)
	}
	if err := d.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE session_id=?`, sid,
	).Scan(&st.AlertCount); err != nil {
		return nil, fmt.Errorf("db.SessionStats: alerts: %w", err)
	}

	rows, err := d.QueryContext(ctx, `
		SELECT path, COUNT(*) AS access_count, COALESCE(SUM(tokens), 0) AS total_tokens
		FROM file_access WHERE session_id=?
		GROUP BY path
		ORDER BY total_tokens DESC, path
		LIMIT ?`, sid, store.TopFilesLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("db.SessionStats: files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f store.FileUsage
		if err := rows.Scan(&f.Path, &f.AccessCount, &f.TotalTokens); err != nil {
			return nil, fmt.Errorf("db.SessionStats: scan file: %w", err)
		}
		st.TopFiles = append(st.TopFiles, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db.SessionStats: files: %w", err)
	}
	return st, nil
}
