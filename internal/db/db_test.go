package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Manjussha/ctxmon/internal/compaction"
	"github.com/Manjussha/ctxmon/internal/store"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func ratio(v float64) *float64 { return &v }

func TestDB_MigrateIdempotent(t *testing.T) {
	d := newTestDB(t)
	require.NoError(t, d.Migrate())

	var version int
	require.NoError(t, d.QueryRow(`SELECT value FROM settings WHERE key='schema_version'`).Scan(&version))
	assert.Equal(t, schemaVersion, version)
}

func TestDB_RecordWithoutSessionIsNoop(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.RecordMessage(ctx, store.MessageRecord{Role: "user", Tokens: 10, Timestamp: time.Now()}))
	require.NoError(t, d.RecordAlert(ctx, store.AlertRecord{Level: "warning", Timestamp: time.Now()}))
	require.NoError(t, d.EndSession(ctx))

	var n int
	require.NoError(t, d.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n))
	assert.Zero(t, n)

	_, err := d.SessionStats(ctx)
	assert.ErrorIs(t, err, store.ErrNoSession)
}

func TestDB_StartSessionAbortsActive(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	first, err := d.StartSession(ctx, "claude")
	require.NoError(t, err)
	second, err := d.StartSession(ctx, "claude")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	var status string
	require.NoError(t, d.QueryRow(`SELECT status FROM sessions WHERE id=?`, first).Scan(&status))
	assert.Equal(t, store.StatusAborted, status)

	var active int
	require.NoError(t, d.QueryRow(`SELECT COUNT(*) FROM sessions WHERE status='active'`).Scan(&active))
	assert.Equal(t, 1, active)
}

func TestDB_SessionLifecycle(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	id, err := d.StartSession(ctx, "claude")
	require.NoError(t, err)

	require.NoError(t, d.RecordMessage(ctx, store.MessageRecord{
		Role: "user", Tokens: 100, TargetTokens: 60, LatinTokens: 40,
		TargetRatio: ratio(0.6), PrimaryLanguage: "mixed", Timestamp: now,
	}))
	require.NoError(t, d.RecordMessage(ctx, store.MessageRecord{
		Role: "assistant", Tokens: 50, LatinTokens: 50, TargetRatio: ratio(0), PrimaryLanguage: "latin", Timestamp: now,
	}))
	require.NoError(t, d.RecordFileAccess(ctx, store.FileAccessRecord{Path: "/a.go", Tokens: 300, Timestamp: now}))
	require.NoError(t, d.RecordFileAccess(ctx, store.FileAccessRecord{Path: "/a.go", Tokens: 300, Redundant: true, Timestamp: now}))
	require.NoError(t, d.RecordFileAccess(ctx, store.FileAccessRecord{Path: "/b.md", Tokens: 200, Timestamp: now}))
	require.NoError(t, d.RecordCompact(ctx, compaction.Event{
		Timestamp: now, Before: 100000, After: 60000, Reduction: 40000, Rate: 0.4, Type: compaction.TypeDetected,
	}))
	require.NoError(t, d.RecordAlert(ctx, store.AlertRecord{
		Level: "warning", UsagePercent: 85, CurrentSize: 170000, Message: "Context usage: 85.0%", Timestamp: now,
	}))
	require.NoError(t, d.RecordReset(ctx, store.ResetRecord{Source: "clear", PreviousSize: 170000, Timestamp: now}))

	st, err := d.SessionStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, st.Session.ID)
	assert.NotEmpty(t, st.Session.Key)
	assert.Equal(t, store.StatusActive, st.Session.Status)
	assert.Equal(t, 2, st.MessageCount)
	assert.Equal(t, 150, st.TotalTokens)
	assert.Equal(t, 75.0, st.AvgTokens)
	assert.InDelta(t, 0.3, st.AvgTargetRatio, 1e-9)
	assert.Equal(t, 1, st.CompactCount)
	assert.Equal(t, 1, st.AlertCount)
	require.Len(t, st.TopFiles, 2)
	assert.Equal(t, store.FileUsage{Path: "/a.go", AccessCount: 2, TotalTokens: 600}, st.TopFiles[0])

	var metric string
	var value float64
	require.NoError(t, d.QueryRow(`SELECT metric, value FROM metrics WHERE session_id=?`, id).Scan(&metric, &value))
	assert.Equal(t, "reset_clear", metric)
	assert.Equal(t, 170000.0, value)

	require.NoError(t, d.EndSession(ctx))
	var (
		status string
		total  int
	)
	require.NoError(t, d.QueryRow(`SELECT status, total_tokens FROM sessions WHERE id=?`, id).Scan(&status, &total))
	assert.Equal(t, store.StatusCompleted, status)
	assert.Equal(t, 150, total)
}

func TestDB_CleanupOlderThan(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	d.now = func() time.Time { return time.Now().Add(-10 * 24 * time.Hour) }
	old, err := d.StartSession(ctx, "claude")
	require.NoError(t, err)
	require.NoError(t, d.RecordMessage(ctx, store.MessageRecord{Role: "user", Tokens: 1, Timestamp: d.now()}))
	require.NoError(t, d.EndSession(ctx))

	d.now = time.Now
	current, err := d.StartSession(ctx, "claude")
	require.NoError(t, err)
	require.NoError(t, d.RecordMessage(ctx, store.MessageRecord{Role: "user", Tokens: 1, Timestamp: d.now()}))

	require.NoError(t, d.CleanupOlderThan(ctx, 7))

	var n int
	require.NoError(t, d.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id=?`, old).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, d.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id=?`, old).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, d.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id=?`, current).Scan(&n))
	assert.Equal(t, 1, n)
}
