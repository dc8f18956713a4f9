package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_Lifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.RecordMessage(ctx, MessageRecord{Role: "user", Tokens: 5}))
	assert.Empty(t, m.Messages)
	_, err := m.SessionStats(ctx)
	assert.ErrorIs(t, err, ErrNoSession)

	id, err := m.StartSession(ctx, "claude")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	r := 0.5
	require.NoError(t, m.RecordMessage(ctx, MessageRecord{Role: "user", Tokens: 10, TargetRatio: &r, Timestamp: time.Now()}))
	require.NoError(t, m.RecordMessage(ctx, MessageRecord{Role: "assistant", Tokens: 30, Timestamp: time.Now()}))
	require.NoError(t, m.RecordFileAccess(ctx, FileAccessRecord{Path: "/a", Tokens: 5}))
	require.NoError(t, m.RecordFileAccess(ctx, FileAccessRecord{Path: "/b", Tokens: 50}))
	require.NoError(t, m.RecordFileAccess(ctx, FileAccessRecord{Path: "/a", Tokens: 5}))

	st, err := m.SessionStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.MessageCount)
	assert.Equal(t, 40, st.TotalTokens)
	assert.Equal(t, 20.0, st.AvgTokens)
	assert.Equal(t, 0.5, st.AvgTargetRatio)
	require.Len(t, st.TopFiles, 2)
	assert.Equal(t, FileUsage{Path: "/b", AccessCount: 1, TotalTokens: 50}, st.TopFiles[0])
	assert.Equal(t, FileUsage{Path: "/a", AccessCount: 2, TotalTokens: 10}, st.TopFiles[1])

	require.NoError(t, m.EndSession(ctx))
	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, StatusCompleted, sessions[0].Status)
	assert.Equal(t, 40, sessions[0].TotalTokens)
}

func TestMemory_StartSessionAbortsActive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.StartSession(ctx, "a")
	_, _ = m.StartSession(ctx, "b")

	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, StatusAborted, sessions[0].Status)
	assert.Equal(t, "a", sessions[0].Model)
}

func TestResetMetric(t *testing.T) {
	assert.Equal(t, "reset_clear", ResetMetric("clear"))
}
