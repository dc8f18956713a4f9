package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Manjussha/ctxmon/internal/store"
)

// blockingStore holds the first RecordMessage until release is closed.
type blockingStore struct {
	*store.Memory
	started chan struct{}
	release chan struct{}
	first   bool
}

func (b *blockingStore) RecordMessage(ctx context.Context, m store.MessageRecord) error {
	if !b.first {
		b.first = true
		close(b.started)
		<-b.release
	}
	return b.Memory.RecordMessage(ctx, m)
}

type failingStore struct{ *store.Memory }

func (failingStore) RecordAlert(context.Context, store.AlertRecord) error {
	return errors.New("disk full")
}

func TestAsyncStore_PreservesOrder(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	a := NewAsync(mem, 16)
	defer a.Close()

	_, err := a.StartSession(ctx, "claude")
	require.NoError(t, err)
	for i := 1; i <= 10; i++ {
		require.NoError(t, a.RecordMessage(ctx, store.MessageRecord{Role: "user", Tokens: i}))
	}
	require.NoError(t, a.Flush(ctx))

	require.Len(t, mem.Messages, 10)
	for i, m := range mem.Messages {
		assert.Equal(t, i+1, m.Tokens)
	}
}

func TestAsyncStore_SessionStatsSeesQueuedWrites(t *testing.T) {
	ctx := context.Background()
	a := NewAsync(store.NewMemory(), 0)
	defer a.Close()

	_, err := a.StartSession(ctx, "claude")
	require.NoError(t, err)
	require.NoError(t, a.RecordMessage(ctx, store.MessageRecord{Role: "user", Tokens: 7}))

	st, err := a.SessionStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.MessageCount)
	assert.Equal(t, 7, st.TotalTokens)
}

func TestAsyncStore_DropsWhenFull(t *testing.T) {
	ctx := context.Background()
	b := &blockingStore{Memory: store.NewMemory(), started: make(chan struct{}), release: make(chan struct{})}
	a := NewAsync(b, 1)
	defer a.Close()

	_, err := a.StartSession(ctx, "claude")
	require.NoError(t, err)

	require.NoError(t, a.RecordMessage(ctx, store.MessageRecord{Tokens: 1}))
	<-b.started
	require.NoError(t, a.RecordMessage(ctx, store.MessageRecord{Tokens: 2}))
	require.NoError(t, a.RecordMessage(ctx, store.MessageRecord{Tokens: 3}))
	assert.Equal(t, int64(1), a.Dropped())

	close(b.release)
	require.NoError(t, a.Flush(ctx))
	require.Len(t, b.Messages, 2)
	assert.Equal(t, 2, b.Messages[1].Tokens)
}

func TestAsyncStore_FailedWritesAreCounted(t *testing.T) {
	ctx := context.Background()
	a := NewAsync(failingStore{store.NewMemory()}, 4)
	defer a.Close()

	require.NoError(t, a.RecordAlert(ctx, store.AlertRecord{Level: "warning"}))
	require.NoError(t, a.Flush(ctx))
	assert.Equal(t, int64(1), a.Failed())
}

func TestAsyncStore_FlushHonoursContext(t *testing.T) {
	b := &blockingStore{Memory: store.NewMemory(), started: make(chan struct{}), release: make(chan struct{})}
	a := NewAsync(b, 4)
	_, err := a.StartSession(context.Background(), "claude")
	require.NoError(t, err)

	require.NoError(t, a.RecordMessage(context.Background(), store.MessageRecord{Tokens: 1}))
	<-b.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Flush(ctx), context.DeadlineExceeded)

	close(b.release)
	require.NoError(t, a.Close())
}

func TestAsyncStore_Close(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	a := NewAsync(mem, 4)
	_, err := a.StartSession(ctx, "claude")
	require.NoError(t, err)
	require.NoError(t, a.RecordMessage(ctx, store.MessageRecord{Tokens: 1}))

	require.NoError(t, a.Close())
	assert.Len(t, mem.Messages, 1)
	require.NoError(t, a.Close())

	assert.ErrorIs(t, a.RecordMessage(ctx, store.MessageRecord{}), ErrClosed)
	assert.ErrorIs(t, a.Flush(ctx), ErrClosed)
}
