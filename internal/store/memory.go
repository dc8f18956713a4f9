package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Manjussha/ctxmon/internal/compaction"
)

// Memory is a process-local Store. It backs the "memory" storage driver and tests.
type Memory struct {
	mu       sync.Mutex
	nextID   int64
	active   *Session
	sessions []Session

	Messages []MessageRecord
	Files    []FileAccessRecord
	Compacts []compaction.Event
	Alerts   []AlertRecord
	Resets   []ResetRecord
	Cleanups []int
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty Memory store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) StartSession(_ context.Context, model string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if m.active != nil {
		m.active.Status = StatusAborted
		m.active.EndTime = &now
		m.sessions = append(m.sessions, *m.active)
	}
	m.nextID++
	m.active = &Session{ID: m.nextID, Key: uuid.NewString(), StartTime: now, Model: model, Status: StatusActive}
	m.Messages, m.Files, m.Compacts, m.Alerts, m.Resets = nil, nil, nil, nil, nil
	return m.nextID, nil
}

func (m *Memory) EndSession(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	now := time.Now()
	m.active.EndTime = &now
	m.active.Status = StatusCompleted
	for _, msg := range m.Messages {
		m.active.TotalTokens += msg.Tokens
	}
	m.sessions = append(m.sessions, *m.active)
	m.active = nil
	return nil
}

// Sessions returns finished sessions, oldest first.
func (m *Memory) Sessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Session(nil), m.sessions...)
}

func (m *Memory) RecordMessage(_ context.Context, r MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.Messages = append(m.Messages, r)
	}
	return nil
}

func (m *Memory) RecordFileAccess(_ context.Context, r FileAccessRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.Files = append(m.Files, r)
	}
	return nil
}

func (m *Memory) RecordCompact(_ context.Context, ev compaction.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.Compacts = append(m.Compacts, ev)
	}
	return nil
}

func (m *Memory) RecordAlert(_ context.Context, r AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.Alerts = append(m.Alerts, r)
	}
	return nil
}

func (m *Memory) RecordReset(_ context.Context, r ResetRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.Resets = append(m.Resets, r)
	}
	return nil
}

func (m *Memory) CleanupOlderThan(_ context.Context, days int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cleanups = append(m.Cleanups, days)
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	kept := m.sessions[:0]
	for _, s := range m.sessions {
		if !s.StartTime.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	m.sessions = kept
	return nil
}

func (m *Memory) SessionStats(_ context.Context) (*SessionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil, ErrNoSession
	}

	st := &SessionStats{
		Session:      *m.active,
		MessageCount: len(m.Messages),
		CompactCount: len(m.Compacts),
		AlertCount:   len(m.Alerts),
		TopFiles:     []FileUsage{},
	}
	var ratioSum float64
	var ratioN int
	for _, msg := range m.Messages {
		st.TotalTokens += msg.Tokens
		if msg.TargetRatio != nil {
			ratioSum += *msg.TargetRatio
			ratioN++
		}
	}
	if st.MessageCount > 0 {
		st.AvgTokens = float64(st.TotalTokens) / float64(st.MessageCount)
	}
	if ratioN > 0 {
		st.AvgTargetRatio = ratioSum / float64(ratioN)
	}

	byPath := map[string]*FileUsage{}
	for _, f := range m.Files {
		u, ok := byPath[f.Path]
		if !ok {
			u = &FileUsage{Path: f.Path}
			byPath[f.Path] = u
		}
		u.AccessCount++
		u.TotalTokens += f.Tokens
	}
	for _, u := range byPath {
		st.TopFiles = append(st.TopFiles, *u)
	}
	sort.Slice(st.TopFiles, func(i, j int) bool {
		if st.TopFiles[i].TotalTokens != st.TopFiles[j].TotalTokens {
			return st.TopFiles[i].TotalTokens > st.TopFiles[j].TotalTokens
		}
		return st.TopFiles[i].Path < st.TopFiles[j].Path
	})
	if len(st.TopFiles) > TopFilesLimit {
		st.TopFiles = st.TopFiles[:TopFilesLimit]
	}
	return st, nil
}

func (m *Memory) Close() error { return nil }
