// Package store defines the persistence port the monitor records into. Only
// derived statistics cross this boundary; raw message and file text never does.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Manjussha/ctxmon/internal/compaction"
)

// ErrNoSession is returned by implementations asked for stats with no active session.
var ErrNoSession = errors.New("store: no active session")

// Session status values.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

// Store is a durable sink for one monitoring session at a time. Record* calls made
// while no session is active are silent no-ops.
type Store interface {
	// StartSession aborts any other active session and opens a new one.
	StartSession(ctx context.Context, model string) (int64, error)
	// EndSession sums recorded message tokens into the active session and completes it.
	EndSession(ctx context.Context) error

	RecordMessage(ctx context.Context, m MessageRecord) error
	RecordFileAccess(ctx context.Context, f FileAccessRecord) error
	RecordCompact(ctx context.Context, ev compaction.Event) error
	RecordAlert(ctx context.Context, a AlertRecord) error
	RecordReset(ctx context.Context, r ResetRecord) error

	// CleanupOlderThan deletes finished sessions, and everything recorded under
	// them, that started more than days ago.
	CleanupOlderThan(ctx context.Context, days int) error
	SessionStats(ctx context.Context) (*SessionStats, error)
	Close() error
}

// MessageRecord holds the statistics of one tracked message.
type MessageRecord struct {
	Role            string
	Tokens          int
	TargetTokens    int
	LatinTokens     int
	TargetRatio     *float64
	PrimaryLanguage string
	Timestamp       time.Time
}

// FileAccessRecord holds the statistics of one tracked file read.
type FileAccessRecord struct {
	Path        string
	Operation   string
	Tokens      int
	Language    string
	TargetRatio *float64
	Redundant   bool
	Timestamp   time.Time
}

// AlertRecord is a warning or critical usage alert.
type AlertRecord struct {
	Level        string
	UsagePercent float64
	CurrentSize  int
	Message      string
	Timestamp    time.Time
}

// ResetRecord is a context reset signalled by the host.
type ResetRecord struct {
	Source       string
	Timestamp    time.Time
	PreviousSize int
}

// Session is a persisted session row.
type Session struct {
	ID          int64      `json:"id"`
	Key         string     `json:"key"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	TotalTokens int        `json:"totalTokens"`
	Model       string     `json:"model"`
	Status      string     `json:"status"`
}

// FileUsage is one row of SessionStats.TopFiles.
type FileUsage struct {
	Path        string `json:"path"`
	AccessCount int    `json:"accessCount"`
	TotalTokens int    `json:"totalTokens"`
}

// SessionStats aggregates the active session.
type SessionStats struct {
	Session        Session     `json:"session"`
	MessageCount   int         `json:"messageCount"`
	TotalTokens    int         `json:"totalTokens"`
	AvgTokens      float64     `json:"avgTokens"`
	AvgTargetRatio float64     `json:"avgTargetRatio"`
	CompactCount   int         `json:"compactCount"`
	AlertCount     int         `json:"alertCount"`
	TopFiles       []FileUsage `json:"topFiles"`
}

// TopFilesLimit bounds SessionStats.TopFiles.
const TopFilesLimit = 10

// ResetMetric is the metric name under which a reset from source is stored.
func ResetMetric(source string) string { return "reset_" + source }
