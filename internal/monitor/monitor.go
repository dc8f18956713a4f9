// Package monitor tracks the token budget of one conversational session: it
// estimates and classifies tracked text, follows the context size, detects
// compactions, and turns all of it into metrics, alerts and recommendations.
//
// A Monitor is one session. Callers construct it, feed it, and Close it; there
// is no process-wide default instance.
package monitor

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/Manjussha/ctxmon/internal/language"
	"github.com/Manjussha/ctxmon/internal/store"
	"github.com/Manjussha/ctxmon/internal/tokenizer"
)

const (
	DefaultRetentionDays = 7
	DefaultModel         = "claude"

	largeFileBytes = 100_000
)

// SensitivePatterns mark paths whose content is counted but never analyzed.
var SensitivePatterns = []string{".env", "secrets", "private", ".key", ".pem", "token"}

// Options configures a Monitor.
type Options struct {
	Config
	Model         string
	RetentionDays int
}

// FileAccess describes one tracked file read.
type FileAccess struct {
	Path      string             `json:"path"`
	Tokens    int                `json:"tokens"`
	Redundant bool               `json:"redundant"`
	Sensitive bool               `json:"sensitive"`
	Analysis  *language.Analysis `json:"analysis,omitempty"`
}

// Monitor is the session facade over an Analyzer, an Estimator and a Store.
// Initialization is lazy: the first operation cleans up expired records and
// starts a session.
type Monitor struct {
	store     store.Store
	estimator *tokenizer.Estimator
	analyzer  *Analyzer

	model         string
	retentionDays int

	// opMu serializes operations that mutate session state, so a reset cannot
	// land between the language and size updates of one tracked item.
	opMu sync.Mutex

	mu          sync.Mutex
	initialized bool
	sessionID   int64
	seen        map[string][sha256.Size]byte
}

// New creates a Monitor. It does not touch the store until first use.
func New(st store.Store, est *tokenizer.Estimator, notifier Notifier, opts Options) *Monitor {
	if est == nil {
		est = tokenizer.NewEstimatorWith(nil, 0, 0)
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = DefaultRetentionDays
	}
	a := NewAnalyzer(st, notifier, opts.Config)
	return &Monitor{
		store:         a.store,
		estimator:     est,
		analyzer:      a,
		model:         opts.Model,
		retentionDays: opts.RetentionDays,
		seen:          make(map[string][sha256.Size]byte),
	}
}

// Initialize purges records older than the retention window and starts a
// session. It is a no-op once it has succeeded.
func (m *Monitor) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}
	if err := m.store.CleanupOlderThan(ctx, m.retentionDays); err != nil {
		log.Error("cleanup of expired sessions failed", "err", err)
	}
	id, err := m.store.StartSession(ctx, m.model)
	if err != nil {
		return fmt.Errorf("monitor.Initialize: %w", err)
	}
	m.sessionID = id
	m.initialized = true
	log.Info("context monitor initialized", "session", id, "tokenizer", m.estimator.Name())
	return nil
}

// SessionID returns the active session id, or 0 before initialization.
func (m *Monitor) SessionID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Analyzer exposes the orchestrator for configuration and statistics.
func (m *Monitor) Analyzer() *Analyzer { return m.analyzer }

// Estimator exposes the token estimator.
func (m *Monitor) Estimator() *tokenizer.Estimator { return m.estimator }

// TrackMessage counts and classifies a message and grows the context by its
// tokens. Only statistics are persisted. In-memory state is updated even when
// the returned error reports a storage failure.
func (m *Monitor) TrackMessage(ctx context.Context, text, role string) (language.Analysis, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	initErr := m.Initialize(ctx)
	if role == "" {
		role = "user"
	}

	sample := m.estimator.Count(text, role)
	an := m.analyzer.AnalyzeText(text, language.MessagePrefix+role)
	m.analyzer.Grow(sample.Count)

	if an.TargetRatio > 50 {
		log.Info("message is mostly CJK", "ratio", fmt.Sprintf("%.1f%%", an.TargetRatio),
			"potentialSavings", humanize.Comma(int64(an.PotentialSavings)))
	}

	ratio := an.TargetRatio / 100
	err := m.store.RecordMessage(ctx, store.MessageRecord{
		Role:            role,
		Tokens:          sample.Count,
		TargetTokens:    an.TargetTokens,
		LatinTokens:     an.LatinTokens,
		TargetRatio:     &ratio,
		PrimaryLanguage: string(an.PrimaryLanguage),
		Timestamp:       sample.ObservedAt,
	})
	if err != nil {
		err = fmt.Errorf("monitor.TrackMessage: %w", err)
	}
	return an, errors.Join(initErr, err)
}

// TrackFileAccess records a file read. With empty content only the access is
// recorded. A re-read of identical content is flagged redundant.
func (m *Monitor) TrackFileAccess(ctx context.Context, path, content string) (FileAccess, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	initErr := m.Initialize(ctx)

	fa := FileAccess{Path: path, Sensitive: isSensitive(path)}
	rec := store.FileAccessRecord{Path: path, Operation: "read"}

	if content != "" {
		sample := m.estimator.Count(content, "file")
		fa.Tokens = sample.Count
		rec.Tokens = sample.Count
		rec.Timestamp = sample.ObservedAt
		fa.Redundant = m.markSeen(path, content)
		rec.Redundant = fa.Redundant

		if len(content) > largeFileBytes {
			log.Info("large file read", "path", path, "size", humanize.Bytes(uint64(len(content))),
				"tokens", humanize.Comma(int64(fa.Tokens)))
		}
		if fa.Redundant {
			log.Debug("redundant file read", "path", path)
		}

		if !fa.Sensitive {
			an := m.analyzer.AnalyzeText(content, language.FilePrefix+path)
			fa.Analysis = &an
			ratio := an.TargetRatio / 100
			rec.Language = string(an.PrimaryLanguage)
			rec.TargetRatio = &ratio
		}
		m.analyzer.Grow(fa.Tokens)
	} else {
		rec.Timestamp = m.analyzer.now()
	}

	err := m.store.RecordFileAccess(ctx, rec)
	if err != nil {
		err = fmt.Errorf("monitor.TrackFileAccess: %w", err)
	}
	return fa, errors.Join(initErr, err)
}

// HandleReset applies a reset transition. clear, reset and startup also forget
// which files were already read.
func (m *Monitor) HandleReset(ctx context.Context, source ResetSource) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	initErr := m.Initialize(ctx)
	if err := m.analyzer.HandleReset(ctx, source); err != nil {
		return errors.Join(initErr, err)
	}
	if source != ResetResume {
		m.mu.Lock()
		clear(m.seen)
		m.mu.Unlock()
	}
	return initErr
}

// Metrics runs analysis on the current size and returns the snapshot.
func (m *Monitor) Metrics(ctx context.Context) Metrics {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.Initialize(ctx); err != nil {
		log.Error("monitor initialization failed", "err", err)
	}
	return m.analyzer.Analyze(ctx)
}

// MetricsAt reports an externally observed context size and returns the snapshot.
func (m *Monitor) MetricsAt(ctx context.Context, size int) Metrics {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.Initialize(ctx); err != nil {
		log.Error("monitor initialization failed", "err", err)
	}
	return m.analyzer.AnalyzeSize(ctx, size)
}

// Snapshot returns metrics without running detection or alerting.
func (m *Monitor) Snapshot() Metrics { return m.analyzer.CurrentMetrics() }

// Recommendations returns the language recommendations, all severities.
func (m *Monitor) Recommendations(ctx context.Context) []language.Recommendation {
	if err := m.Initialize(ctx); err != nil {
		log.Error("monitor initialization failed", "err", err)
	}
	return m.analyzer.LanguageRecommendations()
}

// SessionStats returns the persisted statistics of the active session.
func (m *Monitor) SessionStats(ctx context.Context) (*store.SessionStats, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}
	return m.store.SessionStats(ctx)
}

// Close ends the session and releases the estimator. The store stays open and
// belongs to the caller.
func (m *Monitor) Close(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.initialized {
		if err := m.store.EndSession(ctx); err != nil {
			errs = append(errs, fmt.Errorf("monitor.Close: end session: %w", err))
		}
		m.initialized = false
		m.sessionID = 0
	}
	if err := m.estimator.Close(); err != nil {
		errs = append(errs, fmt.Errorf("monitor.Close: estimator: %w", err))
	}
	return errors.Join(errs...)
}

// markSeen records the content hash for path and reports whether the same
// content was already read.
func (m *Monitor) markSeen(path, content string) bool {
	sum := sha256.Sum256([]byte(content))
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.seen[path]
	m.seen[path] = sum
	return ok && prev == sum
}

func isSensitive(path string) bool {
	p := strings.ToLower(path)
	for _, pat := range SensitivePatterns {
		if strings.Contains(p, pat) {
			return true
		}
	}
	return false
}
