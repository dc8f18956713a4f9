package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/Manjussha/ctxmon/internal/compaction"
	"github.com/Manjussha/ctxmon/internal/language"
	"github.com/Manjussha/ctxmon/internal/ring"
	"github.com/Manjussha/ctxmon/internal/store"
)

// ResetSource names the host event behind a context reset.
type ResetSource string

const (
	ResetClear   ResetSource = "clear"
	ResetReset   ResetSource = "reset"
	ResetStartup ResetSource = "startup"
	ResetResume  ResetSource = "resume"
)

// ErrUnknownResetSource is returned by HandleReset for a source outside the four known ones.
var ErrUnknownResetSource = errors.New("monitor: unknown reset source")

// ParseResetSource validates s.
func ParseResetSource(s string) (ResetSource, error) {
	switch src := ResetSource(s); src {
	case ResetClear, ResetReset, ResetStartup, ResetResume:
		return src, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownResetSource, s)
}

// Notifier receives monitor events. notify.Dispatcher implements it.
type Notifier interface {
	Send(event string, payload interface{})
}

// Event names passed to Notifier.Send.
const (
	EventMetrics    = "metrics"
	EventAlert      = "alert"
	EventCompaction = "compaction"
	EventReset      = "reset"
)

const (
	DefaultMaxContext = 200_000
	resetHistory      = 100
	frequentCompacts  = 3
)

// ResetEvent is one entry of the reset log.
type ResetEvent struct {
	Source       ResetSource `json:"source"`
	Timestamp    time.Time   `json:"timestamp"`
	PreviousSize int         `json:"previousSize"`
}

// LanguageStats is the language part of Metrics.
type LanguageStats struct {
	TargetTokens     int `json:"targetTokens"`
	LatinTokens      int `json:"latinTokens"`
	PotentialSavings int `json:"potentialSavings"`
}

// Metrics is a point-in-time snapshot of the monitored context.
type Metrics struct {
	Current             int                `json:"current"`
	Max                 int                `json:"max"`
	UsagePercent        float64            `json:"usagePercent"`
	Status              Status             `json:"status"`
	RecentCompactEvents []compaction.Event `json:"recentCompactEvents"`
	Recommendations     []string           `json:"recommendations"`
	LanguageStats       LanguageStats      `json:"languageStats"`
}

// Alert is the payload of EventAlert.
type Alert struct {
	Level        Status    `json:"level"`
	UsagePercent float64   `json:"usagePercent"`
	CurrentSize  int       `json:"currentSize"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

// Config tunes an Analyzer. Zero or invalid values keep the defaults.
type Config struct {
	MaxContext       int
	Thresholds       Thresholds
	CompactThreshold float64
	MinReduction     int
	LanguageWindow   int
}

// Analyzer owns the current context size and thresholds, and fuses the
// compaction detector and language analyzer into Metrics. Mutations are
// serialized; persistence happens after the state change, outside the lock.
type Analyzer struct {
	mu         sync.Mutex
	current    int
	max        int
	thresholds Thresholds

	detector *compaction.Detector
	language *language.Analyzer
	resets   *ring.Buffer[ResetEvent]

	store    store.Store
	notifier Notifier
	now      func() time.Time
}

// NewAnalyzer creates an Analyzer recording into st. A nil st records nothing;
// notifier may be nil.
func NewAnalyzer(st store.Store, notifier Notifier, cfg Config) *Analyzer {
	if st == nil {
		st = store.NewMemory()
	}
	a := &Analyzer{
		max:        DefaultMaxContext,
		thresholds: DefaultThresholds,
		detector:   compaction.NewDetector(),
		language:   language.NewAnalyzer(cfg.LanguageWindow),
		resets:     ring.New[ResetEvent](resetHistory),
		store:      st,
		notifier:   notifier,
		now:        time.Now,
	}
	a.SetMaxContext(cfg.MaxContext)
	a.SetThresholds(cfg.Thresholds.Warning, cfg.Thresholds.Critical)
	a.detector.SetThreshold(cfg.CompactThreshold)
	a.detector.SetMinReduction(cfg.MinReduction)
	return a
}

// Analyze recomputes metrics for the current size.
func (a *Analyzer) Analyze(ctx context.Context) Metrics {
	return a.analyze(ctx, 0, false)
}

// AnalyzeSize overwrites the current size with size and recomputes metrics.
func (a *Analyzer) AnalyzeSize(ctx context.Context, size int) Metrics {
	return a.analyze(ctx, size, true)
}

func (a *Analyzer) analyze(ctx context.Context, size int, hasSize bool) Metrics {
	a.mu.Lock()
	if hasSize {
		a.current = max(0, size)
	}
	ev := a.detector.Detect(a.current)
	if ev != nil {
		a.current = ev.After
	}
	usage := a.usage()
	status := a.thresholds.Classify(usage)
	m := a.snapshot(status, a.recommendations(status))
	a.mu.Unlock()

	if ev != nil {
		if err := a.store.RecordCompact(ctx, *ev); err != nil {
			log.Error("record compaction failed", "err", err)
		}
		a.notify(EventCompaction, *ev)
	}

	if status != StatusSafe {
		alert := Alert{
			Level:        status,
			UsagePercent: m.UsagePercent,
			CurrentSize:  m.Current,
			Message:      fmt.Sprintf("Context usage: %.1f%%", m.UsagePercent),
			Timestamp:    a.now(),
		}
		log.Warn("context usage high", "status", status, "usage", fmt.Sprintf("%.1f%%", m.UsagePercent),
			"remaining", humanize.Comma(int64(m.Max-m.Current)))
		if err := a.store.RecordAlert(ctx, store.AlertRecord{
			Level:        status.String(),
			UsagePercent: alert.UsagePercent,
			CurrentSize:  alert.CurrentSize,
			Message:      alert.Message,
			Timestamp:    alert.Timestamp,
		}); err != nil {
			log.Error("record alert failed", "err", err)
		}
		a.notify(EventAlert, alert)
	}

	a.notify(EventMetrics, m)
	return m
}

// CurrentMetrics returns a snapshot without running detection or alerting.
// Recommendations are left empty.
func (a *Analyzer) CurrentMetrics() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot(a.thresholds.Classify(a.usage()), []string{})
}

// HandleReset applies the transition for source, then records it. The state change
// always happens; the returned error only reports persistence failures.
func (a *Analyzer) HandleReset(ctx context.Context, source ResetSource) error {
	a.mu.Lock()
	re := ResetEvent{Source: source, Timestamp: a.now(), PreviousSize: a.current}

	var manual *compaction.Event
	switch source {
	case ResetClear, ResetReset:
		a.current = 0
		ev := a.detector.RecordManualReset(re.PreviousSize, 0)
		manual = &ev
		a.language.Reset()
		log.Info("context reset", "source", source, "cleared", humanize.Comma(int64(re.PreviousSize)))
	case ResetStartup:
		a.current = 0
		a.detector.Reset()
		a.language.Reset()
		log.Info("new session started")
	case ResetResume:
		log.Info("session resumed", "current", humanize.Comma(int64(a.current)))
	default:
		a.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownResetSource, source)
	}
	a.resets.Push(re)
	a.mu.Unlock()

	var errs []error
	if err := a.store.RecordReset(ctx, store.ResetRecord{
		Source:       string(source),
		Timestamp:    re.Timestamp,
		PreviousSize: re.PreviousSize,
	}); err != nil {
		errs = append(errs, fmt.Errorf("monitor.HandleReset: record reset: %w", err))
	}
	if manual != nil {
		if err := a.store.RecordCompact(ctx, *manual); err != nil {
			errs = append(errs, fmt.Errorf("monitor.HandleReset: record compaction: %w", err))
		}
		a.notify(EventCompaction, *manual)
	}
	a.notify(EventReset, re)
	return errors.Join(errs...)
}

// AnalyzeText runs the language analyzer on text under source.
func (a *Analyzer) AnalyzeText(text, source string) language.Analysis {
	return a.language.Analyze(text, source)
}

// Grow adds tokens to the current size and returns the new size.
func (a *Analyzer) Grow(tokens int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = max(0, a.current+tokens)
	return a.current
}

// UpdateCurrentSize overwrites the current size without running detection.
func (a *Analyzer) UpdateCurrentSize(size int) {
	a.mu.Lock()
	a.current = max(0, size)
	a.mu.Unlock()
}

// SetMaxContext changes the context window size. Non-positive values are ignored.
func (a *Analyzer) SetMaxContext(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	a.max = n
	a.mu.Unlock()
}

// SetThresholds changes the warning and critical fractions. Combinations that do
// not satisfy 0 < warning < critical < 1 are ignored.
func (a *Analyzer) SetThresholds(warning, critical float64) {
	t := Thresholds{Warning: warning, Critical: critical}
	if !t.Valid() {
		return
	}
	a.mu.Lock()
	a.thresholds = t
	a.mu.Unlock()
}

// Thresholds returns the active thresholds.
func (a *Analyzer) Thresholds() Thresholds {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.thresholds
}

// LanguageRecommendations returns every language recommendation, all severities.
func (a *Analyzer) LanguageRecommendations() []language.Recommendation {
	return a.language.Recommendations()
}

// LanguageSummary returns the language analyzer's session summary.
func (a *Analyzer) LanguageSummary() language.Summary {
	return a.language.Summary()
}

// CompactionStats returns the detector's statistics.
func (a *Analyzer) CompactionStats() compaction.Stats {
	return a.detector.Statistics()
}

// Resets returns the reset log, oldest first.
func (a *Analyzer) Resets() []ResetEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resets.Slice()
}

// usage must be called with mu held.
func (a *Analyzer) usage() float64 {
	return float64(a.current) / float64(a.max)
}

// snapshot must be called with mu held.
func (a *Analyzer) snapshot(status Status, recs []string) Metrics {
	summary := a.language.Summary()
	return Metrics{
		Current:             a.current,
		Max:                 a.max,
		UsagePercent:        a.usage() * 100,
		Status:              status,
		RecentCompactEvents: a.detector.Events(),
		Recommendations:     recs,
		LanguageStats: LanguageStats{
			TargetTokens:     summary.TargetTokens,
			LatinTokens:      summary.LatinTokens,
			PotentialSavings: summary.PotentialTotalSavings,
		},
	}
}

// recommendations must be called with mu held.
func (a *Analyzer) recommendations(status Status) []string {
	recs := []string{}
	switch status {
	case StatusCritical:
		recs = append(recs,
			"Consider resetting context or starting a new session",
			"Save important information before context limit")
	case StatusWarning:
		recs = append(recs,
			"Context usage high - consider summarizing previous work",
			"Archive completed tasks to free up context")
	}

	for _, r := range a.language.Recommendations() {
		if r.Level == language.LevelHigh || r.Level == language.LevelMedium {
			recs = append(recs, r.Message)
		}
	}

	if n := a.detector.Statistics().DetectedLast24h; n > frequentCompacts {
		recs = append(recs, fmt.Sprintf("%d compacts in last 24h - consider shorter sessions", n))
	}
	return recs
}

func (a *Analyzer) notify(event string, payload interface{}) {
	if a.notifier != nil {
		a.notifier.Send(event, payload)
	}
}
