// Package compaction infers context compactions from the shape of a sequence of
// reported context sizes: a single large, sudden drop.
package compaction

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/Manjussha/ctxmon/internal/ring"
)

// EventType distinguishes inferred compactions from known resets.
type EventType string

const (
	TypeDetected     EventType = "detected"
	TypeManual       EventType = "manual"
	TypeSessionStart EventType = "session-start"
)

const (
	DefaultThreshold    = 0.3
	DefaultMinReduction = 10_000
	DefaultHistory      = 100

	majorReduction   = 50_000
	notableReduction = 20_000
)

// Event is one compaction.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Before    int       `json:"before"`
	After     int       `json:"after"`
	Reduction int       `json:"reduction"`
	Rate      float64   `json:"rate"`
	Type      EventType `json:"type"`
}

// Stats summarises the event history.
type Stats struct {
	TotalCompacts        int     `json:"totalCompacts"`
	TotalTokensRecovered int     `json:"totalTokensRecovered"`
	AverageReduction     float64 `json:"averageReduction"`
	LargestCompact       *Event  `json:"largestCompact"`
	CompactsLast24h      int     `json:"compactsLast24h"`
	DetectedLast24h      int     `json:"detectedLast24h"`
}

// Detector tracks a baseline size and flags drops that clear both the relative
// threshold and the absolute minimum reduction.
type Detector struct {
	mu           sync.Mutex
	baseline     int
	hasBaseline  bool
	threshold    float64
	minReduction int
	events       *ring.Buffer[Event]
	now          func() time.Time
}

// NewDetector creates a Detector with the default threshold, minimum reduction and history size.
func NewDetector() *Detector {
	return &Detector{
		threshold:    DefaultThreshold,
		minReduction: DefaultMinReduction,
		events:       ring.New[Event](DefaultHistory),
		now:          time.Now,
	}
}

// Detect feeds the next observed size. It returns the event when the drop from the
// baseline is a compaction, nil otherwise. Growth raises the baseline; a drop too
// small to count leaves it unchanged.
func (d *Detector) Detect(size int) *Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.hasBaseline {
		d.baseline = size
		d.hasBaseline = true
		return nil
	}

	reduction := d.baseline - size
	var rate float64
	if d.baseline > 0 {
		rate = float64(reduction) / float64(d.baseline)
	}

	if rate > d.threshold && reduction > d.minReduction {
		ev := Event{
			Timestamp: d.now(),
			Before:    d.baseline,
			After:     size,
			Reduction: reduction,
			Rate:      rate,
			Type:      TypeDetected,
		}
		d.record(ev)
		d.baseline = size
		return &ev
	}

	if size > d.baseline {
		d.baseline = size
	}
	return nil
}

// RecordManualReset records a known reset from before to after and makes after the
// new baseline. A zero before counts as a full reduction.
func (d *Detector) RecordManualReset(before, after int) Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	rate := 1.0
	if before > 0 {
		rate = float64(before-after) / float64(before)
	}
	ev := Event{
		Timestamp: d.now(),
		Before:    before,
		After:     after,
		Reduction: before - after,
		Rate:      rate,
		Type:      TypeManual,
	}
	d.record(ev)
	d.baseline = after
	d.hasBaseline = true
	return ev
}

func (d *Detector) record(ev Event) {
	d.events.Push(ev)

	switch {
	case ev.Reduction > majorReduction:
		log.Warn("major context compaction", "reduced", humanize.Comma(int64(ev.Reduction)), "rate", percent(ev.Rate), "type", ev.Type)
	case ev.Reduction > notableReduction:
		log.Info("context compaction", "reduced", humanize.Comma(int64(ev.Reduction)), "rate", percent(ev.Rate), "type", ev.Type)
	}
}

// Events returns the retained history, oldest first.
func (d *Detector) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events.Slice()
}

// Latest returns the most recent event, or nil.
func (d *Detector) Latest() *Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	last := d.events.Last(1)
	if len(last) == 0 {
		return nil
	}
	return &last[0]
}

// Statistics summarises the retained history.
func (d *Detector) Statistics() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-24 * time.Hour)
	var s Stats
	for _, ev := range d.events.Slice() {
		s.TotalCompacts++
		s.TotalTokensRecovered += ev.Reduction
		if s.LargestCompact == nil || ev.Reduction > s.LargestCompact.Reduction {
			largest := ev
			s.LargestCompact = &largest
		}
		if ev.Timestamp.After(cutoff) {
			s.CompactsLast24h++
			if ev.Type == TypeDetected {
				s.DetectedLast24h++
			}
		}
	}
	if s.TotalCompacts > 0 {
		s.AverageReduction = float64(s.TotalTokensRecovered) / float64(s.TotalCompacts)
	}
	return s
}

// SetThreshold changes the relative threshold. Values outside (0, 1) are ignored.
func (d *Detector) SetThreshold(t float64) {
	if t <= 0 || t >= 1 {
		return
	}
	d.mu.Lock()
	d.threshold = t
	d.mu.Unlock()
}

// SetMinReduction changes the absolute minimum. Non-positive values are ignored.
func (d *Detector) SetMinReduction(n int) {
	if n <= 0 {
		return
	}
	d.mu.Lock()
	d.minReduction = n
	d.mu.Unlock()
}

// Baseline returns the size the next observation is compared against.
func (d *Detector) Baseline() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baseline
}

// Reset forgets the baseline and history.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.baseline = 0
	d.hasBaseline = false
	d.events.Reset()
}

func percent(rate float64) string {
	return humanize.FtoaWithDigits(rate*100, 1) + "%"
}
