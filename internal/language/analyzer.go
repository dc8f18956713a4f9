package language

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Manjussha/ctxmon/internal/ring"
)

const (
	DefaultWindow = 100

	recentSamples     = 10
	recentTargetLimit = 70.0
	maxHeavyFiles     = 5
	maxSummaryFiles   = 3
)

// Level is the severity of a Recommendation.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
	LevelInfo   Level = "info"
)

// FileHint names a CJK-heavy file in an informational recommendation.
type FileHint struct {
	Path             string  `json:"path"`
	TargetRatio      float64 `json:"targetRatio"`
	PotentialSavings int     `json:"potentialSavings"`
}

// Recommendation is advisory output of the analyzer.
type Recommendation struct {
	Level            Level      `json:"level"`
	Message          string     `json:"message"`
	EstimatedSavings int        `json:"estimatedSavings,omitempty"`
	Files            []FileHint `json:"files,omitempty"`
}

// FileTokens is one entry of Summary.TopTargetFiles.
type FileTokens struct {
	Path   string `json:"path"`
	Tokens int    `json:"tokens"`
}

// Summary aggregates the session's language statistics.
type Summary struct {
	TotalTokens           int          `json:"totalTokens"`
	TargetTokens          int          `json:"targetTokens"`
	LatinTokens           int          `json:"latinTokens"`
	TargetPercentage      float64      `json:"targetPercentage"`
	PotentialTotalSavings int          `json:"potentialTotalSavings"`
	TopTargetFiles        []FileTokens `json:"topTargetFiles"`
}

// Stats is a snapshot of the analyzer's retained state.
type Stats struct {
	TotalTarget int        `json:"totalTarget"`
	TotalLatin  int        `json:"totalLatin"`
	Messages    []Analysis `json:"messages"`
	Files       []Analysis `json:"files"`
}

// Analyzer folds analyses into session aggregates. Totals always equal the sum
// over retained window messages plus current file entries.
type Analyzer struct {
	mu          sync.Mutex
	window      *ring.Buffer[Analysis]
	files       map[string]Analysis
	totalTarget int
	totalLatin  int
	now         func() time.Time
}

// NewAnalyzer creates an Analyzer retaining the last windowSize message samples.
func NewAnalyzer(windowSize int) *Analyzer {
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}
	return &Analyzer{
		window: ring.New[Analysis](windowSize),
		files:  make(map[string]Analysis),
		now:    time.Now,
	}
}

// Analyze classifies text and folds the result into the aggregates. Sources with
// the file prefix replace that file's previous entry; everything else enters the
// message window.
func (a *Analyzer) Analyze(text, source string) Analysis {
	a.mu.Lock()
	defer a.mu.Unlock()

	an := Classify(text, source, a.now())
	a.totalTarget += an.TargetTokens
	a.totalLatin += an.LatinTokens

	if an.IsFile() {
		if prev, ok := a.files[source]; ok {
			a.totalTarget -= prev.TargetTokens
			a.totalLatin -= prev.LatinTokens
		}
		a.files[source] = an
		return an
	}

	if old, evicted := a.window.Push(an); evicted {
		a.totalTarget -= old.TargetTokens
		a.totalLatin -= old.LatinTokens
	}
	return an
}

// Recommendations derives advisory recommendations from the current aggregates.
func (a *Analyzer) Recommendations() []Recommendation {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := a.totalTarget + a.totalLatin
	if total == 0 {
		return nil
	}
	p := float64(a.totalTarget) / float64(total) * 100

	var recs []Recommendation
	switch {
	case p > 50:
		recs = append(recs, Recommendation{
			Level:            LevelHigh,
			Message:          fmt.Sprintf("High CJK usage (%.1f%%). Consider writing in English for 40-50%% token savings.", p),
			EstimatedSavings: a.totalTarget * 4 / 10,
		})
	case p > 30:
		recs = append(recs, Recommendation{
			Level:            LevelMedium,
			Message:          fmt.Sprintf("Moderate CJK usage (%.1f%%). English input could save ~30%% tokens.", p),
			EstimatedSavings: a.totalTarget * 3 / 10,
		})
	case p > 10:
		recs = append(recs, Recommendation{
			Level:            LevelLow,
			Message:          fmt.Sprintf("Low CJK usage (%.1f%%). English usage is already efficient.", p),
			EstimatedSavings: a.totalTarget * 2 / 10,
		})
	}

	if hints := a.heavyFiles(); len(hints) > 0 {
		recs = append(recs, Recommendation{
			Level:   LevelInfo,
			Message: "Files with high CJK content (consider translating or using English versions):",
			Files:   hints,
		})
	}

	if a.window.Len() >= recentSamples {
		var target, sum int
		for _, m := range a.window.Last(recentSamples) {
			target += m.TargetTokens
			sum += m.TotalTokens
		}
		if sum > 0 {
			if rp := float64(target) / float64(sum) * 100; rp > recentTargetLimit {
				recs = append(recs, Recommendation{
					Level:   LevelMedium,
					Message: fmt.Sprintf("Recent messages are %.1f%% CJK. Try switching to English for better efficiency.", rp),
				})
			}
		}
	}
	return recs
}

func (a *Analyzer) heavyFiles() []FileHint {
	var heavy []Analysis
	for _, f := range a.files {
		if f.TargetRatio > 50 {
			heavy = append(heavy, f)
		}
	}
	sort.Slice(heavy, func(i, j int) bool {
		if heavy[i].TotalTokens != heavy[j].TotalTokens {
			return heavy[i].TotalTokens > heavy[j].TotalTokens
		}
		return heavy[i].Source < heavy[j].Source
	})
	if len(heavy) > maxHeavyFiles {
		heavy = heavy[:maxHeavyFiles]
	}
	hints := make([]FileHint, 0, len(heavy))
	for _, f := range heavy {
		hints = append(hints, FileHint{Path: f.Path(), TargetRatio: f.TargetRatio, PotentialSavings: f.PotentialSavings})
	}
	return hints
}

// Summary returns session totals and the files with the most target-script tokens.
func (a *Analyzer) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Summary{
		TotalTokens:           a.totalTarget + a.totalLatin,
		TargetTokens:          a.totalTarget,
		LatinTokens:           a.totalLatin,
		PotentialTotalSavings: a.totalTarget * 4 / 10,
		TopTargetFiles:        []FileTokens{},
	}
	if s.TotalTokens > 0 {
		s.TargetPercentage = float64(a.totalTarget) / float64(s.TotalTokens) * 100
	}

	var files []Analysis
	for _, f := range a.files {
		if f.TargetTokens > 0 {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].TargetTokens != files[j].TargetTokens {
			return files[i].TargetTokens > files[j].TargetTokens
		}
		return files[i].Source < files[j].Source
	})
	for i, f := range files {
		if i == maxSummaryFiles {
			break
		}
		s.TopTargetFiles = append(s.TopTargetFiles, FileTokens{Path: f.Path(), Tokens: f.TargetTokens})
	}
	return s
}

// Stats returns a copy of the retained samples and totals. Files are sorted by source.
func (a *Analyzer) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	files := make([]Analysis, 0, len(a.files))
	for _, f := range a.files {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Source < files[j].Source })
	return Stats{
		TotalTarget: a.totalTarget,
		TotalLatin:  a.totalLatin,
		Messages:    a.window.Slice(),
		Files:       files,
	}
}

// Reset clears every sample and total.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.window.Reset()
	clear(a.files)
	a.totalTarget = 0
	a.totalLatin = 0
}
