// Package language classifies text by script mix and estimates how many tokens
// would be saved by writing CJK content in a Latin-script language instead.
package language

import (
	"math"
	"strings"
	"time"

	"github.com/Manjussha/ctxmon/internal/tokenizer"
)

// Language is the dominant script of a text sample.
type Language string

const (
	Target Language = "target"
	Latin  Language = "latin"
	Mixed  Language = "mixed"
)

// Source label prefixes.
const (
	FilePrefix    = "file:"
	MessagePrefix = "message:"
)

// Classification thresholds on the target-script character ratio.
const (
	targetThreshold = 0.7
	mixedThreshold  = 0.1
)

// Latin rewrite model: the same content in a Latin-script language takes
// about 60% of the characters at the Latin per-character cost.
const rewriteCharShare = 60

// Analysis is the classification of one text sample.
type Analysis struct {
	Source            string    `json:"source"`
	PrimaryLanguage   Language  `json:"primaryLanguage"`
	TargetChars       int       `json:"targetScriptChars"`
	LatinChars        int       `json:"latinChars"`
	TargetRatio       float64   `json:"targetRatio"` // percent, one decimal
	LatinRatio        float64   `json:"latinRatio"`  // percent, one decimal
	TargetTokens      int       `json:"targetTokens"`
	LatinTokens       int       `json:"latinTokens"`
	TotalTokens       int       `json:"totalTokens"`
	PotentialSavings  int       `json:"potentialSavings"`
	SavingsPercentage float64   `json:"savingsPercentage"`
	Timestamp         time.Time `json:"timestamp"`
}

// IsFile reports whether the sample was keyed as a file.
func (a Analysis) IsFile() bool { return strings.HasPrefix(a.Source, FilePrefix) }

// Path returns the file path of a file-scoped sample.
func (a Analysis) Path() string { return strings.TrimPrefix(a.Source, FilePrefix) }

// Classify analyses text without touching any aggregate state. Token costs always
// use the fallback per-character weights so samples stay comparable whatever
// tokenizer the Estimator runs.
func Classify(text, source string, at time.Time) Analysis {
	c := tokenizer.CountScript(text)
	total := c.Total()

	a := Analysis{
		Source:      source,
		TargetChars: c.Target,
		LatinChars:  c.Other,
		Timestamp:   at,
	}
	a.TargetTokens = tokenizer.CeilCost(c.Target, tokenizer.TargetCharCost)
	a.LatinTokens = tokenizer.CeilCost(c.Other, tokenizer.OtherCharCost)
	a.TotalTokens = a.TargetTokens + a.LatinTokens

	var ratio float64
	if total > 0 {
		ratio = float64(c.Target) / float64(total)
		a.TargetRatio = round1(ratio * 100)
		a.LatinRatio = round1(float64(c.Other) / float64(total) * 100)
	}
	switch {
	case ratio > targetThreshold:
		a.PrimaryLanguage = Target
	case ratio > mixedThreshold:
		a.PrimaryLanguage = Mixed
	default:
		a.PrimaryLanguage = Latin
	}

	// ceil(total * 0.6 * 0.25) in integer arithmetic.
	rewritten := (total*rewriteCharShare*tokenizer.OtherCharCost + 9999) / 10000
	a.PotentialSavings = max(0, a.TotalTokens-rewritten)
	if a.TotalTokens > 0 {
		a.SavingsPercentage = round1(float64(a.PotentialSavings) / float64(a.TotalTokens) * 100)
	}
	return a
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
