// Package tokenizer estimates token counts for text. A primary Tokenizer is
// chosen at construction; any failure on a call routes to the character-frequency
// fallback, so estimation never returns an error.
package tokenizer

import (
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Strategy names a primary tokenizer.
type Strategy string

const (
	StrategyTiktoken  Strategy = "tiktoken"
	StrategyAnthropic Strategy = "anthropic"
	StrategyFallback  Strategy = "fallback"
)

const (
	DefaultAdjustment = 1.1
	DefaultCacheSize  = 1000
	DefaultModel      = "gpt-4"
)

// Options configures NewEstimator. Zero values select the defaults.
type Options struct {
	Strategy        Strategy
	Model           string // tiktoken encoding model
	AnthropicAPIKey string
	AnthropicModel  string
	// Adjustment scales primary counts toward the target model's tokenizer.
	// Defaults to 1.1 for tiktoken and 1.0 for the Anthropic strategy.
	Adjustment float64
	CacheSize  int
}

// TokenSample is one estimation result.
type TokenSample struct {
	Count      int       `json:"count"`
	Category   string    `json:"category"`
	ObservedAt time.Time `json:"observedAt"`
}

// Estimator converts text into token counts and memoizes results by exact text.
type Estimator struct {
	mu         sync.RWMutex
	primary    Tokenizer
	adjustment float64
	cache      *lru.Cache[string, int]
	now        func() time.Time
}

// NewEstimator builds an Estimator for opts.Strategy. When the primary tokenizer
// cannot be constructed the Estimator runs on the fallback formula alone.
func NewEstimator(opts Options) *Estimator {
	var (
		primary Tokenizer
		err     error
	)
	adjustment := opts.Adjustment

	switch opts.Strategy {
	case StrategyFallback:
	case StrategyAnthropic:
		primary, err = NewAnthropic(opts.AnthropicAPIKey, opts.AnthropicModel)
		if adjustment <= 0 {
			adjustment = 1.0
		}
	default:
		model := opts.Model
		if model == "" {
			model = DefaultModel
		}
		primary, err = NewTiktoken(model)
	}
	if err != nil {
		log.Warn("primary tokenizer unavailable, using fallback estimate", "strategy", opts.Strategy, "err", err)
		primary = nil
	}
	return NewEstimatorWith(primary, adjustment, opts.CacheSize)
}

// NewEstimatorWith builds an Estimator around an explicit primary. primary may be nil.
func NewEstimatorWith(primary Tokenizer, adjustment float64, cacheSize int) *Estimator {
	if adjustment <= 0 {
		adjustment = DefaultAdjustment
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, int](cacheSize) // only fails for size <= 0
	return &Estimator{
		primary:    primary,
		adjustment: adjustment,
		cache:      cache,
		now:        time.Now,
	}
}

// Name reports the active strategy.
func (e *Estimator) Name() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.primary == nil {
		return fallbackTokenizer{}.Name()
	}
	return e.primary.Name()
}

// Estimate returns the token count of text. It is total: errors and panics in the
// primary tokenizer yield the fallback estimate.
func (e *Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	// Peek keeps eviction in insertion order; hits do not refresh recency.
	if n, ok := e.cache.Peek(text); ok {
		return n
	}
	n := e.compute(text)
	e.cache.Add(text, n)
	return n
}

// Count estimates text and labels the result.
func (e *Estimator) Count(text, category string) TokenSample {
	return TokenSample{
		Count:      e.Estimate(text),
		Category:   category,
		ObservedAt: e.now(),
	}
}

func (e *Estimator) compute(text string) (n int) {
	e.mu.RLock()
	primary := e.primary
	e.mu.RUnlock()
	if primary == nil {
		return FallbackEstimate(text)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Debug("tokenizer panicked, using fallback estimate", "tokenizer", primary.Name(), "panic", r)
			n = FallbackEstimate(text)
		}
	}()

	count, err := primary.Count(text)
	if err != nil || count < 0 {
		log.Debug("tokenizer failed, using fallback estimate", "tokenizer", primary.Name(), "err", err)
		return FallbackEstimate(text)
	}
	// 1e-9 absorbs float error such as 10*1.1 = 11.000000000000002.
	return int(math.Ceil(float64(count)*e.adjustment - 1e-9))
}

// CacheLen returns the number of memoized texts.
func (e *Estimator) CacheLen() int { return e.cache.Len() }

// ClearCache drops every memoized result.
func (e *Estimator) ClearCache() { e.cache.Purge() }

// Close releases the primary tokenizer and clears the cache. The Estimator keeps
// working on the fallback formula afterwards.
func (e *Estimator) Close() error {
	e.mu.Lock()
	primary := e.primary
	e.primary = nil
	e.mu.Unlock()

	e.cache.Purge()
	if primary != nil {
		return primary.Close()
	}
	return nil
}
