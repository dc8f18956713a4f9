package tokenizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer is a primary token-counting strategy. Count may fail; the Estimator
// falls back to FallbackEstimate when it does.
type Tokenizer interface {
	Name() string
	Count(text string) (int, error)
	Close() error
}

// ErrClosed is returned by a Tokenizer used after Close.
var ErrClosed = errors.New("tokenizer: closed")

// ── Fallback ──────────────────────────────────────────────────────────────────

type fallbackTokenizer struct{}

func (fallbackTokenizer) Name() string                   { return "fallback" }
func (fallbackTokenizer) Count(text string) (int, error) { return FallbackEstimate(text), nil }
func (fallbackTokenizer) Close() error                   { return nil }

// ── tiktoken ──────────────────────────────────────────────────────────────────

// Tiktoken counts BPE tokens with a local OpenAI encoding.
type Tiktoken struct {
	model string

	mu  sync.RWMutex
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the encoding for model (e.g. "gpt-4"). Loading may need to
// fetch the BPE ranks on first use, so it can fail when offline.
func NewTiktoken(model string) (*Tiktoken, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("tokenizer.NewTiktoken: %s: %w", model, err)
	}
	return &Tiktoken{model: model, enc: enc}, nil
}

func (t *Tiktoken) Name() string { return "tiktoken:" + t.model }

// Count encodes text. Encode panics on disallowed special tokens; the Estimator recovers that.
func (t *Tiktoken) Count(text string) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.enc == nil {
		return 0, ErrClosed
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *Tiktoken) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enc = nil
	return nil
}

// ── Anthropic count_tokens ───────────────────────────────────────────────────

// DefaultAnthropicModel is used for count_tokens requests when no model is configured.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

// Anthropic counts tokens through the Messages count_tokens endpoint.
type Anthropic struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	closed  atomic.Bool
}

// NewAnthropic creates an API-backed tokenizer. An empty apiKey is an error so
// the caller can pick another strategy at construction time.
func NewAnthropic(apiKey, model string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("tokenizer.NewAnthropic: api key is required")
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &Anthropic{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		timeout: 10 * time.Second,
	}, nil
}

func (a *Anthropic) Name() string { return "anthropic:" + a.model }

func (a *Anthropic) Count(text string) (int, error) {
	if a.closed.Load() {
		return 0, ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	resp, err := a.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model: anthropic.Model(a.model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("tokenizer.Anthropic.Count: %w", err)
	}
	return int(resp.InputTokens), nil
}

func (a *Anthropic) Close() error {
	a.closed.Store(true)
	return nil
}
