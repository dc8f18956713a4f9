// Package webhook fires outbound webhook events to configured URLs.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Dispatcher posts JSON events to a fixed set of URLs.
type Dispatcher struct {
	urls    []string
	client  *http.Client
	delays  []time.Duration
	timeout time.Duration
	wg      sync.WaitGroup
}

// New creates a Dispatcher for urls with a default HTTP client.
func New(urls []string) *Dispatcher {
	return &Dispatcher{
		urls:    append([]string(nil), urls...),
		client:  &http.Client{Timeout: 10 * time.Second},
		delays:  []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second},
		timeout: 8 * time.Second,
	}
}

// Payload is the JSON body sent to webhook URLs.
type Payload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// URLs returns the configured endpoints.
func (d *Dispatcher) URLs() []string { return append([]string(nil), d.urls...) }

// Fire sends an event to every URL in the background.
// Each delivery is retried 3x with backoff (500ms, 1s, 2s).
func (d *Dispatcher) Fire(event string, data interface{}) {
	if len(d.urls) == 0 {
		return
	}
	body, err := json.Marshal(Payload{Event: event, Timestamp: time.Now(), Data: data})
	if err != nil {
		log.Error("webhook.Fire: marshal", "event", event, "err", err)
		return
	}
	for _, url := range d.urls {
		d.wg.Add(1)
		go func(url string) {
			defer d.wg.Done()
			d.fireOne(url, body)
		}(url)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) fireOne(url string, body []byte) {
	for i, delay := range d.delays {
		if i > 0 {
			time.Sleep(delay)
		}
		status, err := d.post(context.Background(), url, body)
		if err == nil && status < 400 {
			return
		}
		log.Warn("webhook delivery failed", "attempt", i+1, "url", url, "status", status, "err", err)
	}
	log.Error("webhook delivery abandoned", "url", url)
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("webhook.post: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ctxmon-webhook")
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook.post: do: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// Test posts a test payload to every URL synchronously, without retries.
func (d *Dispatcher) Test(ctx context.Context) error {
	body, _ := json.Marshal(Payload{
		Event:     "webhook.test",
		Timestamp: time.Now(),
		Data:      map[string]string{"message": "This is a test from ctxmon"},
	})
	for _, url := range d.urls {
		status, err := d.post(ctx, url, body)
		if err != nil {
			return fmt.Errorf("webhook.Test: %s: %w", url, err)
		}
		if status >= 400 {
			return fmt.Errorf("webhook.Test: %s returned %d", url, status)
		}
	}
	return nil
}
