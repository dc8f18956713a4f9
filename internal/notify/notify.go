// Package notify routes monitor events to the configured adapters.
package notify

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/Manjussha/ctxmon/internal/compaction"
	"github.com/Manjussha/ctxmon/internal/monitor"
)

// Sender can send a plain text message and an alert with actions.
type Sender interface {
	Send(msg string) error
	SendAlert(msg string) error
}

// WebhookFirer can fire a webhook event.
type WebhookFirer interface {
	Fire(event string, payload interface{})
}

// Broadcaster streams every event to live clients.
type Broadcaster interface {
	Send(event string, payload interface{})
}

// Dispatcher routes monitor events to Telegram, webhooks and the websocket hub.
// Telegram only hears about an alert when the status escalates; it is re-armed
// once usage falls back below that level.
type Dispatcher struct {
	telegram Sender
	webhook  WebhookFirer
	live     Broadcaster

	mu        sync.Mutex
	lastLevel monitor.Status
}

var _ monitor.Notifier = (*Dispatcher)(nil)

// New creates a Dispatcher. Any adapter may be nil (disabled).
func New(telegram Sender, webhook WebhookFirer, live Broadcaster) *Dispatcher {
	return &Dispatcher{telegram: telegram, webhook: webhook, live: live}
}

// Send dispatches a monitor event to all configured adapters.
func (d *Dispatcher) Send(event string, payload interface{}) {
	if d.live != nil {
		d.live.Send(event, payload)
	}

	switch p := payload.(type) {
	case monitor.Metrics:
		d.mu.Lock()
		if p.Status < d.lastLevel {
			d.lastLevel = p.Status
		}
		d.mu.Unlock()
		return
	case monitor.Alert:
		d.fire(event, payload)
		if d.escalated(p.Level) {
			d.sendTelegram(formatAlert(p), true)
		}
	case compaction.Event:
		d.fire(event, payload)
		d.sendTelegram(formatCompaction(p), false)
	default:
		d.fire(event, payload)
	}
}

// SendTelegram sends a message only via Telegram.
func (d *Dispatcher) SendTelegram(msg string) {
	d.sendTelegram(msg, false)
}

func (d *Dispatcher) escalated(level monitor.Status) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if level <= d.lastLevel {
		return false
	}
	d.lastLevel = level
	return true
}

func (d *Dispatcher) fire(event string, payload interface{}) {
	if d.webhook != nil {
		d.webhook.Fire(event, payload)
	}
}

func (d *Dispatcher) sendTelegram(msg string, alert bool) {
	if d.telegram == nil {
		return
	}
	var err error
	if alert {
		err = d.telegram.SendAlert(msg)
	} else {
		err = d.telegram.Send(msg)
	}
	if err != nil {
		log.Warn("notify: telegram send", "err", err)
	}
}

func formatAlert(a monitor.Alert) string {
	icon := "⚠️"
	if a.Level == monitor.StatusCritical {
		icon = "🚨"
	}
	return fmt.Sprintf("%s *Context %s*\n\n%s\nTokens: %s", icon, a.Level, a.Message,
		humanize.Comma(int64(a.CurrentSize)))
}

func formatCompaction(ev compaction.Event) string {
	return fmt.Sprintf("🗜 *Context compacted* (%s)\n\n%s → %s tokens, %s recovered (%.0f%%)", ev.Type,
		humanize.Comma(int64(ev.Before)), humanize.Comma(int64(ev.After)),
		humanize.Comma(int64(ev.Reduction)), ev.Rate*100)
}
