package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/Manjussha/ctxmon/internal/language"
	"github.com/Manjussha/ctxmon/internal/monitor"
)

// Source is the part of monitor.Monitor the bot commands use.
type Source interface {
	Snapshot() monitor.Metrics
	Recommendations(ctx context.Context) []language.Recommendation
	HandleReset(ctx context.Context, source monitor.ResetSource) error
}

// Callback data carried by the alert keyboard.
const (
	callbackReset  = "reset_context"
	callbackStatus = "show_status"
)

// CommandHandler turns bot commands into reply text.
type CommandHandler struct {
	source Source
}

// NewCommandHandler creates a CommandHandler reading from source.
func NewCommandHandler(source Source) *CommandHandler {
	return &CommandHandler{source: source}
}

// Reply returns the response to command (without the leading slash).
func (h *CommandHandler) Reply(ctx context.Context, command, args string) string {
	switch command {
	case "status", "start":
		return h.status()
	case "recs":
		return h.recommendations(ctx)
	case "reset":
		return h.reset(ctx, args)
	case "help":
		return helpText
	default:
		return "Unknown command. Use /help for a list of commands."
	}
}

// HandleCallback processes inline keyboard button presses and returns the
// text to post, or "" for none.
func (h *CommandHandler) HandleCallback(ctx context.Context, data string) string {
	switch data {
	case callbackReset:
		return h.reset(ctx, string(monitor.ResetReset))
	case callbackStatus:
		return h.status()
	}
	return ""
}

func (h *CommandHandler) status() string {
	m := h.source.Snapshot()
	var sb strings.Builder
	sb.WriteString("*Context Status*\n\n")
	fmt.Fprintf(&sb, "%s `%s` %.1f%%\n", statusIcon(m.Status), m.Status, m.UsagePercent)
	fmt.Fprintf(&sb, "Tokens: %s / %s\n", humanize.Comma(int64(m.Current)), humanize.Comma(int64(m.Max)))
	fmt.Fprintf(&sb, "Remaining: %s\n", humanize.Comma(int64(m.Max-m.Current)))

	ls := m.LanguageStats
	if total := ls.TargetTokens + ls.LatinTokens; total > 0 {
		fmt.Fprintf(&sb, "\nCJK: %s tokens (%.1f%%)\n", humanize.Comma(int64(ls.TargetTokens)),
			float64(ls.TargetTokens)/float64(total)*100)
		fmt.Fprintf(&sb, "Latin: %s tokens\n", humanize.Comma(int64(ls.LatinTokens)))
		if ls.PotentialSavings > 0 {
			fmt.Fprintf(&sb, "Potential savings: %s tokens\n", humanize.Comma(int64(ls.PotentialSavings)))
		}
	}
	if n := len(m.RecentCompactEvents); n > 0 {
		last := m.RecentCompactEvents[n-1]
		fmt.Fprintf(&sb, "\nLast compaction: %s → %s (%s)\n", humanize.Comma(int64(last.Before)),
			humanize.Comma(int64(last.After)), humanize.Time(last.Timestamp))
	}
	return sb.String()
}

func (h *CommandHandler) recommendations(ctx context.Context) string {
	recs := h.source.Recommendations(ctx)
	if len(recs) == 0 {
		return "_No recommendations._"
	}
	var sb strings.Builder
	sb.WriteString("*Recommendations*\n\n")
	for _, r := range recs {
		fmt.Fprintf(&sb, "[%s] %s\n", strings.ToUpper(string(r.Level)), r.Message)
		if r.EstimatedSavings > 0 {
			fmt.Fprintf(&sb, "  ~%s tokens\n", humanize.Comma(int64(r.EstimatedSavings)))
		}
		for _, f := range r.Files {
			fmt.Fprintf(&sb, "  `%s` %.1f%%\n", f.Path, f.TargetRatio)
		}
	}
	return sb.String()
}

func (h *CommandHandler) reset(ctx context.Context, args string) string {
	arg := strings.TrimSpace(args)
	if arg == "" {
		arg = string(monitor.ResetReset)
	}
	src, err := monitor.ParseResetSource(arg)
	if err != nil {
		return "Usage: /reset [clear|reset|startup|resume]"
	}
	before := h.source.Snapshot().Current
	if err := h.source.HandleReset(ctx, src); err != nil {
		return fmt.Sprintf("Reset applied, but recording it failed: %v", err)
	}
	return fmt.Sprintf("✅ Context %s (was %s tokens).", src, humanize.Comma(int64(before)))
}

const helpText = `*ctxmon Commands*

/status — Context usage
/recs — Language recommendations
/reset [source] — Record a context reset
/help — This help`

func statusIcon(s monitor.Status) string {
	switch s {
	case monitor.StatusCritical:
		return "🔴"
	case monitor.StatusWarning:
		return "🟡"
	default:
		return "🟢"
	}
}
