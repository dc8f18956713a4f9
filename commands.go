package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Manjussha/ctxmon/internal/config"
	"github.com/Manjussha/ctxmon/internal/language"
	"github.com/Manjussha/ctxmon/internal/monitor"
	"github.com/Manjussha/ctxmon/internal/store"
)

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Write(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Context monitoring initialized.\nConfiguration saved to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show usage, language mix and recommendations of a running daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = "http://localhost:" + cfg.Port
			}
			c := &apiClient{base: strings.TrimRight(addr, "/"), key: cfg.APIKey, http: &http.Client{Timeout: 10 * time.Second}}

			var m monitor.Metrics
			if err := c.get(cmd.Context(), "/api/v1/metrics", &m); err != nil {
				return err
			}
			var recs []language.Recommendation
			if err := c.get(cmd.Context(), "/api/v1/recommendations", &recs); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), m, recs)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "daemon base URL (default http://localhost:<port>)")
	return cmd
}

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Run the monitor on sample data and print the results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runSample(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}
}

// runSample feeds a fixed mix of messages and files to an in-memory monitor.
func runSample(ctx context.Context, w io.Writer, cfg config.Config) error {
	mon := newMonitor(cfg, store.NewMemory(), nil)
	defer mon.Close(ctx)

	fmt.Fprintln(w, "🧪 Testing context monitor")
	fmt.Fprintln(w)

	messages := []struct{ label, text string }{
		{"Japanese message", "こんにちは、今日はプログラミングの勉強をしています。"},
		{"English message", "Hello, I am studying programming today."},
		{"mixed message", `const greeting = "こんにちは"; // Japanese greeting`},
	}
	for _, m := range messages {
		an, err := mon.TrackMessage(ctx, m.text, "user")
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %-17s %-6s %3d tokens  CJK %5.1f%%\n", m.label, an.PrimaryLanguage, an.TotalTokens, an.TargetRatio)
	}

	files := []struct{ path, content string }{
		{"/test/sample.js", `function hello() { return "Hello World"; }`},
		{"/test/sample_ja.js", `function こんにちは() { return "こんにちは世界"; }`},
	}
	for _, f := range files {
		fa, err := mon.TrackFileAccess(ctx, f.path, f.content)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %-17s %3d tokens\n", f.path, fa.Tokens)
	}

	fmt.Fprintln(w)
	printStatus(w, mon.Metrics(ctx), mon.Recommendations(ctx))
	return nil
}

func printStatus(w io.Writer, m monitor.Metrics, recs []language.Recommendation) {
	fmt.Fprintln(w, "📊 Context Monitoring Status")
	fmt.Fprintln(w)

	const barLength = 30
	filled := min(barLength, max(0, int(m.UsagePercent/100*barLength+0.5)))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barLength-filled)
	fmt.Fprintf(w, "Context Usage: [%s] %.1f%% (%s)\n", bar, m.UsagePercent, m.Status)
	fmt.Fprintf(w, "Tokens: %s / %s\n", humanize.Comma(int64(m.Current)), humanize.Comma(int64(m.Max)))

	ls := m.LanguageStats
	if total := ls.TargetTokens + ls.LatinTokens; total > 0 {
		fmt.Fprintln(w, "\n📝 Language Distribution:")
		fmt.Fprintf(w, "  CJK:   %.1f%% (%s tokens)\n", float64(ls.TargetTokens)/float64(total)*100, humanize.Comma(int64(ls.TargetTokens)))
		fmt.Fprintf(w, "  Latin: %.1f%% (%s tokens)\n", float64(ls.LatinTokens)/float64(total)*100, humanize.Comma(int64(ls.LatinTokens)))
		if ls.PotentialSavings > 0 {
			fmt.Fprintf(w, "  💡 Potential savings: %s tokens with English\n", humanize.Comma(int64(ls.PotentialSavings)))
		}
	}

	for _, r := range m.Recommendations {
		fmt.Fprintf(w, "\n⚠️  %s", r)
	}
	if len(m.Recommendations) > 0 {
		fmt.Fprintln(w)
	}

	if len(recs) > 0 {
		fmt.Fprintln(w, "\n💡 Recommendations:")
		for _, r := range recs {
			fmt.Fprintf(w, "  %s %s\n", levelIcon(r.Level), r.Message)
			if r.EstimatedSavings > 0 {
				fmt.Fprintf(w, "     Save ~%s tokens\n", humanize.Comma(int64(r.EstimatedSavings)))
			}
			for _, f := range r.Files {
				fmt.Fprintf(w, "     %s (%.1f%% CJK)\n", f.Path, f.TargetRatio)
			}
		}
	}
}

func levelIcon(l language.Level) string {
	switch l {
	case language.LevelHigh:
		return "🚨"
	case language.LevelMedium:
		return "⚠️"
	case language.LevelLow:
		return "📊"
	default:
		return "ℹ️"
	}
}

// apiClient reads the daemon's JSON envelope.
type apiClient struct {
	base string
	key  string
	http *http.Client
}

func (c *apiClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s (is `ctxmon serve` running?): %w", c.base, err)
	}
	defer resp.Body.Close()

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("GET %s: %s: %w", path, resp.Status, err)
	}
	if !env.Success {
		return fmt.Errorf("GET %s: %s", path, env.Error)
	}
	return json.Unmarshal(env.Data, out)
}
