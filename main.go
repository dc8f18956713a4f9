// ctxmon tracks the context-window budget of an LLM coding session.
// Entry point: the cobra command tree.
package main

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/Manjussha/ctxmon/internal/config"
)

// Version is set via -ldflags at build time.
var Version = "dev"

var (
	configPath string
	logLevel   string
)

func main() {
	log.SetReportTimestamp(true)
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ctxmon",
		Short:        "Context-window budget monitor for LLM coding sessions",
		Version:      Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default <data dir>/config.toml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug|info|warn|error (overrides config)")

	root.AddCommand(newInitCmd(), newServeCmd(), newStatusCmd(), newTestCmd())
	return root
}

// loadConfig resolves the config path, loads it and sets the log level.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	setLogLevel(cfg.LogLevel)
	return cfg, nil
}

func setLogLevel(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warn("unknown log level, using info", "level", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
