package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/Manjussha/ctxmon/internal/api"
	"github.com/Manjussha/ctxmon/internal/config"
	"github.com/Manjussha/ctxmon/internal/db"
	"github.com/Manjussha/ctxmon/internal/monitor"
	"github.com/Manjussha/ctxmon/internal/notify"
	"github.com/Manjussha/ctxmon/internal/pgstore"
	"github.com/Manjussha/ctxmon/internal/platform"
	"github.com/Manjussha/ctxmon/internal/store"
	"github.com/Manjussha/ctxmon/internal/telegram"
	"github.com/Manjussha/ctxmon/internal/tokenizer"
	"github.com/Manjussha/ctxmon/internal/webhook"
	"github.com/Manjussha/ctxmon/internal/worker"
	"github.com/Manjussha/ctxmon/internal/ws"
)

func newServeCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring daemon (HTTP API + live feed)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "HTTP port (overrides config)")
	return cmd
}

func serve(cfg config.Config) error {
	log.Info("ctxmon starting", "version", Version, "port", cfg.Port, "storage", cfg.Storage.Driver)

	// Root context, cancelled on shutdown signal.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── 1. Storage ───────────────────────────────────────────────────────────
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("close store", "err", err)
		}
	}()

	// ── 2. WebSocket hub ─────────────────────────────────────────────────────
	hub := ws.NewHub()
	go hub.Run(ctx)

	// ── 3. Telegram bot ──────────────────────────────────────────────────────
	bot, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.ChatID, nil)
	if err != nil {
		log.Warn("telegram init failed, continuing without Telegram", "err", err)
	}

	// ── 4. Notify + webhook dispatchers ──────────────────────────────────────
	hooks := webhook.New(cfg.Webhooks)
	notifier := notify.New(telegramSender(bot), hooks, hub)

	// ── 5. Monitor ───────────────────────────────────────────────────────────
	mon := newMonitor(cfg, st, notifier)
	if err := mon.Initialize(ctx); err != nil {
		return err
	}

	if bot != nil {
		bot.SetHandler(telegram.NewCommandHandler(mon))
		go bot.Start(ctx)
		log.Info("telegram bot started", "chat", cfg.Telegram.ChatID)
	}

	// ── 6. HTTP router ───────────────────────────────────────────────────────
	mux := http.NewServeMux()
	api.SetupRoutes(mux, &api.Deps{Monitor: mon, Hub: hub, APIKey: cfg.APIKey})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.LogRequests(recoveryMiddleware(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("ctxmon listening", "addr", "http://0.0.0.0:"+cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	// Graceful shutdown: stop HTTP, end the session, drain webhooks.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "err", err)
	}
	if err := mon.Close(shutdownCtx); err != nil {
		log.Error("close monitor", "err", err)
	}
	hooks.Wait()
	log.Info("ctxmon stopped")
	return nil
}

// openStore opens the configured persistence backend. sqlite and postgres are
// wrapped in the write-behind queue when storage.async is set.
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	var st store.Store
	switch cfg.Storage.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "postgres":
		pg, err := pgstore.Open(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		st = pg
		log.Info("database ready", "driver", "postgres")
	default:
		if err := platform.EnsureDir(filepath.Dir(cfg.Storage.Path)); err != nil {
			return nil, fmt.Errorf("ensure data dir: %w", err)
		}
		sq, err := db.Open(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		st = sq
		log.Info("database ready", "driver", "sqlite", "path", cfg.Storage.Path)
	}
	if cfg.Storage.Async {
		return worker.NewAsync(st, 0), nil
	}
	return st, nil
}

func newEstimator(cfg config.Config) *tokenizer.Estimator {
	return tokenizer.NewEstimator(tokenizer.Options{
		Strategy:        tokenizer.Strategy(cfg.Tokenizer.Strategy),
		Model:           cfg.Tokenizer.Model,
		AnthropicAPIKey: cfg.Tokenizer.AnthropicAPIKey,
		AnthropicModel:  cfg.Tokenizer.AnthropicModel,
		Adjustment:      cfg.Tokenizer.Adjustment,
		CacheSize:       cfg.Tokenizer.CacheSize,
	})
}

func newMonitor(cfg config.Config, st store.Store, notifier monitor.Notifier) *monitor.Monitor {
	return monitor.New(st, newEstimator(cfg), notifier, monitor.Options{
		Config: monitor.Config{
			MaxContext:       cfg.Context.MaxTokens,
			Thresholds:       monitor.Thresholds{Warning: cfg.Context.Warning, Critical: cfg.Context.Critical},
			CompactThreshold: cfg.Context.CompactThreshold,
			MinReduction:     cfg.Context.MinReduction,
		},
		Model:         cfg.Storage.Model,
		RetentionDays: cfg.Storage.RetentionDays,
	})
}

// recoveryMiddleware recovers from panics and returns 500.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				log.Error("panic in handler", "path", r.URL.Path, "panic", rv)
				http.Error(w, `{"success":false,"error":"internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// telegramSender wraps *telegram.Bot to implement notify.Sender.
// Returns nil if bot is nil (Telegram disabled).
func telegramSender(bot *telegram.Bot) notify.Sender {
	if bot == nil {
		return nil
	}
	return bot
}
