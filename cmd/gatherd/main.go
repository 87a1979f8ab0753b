// Command gatherd runs the group event recommender: a websocket gateway in
// front of the planner, session manager, vector index, and SQLite stores.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/gatherkit/gather-go/config"
	"github.com/gatherkit/gather-go/core"
	"github.com/gatherkit/gather-go/gateway"
	"github.com/gatherkit/gather-go/index"
	"github.com/gatherkit/gather-go/index/chromem"
	"github.com/gatherkit/gather-go/index/embedder/mock"
	"github.com/gatherkit/gather-go/planner"
	"github.com/gatherkit/gather-go/session"
	"github.com/gatherkit/gather-go/store"
	"github.com/gatherkit/gather-go/store/sqlite"
)

func main() {
	// Load .env first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "gatherd",
		Usage: "Recommend events a whole group can actually attend.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: config.DefaultPath, Usage: "Path to the YAML configuration file."},
		},
		Commands: []*cli.Command{
			serveCommand(),
			indexCommand(),
			seedCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the websocket gateway and recommendation core.",
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))

			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}

			db, err := sqlite.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open stores: %w", err)
			}
			defer db.Close()

			embedder, closeEmbedder, err := buildEmbedder(cfg)
			if err != nil {
				return err
			}
			defer closeEmbedder()

			idx, err := chromem.New(embedder)
			if err != nil {
				return fmt.Errorf("build index: %w", err)
			}
			defer idx.Close()

			ctx, stopSignals := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stopSignals()

			indexed, err := reindex(ctx, db.Events(), idx)
			if err != nil {
				return fmt.Errorf("index catalog: %w", err)
			}
			logger.Info("Catalog indexed.", "events", indexed)

			p := planner.New(buildInterpreter(cfg, logger), idx, db.Availability(), db.Users(), planner.Config{
				PresentLimit:       cfg.Planner.PresentLimit,
				OverFetch:          cfg.Planner.OverFetch,
				MaxClarifyAttempts: cfg.Planner.MaxClarifyAttempts,
				MaxEmptyRetries:    cfg.Planner.MaxEmptyRetries,
			})

			manager := session.NewManager(p, db.Sessions(),
				session.WithInactivityWindow(cfg.Session.InactivityWindow.Std()))
			stopCleanup := manager.StartCleanup(cfg.Session.CleanupInterval.Std())
			defer stopCleanup()

			gw := gateway.NewServer(manager, cfg.ListenAddr)
			if err := gw.Start(ctx); err != nil {
				return err
			}
			logger.Info("Serving.", "addr", gw.Addr())

			<-ctx.Done()
			logger.Info("Shutting down.")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return gw.Shutdown(shutdownCtx)
		},
	}
}

func indexCommand() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Rebuild the vector index from the event store and report what it holds.",
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))

			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}

			db, err := sqlite.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open stores: %w", err)
			}
			defer db.Close()

			embedder, closeEmbedder, err := buildEmbedder(cfg)
			if err != nil {
				return err
			}
			defer closeEmbedder()

			idx, err := chromem.New(embedder)
			if err != nil {
				return fmt.Errorf("build index: %w", err)
			}
			defer idx.Close()

			indexed, err := reindex(c.Context, db.Events(), idx)
			if err != nil {
				return err
			}
			logger.Info("Index rebuilt.", "events", indexed)
			return nil
		},
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Load events from a JSON file into the event store.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Required: true, Usage: "Path to a JSON array of events."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))

			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}

			db, err := sqlite.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open stores: %w", err)
			}
			defer db.Close()

			data, err := os.ReadFile(c.String("file"))
			if err != nil {
				return fmt.Errorf("read seed file: %w", err)
			}
			var events []core.Event
			if err := json.Unmarshal(data, &events); err != nil {
				return fmt.Errorf("parse seed file: %w", err)
			}

			var stored, skipped int
			for i := range events {
				ev := events[i]
				if ev.ID == "" {
					ev.ID = uuid.New().String()
				}
				if err := ev.Validate(); err != nil {
					logger.Warn("Skipping invalid event.", "error", err)
					skipped++
					continue
				}
				if _, err := db.Events().Upsert(c.Context, ev); err != nil {
					return fmt.Errorf("store event %s: %w", ev.ID, err)
				}
				stored++
			}

			logger.Info("Seed complete.", "stored", stored, "skipped", skipped)
			return nil
		},
	}
}

// reindex pushes every stored event into the vector index. Invalid rows are
// skipped; the index adapter validates again on upsert.
func reindex(ctx context.Context, events store.EventStore, idx index.Index) (int, error) {
	all, err := events.List(ctx, store.EventQuery{})
	if err != nil {
		return 0, err
	}
	indexed := 0
	for i := range all {
		if err := idx.Upsert(ctx, all[i]); err != nil {
			return indexed, err
		}
		indexed++
	}
	return indexed, nil
}

// buildInterpreter picks the Claude interpreter when an API key is present
// and the deterministic rule interpreter otherwise.
func buildInterpreter(cfg config.Config, logger *slog.Logger) planner.Interpreter {
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		logger.Info("ANTHROPIC_API_KEY not set, using the rule-based interpreter.")
		return planner.RuleInterpreter{}
	}

	client := anthropic.NewClient()
	opts := []planner.ClaudeOption{}
	if cfg.Model != "" {
		opts = append(opts, planner.WithModel(cfg.Model))
	}
	logger.Info("Using the Claude interpreter.", "model", cfg.Model)
	return planner.NewClaudeInterpreter(&client, opts...)
}

// buildEmbedder constructs the configured embedding backend wrapped in the
// ristretto cache. The returned func releases the cache (and the ONNX
// session when that backend is selected).
func buildEmbedder(cfg config.Config) (index.Embedder, func(), error) {
	var (
		inner      index.Embedder
		closeInner func()
		err        error
	)
	switch cfg.Embedder {
	case "onnx":
		inner, closeInner, err = newOnnxEmbedder(cfg.Onnx)
		if err != nil {
			return nil, nil, err
		}
	default:
		inner = mock.New()
		closeInner = func() {}
	}

	cached, err := index.NewCachingEmbedder(inner, int64(cfg.EmbedCacheEntries))
	if err != nil {
		closeInner()
		return nil, nil, fmt.Errorf("build embedding cache: %w", err)
	}
	return cached, func() {
		cached.Close()
		closeInner()
	}, nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}
