package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/vkruglov/replyharvest/internal/config"
	"github.com/vkruglov/replyharvest/internal/correlate"
	"github.com/vkruglov/replyharvest/internal/llm"
	"github.com/vkruglov/replyharvest/internal/mail"
	"github.com/vkruglov/replyharvest/internal/retry"
	"github.com/vkruglov/replyharvest/internal/run"
	"github.com/vkruglov/replyharvest/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting reply harvester")

	// Connect to database
	db, err := store.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Cancel the pass on SIGINT/SIGTERM; in-flight item finishes, the
	// stats collected so far are still saved.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	policy := retry.Policy{
		MaxAttempts: cfg.RetryAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		Factor:      retry.DefaultPolicy.Factor,
		Jitter:      retry.DefaultPolicy.Jitter,
	}

	session := mail.NewSession(mail.Config{
		Addr:        cfg.IMAPAddr,
		Username:    cfg.IMAPUsername,
		Password:    cfg.IMAPPassword,
		DialTimeout: cfg.IMAPDialTimeout,
		BatchSize:   cfg.IMAPBatchSize,
		Retry:       policy,
	}, logger)
	if err := session.Connect(ctx); err != nil {
		logger.Error("failed to connect to IMAP server", "error", err)
		os.Exit(1)
	}
	defer session.Close()

	since := time.Now().AddDate(0, 0, -cfg.DaysBack)
	sent, err := session.LoadSent(ctx, cfg.SentFolders, since)
	if err != nil {
		logger.Error("failed to load sent messages", "error", err)
		os.Exit(1)
	}

	engine := correlate.New(session, logger, correlate.Options{
		Window: cfg.ReplyWindow,
	})
	analyzer := llm.NewClient(llm.Config{
		APIURL:      cfg.LLMAPIURL,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		Timeout:     cfg.LLMTimeout,
		Retry: retry.Policy{
			MaxAttempts: cfg.LLMRetries,
			BaseDelay:   cfg.RetryBaseDelay,
			Factor:      retry.DefaultPolicy.Factor,
			Jitter:      retry.DefaultPolicy.Jitter,
		},
	}, logger)
	sink := run.NewLogSink(logger)

	runner := run.NewRunner(engine, analyzer, sink, cfg.TargetFields, logger)
	stats, runErr := runner.Run(ctx, sent)
	if runErr != nil {
		logger.Warn("run interrupted", "error", runErr)
	}

	if id, err := db.SaveRun(context.Background(), stats); err != nil {
		logger.Error("failed to save run", "error", err)
	} else {
		logger.Info("run saved", "run_id", id)
	}

	stats.LogSummary(logger)
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
