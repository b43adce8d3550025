package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/tollgate-ai/tollgate/internal/alert"
	"github.com/tollgate-ai/tollgate/internal/api"
	"github.com/tollgate-ai/tollgate/internal/chread"
	"github.com/tollgate-ai/tollgate/internal/decision"
	"github.com/tollgate-ai/tollgate/internal/notify"
	"github.com/tollgate-ai/tollgate/internal/queue"
	"github.com/tollgate-ai/tollgate/internal/risk"
	"github.com/tollgate-ai/tollgate/internal/rules"
	"github.com/tollgate-ai/tollgate/internal/storage"
	"github.com/tollgate-ai/tollgate/internal/store"
	"github.com/tollgate-ai/tollgate/internal/validator"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("TOLLGATE_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("TOLLGATE_HTTP_PORT", "8080")
	approvalTimeoutMs := envOrDefaultInt("TOLLGATE_APPROVAL_TIMEOUT_MS", 0)
	sweepIntervalMs := envOrDefaultInt("TOLLGATE_SWEEP_INTERVAL_MS", 30_000)
	validatorFailOpen := envOrDefaultBool("TOLLGATE_VALIDATOR_FAIL_OPEN", false)
	webhookURLs := splitCommaList(os.Getenv("TOLLGATE_WEBHOOK_URLS"))
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	cacheTTL := envOrDefaultInt("TOLLGATE_AUTH_CACHE_TTL_S", 30)

	approvalTimeout := time.Duration(approvalTimeoutMs) * time.Millisecond
	sweepInterval := time.Duration(sweepIntervalMs) * time.Millisecond

	logger.Info("starting tollgate server",
		zap.String("http_port", httpPort),
		zap.Duration("approval_timeout", approvalTimeout),
		zap.Duration("sweep_interval", sweepInterval),
		zap.Bool("validator_fail_open", validatorFailOpen),
		zap.Int("webhook_endpoints", len(webhookURLs)),
	)

	// Postgres pool (required)
	if postgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}
	db, err := sql.Open("pgx", postgresDSN)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(context.Background()); err != nil {
		logger.Fatal("failed to ping postgres", zap.Error(err))
	}
	pgStore, err := store.NewPostgresStore(context.Background(), db)
	if err != nil {
		logger.Fatal("failed to initialize postgres store", zap.Error(err))
	}
	logger.Info("postgres connected")

	if err := pgStore.SeedDefaultRules(context.Background(), rules.DefaultRules()); err != nil {
		logger.Fatal("failed to seed default rules", zap.Error(err))
	}

	// Event storage — ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// ClickHouse reader (for events/analytics HTTP endpoints)
	var chReader *chread.Reader
	if clickhouseDSN != "" {
		chReader, err = chread.NewReader(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			defer func() { _ = chReader.Close() }()
			logger.Info("clickhouse reader connected")
		}
	}

	// Alert dispatcher (optional)
	var alerts *alert.Dispatcher
	if len(webhookURLs) > 0 {
		alerts = alert.NewDispatcher(webhookURLs, logger)
	}

	// Decision pipeline
	engine := rules.NewEngine(pgStore, risk.NewScorer(), logger)
	q := queue.New(pgStore, logger)
	orch := decision.NewOrchestrator(
		validator.NewPatternValidator(),
		engine,
		q,
		pgStore,
		notify.NewLogNotifier(logger),
		writer,
		alerts,
		decision.Config{
			DefaultTimeout:    approvalTimeout,
			ValidatorFailOpen: validatorFailOpen,
		},
		logger,
	)

	// Background expiry sweep
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go runExpirySweep(sweepCtx, orch, sweepInterval, logger)

	// HTTP API server
	deps := &api.Dependencies{
		Store:        pgStore,
		Clients:      pgStore,
		Orchestrator: orch,
		Queue:        q,
		Reader:       chReader,
		Logger:       logger,
		CacheTTL:     time.Duration(cacheTTL) * time.Second,
	}
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown
	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	if alerts != nil {
		alerts.Wait()
	}

	logger.Info("tollgate server stopped")
}

// runExpirySweep rejects timed-out approvals on a fixed interval until the
// context is cancelled.
func runExpirySweep(ctx context.Context, orch *decision.Orchestrator, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := orch.ProcessExpiredApprovals(ctx)
			if err != nil {
				logger.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("expiry sweep rejected approvals", zap.Int("count", n))
			}
		}
	}
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func splitCommaList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
