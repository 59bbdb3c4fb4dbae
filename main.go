package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/giygas/todo-api/auth"
	"github.com/giygas/todo-api/config"
	"github.com/giygas/todo-api/health"
	"github.com/giygas/todo-api/logging"
	"github.com/giygas/todo-api/metrics"
	"github.com/giygas/todo-api/ratelimit"
	"github.com/giygas/todo-api/scheduler"
	"github.com/giygas/todo-api/server"
	"github.com/giygas/todo-api/shutdown"
	"github.com/giygas/todo-api/store"
)

const (
	limiterSweepInterval = 5 * time.Minute
	poolStatsInterval    = 15 * time.Minute
)

func main() {
	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to read .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := logging.InitLogger(logging.Options{
		Dir:            cfg.LogDir,
		Level:          cfg.LogLevel,
		RetentionWeeks: cfg.LogRetentionWeeks,
		MaxFileSize:    cfg.MaxLogFileSize,
	}); err != nil {
		logging.Warn("File logging disabled", "error", err)
	}

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		logging.Error("Failed to open database", "error", err)
		_ = logging.Close()
		os.Exit(1)
	}

	if err := run(cfg, db); err != nil {
		logging.Error("Startup failed", "error", err)
		_ = db.Close()
		_ = logging.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, db *store.Store) error {
	reg := metrics.NewRegistry()
	if err := reg.RegisterRuntimeCollectors(); err != nil {
		return err
	}
	sqlDB, err := db.SQLDB()
	if err != nil {
		return err
	}
	if err := reg.RegisterDBStats(sqlDB, "todo"); err != nil {
		return err
	}

	inst, err := metrics.NewInstrumentation(reg)
	if err != nil {
		return err
	}
	limits, err := ratelimit.Default(inst)
	if err != nil {
		return err
	}

	jobs := scheduler.New()
	if err := jobs.Add(scheduler.Job{Name: "rate-limit-sweep", Interval: limiterSweepInterval, Run: limits.Sweep}); err != nil {
		return err
	}
	if err := jobs.Add(scheduler.Job{Name: "pool-stats", Interval: poolStatsInterval, Run: func() {
		stats := sqlDB.Stats()
		logging.Debug("Database pool",
			"open", stats.OpenConnections,
			"in_use", stats.InUse,
			"idle", stats.Idle,
			"wait_count", stats.WaitCount)
	}}); err != nil {
		return err
	}

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return err
	}

	var coordinator *shutdown.Coordinator
	checker := health.NewChecker(db, health.Options{
		Timeout:  cfg.HealthTimeout,
		Draining: func() bool { return coordinator != nil && coordinator.Draining() },
	})

	srv, err := server.NewServer(server.Deps{
		Config:  cfg,
		Store:   db,
		Tokens:  tokens,
		Health:  checker,
		Metrics: inst,
		Limits:  limits,
	})
	if err != nil {
		return err
	}

	coordinator = shutdown.New(shutdown.Options{
		Server:       srv,
		Active:       inst,
		DrainTimeout: cfg.DrainTimeout,
		Closers: []shutdown.Closer{
			{Name: "scheduler", Close: jobs.Close},
			{Name: "database", Close: db.Close},
			{Name: "log file", Close: logging.Close},
		},
	})

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr(), err)
	}

	go func() {
		if err := srv.Serve(ln); err != nil {
			logging.Error("Server failed", "error", err)
			cancel(err)
		}
	}()
	jobs.Start()

	coordinator.Run(ctx, signals)
	return nil
}
