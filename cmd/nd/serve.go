package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/notedeck/notedeck/internal/changelog"
	"github.com/notedeck/notedeck/internal/config"
	"github.com/notedeck/notedeck/internal/engine"
	"github.com/notedeck/notedeck/internal/queue"
	"github.com/notedeck/notedeck/internal/server"
	"github.com/notedeck/notedeck/internal/store"
	"github.com/notedeck/notedeck/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync server",
	Long: `Run the HTTP sync server with the background queue worker.

The server stays up until interrupted (SIGINT/SIGTERM). When a config file
is given it is watched for changes; operational settings that cannot be
applied live (port, database path) log a restart notice instead.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	logger := buildLogger(cfg)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.InitSchemaContext(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	changeLog := changelog.New(db.RawDB())
	eng := engine.New(db, db, changeLog, logger)
	q := queue.New(db.RawDB(), eng, logger)

	srv := server.New(eng, q, &server.Config{Port: cfg.Port, Logger: logger})
	if err := srv.Start(); err != nil {
		return err
	}
	logger.Printf("Serving database %s on %s", db.Path(), srv.GetAddr())

	var wk *worker.Worker
	if cfg.WorkerEnabled {
		wk = worker.New(q, &worker.Config{Interval: cfg.WorkerInterval, Logger: logger})
		wk.Start(ctx)
	}

	if configPath != "" {
		go watchConfig(ctx, cfg, logger)
	}

	<-ctx.Done()
	logger.Println("Shutdown signal received")

	if wk != nil {
		wk.Stop()
	}
	if err := srv.Stop(); err != nil {
		logger.Printf("Warning: %v", err)
	}
	return nil
}

// buildLogger routes logs to a rotating file when configured, stderr
// otherwise.
func buildLogger(cfg *config.Config) *log.Logger {
	if cfg.LogFile == "" {
		return log.New(os.Stderr, "[nd] ", log.LstdFlags)
	}
	return log.New(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: 3,
		MaxAge:     28,
	}, "[nd] ", log.LstdFlags)
}

// watchConfig reloads the config file on change. Settings owned by running
// components (port, db path) need a restart; the rest are noted for the next
// component that reads them.
func watchConfig(ctx context.Context, current *config.Config, logger *log.Logger) {
	var restartNoted atomic.Bool

	err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
		if next.Port != current.Port || next.DBPath != current.DBPath {
			if !restartNoted.Swap(true) {
				logger.Println("Note: port/db_path changes take effect on restart")
			}
		}
		if next.WorkerInterval != current.WorkerInterval {
			logger.Printf("Note: worker_interval change to %v takes effect on restart", next.WorkerInterval)
		}
	})
	if err != nil && ctx.Err() == nil {
		logger.Printf("Warning: config watch stopped: %v", err)
	}
}
