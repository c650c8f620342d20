// Package worker provides the background drain worker for the pending-change
// queue.
//
// The worker polls for users with drainable queue entries and drains each
// user's queue in turn. Drains for one user are serialized by construction:
// a single goroutine walks the user list, so two drains can never race on
// the same user's entries.
package worker

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/notedeck/notedeck/internal/queue"
)

// Config holds configuration for the worker.
type Config struct {
	// Interval is how often to poll for drainable queues.
	Interval time.Duration

	// Logger for worker activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval: 30 * time.Second,
		Logger:   log.New(os.Stderr, "[worker] ", log.LstdFlags),
	}
}

// Worker periodically drains pending-change queues.
type Worker struct {
	queue  *queue.Queue
	config *Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Worker over the given queue.
func New(q *queue.Queue, config *Config) *Worker {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	return &Worker{queue: q, config: config}
}

// Start begins polling. It returns immediately; use Stop for a graceful
// shutdown, or cancel ctx to stop the loop.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run(ctx)

	w.config.Logger.Printf("Worker started (interval %v)", w.config.Interval)
}

// Stop shuts the worker down and waits for the in-flight pass to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.config.Logger.Println("Worker stopped")
}

// run is the polling loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drainAll(ctx)
		}
	}
}

// drainAll drains every user with pending entries. Per-user failures are
// logged and never stop the pass.
func (w *Worker) drainAll(ctx context.Context) {
	users, err := w.queue.UsersWithPending(ctx)
	if err != nil {
		w.config.Logger.Printf("Warning: failed to list pending users: %v", err)
		return
	}

	for _, user := range users {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := w.queue.Drain(ctx, user)
		if err != nil {
			w.config.Logger.Printf("Warning: drain failed for user %s: %v", user, err)
			continue
		}
		if result.Processed > 0 {
			w.config.Logger.Printf("Drained user %s: completed=%d failed=%d conflicted=%d",
				user, result.Completed, result.Failed, result.Conflicted)
		}
	}
}
