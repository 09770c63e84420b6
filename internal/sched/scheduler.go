// Package sched runs the periodic maintenance work: the graph batch
// rebuild and the queue sweeps (retry, stale requeue, cleanup), driven
// by a cron expression.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/thicketlab/thicket/internal/graph"
	"github.com/thicketlab/thicket/internal/store"
)

// Options are the maintenance tunables, normally sourced from config.
type Options struct {
	// Cron is a 5-field cron expression.
	Cron string
	// MaxAttempts is the retry ceiling for the failed-item sweep.
	MaxAttempts int
	// StaleAfter is how long a processing item may sit before requeue.
	StaleAfter time.Duration
	// CleanupAfter is the age past which completed items are deleted.
	CleanupAfter time.Duration
}

// Scheduler triggers maintenance ticks on a cron cadence.
type Scheduler struct {
	store  *store.Store
	batch  *graph.BatchJob
	logger *slog.Logger
	opts   Options
	sched  cron.Schedule

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New parses the cron expression eagerly so a bad config fails startup.
func New(s *store.Store, batch *graph.BatchJob, logger *slog.Logger, opts Options) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(opts.Cron)
	if err != nil {
		return nil, fmt.Errorf("parse maintenance cron %q: %w", opts.Cron, err)
	}
	return &Scheduler{
		store:  s,
		batch:  batch,
		logger: logger,
		opts:   opts,
		sched:  schedule,
	}, nil
}

// Start launches the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(runCtx)
	}()
	s.logger.Info("maintenance scheduler started", "cron", s.opts.Cron)
	return nil
}

// Stop cancels the loop and waits for the in-flight tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("maintenance scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		next := s.sched.Next(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		s.RunMaintenance(ctx)
	}
}

// RunMaintenance executes one full maintenance pass. Each step is
// independent: a failing step is logged and the rest still run.
func (s *Scheduler) RunMaintenance(ctx context.Context) {
	start := time.Now()

	if err := s.batch.Run(ctx); err != nil {
		s.logger.Error("graph rebuild failed", "error", err)
	}

	for _, queue := range store.Queues() {
		retried, err := s.store.RetryFailed(ctx, queue, s.opts.MaxAttempts)
		if err != nil {
			s.logger.Error("failed-item retry sweep failed", "queue", string(queue), "error", err)
		} else if retried > 0 {
			s.logger.Info("failed items requeued", "queue", string(queue), "count", retried)
		}

		stale, err := s.store.RequeueStale(ctx, queue, s.opts.StaleAfter)
		if err != nil {
			s.logger.Error("stale requeue sweep failed", "queue", string(queue), "error", err)
		} else if stale > 0 {
			s.logger.Warn("stale processing items requeued", "queue", string(queue), "count", stale)
		}
	}

	cleaned, err := s.store.CleanupCompleted(ctx, s.opts.CleanupAfter)
	if err != nil {
		s.logger.Error("completed-item cleanup failed", "error", err)
	} else if cleaned > 0 {
		s.logger.Info("completed items cleaned", "count", cleaned)
	}

	s.logger.Debug("maintenance pass done", "duration_ms", time.Since(start).Milliseconds())
}
