// Package agents contains the background queue consumers and the
// orchestrator that runs them. Each agent drains one queue; items are
// processed with per-item isolation so a bad payload never wedges the
// loop.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/thicketlab/thicket/internal/otel"
	"github.com/thicketlab/thicket/internal/store"
)

// Processor is the per-item work an agent performs.
type Processor interface {
	Name() string
	Queue() store.Queue
	ProcessItem(ctx context.Context, item store.QueueItem) error
}

// Agent binds a Processor to the queue store and runs it.
type Agent struct {
	proc    Processor
	store   *store.Store
	logger  *slog.Logger
	metrics *otel.Metrics
}

func NewAgent(proc Processor, s *store.Store, logger *slog.Logger, metrics *otel.Metrics) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		proc:    proc,
		store:   s,
		logger:  logger.With("agent", proc.Name()),
		metrics: metrics,
	}
}

func (a *Agent) Name() string       { return a.proc.Name() }
func (a *Agent) Queue() store.Queue { return a.proc.Queue() }

// RunOnce claims up to batchSize items and processes each in isolation:
// an item failure marks that item failed and moves on. Returns the
// number of items completed successfully.
func (a *Agent) RunOnce(ctx context.Context, batchSize int) (int, error) {
	items, err := a.store.Dequeue(ctx, a.proc.Queue(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("dequeue %s: %w", a.proc.Queue(), err)
	}

	succeeded := 0
	for _, item := range items {
		start := time.Now()
		procErr := a.processIsolated(ctx, item)
		elapsed := time.Since(start)

		if a.metrics != nil {
			a.metrics.ItemDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(attribute.String("queue", string(item.Queue))))
		}

		if procErr != nil {
			a.logger.Error("item failed", "item_id", item.ID, "error", procErr)
			if err := a.store.Fail(ctx, item.ID); err != nil {
				a.logger.Error("could not mark item failed", "item_id", item.ID, "error", err)
			}
			if a.metrics != nil {
				a.metrics.ItemsFailed.Add(ctx, 1,
					metric.WithAttributes(attribute.String("queue", string(item.Queue))))
			}
			continue
		}
		if err := a.store.Complete(ctx, item.ID); err != nil {
			a.logger.Error("could not mark item completed", "item_id", item.ID, "error", err)
			continue
		}
		if a.metrics != nil {
			a.metrics.ItemsProcessed.Add(ctx, 1,
				metric.WithAttributes(attribute.String("queue", string(item.Queue))))
		}
		succeeded++
	}
	return succeeded, nil
}

func (a *Agent) processIsolated(ctx context.Context, item store.QueueItem) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("processor panicked: %v", rec)
		}
	}()
	return a.proc.ProcessItem(ctx, item)
}

// RunLoop drains the queue until empty, then idles. A batch that
// processed nothing sleeps the full interval; a productive batch yields
// briefly and keeps draining. Loop-level errors are logged and backed
// off, never fatal.
func (a *Agent) RunLoop(ctx context.Context, interval time.Duration, batchSize int) {
	a.logger.Info("agent loop started", "interval", interval.String(), "batch_size", batchSize)
	for {
		n, err := a.RunOnce(ctx, batchSize)
		if err != nil {
			a.logger.Error("agent batch failed", "error", err)
		}

		wait := interval
		if err == nil && n > 0 {
			wait = 100 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			a.logger.Info("agent loop stopped")
			return
		case <-time.After(wait):
		}
	}
}
