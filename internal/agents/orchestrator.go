package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thicketlab/thicket/internal/otel"
	"github.com/thicketlab/thicket/internal/store"
)

// Orchestrator owns the agent goroutines: one loop per registered
// agent, a shared cancel, and a bounded-grace shutdown.
type Orchestrator struct {
	store   *store.Store
	logger  *slog.Logger
	metrics *otel.Metrics

	interval  time.Duration
	batchSize int
	grace     time.Duration

	mu      sync.Mutex
	agents  []*Agent
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewOrchestrator(s *store.Store, logger *slog.Logger, metrics *otel.Metrics, interval time.Duration, batchSize int) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     s,
		logger:    logger,
		metrics:   metrics,
		interval:  interval,
		batchSize: batchSize,
		grace:     10 * time.Second,
	}
}

// Register adds an agent. Must be called before Start.
func (o *Orchestrator) Register(a *Agent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.agents = append(o.agents, a)
}

// Start launches one goroutine per registered agent.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return fmt.Errorf("orchestrator already running")
	}
	if len(o.agents) == 0 {
		return fmt.Errorf("orchestrator has no agents registered")
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true

	for _, a := range o.agents {
		o.wg.Add(1)
		if o.metrics != nil {
			o.metrics.ActiveAgents.Add(ctx, 1)
		}
		go func(a *Agent) {
			defer o.wg.Done()
			defer func() {
				if o.metrics != nil {
					o.metrics.ActiveAgents.Add(context.Background(), -1)
				}
			}()
			a.RunLoop(runCtx, o.interval, o.batchSize)
		}(a)
	}
	o.logger.Info("orchestrator started", "agents", len(o.agents))
	return nil
}

// Stop cancels the agent loops and waits up to the grace period for
// them to exit. Returns an error if the wait timed out.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	cancel := o.cancel
	o.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("orchestrator stopped")
		return nil
	case <-time.After(o.grace):
		o.logger.Error("orchestrator stop timed out", "grace", o.grace.String())
		return fmt.Errorf("agents did not stop within %s", o.grace)
	}
}

// AgentStatus is one agent's view of its queue.
type AgentStatus struct {
	Agent  string
	Queue  store.Queue
	Counts map[store.ItemStatus]int
}

// Status reports per-agent queue depth by state.
func (o *Orchestrator) Status(ctx context.Context) ([]AgentStatus, error) {
	o.mu.Lock()
	agents := make([]*Agent, len(o.agents))
	copy(agents, o.agents)
	o.mu.Unlock()

	out := make([]AgentStatus, 0, len(agents))
	for _, a := range agents {
		counts, err := o.store.CountByStatus(ctx, a.Queue())
		if err != nil {
			return nil, fmt.Errorf("status of %s: %w", a.Name(), err)
		}
		out = append(out, AgentStatus{Agent: a.Name(), Queue: a.Queue(), Counts: counts})
	}
	return out, nil
}
