package agents

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/thicketlab/thicket/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubProcessor lets tests inject per-item behavior.
type stubProcessor struct {
	name  string
	queue store.Queue
	fn    func(ctx context.Context, item store.QueueItem) error
	seen  []string
}

func (p *stubProcessor) Name() string       { return p.name }
func (p *stubProcessor) Queue() store.Queue { return p.queue }
func (p *stubProcessor) ProcessItem(ctx context.Context, item store.QueueItem) error {
	p.seen = append(p.seen, item.ID)
	if p.fn != nil {
		return p.fn(ctx, item)
	}
	return nil
}

func TestRunOnceBatchPartialDrain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Enqueue(ctx, store.QueueConnection, map[string]any{"n": i}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	proc := &stubProcessor{name: "stub", queue: store.QueueConnection}
	agent := NewAgent(proc, s, discard(), nil)

	n, err := agent.RunOnce(ctx, 2)
	if err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}
	if n != 2 {
		t.Fatalf("first batch processed %d, want 2", n)
	}
	n, err = agent.RunOnce(ctx, 2)
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("second batch processed %d, want 1", n)
	}

	counts, _ := s.CountByStatus(ctx, store.QueueConnection)
	if counts[store.StatusCompleted] != 3 {
		t.Fatalf("completed = %d, want 3", counts[store.StatusCompleted])
	}
	if counts[store.StatusPending] != 0 || counts[store.StatusProcessing] != 0 {
		t.Fatalf("non-terminal items remain: %v", counts)
	}
}

func TestRunOnceIsolatesItemFailures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bad, _ := s.Enqueue(ctx, store.QueueConnection, map[string]any{"bad": true})
	good, _ := s.Enqueue(ctx, store.QueueConnection, map[string]any{})

	proc := &stubProcessor{
		name:  "stub",
		queue: store.QueueConnection,
		fn: func(_ context.Context, item store.QueueItem) error {
			if item.ID == bad.ID {
				return errors.New("boom")
			}
			return nil
		},
	}
	agent := NewAgent(proc, s, discard(), nil)

	n, err := agent.RunOnce(ctx, 10)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("succeeded = %d, want 1", n)
	}

	badItem, _ := s.GetQueueItem(ctx, bad.ID)
	if badItem.Status != store.StatusFailed || badItem.Attempts != 1 {
		t.Fatalf("bad item = %s attempts=%d, want failed attempts=1", badItem.Status, badItem.Attempts)
	}
	goodItem, _ := s.GetQueueItem(ctx, good.ID)
	if goodItem.Status != store.StatusCompleted {
		t.Fatalf("good item = %s, want completed", goodItem.Status)
	}
}

func TestRunOnceRecoversProcessorPanic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item, _ := s.Enqueue(ctx, store.QueueConnection, nil)
	proc := &stubProcessor{
		name:  "stub",
		queue: store.QueueConnection,
		fn: func(context.Context, store.QueueItem) error {
			panic("unexpected payload shape")
		},
	}
	agent := NewAgent(proc, s, discard(), nil)

	n, err := agent.RunOnce(ctx, 1)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 0 {
		t.Fatalf("succeeded = %d, want 0", n)
	}
	got, _ := s.GetQueueItem(ctx, item.ID)
	if got.Status != store.StatusFailed {
		t.Fatalf("panicked item status = %s, want failed", got.Status)
	}
}

func TestOrchestratorStartStop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, store.QueueConnection, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	proc := &stubProcessor{name: "stub", queue: store.QueueConnection}
	orch := NewOrchestrator(s, discard(), nil, 20*time.Millisecond, 5)
	orch.Register(NewAgent(proc, s, discard(), nil))

	if err := orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := orch.Start(ctx); err == nil {
		t.Fatal("double Start accepted")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		counts, err := s.CountByStatus(ctx, store.QueueConnection)
		if err != nil {
			t.Fatalf("CountByStatus: %v", err)
		}
		if counts[store.StatusCompleted] == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("item never completed: %v", counts)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := orch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Stop again is a no-op.
	if err := orch.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestOrchestratorStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, store.QueueNurture, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	orch := NewOrchestrator(s, discard(), nil, time.Second, 5)
	orch.Register(NewAgent(&stubProcessor{name: "stub", queue: store.QueueNurture}, s, discard(), nil))

	status, err := orch.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(status) != 1 || status[0].Queue != store.QueueNurture {
		t.Fatalf("status = %+v", status)
	}
	if status[0].Counts[store.StatusPending] != 1 {
		t.Fatalf("pending = %d, want 1", status[0].Counts[store.StatusPending])
	}
}

func TestOrchestratorRequiresAgents(t *testing.T) {
	s := newTestStore(t)
	orch := NewOrchestrator(s, discard(), nil, time.Second, 5)
	if err := orch.Start(context.Background()); err == nil {
		t.Fatal("Start with no agents accepted")
	}
}
