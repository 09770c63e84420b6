package store

import (
	"context"
	"testing"
	"time"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Enqueue(ctx, QueueConnection, map[string]any{"idea_id": "a"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// Distinct created_at so ordering is unambiguous.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET created_at = datetime('now', '-1 minute') WHERE id = ?;`,
		first.ID); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	second, err := s.Enqueue(ctx, QueueConnection, map[string]any{"idea_id": "b"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	items, err := s.Dequeue(ctx, QueueConnection, 10)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("claimed %d items, want 2", len(items))
	}
	if items[0].ID != first.ID || items[1].ID != second.ID {
		t.Fatalf("order = [%s %s], want [%s %s]", items[0].ID, items[1].ID, first.ID, second.ID)
	}
	for _, it := range items {
		if it.Status != StatusProcessing {
			t.Fatalf("claimed item status = %s, want processing", it.Status)
		}
	}
}

func TestDequeueClaimsExclusively(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Enqueue(ctx, QueueNurture, map[string]any{"n": float64(i)}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	a, err := s.Dequeue(ctx, QueueNurture, 3)
	if err != nil {
		t.Fatalf("first Dequeue: %v", err)
	}
	b, err := s.Dequeue(ctx, QueueNurture, 10)
	if err != nil {
		t.Fatalf("second Dequeue: %v", err)
	}
	if len(a)+len(b) != 5 {
		t.Fatalf("claimed %d + %d items, want 5 total", len(a), len(b))
	}
	seen := map[string]bool{}
	for _, it := range append(a, b...) {
		if seen[it.ID] {
			t.Fatalf("item %s claimed twice", it.ID)
		}
		seen[it.ID] = true
	}

	empty, err := s.Dequeue(ctx, QueueNurture, 10)
	if err != nil {
		t.Fatalf("third Dequeue: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("drained queue still yielded %d items", len(empty))
	}
}

func TestDequeueScopedToQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, QueueConnection, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	items, err := s.Dequeue(ctx, QueueSurfacing, 10)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("surfacing dequeue claimed %d connection items", len(items))
	}
}

func TestCompleteAndFailTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item, _ := s.Enqueue(ctx, QueueConnection, nil)

	// Completing a pending item is invalid.
	if err := s.Complete(ctx, item.ID); !IsNotFound(err) {
		t.Fatalf("Complete(pending) err = %v, want not-found", err)
	}

	claimed, _ := s.Dequeue(ctx, QueueConnection, 1)
	if len(claimed) != 1 {
		t.Fatalf("claimed %d, want 1", len(claimed))
	}
	if err := s.Complete(ctx, claimed[0].ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, err := s.GetQueueItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetQueueItem: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.ProcessedAt == nil {
		t.Fatal("completed item has no processed_at")
	}

	// Terminal: cannot fail a completed item.
	if err := s.Fail(ctx, item.ID); !IsNotFound(err) {
		t.Fatalf("Fail(completed) err = %v, want not-found", err)
	}
}

func TestRetryFailedRespectsAttemptCeiling(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item, _ := s.Enqueue(ctx, QueueConnection, nil)

	failOnce := func() {
		t.Helper()
		claimed, err := s.Dequeue(ctx, QueueConnection, 1)
		if err != nil || len(claimed) != 1 {
			t.Fatalf("Dequeue: %v (claimed %d)", err, len(claimed))
		}
		if err := s.Fail(ctx, claimed[0].ID); err != nil {
			t.Fatalf("Fail: %v", err)
		}
	}

	maxAttempts := 3
	for i := 0; i < maxAttempts; i++ {
		failOnce()
		n, err := s.RetryFailed(ctx, QueueConnection, maxAttempts)
		if err != nil {
			t.Fatalf("RetryFailed: %v", err)
		}
		if i < maxAttempts-1 && n != 1 {
			t.Fatalf("retry %d requeued %d items, want 1", i, n)
		}
		if i == maxAttempts-1 && n != 0 {
			t.Fatalf("retry at ceiling requeued %d items, want 0", n)
		}
	}

	got, _ := s.GetQueueItem(ctx, item.ID)
	if got.Status != StatusFailed {
		t.Fatalf("exhausted item status = %s, want failed", got.Status)
	}
	if got.Attempts != maxAttempts {
		t.Fatalf("attempts = %d, want %d", got.Attempts, maxAttempts)
	}
}

func TestRequeueStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item, _ := s.Enqueue(ctx, QueueConnection, nil)
	if _, err := s.Dequeue(ctx, QueueConnection, 1); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	// Fresh processing item is not touched.
	n, err := s.RequeueStale(ctx, QueueConnection, time.Minute)
	if err != nil {
		t.Fatalf("RequeueStale: %v", err)
	}
	if n != 0 {
		t.Fatalf("requeued %d fresh items, want 0", n)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET updated_at = datetime('now', '-10 minutes') WHERE id = ?;`,
		item.ID); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	n, err = s.RequeueStale(ctx, QueueConnection, time.Minute)
	if err != nil {
		t.Fatalf("RequeueStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued %d stale items, want 1", n)
	}
	got, _ := s.GetQueueItem(ctx, item.ID)
	if got.Status != StatusPending {
		t.Fatalf("stale item status = %s, want pending", got.Status)
	}
}

func TestRemoveByPayloadMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	match, _ := s.Enqueue(ctx, QueueNurture, map[string]any{"idea_id": "x", "reason": "new"})
	other, _ := s.Enqueue(ctx, QueueNurture, map[string]any{"idea_id": "y", "reason": "new"})

	n, err := s.RemoveByPayloadMatch(ctx, QueueNurture, map[string]any{"idea_id": "x"})
	if err != nil {
		t.Fatalf("RemoveByPayloadMatch: %v", err)
	}
	if n != 1 {
		t.Fatalf("removed %d items, want 1", n)
	}
	if _, err := s.GetQueueItem(ctx, match.ID); !IsNotFound(err) {
		t.Fatalf("matched item still present (err=%v)", err)
	}
	if _, err := s.GetQueueItem(ctx, other.ID); err != nil {
		t.Fatalf("unmatched item was removed: %v", err)
	}

	// Processing items must not be removed.
	if _, err := s.Dequeue(ctx, QueueNurture, 1); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	n, err = s.RemoveByPayloadMatch(ctx, QueueNurture, map[string]any{"idea_id": "y"})
	if err != nil {
		t.Fatalf("RemoveByPayloadMatch: %v", err)
	}
	if n != 0 {
		t.Fatalf("removed %d processing items, want 0", n)
	}
}

func TestRemoveByPayloadMatchNumericValues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Callers pass int; stored payloads decode to float64. Matching must
	// normalize across that.
	if _, err := s.Enqueue(ctx, QueueSurfacing, map[string]any{"rank": 3}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	n, err := s.RemoveByPayloadMatch(ctx, QueueSurfacing, map[string]any{"rank": 3})
	if err != nil {
		t.Fatalf("RemoveByPayloadMatch: %v", err)
	}
	if n != 1 {
		t.Fatalf("removed %d items, want 1", n)
	}
}

func TestCleanupCompleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item, _ := s.Enqueue(ctx, QueueConnection, nil)
	claimed, _ := s.Dequeue(ctx, QueueConnection, 1)
	if err := s.Complete(ctx, claimed[0].ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Too recent to clean.
	n, err := s.CleanupCompleted(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CleanupCompleted: %v", err)
	}
	if n != 0 {
		t.Fatalf("cleaned %d fresh items, want 0", n)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET processed_at = datetime('now', '-2 days') WHERE id = ?;`,
		item.ID); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	n, err = s.CleanupCompleted(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CleanupCompleted: %v", err)
	}
	if n != 1 {
		t.Fatalf("cleaned %d items, want 1", n)
	}
}

func TestCountByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Enqueue(ctx, QueueConnection, nil); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	claimed, _ := s.Dequeue(ctx, QueueConnection, 1)
	if err := s.Fail(ctx, claimed[0].ID); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	counts, err := s.CountByStatus(ctx, QueueConnection)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[StatusPending] != 2 || counts[StatusFailed] != 1 {
		t.Fatalf("counts = %v, want pending=2 failed=1", counts)
	}

	pending, err := s.CountPending(ctx, QueueConnection)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if pending != 2 {
		t.Fatalf("pending = %d, want 2", pending)
	}
}
