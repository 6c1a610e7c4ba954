package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestMemoryMirrorsSQLiteSemantics(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_000_000, 0)}
	q := NewMemory(Config{MaxRetries: 2, BackoffBase: 10 * time.Second}, clock.Now)
	ctx := context.Background()

	create, err := q.Enqueue(ctx, "local-1", ActionCreate, json.RawMessage(`{"v":1}`))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	up, _ := q.Enqueue(ctx, "local-1", ActionUpdate, nil)
	q.Enqueue(ctx, "r2", ActionDelete, nil)

	if up.Seq != create.Seq+1 {
		t.Errorf("Seq not monotonic: %d then %d", create.Seq, up.Seq)
	}

	n, _ := q.Remap(ctx, "local-1", "srv-1", create.Seq)
	if n != 1 {
		t.Errorf("Expected 1 remapped, got %d", n)
	}
	items, _ := q.Drain(ctx)
	if len(items) != 2 || items[0].RecordID != "srv-1" || items[1].RecordID != "r2" {
		t.Errorf("After remap: %+v", items)
	}

	// Retry backoff gates the drain; the budget of 2 dead-letters next.
	if _, err := q.MarkRetry(ctx, up.Seq, errors.New("timeout")); err != nil {
		t.Fatalf("MarkRetry failed: %v", err)
	}
	items, _ = q.Drain(ctx)
	if len(items) != 1 {
		t.Errorf("Retrying item should not drain: %+v", items)
	}
	clock.Advance(11 * time.Second)
	items, _ = q.Drain(ctx)
	if len(items) != 2 {
		t.Errorf("Expected item back after backoff: %+v", items)
	}

	got, _ := q.MarkRetry(ctx, up.Seq, errors.New("timeout"))
	if got.Status != StatusDead {
		t.Errorf("Expected dead at retry budget, got %s", got.Status)
	}
	dead, _ := q.DeadLetters(ctx)
	if len(dead) != 1 {
		t.Errorf("Dead letters: %+v", dead)
	}

	reset, _ := q.RetryDead(ctx)
	if reset != 1 {
		t.Errorf("RetryDead = %d", reset)
	}
	if err := q.Remove(ctx, "srv-1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	n, _ = q.PendingCount(ctx)
	if n != 1 {
		t.Errorf("PendingCount = %d", n)
	}
}

func TestMemoryDrainCopiesItems(t *testing.T) {
	q := NewMemory(DefaultConfig(), nil)
	ctx := context.Background()

	q.Enqueue(ctx, "r1", ActionCreate, json.RawMessage(`{"v":1}`))
	items, _ := q.Drain(ctx)
	items[0].RecordID = "mutated"
	items[0].Payload[2] = 'x'

	again, _ := q.Drain(ctx)
	if again[0].RecordID != "r1" || string(again[0].Payload) != `{"v":1}` {
		t.Errorf("Internal state mutated through drain result: %+v", again[0])
	}
}
