package buffers

import (
	"context"
	"testing"
	"time"
)

func TestPoolPushPop(t *testing.T) {
	p := NewPool(8, 2)
	b := NewBuffer(8)
	if err := p.Push(b); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	if p.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", p.Count())
	}

	got, err := p.Pop()
	if err != nil {
		t.Fatalf("Pop() error: %v", err)
	}
	if got != b {
		t.Fatalf("Pop() returned a different buffer")
	}
}

func TestPoolPushWrongCapacity(t *testing.T) {
	p := NewPool(8, 2)
	if err := p.Push(NewBuffer(16)); err == nil {
		t.Fatalf("Push() of a 16-byte buffer into an 8-byte pool should fail")
	}
}

func TestPoolPopEmpty(t *testing.T) {
	p := NewPool(8, 2)
	if _, err := p.Pop(); err == nil {
		t.Fatalf("Pop() on an empty pool should fail")
	}
}

func TestPoolPopWaitBlocksUntilPush(t *testing.T) {
	p := NewPool(8, 2)
	done := make(chan *Buffer, 1)
	go func() {
		b, err := p.PopWait(context.Background())
		if err != nil {
			t.Errorf("PopWait() error: %v", err)
		}
		done <- b
	}()

	time.Sleep(10 * time.Millisecond)
	b := NewBuffer(8)
	p.Push(b)

	select {
	case got := <-done:
		if got != b {
			t.Fatalf("PopWait() returned a different buffer")
		}
	case <-time.After(time.Second):
		t.Fatal("PopWait() did not return after Push()")
	}
}

func TestPoolWaitDrainsAll(t *testing.T) {
	p := NewPrefilledPool(8, 3)
	out, err := p.Wait(context.Background(), PopAll)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("Wait(PopAll) drained %d buffers, want 3", len(out))
	}
	if p.Count() != 0 {
		t.Fatalf("Count() = %d after draining, want 0", p.Count())
	}
}

func TestPoolWaitForTimesOut(t *testing.T) {
	p := NewPool(8, 2)
	out, ok, err := p.WaitFor(context.Background(), 20*time.Millisecond, PopAll)
	if err != nil {
		t.Fatalf("WaitFor() error: %v", err)
	}
	if ok {
		t.Fatalf("WaitFor() on an empty pool returned ok=true")
	}
	if out != nil {
		t.Fatalf("WaitFor() returned non-nil buffers: %v", out)
	}
}

func TestPoolPushBatchEmptiesCaller(t *testing.T) {
	p := NewPool(8, 4)
	batch := []*Buffer{NewBuffer(8), NewBuffer(8)}
	if err := p.PushBatch(&batch); err != nil {
		t.Fatalf("PushBatch() error: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("PushBatch() left %d buffers in caller's slice, want 0", len(batch))
	}
	if p.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", p.Count())
	}
}
