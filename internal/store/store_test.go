package store

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestPoolAddGetDelete(t *testing.T) {
	p := NewPool(2, 8)

	a, err := p.Add([]byte{1, 2, 3})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	b, err := p.Add([]byte{4})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := p.Add([]byte{5}); !errors.Is(err, ErrStoreFull) {
		t.Fatalf("expected ErrStoreFull, got %v", err)
	}

	got, err := p.Get(a)
	if err != nil || !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Fatalf("get: %x %v", got, err)
	}
	if used, capacity := p.Stats(); used != 2 || capacity != 2 {
		t.Fatalf("unexpected stats: %d/%d", used, capacity)
	}

	if err := p.Delete(b); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := p.Delete(b); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle on double delete, got %v", err)
	}
	c, err := p.Add([]byte{6, 7})
	if err != nil {
		t.Fatalf("add after delete: %v", err)
	}
	if c == b {
		t.Fatalf("reused slot must carry a new generation")
	}
	if _, err := p.Get(b); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("stale handle resolved: %v", err)
	}
}

func TestPoolRejectsOversizedData(t *testing.T) {
	p := NewPool(1, 4)
	if _, err := p.Add(make([]byte, 5)); !errors.Is(err, ErrDataTooLarge) {
		t.Fatalf("expected ErrDataTooLarge, got %v", err)
	}
}

func TestPoolGetReturnsCopy(t *testing.T) {
	p := NewPool(1, 4)
	h, _ := p.Add([]byte{1, 2})
	got, _ := p.Get(h)
	got[0] = 9
	again, _ := p.Get(h)
	if again[0] != 1 {
		t.Fatalf("get exposed pool memory")
	}
}

func TestQueueBoundedFIFO(t *testing.T) {
	q := NewQueue(2)
	if !q.Ready() {
		t.Fatalf("empty queue not ready")
	}
	if err := q.Send(1, 10); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := q.Send(2, 20); err != nil {
		t.Fatalf("send: %v", err)
	}
	if q.Ready() {
		t.Fatalf("full queue reported ready")
	}
	if err := q.Send(3, 30); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	ctx := context.Background()
	first, err := q.Receive(ctx)
	if err != nil || first.Dest != 1 || first.Handle != 10 {
		t.Fatalf("unexpected first message: %+v %v", first, err)
	}
	second, _ := q.Receive(ctx)
	if second.Dest != 2 {
		t.Fatalf("unexpected second message: %+v", second)
	}
}

func TestQueueReceiveHonoursContext(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := q.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestReadinessCoversPoolAndQueue(t *testing.T) {
	p := NewPool(2, 8)
	q := NewQueue(3)
	ready := Readiness(p, q)
	if !ready(2) || ready(3) {
		t.Fatalf("pool room not honoured")
	}
	h, _ := p.Add([]byte{1})
	_ = q.Send(1, h)
	if !ready(1) || ready(2) {
		t.Fatalf("unexpected readiness after one packet")
	}
	_ = q.Send(1, h)
	_ = q.Send(1, h)
	if ready(1) || !ready(0) {
		t.Fatalf("full queue must block, zero need must pass")
	}
}
