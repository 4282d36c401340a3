package store

import (
	"context"
	"errors"
	"fmt"
)

var ErrQueueFull = errors.New("store: delivery queue full")

// ObjectID names the on-board object a completed packet is routed to.
type ObjectID uint32

func (id ObjectID) String() string {
	return fmt.Sprintf("0x%08x", uint32(id))
}

// Message is one queued packet reference.
type Message struct {
	Dest   ObjectID
	Handle Handle
}

// Queue is a bounded FIFO of packet references. Send never blocks.
type Queue struct {
	ch chan Message
}

func NewQueue(depth int) *Queue {
	if depth < 1 {
		depth = 1
	}
	return &Queue{ch: make(chan Message, depth)}
}

func (q *Queue) Send(dest ObjectID, h Handle) error {
	select {
	case q.ch <- Message{Dest: dest, Handle: h}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Ready reports whether Send would currently succeed.
func (q *Queue) Ready() bool {
	return len(q.ch) < cap(q.ch)
}

// HasRoom reports whether n more messages fit.
func (q *Queue) HasRoom(n int) bool {
	return cap(q.ch)-len(q.ch) >= n
}

// Readiness reports whether n packets can be both stored in p and queued on q.
func Readiness(p *Pool, q *Queue) func(n int) bool {
	return func(n int) bool {
		return q.HasRoom(n) && p.HasRoom(n)
	}
}

// Receive blocks until a message is queued or ctx is done.
func (q *Queue) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) Cap() int {
	return cap(q.ch)
}
