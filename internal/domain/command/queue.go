package command

import (
	"context"
	"sync"
	"time"
)

// Queue is the rendezvous between tool handlers that block for a browser
// result and the extension that polls for work and posts completions.
//
// Enqueue and DrainPending share FIFO order. Each completion is delivered to
// exactly one waiter: a completion that arrives before its waiter is buffered
// and consumed by the next Wait for that id.
type Queue struct {
	mu      sync.Mutex
	pending []*Command
	// results holds one buffered channel per command id. Created by
	// whichever side arrives first; deleted when the waiter consumes.
	results map[string]chan Completion
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{
		results: make(map[string]chan Completion),
	}
}

// Enqueue appends a command to the pending list.
func (q *Queue) Enqueue(cmd *Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, cmd)
}

// DrainPending atomically empties and returns the pending list in FIFO
// order. Returns an empty slice when nothing is pending.
func (q *Queue) DrainPending() []*Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	if out == nil {
		out = []*Command{}
	}
	return out
}

// PendingCount returns the number of undrained commands.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Complete records the result for a command id. If a waiter is already
// blocked in Wait it is woken; otherwise the record is buffered until the
// next waiter for that id consumes it.
func (q *Queue) Complete(id string, success bool, result any, errMsg string) {
	rec := Completion{CommandID: id, Success: success, Result: result, Error: errMsg}
	// Look up and buffer under one critical section: a timed-out Wait
	// running forget concurrently must not strand the completion in a
	// channel that is no longer in the map.
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.results[id]
	if !ok {
		ch = make(chan Completion, 1)
		q.results[id] = ch
	}
	select {
	case ch <- rec:
	default:
		// A completion is already buffered for this id; exactly one
		// delivery per id, extras are dropped.
	}
}

// Wait blocks until a completion for id arrives or timeout elapses.
// Returns ErrTimeout on expiry and ctx.Err() on cancellation. The record is
// consumed on delivery; a second Wait for the same id blocks again.
func (q *Queue) Wait(ctx context.Context, id string, timeout time.Duration) (Completion, error) {
	ch := q.channelFor(id)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case rec := <-ch:
		q.forget(id)
		return rec, nil
	case <-timer.C:
		q.forget(id)
		return Completion{}, ErrTimeout
	case <-ctx.Done():
		q.forget(id)
		return Completion{}, ctx.Err()
	}
}

// Clear drops all pending commands and unconsumed completions.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	q.results = make(map[string]chan Completion)
}

// channelFor returns the completion channel for id, creating it if needed.
// The channel is buffered so a completion never blocks its producer.
func (q *Queue) channelFor(id string) chan Completion {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.results[id]
	if !ok {
		ch = make(chan Completion, 1)
		q.results[id] = ch
	}
	return ch
}

// forget removes the channel for id so abandoned completions do not pile up.
func (q *Queue) forget(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.results, id)
}
