package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEnqueueDrainFIFO(t *testing.T) {
	q := NewQueue()

	first := New(ActionNavigate, map[string]any{"url": "https://example.com"})
	second := New(ActionClick, map[string]any{"selector": "#go"})
	q.Enqueue(first)
	q.Enqueue(second)

	got := q.DrainPending()
	if len(got) != 2 {
		t.Fatalf("DrainPending returned %d commands, want 2", len(got))
	}
	if got[0].ID != first.ID || got[1].ID != second.ID {
		t.Error("drain order is not FIFO")
	}

	// Second drain is empty, never nil.
	again := q.DrainPending()
	if again == nil || len(again) != 0 {
		t.Errorf("second drain = %v, want empty slice", again)
	}
}

func TestWaitReceivesCompletion(t *testing.T) {
	q := NewQueue()
	cmd := New(ActionSnapshot, nil)
	q.Enqueue(cmd)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Complete(cmd.ID, true, map[string]any{"html": "<body/>"}, "")
	}()

	rec, err := q.Wait(context.Background(), cmd.ID, time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !rec.Success {
		t.Error("Success = false")
	}
	if rec.CommandID != cmd.ID {
		t.Errorf("CommandID = %q, want %q", rec.CommandID, cmd.ID)
	}
}

func TestWaitTimeout(t *testing.T) {
	q := NewQueue()

	_, err := q.Wait(context.Background(), "never-completed", 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestWaitContextCancel(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := q.Wait(ctx, "abandoned", time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestEarlyCompletionIsBuffered(t *testing.T) {
	q := NewQueue()

	// Completion arrives before anyone waits.
	q.Complete("early", true, "done", "")

	rec, err := q.Wait(context.Background(), "early", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if rec.Result != "done" {
		t.Errorf("Result = %v", rec.Result)
	}
}

func TestCompletionAfterTimedOutWaitKeptForNextWaiter(t *testing.T) {
	q := NewQueue()

	// The first waiter gives up before the extension posts its result.
	if _, err := q.Wait(context.Background(), "slow", time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("first Wait: %v, want ErrTimeout", err)
	}

	q.Complete("slow", true, "late", "")

	rec, err := q.Wait(context.Background(), "slow", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if rec.Result != "late" {
		t.Errorf("Result = %v", rec.Result)
	}
}

func TestCompletionDeliveredOnce(t *testing.T) {
	q := NewQueue()
	q.Complete("once", true, nil, "")

	if _, err := q.Wait(context.Background(), "once", 50*time.Millisecond); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	// The record was consumed; a second wait for the same id times out.
	if _, err := q.Wait(context.Background(), "once", 20*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("second Wait err = %v, want ErrTimeout", err)
	}
}

func TestDuplicateCompletionsDropped(t *testing.T) {
	q := NewQueue()
	q.Complete("dup", true, "first", "")
	q.Complete("dup", false, "second", "")

	rec, err := q.Wait(context.Background(), "dup", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if rec.Result != "first" {
		t.Errorf("Result = %v, want the first completion", rec.Result)
	}
}

func TestConcurrentWaiters(t *testing.T) {
	q := NewQueue()

	ids := []string{"c1", "c2", "c3", "c4"}
	var wg sync.WaitGroup
	results := make(map[string]Completion)
	var mu sync.Mutex

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			rec, err := q.Wait(context.Background(), id, time.Second)
			if err != nil {
				t.Errorf("Wait(%s): %v", id, err)
				return
			}
			mu.Lock()
			results[id] = rec
			mu.Unlock()
		}(id)
	}

	for _, id := range ids {
		q.Complete(id, true, id+"-result", "")
	}
	wg.Wait()

	for _, id := range ids {
		if results[id].Result != id+"-result" {
			t.Errorf("result for %s = %v", id, results[id].Result)
		}
	}
}

func TestActionIsValid(t *testing.T) {
	valid := []Action{ActionNavigate, ActionClick, ActionType, ActionSnapshot, ActionScreenshot, ActionConsole, ActionWait}
	for _, a := range valid {
		if !a.IsValid() {
			t.Errorf("%q reported invalid", a)
		}
	}
	for _, a := range []Action{"", "explode", "NAVIGATE"} {
		if a.IsValid() {
			t.Errorf("%q reported valid", a)
		}
	}
}
