package simclock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestVirtual_AdvancesWhenAllWait(t *testing.T) {
	v := NewVirtual(0)
	v.Join()
	v.Join()

	var mu sync.Mutex
	var order []int64
	var wg sync.WaitGroup
	run := func(steps ...int64) {
		defer wg.Done()
		defer v.Leave()
		for _, s := range steps {
			if err := v.WaitUntil(context.Background(), s); err != nil {
				t.Errorf("WaitUntil(%d) error = %v", s, err)
				return
			}
			mu.Lock()
			order = append(order, v.Now())
			mu.Unlock()
		}
	}
	wg.Add(2)
	go run(1, 2, 3)
	go run(2, 5)
	wg.Wait()

	if v.Now() != 5 {
		t.Errorf("Now() = %d, want 5", v.Now())
	}
	for i := 1; i < len(order); i++ {
		if order[i] < order[i-1] {
			t.Fatalf("time went backwards: %v", order)
		}
	}
	if len(order) != 5 {
		t.Errorf("wakeups = %d, want 5", len(order))
	}
}

func TestVirtual_DoesNotAdvanceWhileParticipantRuns(t *testing.T) {
	v := NewVirtual(0)
	v.Join() // busy participant that never waits
	v.Join()

	done := make(chan struct{})
	go func() {
		_ = v.WaitUntil(context.Background(), 3)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("clock advanced while a participant was running")
	case <-time.After(50 * time.Millisecond):
	}

	v.Leave()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("clock did not advance after the busy participant left")
	}
	if v.Now() != 3 {
		t.Errorf("Now() = %d, want 3", v.Now())
	}
}

func TestVirtual_PastStepReturnsImmediately(t *testing.T) {
	v := NewVirtual(10)
	if err := v.WaitUntil(context.Background(), 4); err != nil {
		t.Errorf("WaitUntil(past) error = %v", err)
	}
}

func TestVirtual_ContextCancel(t *testing.T) {
	v := NewVirtual(0)
	v.Join()
	v.Join()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- v.WaitUntil(ctx, 9) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("WaitUntil() error = %v, want context.Canceled", err)
	}
	if v.Now() != 0 {
		t.Errorf("cancelled wait moved time to %d", v.Now())
	}
}

func TestVirtual_Advance(t *testing.T) {
	v := NewVirtual(0)
	done := make(chan struct{})
	go func() {
		_ = v.WaitUntil(context.Background(), 2)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	v.Advance(1)
	select {
	case <-done:
		t.Fatal("woke before step 2")
	case <-time.After(20 * time.Millisecond):
	}
	v.Advance(1)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Advance did not wake waiter")
	}
}

func TestReal(t *testing.T) {
	r := NewReal(5 * time.Millisecond)
	start := r.Now()
	if err := r.WaitUntil(context.Background(), start+2); err != nil {
		t.Fatal(err)
	}
	if r.Now() < start+2 {
		t.Errorf("Now() = %d, want >= %d", r.Now(), start+2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.WaitUntil(ctx, r.Now()+1000); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitUntil(cancelled) = %v", err)
	}
}
