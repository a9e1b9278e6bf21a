// Package simclock provides the discrete timestep source that paces bot
// movement.
//
// Real maps steps onto wall-clock time. Virtual is a deterministic
// discrete-event clock: it advances to the earliest requested step as soon
// as every joined participant is blocked in WaitUntil, so simulations and
// tests run as fast as the CPU allows and repeat exactly.
package simclock

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Clock is a source of integer timesteps.
type Clock interface {
	// Now returns the current step.
	Now() int64
	// WaitUntil blocks until the clock reaches step or ctx is done.
	WaitUntil(ctx context.Context, step int64) error
	// Join registers a participant whose waits gate virtual time.
	Join()
	// Leave unregisters a participant.
	Leave()
}

// Real paces steps against wall-clock time.
type Real struct {
	start time.Time
	step  time.Duration
}

// NewReal creates a Real clock where one step lasts step.
func NewReal(step time.Duration) *Real {
	if step <= 0 {
		step = time.Second
	}
	return &Real{start: time.Now(), step: step}
}

// Now returns the number of whole steps since the clock was created.
func (r *Real) Now() int64 { return int64(time.Since(r.start) / r.step) }

// WaitUntil sleeps until step begins.
func (r *Real) WaitUntil(ctx context.Context, step int64) error {
	d := time.Until(r.start.Add(time.Duration(step) * r.step))
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Join is a no-op for wall-clock time.
func (r *Real) Join() {}

// Leave is a no-op for wall-clock time.
func (r *Real) Leave() {}

// Virtual is a deterministic discrete-event clock. The zero value is at
// step 0 with no participants and is ready to use.
type Virtual struct {
	mu           sync.Mutex
	now          int64
	participants int
	waiters      []*waiter
}

type waiter struct {
	step int64
	ch   chan struct{}
}

// NewVirtual creates a Virtual clock at step start.
func NewVirtual(start int64) *Virtual {
	return &Virtual{now: start}
}

// Now returns the current step.
func (v *Virtual) Now() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Join registers a participant.
func (v *Virtual) Join() {
	v.mu.Lock()
	v.participants++
	v.mu.Unlock()
}

// Leave unregisters a participant, which may let time advance.
func (v *Virtual) Leave() {
	v.mu.Lock()
	if v.participants > 0 {
		v.participants--
	}
	v.advanceLocked()
	v.mu.Unlock()
}

// Participants returns the number of joined participants.
func (v *Virtual) Participants() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.participants
}

// WaitUntil blocks until step is reached. When every participant is
// waiting, time jumps to the smallest requested step.
func (v *Virtual) WaitUntil(ctx context.Context, step int64) error {
	v.mu.Lock()
	if step <= v.now {
		v.mu.Unlock()
		return ctx.Err()
	}
	w := &waiter{step: step, ch: make(chan struct{})}
	v.waiters = append(v.waiters, w)
	v.advanceLocked()
	v.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		v.mu.Lock()
		v.waiters = slices.DeleteFunc(v.waiters, func(x *waiter) bool { return x == w })
		v.mu.Unlock()
		select {
		case <-w.ch:
			return nil
		default:
		}
		return ctx.Err()
	}
}

// Advance moves time forward by n steps and wakes due waiters, regardless
// of participants. Used by drivers that own the clock.
func (v *Virtual) Advance(n int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now += n
	v.wakeLocked()
}

func (v *Virtual) advanceLocked() {
	if v.participants == 0 || len(v.waiters) < v.participants {
		return
	}
	next := v.waiters[0].step
	for _, w := range v.waiters[1:] {
		next = min(next, w.step)
	}
	if next > v.now {
		v.now = next
	}
	v.wakeLocked()
}

func (v *Virtual) wakeLocked() {
	kept := v.waiters[:0]
	for _, w := range v.waiters {
		if w.step <= v.now {
			close(w.ch)
			continue
		}
		kept = append(kept, w)
	}
	clear(v.waiters[len(kept):])
	v.waiters = kept
}
