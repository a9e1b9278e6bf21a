package reservation

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	aserrors "github.com/Iron-Ham/autostore/internal/errors"
	"github.com/Iron-Ham/autostore/internal/grid"
)

func ptr(p grid.Point) *grid.Point { return &p }

func TestReserve_SingleOwner(t *testing.T) {
	tb := NewTable(32)
	c := grid.P(2, 2)

	if !tb.Reserve(c, 5, 1, nil) {
		t.Fatal("first reservation should succeed")
	}
	if tb.Reserve(c, 5, 2, nil) {
		t.Fatal("second agent must not take a held cell")
	}
	if !tb.Reserve(c, 5, 1, nil) {
		t.Error("re-reserving an own cell should succeed")
	}
	if owner, ok := tb.Owner(c, 5); !ok || owner != 1 {
		t.Errorf("Owner() = %d,%v want 1,true", owner, ok)
	}
	if !tb.IsReserved(c, 5, 2) {
		t.Error("IsReserved for other agent = false, want true")
	}
	if tb.IsReserved(c, 5, 1) {
		t.Error("own reservation must not block")
	}
	if tb.IsReserved(c, 6, 2) {
		t.Error("different timestep must be free")
	}
}

func TestReserve_TailBlocksSwapAndFollow(t *testing.T) {
	tests := []struct {
		name string
		to   grid.Point
		from grid.Point
	}{
		// Agent 1 moves A(1,1) -> B(2,1) at t=3.
		{name: "swap B->A", to: grid.P(1, 1), from: grid.P(2, 1)},
		{name: "follow into A", to: grid.P(1, 1), from: grid.P(0, 1)},
		{name: "enter B", to: grid.P(2, 1), from: grid.P(3, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := NewTable(32)
			if !tb.Reserve(grid.P(2, 1), 3, 1, ptr(grid.P(1, 1))) {
				t.Fatal("setup reservation failed")
			}
			before := tb.Len()
			if tb.Reserve(tt.to, 3, 2, ptr(tt.from)) {
				t.Fatalf("agent 2 move %v->%v at t=3 should conflict", tt.from, tt.to)
			}
			if tb.Len() != before {
				t.Errorf("failed reserve changed table size %d -> %d", before, tb.Len())
			}
		})
	}
}

func TestReserve_WaitHasNoTail(t *testing.T) {
	tb := NewTable(32)
	c := grid.P(0, 0)
	if !tb.Reserve(c, 1, 1, &c) {
		t.Fatal("wait reservation failed")
	}
	got := tb.ReservationsFor(1)
	if len(got) != 1 || got[0].Tail {
		t.Errorf("ReservationsFor() = %+v, want one vertex claim", got)
	}
}

func TestClearExpired(t *testing.T) {
	tb := NewTable(10)
	for i := int64(0); i < 20; i++ {
		tb.Reserve(grid.P(0, 0), i, 1, nil)
	}

	removed := tb.ClearExpired(15)
	if removed != 5 {
		t.Errorf("ClearExpired() removed %d, want 5", removed)
	}
	for _, r := range tb.ReservationsFor(1) {
		if r.T < 5 {
			t.Errorf("entry at t=%d survived pruning", r.T)
		}
	}
	if tb.ClearExpired(15) != 0 {
		t.Error("second prune should be a no-op")
	}
}

func TestReservePath(t *testing.T) {
	tb := NewTable(32)
	path := []grid.Point{grid.P(0, 0), grid.P(1, 0), grid.P(2, 0)}

	if err := tb.ReservePath(1, path, 10, 2); err != nil {
		t.Fatalf("ReservePath() error = %v", err)
	}

	for i, c := range path {
		if owner, _ := tb.Owner(c, 10+int64(i)); owner != 1 {
			t.Errorf("cell %v at t=%d owner = %d, want 1", c, 10+i, owner)
		}
	}
	// tails
	if owner, _ := tb.Owner(grid.P(0, 0), 11); owner != 1 {
		t.Error("tail (0,0)@11 missing")
	}
	// dwell at goal
	for _, ts := range []int64{13, 14} {
		if owner, ok := tb.Owner(grid.P(2, 0), ts); !ok || owner != 1 {
			t.Errorf("goal dwell at t=%d missing", ts)
		}
	}
	if _, ok := tb.Owner(grid.P(2, 0), 15); ok {
		t.Error("dwell extends too far")
	}
}

func TestReservePath_AllOrNothing(t *testing.T) {
	tb := NewTable(32)
	tb.Reserve(grid.P(2, 0), 12, 9, nil)

	path := []grid.Point{grid.P(0, 0), grid.P(1, 0), grid.P(2, 0)}
	err := tb.ReservePath(1, path, 10, 0)

	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("ReservePath() error = %v, want *ConflictError", err)
	}
	if ce.Holder != 9 || ce.Cell != grid.P(2, 0) || ce.T != 12 {
		t.Errorf("conflict = %+v", ce)
	}
	if !errors.Is(err, aserrors.ErrNoPath) {
		t.Error("conflict should match ErrNoPath")
	}
	if got := tb.ReservationsFor(1); len(got) != 0 {
		t.Errorf("partial path left behind: %+v", got)
	}
}

func TestReservePath_ReplacesFutureClaims(t *testing.T) {
	tb := NewTable(32)
	old := []grid.Point{grid.P(0, 0), grid.P(0, 1), grid.P(0, 2)}
	if err := tb.ReservePath(1, old, 0, 0); err != nil {
		t.Fatal(err)
	}

	// Replan from t=1 at (0,1) going east instead.
	next := []grid.Point{grid.P(0, 1), grid.P(1, 1)}
	if err := tb.ReservePath(1, next, 1, 0); err != nil {
		t.Fatal(err)
	}
	if _, ok := tb.Owner(grid.P(0, 2), 2); ok {
		t.Error("stale future claim (0,2)@2 not released")
	}
	if owner, _ := tb.Owner(grid.P(0, 0), 0); owner != 1 {
		t.Error("past claim should be kept")
	}
	if owner, _ := tb.Owner(grid.P(1, 1), 2); owner != 1 {
		t.Error("new claim missing")
	}
}

func TestUpdate_RollbackOnError(t *testing.T) {
	tb := NewTable(32)
	tb.Reserve(grid.P(3, 3), 1, 5, nil)
	boom := errors.New("boom")

	err := tb.Update(func(tx *Tx) error {
		tx.Reserve(grid.P(0, 0), 1, 1, nil)
		tx.ReleaseAfter(5, 0)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v", err)
	}
	if _, ok := tb.Owner(grid.P(0, 0), 1); ok {
		t.Error("write survived rollback")
	}
	if owner, ok := tb.Owner(grid.P(3, 3), 1); !ok || owner != 5 {
		t.Error("delete survived rollback")
	}
}

func TestRelease(t *testing.T) {
	tb := NewTable(32)
	_ = tb.ReservePath(1, []grid.Point{grid.P(0, 0), grid.P(0, 1)}, 0, 1)
	_ = tb.ReservePath(2, []grid.Point{grid.P(3, 0), grid.P(3, 1)}, 0, 0)

	if n := tb.Release(1); n == 0 {
		t.Error("Release() removed nothing")
	}
	if got := tb.ReservationsFor(1); len(got) != 0 {
		t.Errorf("agent 1 still holds %+v", got)
	}
	if got := tb.ReservationsFor(2); len(got) == 0 {
		t.Error("agent 2 lost its reservations")
	}
}

// Concurrent claims of the same cell: exactly one winner.
func TestReserve_Concurrent(t *testing.T) {
	tb := NewTable(32)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for agent := int64(1); agent <= 16; agent++ {
		wg.Add(1)
		go func(a int64) {
			defer wg.Done()
			if tb.Reserve(grid.P(1, 1), 7, a, nil) {
				wins.Add(1)
			}
		}(agent)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("winners = %d, want 1", wins.Load())
	}
}
