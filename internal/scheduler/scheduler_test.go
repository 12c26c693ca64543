package scheduler

import (
	"testing"
	"time"
)

func TestFakeAdvanceRunsDueTimersInOrder(t *testing.T) {
	clock := NewFake(time.Unix(0, 0))
	var order []string
	clock.AfterFunc(200*time.Millisecond, func() { order = append(order, "b") })
	clock.AfterFunc(100*time.Millisecond, func() { order = append(order, "a") })
	clock.AfterFunc(time.Second, func() { order = append(order, "late") })

	clock.Advance(250 * time.Millisecond)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order = %v, want [a b]", order)
	}
	if got := clock.Pending(); len(got) != 1 || got[0] != time.Second {
		t.Fatalf("Pending() = %v, want [1s]", got)
	}
}

func TestFakeTimerArmedByCallbackRunsWithinAdvance(t *testing.T) {
	clock := NewFake(time.Unix(0, 0))
	fired := 0
	clock.AfterFunc(time.Second, func() {
		fired++
		clock.AfterFunc(time.Second, func() { fired++ })
	})
	clock.Advance(2 * time.Second)
	if fired != 2 {
		t.Fatalf("fired = %d, want 2", fired)
	}
	if got := clock.Now(); !got.Equal(time.Unix(2, 0)) {
		t.Fatalf("Now() = %v, want %v", got, time.Unix(2, 0))
	}
}

func TestFakeStopPreventsCallback(t *testing.T) {
	clock := NewFake(time.Unix(0, 0))
	fired := false
	timer := clock.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatalf("Stop() = false, want true")
	}
	clock.Advance(time.Minute)
	if fired {
		t.Fatalf("stopped timer fired")
	}
	if timer.Stop() {
		t.Fatalf("second Stop() = true, want false")
	}
}

func TestSlotArmReplacesPending(t *testing.T) {
	clock := NewFake(time.Unix(0, 0))
	slot := NewSlot(clock)
	var got []string
	slot.Arm(time.Second, func() { got = append(got, "first") })
	slot.Arm(2*time.Second, func() { got = append(got, "second") })
	if !slot.Armed() {
		t.Fatalf("Armed() = false, want true")
	}

	clock.Advance(3 * time.Second)
	if len(got) != 1 || got[0] != "second" {
		t.Fatalf("fired = %v, want [second]", got)
	}
	if slot.Armed() {
		t.Fatalf("Armed() after fire = true, want false")
	}
}

func TestSlotCancel(t *testing.T) {
	clock := NewFake(time.Unix(0, 0))
	slot := NewSlot(clock)
	fired := false
	slot.Arm(time.Second, func() { fired = true })
	slot.Cancel()
	clock.Advance(time.Minute)
	if fired {
		t.Fatalf("cancelled slot fired")
	}
}
