package dedup

import (
	"fmt"
	"testing"
	"time"
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func TestSeenWithinAndAfterWindow(t *testing.T) {
	clock := &stepClock{now: time.Unix(100, 0)}
	w := New(clock.Now)

	if w.Seen("ai:req:hello", 2*time.Second) {
		t.Fatalf("first Seen() = true, want false")
	}
	clock.now = clock.now.Add(500 * time.Millisecond)
	if !w.Seen("ai:req:hello", 2*time.Second) {
		t.Fatalf("Seen() within window = false, want true")
	}
	clock.now = clock.now.Add(2500 * time.Millisecond)
	if w.Seen("ai:req:hello", 2*time.Second) {
		t.Fatalf("Seen() after window = true, want false")
	}
}

func TestSeenEmptyKeyNeverDuplicates(t *testing.T) {
	w := New(nil)
	if w.Seen("", time.Second) || w.Seen("", time.Second) {
		t.Fatalf("empty key reported as duplicate")
	}
}

func TestPruneBoundsSize(t *testing.T) {
	clock := &stepClock{now: time.Unix(0, 0)}
	w := New(clock.Now)
	for i := 0; i < 400; i++ {
		w.Seen(fmt.Sprintf("old-%d", i), time.Second)
	}
	clock.now = clock.now.Add(2 * time.Minute)
	for i := 0; i < 101; i++ {
		w.Seen(fmt.Sprintf("new-%d", i), time.Second)
	}
	if got := w.Len(); got > pruneTo {
		t.Fatalf("Len() = %d, want <= %d", got, pruneTo)
	}
	if !w.Seen("new-100", time.Second) {
		t.Fatalf("recent key pruned")
	}
}

func TestPrefixCountsRunes(t *testing.T) {
	if got := Prefix("héllo", 2); got != "hé" {
		t.Fatalf("Prefix() = %q, want %q", got, "hé")
	}
	if got := Prefix("abc", 10); got != "abc" {
		t.Fatalf("Prefix() = %q, want %q", got, "abc")
	}
}
