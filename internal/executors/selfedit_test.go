package executors

import (
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestSelfEditCache_MarkAndConsume(t *testing.T) {
	c := NewSelfEditCache(time.Minute)
	c.Mark("c1", "edit")

	if !c.IsSelfEdit("c1", "edit") {
		t.Fatalf("marked edit not recognized")
	}
	// The mark is consumed: the next identical event is a real one.
	if c.IsSelfEdit("c1", "edit") {
		t.Fatalf("mark must be consumed on first lookup")
	}
}

func TestSelfEditCache_KindScoped(t *testing.T) {
	c := NewSelfEditCache(time.Minute)
	c.Mark("c1", "permissions")

	if c.IsSelfEdit("c1", "edit") {
		t.Fatalf("a permissions mark must not match an edit event")
	}
	if c.IsSelfEdit("c2", "permissions") {
		t.Fatalf("marks are per channel")
	}
	if !c.IsSelfEdit("c1", "permissions") {
		t.Fatalf("the original mark must survive mismatched lookups")
	}
}

func TestSelfEditCache_Expiry(t *testing.T) {
	c := NewSelfEditCache(5 * time.Millisecond)
	c.Mark("c1", "delete")
	time.Sleep(15 * time.Millisecond)

	if c.IsSelfEdit("c1", "delete") {
		t.Fatalf("expired mark must not suppress events")
	}
}

func TestCooldownTable_SpacesCreations(t *testing.T) {
	tb := newCooldownTable(rate.Every(time.Hour), 1)

	if !tb.allow("u1") {
		t.Fatalf("first creation must pass")
	}
	if tb.allow("u1") {
		t.Fatalf("second creation inside the window must be blocked")
	}
	// Other users have their own buckets.
	if !tb.allow("u2") {
		t.Fatalf("cooldown must be per user")
	}
}
