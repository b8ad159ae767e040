package coredb

import "testing"

func TestNewRefCounterStartsAtOne(t *testing.T) {
	rc := newRefCounter()
	if got := rc.Load(); got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
}

func TestRetainAndRelease(t *testing.T) {
	rc := newRefCounter()
	if got := rc.Retain(); got != 2 {
		t.Fatalf("Retain: got %d, want 2", got)
	}
	if got := rc.Retain(); got != 3 {
		t.Fatalf("Retain: got %d, want 3", got)
	}
	if got := rc.Release(); got != 2 {
		t.Fatalf("Release: got %d, want 2", got)
	}
	if got := rc.Load(); got != 2 {
		t.Fatalf("Load: got %d, want 2", got)
	}
}
