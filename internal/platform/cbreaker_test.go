package platform

import (
	"testing"
	"time"
)

func TestBreaker(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(3, 10*time.Second)
	b.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		b.OnFailure()
	}
	if !b.Allow() || b.State() != "closed" {
		t.Fatalf("breaker tripped early: %s", b.State())
	}
	b.OnFailure()
	if b.Allow() {
		t.Fatal("open breaker allowed a call")
	}

	now = now.Add(10 * time.Second)
	if !b.Allow() {
		t.Fatal("probe refused after openFor")
	}
	if b.State() != "half-open" {
		t.Fatalf("state = %s, want half-open", b.State())
	}
	if b.Allow() {
		t.Fatal("second probe allowed while one is in flight")
	}

	// A failed probe reopens for another full window.
	b.OnFailure()
	if b.State() != "open" || b.Allow() {
		t.Fatalf("state = %s, want open", b.State())
	}

	now = now.Add(10 * time.Second)
	if !b.Allow() {
		t.Fatal("probe refused")
	}
	b.OnSuccess()
	if b.State() != "closed" || !b.Allow() {
		t.Fatalf("state = %s, want closed", b.State())
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker(2, time.Second)
	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	if b.State() != "closed" {
		t.Fatalf("state = %s, want closed", b.State())
	}
}
