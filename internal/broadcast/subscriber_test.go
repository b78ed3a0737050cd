package broadcast

import (
	"testing"
	"time"
)

// newTestSubscriber builds a Subscriber with a nil connection, valid only
// for exercising Enqueue/dead-state logic that never touches the socket.
func newTestSubscriber(limiter *subscriberRateLimiter) *Subscriber {
	return newSubscriber("sub-1", "price", nil, true, nil, limiter)
}

func TestSubscriberEnqueueSaturationMarksDead(t *testing.T) {
	sub := newTestSubscriber(nil)

	for i := 0; i < sendQueueSize; i++ {
		if !sub.Enqueue([]byte("x")) {
			t.Fatalf("expected enqueue %d to succeed before saturation", i)
		}
	}
	if sub.Enqueue([]byte("overflow")) {
		t.Fatalf("expected enqueue to fail once queue is saturated")
	}
	if !sub.IsDead() {
		t.Fatalf("expected subscriber marked dead after saturation")
	}
}

func TestSubscriberEnqueueIdempotentAfterDead(t *testing.T) {
	sub := newTestSubscriber(nil)
	sub.MarkDead()

	if sub.Enqueue([]byte("x")) {
		t.Fatalf("expected enqueue against dead subscriber to be a no-op")
	}
	// Second call must also be a no-op, not panic or re-deliver.
	if sub.Enqueue([]byte("y")) {
		t.Fatalf("expected repeated enqueue against dead subscriber to remain a no-op")
	}
}

func TestSubscriberRateLimiterDropsOverBurst(t *testing.T) {
	limiter := newSubscriberRateLimiter(1, 2)
	sub := newTestSubscriber(limiter)

	ok1 := sub.Enqueue([]byte("1"))
	ok2 := sub.Enqueue([]byte("2"))
	ok3 := sub.Enqueue([]byte("3"))

	if !ok1 || !ok2 {
		t.Fatalf("expected first two messages within burst to be allowed")
	}
	if ok3 {
		t.Fatalf("expected third message to be rate-limited")
	}
}

func TestTokenSignerRoundTrip(t *testing.T) {
	signer := NewTokenSigner("test-secret")
	token, err := signer.Sign("sub-42", []string{"read"}, time.Minute)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	id, perms, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if id != "sub-42" || len(perms) != 1 || perms[0] != "read" {
		t.Fatalf("unexpected claims: id=%v perms=%v", id, perms)
	}
}

func TestTokenSignerRejectsExpired(t *testing.T) {
	signer := NewTokenSigner("test-secret")
	token, _ := signer.Sign("sub-1", nil, -time.Minute)
	if _, _, err := signer.Verify(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestTokenSignerRejectsTamperedSignature(t *testing.T) {
	signer := NewTokenSigner("test-secret")
	other := NewTokenSigner("different-secret")
	token, _ := signer.Sign("sub-1", nil, time.Minute)
	if _, _, err := other.Verify(token); err == nil {
		t.Fatalf("expected token signed with a different secret to be rejected")
	}
}
