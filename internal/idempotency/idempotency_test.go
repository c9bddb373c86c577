package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_ReplayAfterComplete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)

	prev, err := s.Begin(ctx, "user:k1")
	if err != nil || prev != nil {
		t.Fatalf("first Begin should claim the key: %v %v", prev, err)
	}

	if _, err := s.Begin(ctx, "user:k1"); !errors.Is(err, ErrInFlight) {
		t.Fatalf("duplicate while in flight: got %v", err)
	}

	if err := s.Complete(ctx, "user:k1", Response{Status: 200, Body: []byte(`{"ok":true}`)}); err != nil {
		t.Fatal(err)
	}
	prev, err = s.Begin(ctx, "user:k1")
	if err != nil || prev == nil || prev.Status != 200 || string(prev.Body) != `{"ok":true}` {
		t.Fatalf("expected stored response, got %+v %v", prev, err)
	}
}

func TestMemoryStore_AbortReleasesKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)

	if _, err := s.Begin(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	_ = s.Abort(ctx, "k")
	prev, err := s.Begin(ctx, "k")
	if err != nil || prev != nil {
		t.Fatalf("key should be claimable after Abort: %v %v", prev, err)
	}
}
