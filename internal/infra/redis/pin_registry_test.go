package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestPinRegistrySetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	pins := NewPinRegistry(newClient(mr), time.Hour)

	ok, err := pins.Reserve(ctx, "123456", "s1")
	if err != nil || !ok {
		t.Fatalf("expected reservation, got %v (%v)", ok, err)
	}
	if got, _ := mr.Get("quiz:pin:123456"); got != "s1" {
		t.Fatalf("expected pin owned by s1, got %q", got)
	}
	if ok, _ := pins.Reserve(ctx, "123456", "s2"); ok {
		t.Fatalf("expected collision")
	}

	if err := pins.Release(ctx, "123456"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists("quiz:pin:123456") {
		t.Fatalf("expected pin key removed")
	}
}

func TestPinRegistryExpires(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	pins := NewPinRegistry(newClient(mr), time.Hour)
	_, _ = pins.Reserve(context.Background(), "654321", "s1")
	mr.FastForward(2 * time.Hour)
	if ok, _ := pins.Reserve(context.Background(), "654321", "s2"); !ok {
		t.Fatalf("expected stale reservation to lapse")
	}
}

func TestLimiterSharedWindow(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	a := NewLimiter(newClient(mr), "join", 2, time.Minute)
	b := NewLimiter(newClient(mr), "join", 2, time.Minute)

	if ok, _ := a.Allow(ctx, "10.0.0.1"); !ok {
		t.Fatalf("first hit should pass")
	}
	if ok, _ := b.Allow(ctx, "10.0.0.1"); !ok {
		t.Fatalf("second hit should pass")
	}
	if ok, _ := a.Allow(ctx, "10.0.0.1"); ok {
		t.Fatalf("third hit across instances should be limited")
	}

	mr.FastForward(time.Minute)
	if ok, _ := b.Allow(ctx, "10.0.0.1"); !ok {
		t.Fatalf("window should reset")
	}
}
