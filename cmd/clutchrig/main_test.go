// cmd/clutchrig/main_test.go
package main

import (
	"context"
	"testing"
	"time"
)

func TestNextBackoff(t *testing.T) {
	d := time.Second
	want := []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		d = nextBackoff(d)
		if d != w {
			t.Fatalf("step %d: backoff = %v, want %v", i, d, w)
		}
	}
}

func TestSleepCtx_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if sleepCtx(ctx, time.Hour) {
		t.Fatalf("sleepCtx returned true on a cancelled context")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("sleepCtx blocked on a cancelled context")
	}
}

func TestSleepCtx_Elapses(t *testing.T) {
	if !sleepCtx(context.Background(), time.Millisecond) {
		t.Fatalf("sleepCtx returned false without cancellation")
	}
}
