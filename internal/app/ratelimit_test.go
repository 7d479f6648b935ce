package app

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock drives a sendLimiter without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(burst int, perMinute float64) (*sendLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := newSendLimiter(burst, perMinute)
	l.now = clock.now
	l.last = clock.now()
	return l, clock
}

func TestSendLimiterBurstThenRefill(t *testing.T) {
	l, clock := newTestLimiter(3, 60)
	for i := range 3 {
		if d := l.reserve(); d != 0 {
			t.Fatalf("send %d delayed by %v inside the burst", i, d)
		}
	}
	if d := l.reserve(); d != time.Second {
		t.Fatalf("delay after burst = %v, want 1s", d)
	}

	clock.advance(2 * time.Second)
	if d := l.reserve(); d != 0 {
		t.Errorf("delay after refill = %v, want 0", d)
	}
	if d := l.reserve(); d != 0 {
		t.Errorf("second refilled token delayed by %v", d)
	}
	if d := l.reserve(); d == 0 {
		t.Error("third send should wait")
	}
}

func TestSendLimiterCapsAtBurst(t *testing.T) {
	l, clock := newTestLimiter(2, 600)
	clock.advance(time.Hour)
	for range 2 {
		if d := l.reserve(); d != 0 {
			t.Fatalf("unexpected delay %v", d)
		}
	}
	if d := l.reserve(); d == 0 {
		t.Error("idle time must not grow the bucket past its burst")
	}
}

func TestSendLimiterWait(t *testing.T) {
	l := newSendLimiter(1, 600) // one token every 100ms
	ctx := context.Background()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("second send went out after %v", elapsed)
	}
}

func TestSendLimiterWaitCancelled(t *testing.T) {
	l := newSendLimiter(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSendLimiterDefaults(t *testing.T) {
	l := newSendLimiter(0, 0)
	if l.burst != 5 || l.perSec != 1 {
		t.Errorf("burst = %v, perSec = %v, want 5 and 1", l.burst, l.perSec)
	}
}
