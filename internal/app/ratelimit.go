package app

import (
	"context"
	"sync"
	"time"
)

// sendLimiter throttles outbound sends with a token bucket: burst sends go
// out at once, then perMinute sends a minute.
type sendLimiter struct {
	mu     sync.Mutex
	now    func() time.Time
	avail  float64
	burst  float64
	perSec float64
	last   time.Time
}

func newSendLimiter(burst int, perMinute float64) *sendLimiter {
	if burst <= 0 {
		burst = 5
	}
	if perMinute <= 0 {
		perMinute = 60
	}
	l := &sendLimiter{
		now:    time.Now,
		burst:  float64(burst),
		perSec: perMinute / 60,
	}
	l.avail = l.burst
	l.last = l.now()
	return l
}

// reserve takes a token if one is available and otherwise reports how long
// until the next one.
func (l *sendLimiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.now()
	if elapsed := t.Sub(l.last); elapsed > 0 {
		l.avail = min(l.burst, l.avail+elapsed.Seconds()*l.perSec)
	}
	l.last = t
	if l.avail >= 1 {
		l.avail--
		return 0
	}
	return time.Duration((1 - l.avail) / l.perSec * float64(time.Second))
}

// Wait blocks until a send may go out or ctx is done.
func (l *sendLimiter) Wait(ctx context.Context) error {
	for {
		d := l.reserve()
		if d == 0 {
			return nil
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
