package toggl

import (
	"context"
	"time"
)

// Free-plan limits.
const (
	defaultMaxPerHour  = 30
	rateWindow         = time.Hour
	minRequestInterval = 1100 * time.Millisecond // slightly over 1 req/sec
)

// Limiter enforces a sliding-window request quota plus a minimum
// interval between requests. It is owned by exactly one Client and
// constructed fresh per process: the window is never persisted, so an
// interrupted run can never poison the next one with stale timestamps.
//
// Not safe for concurrent use; the sync pipeline is sequential by
// design.
type Limiter struct {
	maxPerWindow int
	window       time.Duration
	minInterval  time.Duration

	timestamps []time.Time
	last       time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewLimiter(maxPerHour int) *Limiter {
	if maxPerHour <= 0 {
		maxPerHour = defaultMaxPerHour
	}
	return &Limiter{
		maxPerWindow: maxPerHour,
		window:       rateWindow,
		minInterval:  minRequestInterval,
		now:          time.Now,
		sleep:        sleepContext,
	}
}

// Wait blocks until the next request may be issued, then records it.
// Every attempted request consumes quota, success or failure, because
// the provider counts failures too.
func (l *Limiter) Wait(ctx context.Context) error {
	if !l.last.IsZero() {
		if elapsed := l.now().Sub(l.last); elapsed < l.minInterval {
			if err := l.sleep(ctx, l.minInterval-elapsed); err != nil {
				return err
			}
		}
	}

	cutoff := l.now().Add(-l.window)
	live := l.timestamps[:0]
	for _, t := range l.timestamps {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	l.timestamps = live

	if len(l.timestamps) >= l.maxPerWindow {
		// Wait until the oldest timestamp falls out of the window.
		wait := l.timestamps[0].Sub(cutoff) + time.Second
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
		cutoff = l.now().Add(-l.window)
		live = l.timestamps[:0]
		for _, t := range l.timestamps {
			if t.After(cutoff) {
				live = append(live, t)
			}
		}
		l.timestamps = live
	}

	l.last = l.now()
	l.timestamps = append(l.timestamps, l.last)
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
