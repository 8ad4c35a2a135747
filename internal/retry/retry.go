package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy controls retry-with-backoff behaviour for an operation.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	Jitter      time.Duration // upper bound of the random delay added per attempt
}

// DefaultPolicy mirrors the usual resilience envelope for mail-store and
// text-generation round trips.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	Factor:      2,
	Jitter:      time.Second,
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy.BaseDelay
	}
	if p.Factor < 1 {
		p.Factor = DefaultPolicy.Factor
	}
	return p
}

// Do runs op up to p.MaxAttempts times with exponential backoff between
// attempts. Sleeps are context-aware; the last attempt's error is returned
// unchanged so callers can inspect it.
func Do(ctx context.Context, p Policy, op func() error) error {
	p = p.withDefaults()

	var err error
	delay := p.BaseDelay
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := delay
			if p.Jitter > 0 {
				wait += time.Duration(rand.Int63n(int64(p.Jitter)))
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay = time.Duration(float64(delay) * p.Factor)
		}

		if err = op(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
