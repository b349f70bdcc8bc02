package poller

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"exchange-dashboard/internal/core"
)

const DefaultMaxInterval = 5 * time.Minute

// Poller runs Fetch on a fixed interval and backs off exponentially while
// the exchange reports rate limiting.
type Poller struct {
	Name        string
	Interval    time.Duration
	MaxInterval time.Duration
	Fetch       func(ctx context.Context) error
	Logger      zerolog.Logger

	// wait is swapped in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// NextDelay is min(interval*2^n, max) after n consecutive rate-limited polls.
func NextDelay(interval, max time.Duration, n int) time.Duration {
	if max <= 0 {
		max = DefaultMaxInterval
	}
	if interval <= 0 {
		return max
	}
	d := interval
	for i := 0; i < n; i++ {
		if d >= max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

// Run polls until ctx is cancelled. Fetch is called immediately, then after
// every delay. Errors other than rate limiting keep the base interval.
func (p *Poller) Run(ctx context.Context) error {
	if p.Fetch == nil {
		return errors.New("poller: fetch func required")
	}
	if p.Interval <= 0 {
		return errors.New("poller: interval must be > 0")
	}
	wait := p.wait
	if wait == nil {
		wait = sleep
	}
	limited := 0
	for {
		err := p.Fetch(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case err == nil:
			limited = 0
		case errors.Is(err, core.ErrRateLimited):
			limited++
		default:
			limited = 0
			p.Logger.Warn().Err(err).Str("poller", p.Name).Msg("poll failed")
		}
		delay := NextDelay(p.Interval, p.MaxInterval, limited)
		if limited > 0 {
			p.Logger.Warn().Str("poller", p.Name).Int("attempt", limited).Dur("delay", delay).Msg("rate limited, backing off")
		}
		if err := wait(ctx, delay); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
