package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"exchange-dashboard/internal/core"
)

func TestNextDelay(t *testing.T) {
	base := 10 * time.Second
	max := 5 * time.Minute
	want := []time.Duration{
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		160 * time.Second,
		5 * time.Minute,
		5 * time.Minute,
	}
	for n, w := range want {
		if got := NextDelay(base, max, n); got != w {
			t.Fatalf("NextDelay(n=%d) = %s, want %s", n, got, w)
		}
	}
	if got := NextDelay(base, 0, 100); got != DefaultMaxInterval {
		t.Fatalf("NextDelay(default max) = %s, want %s", got, DefaultMaxInterval)
	}
}

func TestRunBacksOffOnRateLimitAndResets(t *testing.T) {
	results := []error{
		core.ErrRateLimited,
		core.ErrRateLimited,
		core.ErrRateLimited,
		nil,
		errors.New("upstream 502"),
		core.ErrRateLimited,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	var delays []time.Duration
	p := &Poller{
		Name:        "test",
		Interval:    time.Second,
		MaxInterval: 3 * time.Second,
		Logger:      zerolog.Nop(),
		Fetch: func(context.Context) error {
			err := results[calls]
			calls++
			return err
		},
		wait: func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			if len(delays) == len(results) {
				cancel()
				return context.Canceled
			}
			return nil
		},
	}

	err := p.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	want := []time.Duration{2 * time.Second, 3 * time.Second, 3 * time.Second, time.Second, time.Second, 2 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delays = %v, want %v", delays, want)
		}
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		Interval: time.Hour,
		Fetch: func(context.Context) error {
			cancel()
			return nil
		},
	}
	if err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRunRequiresFetchAndInterval(t *testing.T) {
	if err := (&Poller{Interval: time.Second}).Run(context.Background()); err == nil {
		t.Fatalf("Run() without fetch error = nil")
	}
	if err := (&Poller{Fetch: func(context.Context) error { return nil }}).Run(context.Background()); err == nil {
		t.Fatalf("Run() without interval error = nil")
	}
}
