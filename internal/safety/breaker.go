package safety

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"exchange-dashboard/internal/core"
	"exchange-dashboard/internal/exchange"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type circuitState string

const (
	circuitClosed   circuitState = "closed"
	circuitOpen     circuitState = "open"
	circuitHalfOpen circuitState = "half_open"
)

const (
	defaultCooldown          = 30 * time.Second
	defaultHalfOpenSuccesses = 1
)

type circuit struct {
	failures        int
	state           circuitState
	openedAt        time.Time
	openErr         error
	halfOpenSuccess int
	probing         bool
}

type Options struct {
	// MaxFailures is the consecutive outage count that opens a circuit.
	// Zero disables the breaker.
	MaxFailures       int
	Cooldown          time.Duration
	HalfOpenSuccesses int
	Logger            zerolog.Logger
	Now               func() time.Time
}

// Breaker keeps one circuit per exchange. Only outages count: transport
// failures and 5xx responses. Rate limits and rejected requests do not.
type Breaker struct {
	maxFailures       int
	cooldown          time.Duration
	halfOpenSuccesses int
	log               zerolog.Logger
	now               func() time.Time

	mu       sync.Mutex
	circuits map[core.ExchangeID]*circuit
}

func NewBreaker(opts Options) *Breaker {
	b := &Breaker{
		maxFailures:       opts.MaxFailures,
		cooldown:          opts.Cooldown,
		halfOpenSuccesses: opts.HalfOpenSuccesses,
		log:               opts.Logger,
		now:               opts.Now,
		circuits:          map[core.ExchangeID]*circuit{},
	}
	if b.cooldown <= 0 {
		b.cooldown = defaultCooldown
	}
	if b.halfOpenSuccesses < 1 {
		b.halfOpenSuccesses = defaultHalfOpenSuccesses
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

func (b *Breaker) enabled() bool {
	return b != nil && b.maxFailures > 0
}

func (b *Breaker) circuitLocked(id core.ExchangeID) *circuit {
	c, ok := b.circuits[id]
	if !ok {
		c = &circuit{state: circuitClosed}
		b.circuits[id] = c
	}
	return c
}

// Allow returns ErrCircuitOpen while the exchange's circuit cools down. After
// the cooldown a single probe is let through.
func (b *Breaker) Allow(id core.ExchangeID) error {
	if !b.enabled() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuitLocked(id)
	switch c.state {
	case circuitOpen:
		if b.now().Sub(c.openedAt) < b.cooldown {
			return c.openErr
		}
		c.state = circuitHalfOpen
		c.halfOpenSuccess = 0
		c.probing = true
		b.log.Info().Str("exchange", string(id)).Dur("cooldown", b.cooldown).Msg("circuit half open")
		return nil
	case circuitHalfOpen:
		if c.probing {
			return fmt.Errorf("%w: %s probe in flight", ErrCircuitOpen, id)
		}
		c.probing = true
	}
	return nil
}

// Record feeds a call outcome back. It returns the trip error when this
// failure opened the circuit.
func (b *Breaker) Record(id core.ExchangeID, err error) error {
	if !b.enabled() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuitLocked(id)
	c.probing = false

	if !answered(err) {
		return nil
	}
	if !IsOutage(err) {
		switch c.state {
		case circuitHalfOpen:
			c.halfOpenSuccess++
			if c.halfOpenSuccess >= b.halfOpenSuccesses {
				b.log.Info().Str("exchange", string(id)).Int("previous_failures", c.failures).Msg("circuit recovered")
				*c = circuit{state: circuitClosed}
			}
		case circuitClosed:
			c.failures = 0
		}
		return nil
	}

	switch c.state {
	case circuitOpen:
		return c.openErr
	case circuitHalfOpen:
		return b.tripLocked(id, c, err, "half_open_probe_failed")
	}
	c.failures++
	if c.failures < b.maxFailures {
		if c.failures == b.maxFailures-1 {
			b.log.Warn().Err(err).Str("exchange", string(id)).Int("consecutive_failures", c.failures).
				Int("threshold", b.maxFailures).Msg("circuit near trip")
		}
		return nil
	}
	return b.tripLocked(id, c, err, "consecutive_failures")
}

func (b *Breaker) tripLocked(id core.ExchangeID, c *circuit, err error, reason string) error {
	c.state = circuitOpen
	c.openedAt = b.now()
	c.halfOpenSuccess = 0
	c.openErr = fmt.Errorf("%w: %s failed %d consecutive times, cooldown=%s, reason=%s, last error: %v",
		ErrCircuitOpen, id.DisplayName(), c.failures, b.cooldown, reason, err)
	b.log.Error().Err(err).Str("exchange", string(id)).Int("consecutive_failures", c.failures).
		Str("reason", reason).Msg("circuit tripped")
	return c.openErr
}

// CooldownRemaining is zero unless the exchange's circuit is open.
func (b *Breaker) CooldownRemaining(id core.ExchangeID) time.Duration {
	if !b.enabled() {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.circuits[id]
	if !ok || c.state != circuitOpen {
		return 0
	}
	if rem := b.cooldown - b.now().Sub(c.openedAt); rem > 0 {
		return rem
	}
	return 0
}

// answered reports whether err carries a verdict from the exchange. Calls
// cancelled by the caller or rejected before any network I/O leave the
// circuit as it is.
func answered(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch exchange.KindOf(err) {
	case exchange.KindInvalidCredential, exchange.KindUnknown:
		return false
	}
	return true
}

// IsOutage reports whether err says the exchange is unreachable or failing,
// as opposed to refusing this particular request.
func IsOutage(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch exchange.KindOf(err) {
	case exchange.KindTransport:
		return true
	case exchange.KindExchange:
		exErr, ok := exchange.AsExchangeError(err)
		return ok && exErr.Status >= http.StatusInternalServerError
	}
	return false
}
