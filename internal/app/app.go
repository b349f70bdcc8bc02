package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"exchange-dashboard/internal/cache"
	"exchange-dashboard/internal/config"
	"exchange-dashboard/internal/core"
	"exchange-dashboard/internal/exchange"
	"exchange-dashboard/internal/safety"
	"exchange-dashboard/internal/store"
)

// Schemes merges config overrides over the built-in signing schemes.
func Schemes(cfg config.ExchangesConfig) ([]exchange.Scheme, error) {
	overrides := map[core.ExchangeID]config.ExchangeConfig{
		core.Blofin:  cfg.Blofin,
		core.Bitmart: cfg.Bitmart,
	}
	out := make([]exchange.Scheme, 0, len(core.Exchanges))
	for _, id := range core.Exchanges {
		s, ok := exchange.DefaultScheme(id)
		if !ok {
			return nil, fmt.Errorf("no default scheme for %s", id)
		}
		o := overrides[id]
		if o.RestBaseURL != "" {
			s.BaseURL = o.RestBaseURL
		}
		if o.SignatureEncoding != "" {
			s.Encoding = exchange.Encoding(o.SignatureEncoding)
		}
		if o.Headers.Key != "" {
			s.Headers.Key = o.Headers.Key
		}
		if o.Headers.Sign != "" {
			s.Headers.Sign = o.Headers.Sign
		}
		if o.Headers.Timestamp != "" {
			s.Headers.Timestamp = o.Headers.Timestamp
		}
		if o.Headers.Passphrase != "" {
			s.Headers.Passphrase = o.Headers.Passphrase
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Limiters builds one client-side token bucket per exchange.
func Limiters(cfg config.ExchangesConfig) map[core.ExchangeID]*rate.Limiter {
	build := func(c config.ExchangeConfig) *rate.Limiter {
		rps, _ := c.RateLimitRPS.Float64()
		if rps <= 0 {
			return rate.NewLimiter(rate.Inf, c.RateLimitBurst)
		}
		return rate.NewLimiter(rate.Limit(rps), c.RateLimitBurst)
	}
	return map[core.ExchangeID]*rate.Limiter{
		core.Blofin:  build(cfg.Blofin),
		core.Bitmart: build(cfg.Bitmart),
	}
}

// Breaker is nil when the circuit breaker is switched off.
func Breaker(cfg config.CircuitBreakerConfig, log zerolog.Logger) *safety.Breaker {
	if !cfg.On() {
		return nil
	}
	return safety.NewBreaker(safety.Options{
		MaxFailures:       cfg.MaxFailures,
		Cooldown:          time.Duration(cfg.CooldownSec) * time.Second,
		HalfOpenSuccesses: cfg.HalfOpenSuccesses,
		Logger:            log.With().Str("component", "breaker").Logger(),
	})
}

func NewClient(cfg config.Config, log zerolog.Logger, observer exchange.Observer) (*exchange.Client, error) {
	schemes, err := Schemes(cfg.Exchanges)
	if err != nil {
		return nil, err
	}
	return exchange.NewClient(exchange.Options{
		Schemes:    schemes,
		Timeout:    cfg.HTTPTimeout(),
		HTTPClient: &http.Client{},
		Logger:     log.With().Str("component", "exchange").Logger(),
		Observer:   observer,
	})
}

func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (*store.Store, error) {
	return store.Open(ctx, store.Options{
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSec) * time.Second,
		QueryTimeout:    time.Duration(cfg.QueryTimeoutSec) * time.Second,
	})
}

// OpenCache falls back to the no-op cache when no Redis address is configured.
func OpenCache(ctx context.Context, cfg config.CacheConfig, log zerolog.Logger) (cache.Cache, func() error, error) {
	if cfg.RedisAddr == "" {
		log.Info().Msg("redis not configured, public market data is not cached")
		return cache.Noop{}, func() error { return nil }, nil
	}
	r, err := cache.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, time.Duration(cfg.TTLSec)*time.Second)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}
