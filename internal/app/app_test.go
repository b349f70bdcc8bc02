package app

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"exchange-dashboard/internal/cache"
	"exchange-dashboard/internal/config"
	"exchange-dashboard/internal/core"
	"exchange-dashboard/internal/exchange"
)

func TestSchemesDefaults(t *testing.T) {
	schemes, err := Schemes(config.Default().Exchanges)
	require.NoError(t, err)
	require.Len(t, schemes, 2)

	byID := map[core.ExchangeID]exchange.Scheme{}
	for _, s := range schemes {
		byID[s.Exchange] = s
	}
	assert.Equal(t, exchange.BlofinBaseURL, byID[core.Blofin].BaseURL)
	assert.Equal(t, exchange.EncodingBase64, byID[core.Blofin].Encoding)
	assert.Equal(t, "BF-ACCESS-PASSPHRASE", byID[core.Blofin].Headers.Passphrase)
	assert.Equal(t, exchange.EncodingHex, byID[core.Bitmart].Encoding)
	assert.Equal(t, "X-BM-MEMO", byID[core.Bitmart].Headers.Passphrase)
}

func TestSchemesApplyOverrides(t *testing.T) {
	cfg := config.Default().Exchanges
	cfg.Blofin.RestBaseURL = "https://demo-trading-openapi.blofin.com"
	cfg.Blofin.Headers.Sign = "ACCESS-SIGN"
	cfg.Bitmart.SignatureEncoding = "base64"

	schemes, err := Schemes(cfg)
	require.NoError(t, err)
	for _, s := range schemes {
		switch s.Exchange {
		case core.Blofin:
			assert.Equal(t, "https://demo-trading-openapi.blofin.com", s.BaseURL)
			assert.Equal(t, "ACCESS-SIGN", s.Headers.Sign)
			assert.Equal(t, "BF-ACCESS-KEY", s.Headers.Key)
		case core.Bitmart:
			assert.Equal(t, exchange.EncodingBase64, s.Encoding)
		}
	}
}

func TestLimiters(t *testing.T) {
	cfg := config.Default().Exchanges
	cfg.Bitmart.RateLimitRPS = core.NewDecimal("0.5")
	cfg.Bitmart.RateLimitBurst = 2

	limiters := Limiters(cfg)
	require.Contains(t, limiters, core.Blofin)
	assert.Equal(t, rate.Limit(5), limiters[core.Blofin].Limit())
	assert.Equal(t, rate.Limit(0.5), limiters[core.Bitmart].Limit())
	assert.Equal(t, 2, limiters[core.Bitmart].Burst())
}

func TestNewClientUsesConfiguredTimeout(t *testing.T) {
	c, err := NewClient(config.Default(), zerolog.Nop(), nil)
	require.NoError(t, err)
	_, ok := c.Scheme(core.Bitmart)
	assert.True(t, ok)
}

func TestOpenCacheWithoutRedisIsNoop(t *testing.T) {
	c, closeFn, err := OpenCache(context.Background(), config.CacheConfig{}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, cache.Noop{}, c)
	assert.NoError(t, closeFn())
}

func TestBreakerFollowsConfig(t *testing.T) {
	cfg := config.Default().Exchanges.CircuitBreaker
	assert.NotNil(t, Breaker(cfg, zerolog.Nop()))

	off := false
	cfg.Enabled = &off
	assert.Nil(t, Breaker(cfg, zerolog.Nop()))
}
