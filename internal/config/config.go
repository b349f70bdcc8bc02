package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"exchange-dashboard/internal/core"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Exchanges ExchangesConfig `yaml:"exchanges"`
	Poller    PollerConfig    `yaml:"poller"`
}

type ServerConfig struct {
	Listen             string `yaml:"listen"`
	ReadTimeoutSec     int64  `yaml:"read_timeout_sec"`
	WriteTimeoutSec    int64  `yaml:"write_timeout_sec"`
	ShutdownTimeoutSec int64  `yaml:"shutdown_timeout_sec"`
	SessionHeader      string `yaml:"session_header"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DatabaseConfig struct {
	DSN                string `yaml:"dsn"`
	MaxOpenConns       int    `yaml:"max_open_conns"`
	MaxIdleConns       int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSec int64  `yaml:"conn_max_lifetime_sec"`
	QueryTimeoutSec    int64  `yaml:"query_timeout_sec"`
}

type CacheConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	TTLSec        int64  `yaml:"ttl_sec"`
}

type ExchangesConfig struct {
	HTTPTimeoutSec int64                `yaml:"http_timeout_sec"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Blofin         ExchangeConfig       `yaml:"blofin"`
	Bitmart        ExchangeConfig       `yaml:"bitmart"`
}

type CircuitBreakerConfig struct {
	Enabled           *bool `yaml:"enabled"`
	MaxFailures       int   `yaml:"max_failures"`
	CooldownSec       int64 `yaml:"cooldown_sec"`
	HalfOpenSuccesses int   `yaml:"half_open_successes"`
}

// On reports whether the breaker is enabled; it defaults to on.
func (c CircuitBreakerConfig) On() bool {
	return c.Enabled == nil || *c.Enabled
}

// ExchangeConfig overrides the built-in signing scheme. Empty fields keep the defaults.
type ExchangeConfig struct {
	RestBaseURL       string       `yaml:"rest_base_url"`
	RateLimitRPS      core.Decimal `yaml:"rate_limit_rps"`
	RateLimitBurst    int          `yaml:"rate_limit_burst"`
	SignatureEncoding string       `yaml:"signature_encoding"`
	Headers           HeaderConfig `yaml:"headers"`
}

type HeaderConfig struct {
	Key        string `yaml:"key"`
	Sign       string `yaml:"sign"`
	Timestamp  string `yaml:"timestamp"`
	Passphrase string `yaml:"passphrase"`
}

type PollerConfig struct {
	IntervalSec    int64 `yaml:"interval_sec"`
	MaxIntervalSec int64 `yaml:"max_interval_sec"`
}

// Load reads a single YAML document. ${VAR} references are expanded from the
// environment before decoding so secrets like the DSN can stay out of the file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	data = []byte(os.ExpandEnv(string(data)))
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("config must contain a single YAML document")
		}
		return Config{}, err
	}
	cfg.normalize()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default is the configuration of an empty file.
func Default() Config {
	var cfg Config
	cfg.normalize()
	cfg.applyDefaults()
	return cfg
}

func (c *Config) normalize() {
	c.Server.Listen = strings.TrimSpace(c.Server.Listen)
	c.Server.SessionHeader = strings.TrimSpace(c.Server.SessionHeader)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	c.Cache.RedisAddr = strings.TrimSpace(c.Cache.RedisAddr)
	for _, ex := range []*ExchangeConfig{&c.Exchanges.Blofin, &c.Exchanges.Bitmart} {
		ex.RestBaseURL = strings.TrimRight(strings.TrimSpace(ex.RestBaseURL), "/")
		ex.SignatureEncoding = strings.ToLower(strings.TrimSpace(ex.SignatureEncoding))
		ex.Headers.Key = strings.TrimSpace(ex.Headers.Key)
		ex.Headers.Sign = strings.TrimSpace(ex.Headers.Sign)
		ex.Headers.Timestamp = strings.TrimSpace(ex.Headers.Timestamp)
		ex.Headers.Passphrase = strings.TrimSpace(ex.Headers.Passphrase)
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 30
	}
	if c.Server.ShutdownTimeoutSec == 0 {
		c.Server.ShutdownTimeoutSec = 10
	}
	if c.Server.SessionHeader == "" {
		c.Server.SessionHeader = "X-User-ID"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetimeSec == 0 {
		c.Database.ConnMaxLifetimeSec = 1800
	}
	if c.Database.QueryTimeoutSec == 0 {
		c.Database.QueryTimeoutSec = 5
	}
	if c.Cache.TTLSec == 0 {
		c.Cache.TTLSec = 10
	}
	if c.Exchanges.HTTPTimeoutSec == 0 {
		c.Exchanges.HTTPTimeoutSec = 15
	}
	if cb := &c.Exchanges.CircuitBreaker; cb.MaxFailures == 0 {
		cb.MaxFailures = 5
	}
	if cb := &c.Exchanges.CircuitBreaker; cb.CooldownSec == 0 {
		cb.CooldownSec = 30
	}
	if cb := &c.Exchanges.CircuitBreaker; cb.HalfOpenSuccesses == 0 {
		cb.HalfOpenSuccesses = 1
	}
	for _, ex := range []*ExchangeConfig{&c.Exchanges.Blofin, &c.Exchanges.Bitmart} {
		if ex.RateLimitRPS.IsZero() {
			ex.RateLimitRPS = core.NewDecimal("5")
		}
		if ex.RateLimitBurst == 0 {
			ex.RateLimitBurst = 5
		}
	}
	if c.Poller.IntervalSec == 0 {
		c.Poller.IntervalSec = 30
	}
	if c.Poller.MaxIntervalSec == 0 {
		c.Poller.MaxIntervalSec = 300
	}
}

func (c Config) Validate() error {
	if c.Server.ReadTimeoutSec < 1 || c.Server.ReadTimeoutSec > 300 {
		return fmt.Errorf("server.read_timeout_sec must be between 1 and 300")
	}
	if c.Server.WriteTimeoutSec < 1 || c.Server.WriteTimeoutSec > 300 {
		return fmt.Errorf("server.write_timeout_sec must be between 1 and 300")
	}
	if c.Server.ShutdownTimeoutSec < 1 || c.Server.ShutdownTimeoutSec > 120 {
		return fmt.Errorf("server.shutdown_timeout_sec must be between 1 and 120")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console")
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("log.level %q is not a zerolog level", c.Log.Level)
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be >= 1")
	}
	if c.Database.MaxIdleConns < 0 || c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns must be between 0 and max_open_conns")
	}
	if c.Database.QueryTimeoutSec < 1 || c.Database.QueryTimeoutSec > 120 {
		return fmt.Errorf("database.query_timeout_sec must be between 1 and 120")
	}
	if c.Cache.TTLSec < 1 || c.Cache.TTLSec > 3600 {
		return fmt.Errorf("cache.ttl_sec must be between 1 and 3600")
	}
	if c.Exchanges.HTTPTimeoutSec < 1 || c.Exchanges.HTTPTimeoutSec > 120 {
		return fmt.Errorf("exchanges.http_timeout_sec must be between 1 and 120")
	}
	if cb := c.Exchanges.CircuitBreaker; cb.MaxFailures < 1 || cb.CooldownSec < 1 || cb.HalfOpenSuccesses < 1 {
		return fmt.Errorf("exchanges.circuit_breaker max_failures, cooldown_sec and half_open_successes must be >= 1")
	}
	for name, ex := range map[string]ExchangeConfig{"blofin": c.Exchanges.Blofin, "bitmart": c.Exchanges.Bitmart} {
		if ex.RestBaseURL != "" {
			if err := validateURL(ex.RestBaseURL, "http", "https"); err != nil {
				return fmt.Errorf("exchanges.%s.rest_base_url %v", name, err)
			}
		}
		if ex.RateLimitRPS.IsNegative() {
			return fmt.Errorf("exchanges.%s.rate_limit_rps must be > 0", name)
		}
		if ex.RateLimitBurst < 1 {
			return fmt.Errorf("exchanges.%s.rate_limit_burst must be >= 1", name)
		}
		switch ex.SignatureEncoding {
		case "", "base64", "hex":
		default:
			return fmt.Errorf("exchanges.%s.signature_encoding must be base64 or hex", name)
		}
	}
	if c.Poller.IntervalSec < 1 {
		return fmt.Errorf("poller.interval_sec must be >= 1")
	}
	if c.Poller.MaxIntervalSec < c.Poller.IntervalSec {
		return fmt.Errorf("poller.max_interval_sec must be >= interval_sec")
	}
	return nil
}

func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Exchanges.HTTPTimeoutSec) * time.Second
}

func (c Config) QueryTimeout() time.Duration {
	return time.Duration(c.Database.QueryTimeoutSec) * time.Second
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSec) * time.Second
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Poller.IntervalSec) * time.Second
}

func (c Config) PollMaxInterval() time.Duration {
	return time.Duration(c.Poller.MaxIntervalSec) * time.Second
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
}
