package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadEmptyFileAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Listen != ":8080" {
		t.Fatalf("server.listen = %q, want :8080", cfg.Server.Listen)
	}
	if cfg.Server.SessionHeader != "X-User-ID" {
		t.Fatalf("server.session_header = %q, want X-User-ID", cfg.Server.SessionHeader)
	}
	if cfg.HTTPTimeout() != 15*time.Second {
		t.Fatalf("exchanges.http_timeout_sec = %s, want 15s", cfg.HTTPTimeout())
	}
	if cfg.PollMaxInterval() != 5*time.Minute {
		t.Fatalf("poller.max_interval_sec = %s, want 5m", cfg.PollMaxInterval())
	}
	if cfg.Exchanges.Blofin.RateLimitRPS.String() != "5" || cfg.Exchanges.Bitmart.RateLimitBurst != 5 {
		t.Fatalf("rate limit defaults = %s/%d", cfg.Exchanges.Blofin.RateLimitRPS, cfg.Exchanges.Bitmart.RateLimitBurst)
	}
	if cfg.Log.Format != "json" || cfg.Log.Level != "info" {
		t.Fatalf("log = %+v", cfg.Log)
	}
	if def := Default(); def.Server != cfg.Server || def.Poller != cfg.Poller {
		t.Fatalf("Default() differs from empty file: %+v", def)
	}
}

func TestLoadParsesExchangeOverrides(t *testing.T) {
	cfgPath := writeTempConfig(t, `
exchanges:
  http_timeout_sec: 20
  blofin:
    rest_base_url: "https://demo-trading-openapi.blofin.com/"
    rate_limit_rps: "2.5"
    rate_limit_burst: 3
  bitmart:
    signature_encoding: HEX
    headers:
      memo: X-Should-Fail
`)
	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "field memo not found") {
		t.Fatalf("Load() error = %v, want unknown field error", err)
	}

	cfgPath = writeTempConfig(t, `
exchanges:
  http_timeout_sec: 20
  blofin:
    rest_base_url: "https://demo-trading-openapi.blofin.com/"
    rate_limit_rps: "2.5"
    rate_limit_burst: 3
  bitmart:
    signature_encoding: HEX
    headers:
      passphrase: X-BM-MEMO
`)
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Exchanges.Blofin.RestBaseURL != "https://demo-trading-openapi.blofin.com" {
		t.Fatalf("blofin.rest_base_url = %q, want trailing slash trimmed", cfg.Exchanges.Blofin.RestBaseURL)
	}
	if cfg.Exchanges.Blofin.RateLimitRPS.String() != "2.5" || cfg.Exchanges.Blofin.RateLimitBurst != 3 {
		t.Fatalf("blofin limits = %s/%d", cfg.Exchanges.Blofin.RateLimitRPS, cfg.Exchanges.Blofin.RateLimitBurst)
	}
	if cfg.Exchanges.Bitmart.SignatureEncoding != "hex" {
		t.Fatalf("bitmart.signature_encoding = %q, want hex", cfg.Exchanges.Bitmart.SignatureEncoding)
	}
	if cfg.Exchanges.Bitmart.Headers.Passphrase != "X-BM-MEMO" {
		t.Fatalf("bitmart.headers.passphrase = %q", cfg.Exchanges.Bitmart.Headers.Passphrase)
	}
	if cfg.HTTPTimeout() != 20*time.Second {
		t.Fatalf("http timeout = %s, want 20s", cfg.HTTPTimeout())
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("EXDASH_TEST_DSN", "postgres://dash:pw@localhost/dash?sslmode=disable")
	cfg, err := Load(writeTempConfig(t, `
database:
  dsn: ${EXDASH_TEST_DSN}
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.DSN != "postgres://dash:pw@localhost/dash?sslmode=disable" {
		t.Fatalf("database.dsn = %q", cfg.Database.DSN)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	_, err := Load(writeTempConfig(t, `
server:
  listen: ":9000"
  port: 9000
`))
	if err == nil {
		t.Fatalf("Load() error = nil, want unknown field error")
	}
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	_, err := Load(writeTempConfig(t, "server:\n  listen: \":1\"\n---\nserver:\n  listen: \":2\"\n"))
	if err == nil || !strings.Contains(err.Error(), "single YAML document") {
		t.Fatalf("Load() error = %v, want single document error", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"encoding": `
exchanges:
  blofin:
    signature_encoding: base32
`,
		"base url scheme": `
exchanges:
  bitmart:
    rest_base_url: "ftp://api-cloud.bitmart.com"
`,
		"timeout range": `
exchanges:
  http_timeout_sec: 500
`,
		"negative rps": `
exchanges:
  blofin:
    rate_limit_rps: "-1"
`,
		"poller order": `
poller:
  interval_sec: 600
  max_interval_sec: 60
`,
		"log format": `
log:
  format: xml
`,
		"log level": `
log:
  level: chatty
`,
		"idle conns": `
database:
  max_open_conns: 2
  max_idle_conns: 3
`,
	}
	for name, body := range cases {
		if _, err := Load(writeTempConfig(t, body)); err == nil {
			t.Fatalf("%s: Load() error = nil, want validation error", name)
		}
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCircuitBreaker(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cb := cfg.Exchanges.CircuitBreaker; !cb.On() || cb.MaxFailures != 5 || cb.CooldownSec != 30 {
		t.Fatalf("circuit breaker defaults = %+v", cb)
	}

	cfg, err = Load(writeTempConfig(t, `
exchanges:
  circuit_breaker:
    enabled: false
    max_failures: 3
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Exchanges.CircuitBreaker.On() || cfg.Exchanges.CircuitBreaker.MaxFailures != 3 {
		t.Fatalf("circuit breaker = %+v", cfg.Exchanges.CircuitBreaker)
	}

	_, err = Load(writeTempConfig(t, `
exchanges:
  circuit_breaker:
    cooldown_sec: -1
`))
	if err == nil || !strings.Contains(err.Error(), "circuit_breaker") {
		t.Fatalf("Load() error = %v, want circuit_breaker error", err)
	}
}

func TestLoadExampleConfig(t *testing.T) {
	t.Setenv("DASHBOARD_DATABASE_DSN", "postgres://dash@localhost/dash?sslmode=disable")
	cfg, err := Load(filepath.Join("..", "..", "config", "config.example.yaml"))
	if err != nil {
		t.Fatalf("Load(example) error = %v", err)
	}
	if cfg.Database.DSN != "postgres://dash@localhost/dash?sslmode=disable" {
		t.Fatalf("database.dsn = %q", cfg.Database.DSN)
	}
	if cfg.Exchanges.Bitmart.RestBaseURL != "https://api-cloud.bitmart.com" {
		t.Fatalf("bitmart rest_base_url = %q", cfg.Exchanges.Bitmart.RestBaseURL)
	}
}
