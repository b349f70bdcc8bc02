package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange-dashboard/internal/core"
	"exchange-dashboard/internal/exchange"
)

type stubCaller struct {
	bodies map[string]string
	err    error
}

func (s *stubCaller) Call(_ context.Context, _ core.ExchangeID, _ core.Credential, _ string, path string, _ url.Values, _ any) (exchange.Response, error) {
	return s.respond(path)
}

func (s *stubCaller) Public(_ context.Context, _ core.ExchangeID, path string, _ url.Values) (exchange.Response, error) {
	return s.respond(path)
}

func (s *stubCaller) respond(path string) (exchange.Response, error) {
	if s.err != nil {
		return exchange.Response{}, s.err
	}
	return exchange.Response{Status: 200, Body: json.RawMessage(s.bodies[path])}, nil
}

func TestParseCheckFlag(t *testing.T) {
	got, err := parseCheckFlag("")
	require.NoError(t, err)
	assert.Equal(t, selectedChecks{connection: true, balances: true}, got)

	got, err = parseCheckFlag("public, history")
	require.NoError(t, err)
	assert.Equal(t, selectedChecks{public: true, history: true}, got)

	_, err = parseCheckFlag("lifecycle")
	assert.Error(t, err)
	_, err = parseCheckFlag(",")
	assert.Error(t, err)
}

func TestParseExchanges(t *testing.T) {
	got, err := parseExchanges("all")
	require.NoError(t, err)
	assert.Equal(t, core.Exchanges, got)

	got, err = parseExchanges("BitMart")
	require.NoError(t, err)
	assert.Equal(t, []core.ExchangeID{core.Bitmart}, got)

	_, err = parseExchanges("binance")
	assert.ErrorIs(t, err, core.ErrUnknownExchange)
}

func TestCredentialsFromEnv(t *testing.T) {
	env := map[string]string{
		"BLOFIN_API_KEY":        "bf-key",
		"BLOFIN_API_SECRET":     "bf-secret",
		"BLOFIN_API_PASSPHRASE": "",
		"BLOFIN_PASSPHRASE":     "bf-pass",
		"BITMART_API_KEY":       "",
	}
	creds := credentialsFromEnv(func(k string) string { return env[k] })
	require.Contains(t, creds, core.Blofin)
	assert.Equal(t, "bf-pass", creds[core.Blofin].Passphrase)
	assert.NotContains(t, creds, core.Bitmart)
}

func TestRunChecksSkipsMissingCredentials(t *testing.T) {
	caller := &stubCaller{bodies: map[string]string{
		"/api/v1/account/config":     `{"code":"0","data":{}}`,
		"/api/v1/asset/balances":     `{"code":"0","data":[{"ccy":"USDT","totalBal":"1","availBal":"1","frozenBal":"0"}]}`,
		"/api/v1/market/instruments": `{"code":"0","data":[{"instId":"BTC-USDT"}]}`,
	}}
	plan := buildPlan(caller, core.Exchanges, selectedChecks{public: true, connection: true, balances: true})
	creds := map[core.ExchangeID]core.Credential{
		core.Blofin: {Exchange: core.Blofin, APIKey: "k", APISecret: "s", Passphrase: "p"},
	}

	var out bytes.Buffer
	r := runChecks(context.Background(), plan, creds, "env", &out)

	require.Len(t, r.Checks, 4)
	assert.False(t, r.failed())
	byName := map[string]checkResult{}
	for _, c := range r.Checks {
		byName[c.Name] = c
	}
	assert.Equal(t, statusPass, byName["blofin_public_instruments"].Status)
	assert.Equal(t, "currencies=1", byName["blofin_balances"].Detail)
	assert.Equal(t, statusSkip, byName["bitmart_wallet"].Status)
	assert.Contains(t, out.String(), "[SKIP] bitmart_wallet")
}

func TestRunChecksRecordsKind(t *testing.T) {
	caller := &stubCaller{err: &exchange.RateLimitedError{Exchange: core.Blofin}}
	plan := buildPlan(caller, []core.ExchangeID{core.Blofin}, selectedChecks{connection: true})
	creds := map[core.ExchangeID]core.Credential{
		core.Blofin: {Exchange: core.Blofin, APIKey: "k", APISecret: "s", Passphrase: "p"},
	}
	r := runChecks(context.Background(), plan, creds, "env", &bytes.Buffer{})
	require.Len(t, r.Checks, 1)
	assert.Equal(t, statusFail, r.Checks[0].Status)
	assert.Equal(t, exchange.KindRateLimited, r.Checks[0].Kind)
	assert.True(t, r.failed())
	assert.True(t, r.rateLimited())
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	r := report{Source: "env", Checks: []checkResult{{Name: "blofin_balances", Status: statusPass}}}
	require.NoError(t, writeReport(path, r))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"blofin_balances"`))

	var out bytes.Buffer
	printSummary(&out, r)
	assert.Contains(t, out.String(), "pass=1 fail=0 skip=0")
}
