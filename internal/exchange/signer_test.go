package exchange

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/url"
	"testing"

	"exchange-dashboard/internal/core"
)

var (
	testBlofinCred  = core.Credential{Exchange: core.Blofin, APIKey: "bf-key-0001", APISecret: "secret", Passphrase: "pass"}
	testBitmartCred = core.Credential{Exchange: core.Bitmart, APIKey: "bm-key-0001", APISecret: "secret", Passphrase: "memo"}
)

func mustScheme(t *testing.T, id core.ExchangeID) Scheme {
	t.Helper()
	s, ok := DefaultScheme(id)
	if !ok {
		t.Fatalf("DefaultScheme(%s) missing", id)
	}
	return s
}

func TestCanonicalMessage(t *testing.T) {
	got := CanonicalMessage("1700000000", "get", "/path?a=1", `{"x":1}`)
	want := `1700000000GET/path?a=1{"x":1}`
	if got != want {
		t.Fatalf("CanonicalMessage() = %q, want %q", got, want)
	}
	if got := CanonicalMessage("1700000000", "GET", "/path", ""); got != "1700000000GET/path" {
		t.Fatalf("CanonicalMessage(no body) = %q", got)
	}
}

func TestSignBlofinKnownAnswer(t *testing.T) {
	signed, err := mustScheme(t, core.Blofin).Sign(testBlofinCred, "1700000000", "GET", "/path", "")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	const want = "L4xFaFAbd6EjuLxgiHaWqME6BqmP485EjADL214+LjM="
	if signed.Signature != want {
		t.Fatalf("signature = %q, want %q", signed.Signature, want)
	}
	if signed.Message != "1700000000GET/path" {
		t.Fatalf("message = %q", signed.Message)
	}
	checks := map[string]string{
		"BF-ACCESS-KEY":        "bf-key-0001",
		"BF-ACCESS-SIGN":       want,
		"BF-ACCESS-TIMESTAMP":  "1700000000",
		"BF-ACCESS-PASSPHRASE": "pass",
	}
	for name, v := range checks {
		if got := signed.Headers.Get(name); got != v {
			t.Fatalf("header %s = %q, want %q", name, got, v)
		}
	}
}

func TestSignBitmartKnownAnswer(t *testing.T) {
	signed, err := mustScheme(t, core.Bitmart).Sign(testBitmartCred, "1700000000", "get", "/path", "")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	const want = "2f8c4568501b77a123b8bc60887696a8c13a06a98fe3ce448c00cbdb5e3e2e33"
	if signed.Signature != want {
		t.Fatalf("signature = %q, want %q", signed.Signature, want)
	}
	checks := map[string]string{
		"X-BM-KEY":       "bm-key-0001",
		"X-BM-SIGN":      want,
		"X-BM-TIMESTAMP": "1700000000",
		"X-BM-MEMO":      "memo",
	}
	for name, v := range checks {
		if got := signed.Headers.Get(name); got != v {
			t.Fatalf("header %s = %q, want %q", name, got, v)
		}
	}
}

func TestSchemesShareMACAndDifferOnlyInEncoding(t *testing.T) {
	bf, err := mustScheme(t, core.Blofin).Sign(testBlofinCred, "1700000123", "POST", "/x?y=z", `{"a":"b"}`)
	if err != nil {
		t.Fatalf("blofin Sign() error = %v", err)
	}
	bm, err := mustScheme(t, core.Bitmart).Sign(testBitmartCred, "1700000123", "POST", "/x?y=z", `{"a":"b"}`)
	if err != nil {
		t.Fatalf("bitmart Sign() error = %v", err)
	}
	if bf.Message != bm.Message {
		t.Fatalf("canonical messages differ: %q vs %q", bf.Message, bm.Message)
	}
	raw64, err := base64.StdEncoding.DecodeString(bf.Signature)
	if err != nil {
		t.Fatalf("blofin signature is not base64: %v", err)
	}
	rawHex, err := hex.DecodeString(bm.Signature)
	if err != nil {
		t.Fatalf("bitmart signature is not hex: %v", err)
	}
	if string(raw64) != string(rawHex) {
		t.Fatalf("decoded MACs differ")
	}
}

func TestSignIsDeterministic(t *testing.T) {
	for _, tc := range []struct {
		id   core.ExchangeID
		cred core.Credential
	}{{core.Blofin, testBlofinCred}, {core.Bitmart, testBitmartCred}} {
		s := mustScheme(t, tc.id)
		first, err := s.Sign(tc.cred, "1700000000", "GET", "/api/v1/asset/balances?accountType=futures", "")
		if err != nil {
			t.Fatalf("%s Sign() error = %v", tc.id, err)
		}
		for i := 0; i < 5; i++ {
			again, err := s.Sign(tc.cred, "1700000000", "GET", "/api/v1/asset/balances?accountType=futures", "")
			if err != nil {
				t.Fatalf("%s Sign() error = %v", tc.id, err)
			}
			if again.Signature != first.Signature {
				t.Fatalf("%s signature changed between identical calls", tc.id)
			}
		}
	}
}

func TestQueryChangesSignature(t *testing.T) {
	s := mustScheme(t, core.Blofin)
	queries := []url.Values{
		{"instId": {"BTC-USDT"}},
		{"limit": {"100"}},
		{"a": {""}},
	}
	base, err := s.Sign(testBlofinCred, "1700000000", "GET", "/api/v1/trade/fills-history", "")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	for _, q := range queries {
		withQuery, err := s.Sign(testBlofinCred, "1700000000", "GET", RequestPath("/api/v1/trade/fills-history", q), "")
		if err != nil {
			t.Fatalf("Sign() error = %v", err)
		}
		if withQuery.Signature == base.Signature {
			t.Fatalf("query %v did not change signature", q)
		}
	}
}

func TestSignRejectsIncompleteCredential(t *testing.T) {
	s := mustScheme(t, core.Blofin)
	for _, cred := range []core.Credential{
		{Exchange: core.Blofin, APISecret: "s", Passphrase: "p"},
		{Exchange: core.Blofin, APIKey: "k", Passphrase: "p"},
		{Exchange: core.Blofin, APIKey: "k", APISecret: "s"},
	} {
		if _, err := s.Sign(cred, "1700000000", "GET", "/path", ""); !errors.Is(err, core.ErrInvalidCredential) {
			t.Fatalf("Sign(%+v) error = %v, want ErrInvalidCredential", cred, err)
		}
	}
}

func TestSignRejectsCredentialForOtherExchange(t *testing.T) {
	_, err := mustScheme(t, core.Blofin).Sign(testBitmartCred, "1700000000", "GET", "/path", "")
	if !errors.Is(err, core.ErrInvalidCredential) {
		t.Fatalf("Sign() error = %v, want ErrInvalidCredential", err)
	}
}

func TestRequestPath(t *testing.T) {
	if got := RequestPath("/spot/v1/wallet", nil); got != "/spot/v1/wallet" {
		t.Fatalf("RequestPath(nil) = %q", got)
	}
	q := url.Values{"symbol": {"BTC_USDT"}, "limit": {"100"}}
	if got := RequestPath("/spot/v2/orders", q); got != "/spot/v2/orders?limit=100&symbol=BTC_USDT" {
		t.Fatalf("RequestPath() = %q", got)
	}
}

func TestSchemeValidate(t *testing.T) {
	s := mustScheme(t, core.Bitmart)
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	s.Encoding = "base32"
	if err := s.Validate(); err == nil {
		t.Fatalf("Validate() error = nil for bad encoding")
	}
	s = mustScheme(t, core.Bitmart)
	s.Headers.Passphrase = ""
	if err := s.Validate(); err == nil {
		t.Fatalf("Validate() error = nil for missing header name")
	}
}
