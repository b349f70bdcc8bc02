package core

import (
	"errors"
	"strings"
	"testing"
)

func TestCredentialValidate(t *testing.T) {
	valid := Credential{Exchange: Blofin, APIKey: "key-123456", APISecret: "secret", Passphrase: "pass"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	cases := []struct {
		name string
		mut  func(c *Credential)
		want string
	}{
		{"empty key", func(c *Credential) { c.APIKey = "" }, "api key"},
		{"empty secret", func(c *Credential) { c.APISecret = "" }, "api secret"},
		{"empty passphrase", func(c *Credential) { c.Passphrase = "" }, "passphrase"},
		{"unknown exchange", func(c *Credential) { c.Exchange = "kraken" }, "unknown exchange"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid
			tc.mut(&c)
			err := c.Validate()
			if !errors.Is(err, ErrInvalidCredential) {
				t.Fatalf("Validate() error = %v, want ErrInvalidCredential", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() error = %q, want contains %q", err.Error(), tc.want)
			}
		})
	}
}

func TestCredentialValidateNamesMemoForBitmart(t *testing.T) {
	err := Credential{Exchange: Bitmart, APIKey: "k", APISecret: "s"}.Validate()
	if err == nil || !strings.Contains(err.Error(), "memo is empty") {
		t.Fatalf("Validate() error = %v, want memo is empty", err)
	}
}

func TestCredentialStringHidesSecrets(t *testing.T) {
	c := Credential{Exchange: Bitmart, APIKey: "abcdefghij", APISecret: "topsecret", Passphrase: "memo-value"}
	got := c.String()
	if strings.Contains(got, "topsecret") || strings.Contains(got, "memo-value") || strings.Contains(got, "fghij") {
		t.Fatalf("String() = %q leaks secret material", got)
	}
	if got != "bitmart key=abcde..." {
		t.Fatalf("String() = %q, want %q", got, "bitmart key=abcde...")
	}
}

func TestParseExchangeID(t *testing.T) {
	id, err := ParseExchangeID(" BloFin ")
	if err != nil || id != Blofin {
		t.Fatalf("ParseExchangeID() = %q, %v; want blofin", id, err)
	}
	if _, err := ParseExchangeID("blobfin"); !errors.Is(err, ErrUnknownExchange) {
		t.Fatalf("ParseExchangeID(blobfin) error = %v, want ErrUnknownExchange", err)
	}
}
