package core

import (
	"fmt"
	"strings"
)

type ExchangeID string

const (
	Blofin  ExchangeID = "blofin"
	Bitmart ExchangeID = "bitmart"
)

var Exchanges = []ExchangeID{Blofin, Bitmart}

func ParseExchangeID(v string) (ExchangeID, error) {
	id := ExchangeID(strings.ToLower(strings.TrimSpace(v)))
	if !id.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownExchange, v)
	}
	return id, nil
}

func (e ExchangeID) Valid() bool {
	switch e {
	case Blofin, Bitmart:
		return true
	}
	return false
}

func (e ExchangeID) DisplayName() string {
	switch e {
	case Blofin:
		return "Blofin"
	case Bitmart:
		return "Bitmart"
	}
	return string(e)
}

// SecretLabel names the third secret the exchange issues alongside key and secret.
func (e ExchangeID) SecretLabel() string {
	if e == Bitmart {
		return "memo"
	}
	return "passphrase"
}

// Credential is owned by the caller for the duration of one call.
// Passphrase carries the Blofin passphrase or the Bitmart memo.
type Credential struct {
	Exchange   ExchangeID
	APIKey     string
	APISecret  string
	Passphrase string
}

func (c Credential) Validate() error {
	if !c.Exchange.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidCredential, ErrUnknownExchange)
	}
	switch {
	case c.APIKey == "":
		return fmt.Errorf("%w: api key is empty", ErrInvalidCredential)
	case c.APISecret == "":
		return fmt.Errorf("%w: api secret is empty", ErrInvalidCredential)
	case c.Passphrase == "":
		return fmt.Errorf("%w: %s is empty", ErrInvalidCredential, c.Exchange.SecretLabel())
	}
	return nil
}

func (c Credential) String() string {
	return fmt.Sprintf("%s key=%s", c.Exchange, MaskKey(c.APIKey))
}
