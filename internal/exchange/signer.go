package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"exchange-dashboard/internal/core"
)

type Encoding string

const (
	EncodingBase64 Encoding = "base64"
	EncodingHex    Encoding = "hex"
)

func (e Encoding) Valid() bool {
	return e == EncodingBase64 || e == EncodingHex
}

func (e Encoding) encode(sum []byte) string {
	if e == EncodingHex {
		return hex.EncodeToString(sum)
	}
	return base64.StdEncoding.EncodeToString(sum)
}

// HeaderNames are the exchange-specific auth header names.
type HeaderNames struct {
	Key        string
	Sign       string
	Timestamp  string
	Passphrase string
}

// Scheme is the signing strategy for one exchange. Adding an exchange means
// adding a Scheme; the client control flow does not change.
type Scheme struct {
	Exchange core.ExchangeID
	BaseURL  string
	Encoding Encoding
	Headers  HeaderNames
}

const (
	BlofinBaseURL  = "https://api.blofin.com"
	BitmartBaseURL = "https://api-cloud.bitmart.com"
)

var defaultSchemes = map[core.ExchangeID]Scheme{
	core.Blofin: {
		Exchange: core.Blofin,
		BaseURL:  BlofinBaseURL,
		Encoding: EncodingBase64,
		Headers: HeaderNames{
			Key:        "BF-ACCESS-KEY",
			Sign:       "BF-ACCESS-SIGN",
			Timestamp:  "BF-ACCESS-TIMESTAMP",
			Passphrase: "BF-ACCESS-PASSPHRASE",
		},
	},
	core.Bitmart: {
		Exchange: core.Bitmart,
		BaseURL:  BitmartBaseURL,
		Encoding: EncodingHex,
		Headers: HeaderNames{
			Key:        "X-BM-KEY",
			Sign:       "X-BM-SIGN",
			Timestamp:  "X-BM-TIMESTAMP",
			Passphrase: "X-BM-MEMO",
		},
	},
}

func DefaultScheme(id core.ExchangeID) (Scheme, bool) {
	s, ok := defaultSchemes[id]
	return s, ok
}

func (s Scheme) Validate() error {
	if !s.Exchange.Valid() {
		return fmt.Errorf("scheme: %w: %q", core.ErrUnknownExchange, s.Exchange)
	}
	if !s.Encoding.Valid() {
		return fmt.Errorf("scheme %s: encoding must be base64 or hex", s.Exchange)
	}
	if s.BaseURL == "" {
		return fmt.Errorf("scheme %s: base url required", s.Exchange)
	}
	h := s.Headers
	if h.Key == "" || h.Sign == "" || h.Timestamp == "" || h.Passphrase == "" {
		return fmt.Errorf("scheme %s: all header names are required", s.Exchange)
	}
	return nil
}

type SignedRequest struct {
	Headers   http.Header
	Message   string
	Signature string
}

// CanonicalMessage concatenates the parts with no separators. Any change to
// ordering or whitespace breaks verification on the exchange side.
func CanonicalMessage(timestamp, method, requestPath, body string) string {
	return timestamp + strings.ToUpper(method) + requestPath + body
}

// Sign is deterministic and performs no I/O. body must be the exact string
// that will be transmitted, or "" when the request has no body.
func (s Scheme) Sign(cred core.Credential, timestamp, method, requestPath, body string) (SignedRequest, error) {
	if err := cred.Validate(); err != nil {
		return SignedRequest{}, err
	}
	if cred.Exchange != s.Exchange {
		return SignedRequest{}, fmt.Errorf("%w: %s credential cannot sign for %s", core.ErrInvalidCredential, cred.Exchange, s.Exchange)
	}
	msg := CanonicalMessage(timestamp, method, requestPath, body)
	mac := hmac.New(sha256.New, []byte(cred.APISecret))
	mac.Write([]byte(msg))
	signature := s.Encoding.encode(mac.Sum(nil))

	headers := make(http.Header, 4)
	headers.Set(s.Headers.Key, cred.APIKey)
	headers.Set(s.Headers.Sign, signature)
	headers.Set(s.Headers.Timestamp, timestamp)
	headers.Set(s.Headers.Passphrase, cred.Passphrase)
	return SignedRequest{
		Headers:   headers,
		Message:   msg,
		Signature: signature,
	}, nil
}
