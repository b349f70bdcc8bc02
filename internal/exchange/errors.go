package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"exchange-dashboard/internal/core"
)

// Kind tags the outcome of one call.
type Kind string

const (
	KindSuccess           Kind = "success"
	KindInvalidCredential Kind = "invalid_credential"
	KindRateLimited       Kind = "rate_limited"
	KindExchange          Kind = "exchange_error"
	KindDecode            Kind = "decode_error"
	KindTransport         Kind = "transport_error"
	KindUnknown           Kind = "unknown"
)

type RateLimitedError struct {
	Exchange   core.ExchangeID
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Exchange, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Exchange)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == core.ErrRateLimited
}

// ExchangeError is a rejection reported by the exchange, either through a
// non-2xx status or through a non-success envelope code.
type ExchangeError struct {
	Exchange core.ExchangeID
	Status   int
	Code     string
	Message  string
	Body     []byte
}

func (e *ExchangeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Exchange.DisplayName())
	b.WriteString(" API error")
	if e.Status > 0 && e.Status/100 != 2 {
		b.WriteString(" ")
		b.WriteString(strconv.Itoa(e.Status))
	}
	if e.Code != "" {
		b.WriteString(" code=")
		b.WriteString(e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

type TransportError struct {
	Exchange core.ExchangeID
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport error: %v", e.Exchange, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError means the exchange answered but not in the shape we rely on.
type DecodeError struct {
	Exchange core.ExchangeID
	Message  string
	RawText  string
	Err      error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("failed to parse %s API response: %s", e.Exchange.DisplayName(), e.Message)
	if e.RawText != "" {
		msg += ". Response text: " + e.RawText
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

func KindOf(err error) Kind {
	if err == nil {
		return KindSuccess
	}
	var (
		exErr        *ExchangeError
		decodeErr    *DecodeError
		transportErr *TransportError
	)
	switch {
	case errors.Is(err, core.ErrInvalidCredential):
		return KindInvalidCredential
	case errors.Is(err, core.ErrRateLimited):
		return KindRateLimited
	case errors.As(err, &exErr):
		return KindExchange
	case errors.As(err, &decodeErr):
		return KindDecode
	case errors.As(err, &transportErr):
		return KindTransport
	}
	return KindUnknown
}

func AsExchangeError(err error) (*ExchangeError, bool) {
	var exErr *ExchangeError
	if !errors.As(err, &exErr) {
		return nil, false
	}
	return exErr, true
}

const rawTextLimit = 100

func truncateText(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= rawTextLimit {
		return s
	}
	cut := rawTextLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

type errorBody struct {
	Code    json.RawMessage `json:"code"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

// parseErrorResponse builds the ExchangeError for a non-2xx, non-429 response.
func parseErrorResponse(id core.ExchangeID, status int, body []byte) *ExchangeError {
	exErr := &ExchangeError{Exchange: id, Status: status, Body: body}
	if json.Valid(body) {
		var parsed errorBody
		if err := json.Unmarshal(body, &parsed); err == nil {
			exErr.Code = CodeString(parsed.Code)
			for _, m := range []string{parsed.Msg, parsed.Message, parsed.Error} {
				if strings.TrimSpace(m) != "" {
					exErr.Message = strings.TrimSpace(m)
					break
				}
			}
		}
		if exErr.Message == "" {
			exErr.Message = strings.TrimSpace(string(body))
		}
		return exErr
	}
	exErr.Message = strings.TrimSpace(strconv.Itoa(status) + " " + http.StatusText(status))
	if text := truncateText(string(body)); text != "" {
		exErr.Message += " - " + text
	}
	return exErr
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
