package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"exchange-dashboard/internal/core"
)

const maxResponseBytes = 4 << 20

// Doer is the HTTP transport boundary. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Observer receives the outcome of every call.
type Observer interface {
	ObserveCall(exchange core.ExchangeID, kind Kind, elapsed time.Duration)
}

type Options struct {
	Schemes    []Scheme
	Timeout    time.Duration
	HTTPClient Doer
	Logger     zerolog.Logger
	Observer   Observer
	Now        func() time.Time
}

// Client performs one authenticated call per Call invocation. It holds only
// immutable configuration and is safe for concurrent use.
type Client struct {
	schemes  map[core.ExchangeID]Scheme
	timeout  time.Duration
	http     Doer
	log      zerolog.Logger
	observer Observer
	now      func() time.Time
}

type Response struct {
	Status int
	Body   json.RawMessage
}

func NewClient(opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		return nil, errors.New("exchange client: timeout must be > 0")
	}
	if len(opts.Schemes) == 0 {
		return nil, errors.New("exchange client: at least one scheme required")
	}
	schemes := make(map[core.ExchangeID]Scheme, len(opts.Schemes))
	for _, s := range opts.Schemes {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		s.BaseURL = strings.TrimRight(s.BaseURL, "/")
		schemes[s.Exchange] = s
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		schemes:  schemes,
		timeout:  opts.Timeout,
		http:     httpClient,
		log:      opts.Logger,
		observer: opts.Observer,
		now:      now,
	}, nil
}

func (c *Client) Scheme(id core.ExchangeID) (Scheme, bool) {
	s, ok := c.schemes[id]
	return s, ok
}

// RequestPath is the single source of the path used for both the URL and the signature.
func RequestPath(path string, query url.Values) string {
	if encoded := query.Encode(); encoded != "" {
		return path + "?" + encoded
	}
	return path
}

// Call signs and performs one request. body, when non-nil, is serialized to
// JSON once and the same bytes are signed and sent.
func (c *Client) Call(ctx context.Context, id core.ExchangeID, cred core.Credential, method, path string, query url.Values, body any) (Response, error) {
	start := time.Now()
	resp, err := c.call(ctx, id, cred, method, path, query, body)
	c.observe(id, err, start)
	return resp, err
}

func (c *Client) call(ctx context.Context, id core.ExchangeID, cred core.Credential, method, path string, query url.Values, body any) (Response, error) {
	if err := cred.Validate(); err != nil {
		return Response{}, err
	}
	scheme, ok := c.schemes[id]
	if !ok {
		return Response{}, fmt.Errorf("%w: %q", core.ErrUnknownExchange, id)
	}
	method = strings.ToUpper(method)
	requestPath := RequestPath(path, query)

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return Response{}, fmt.Errorf("encode %s request body: %w", id, err)
		}
	}
	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	signed, err := scheme.Sign(cred, timestamp, method, requestPath, string(payload))
	if err != nil {
		return Response{}, err
	}
	return c.do(ctx, scheme, method, requestPath, payload, signed.Headers, core.MaskKey(cred.APIKey))
}

// Public performs an unsigned GET with the same response classification.
func (c *Client) Public(ctx context.Context, id core.ExchangeID, path string, query url.Values) (Response, error) {
	start := time.Now()
	scheme, ok := c.schemes[id]
	if !ok {
		err := fmt.Errorf("%w: %q", core.ErrUnknownExchange, id)
		c.observe(id, err, start)
		return Response{}, err
	}
	resp, err := c.do(ctx, scheme, http.MethodGet, RequestPath(path, query), nil, nil, "")
	c.observe(id, err, start)
	return resp, err
}

func (c *Client) do(ctx context.Context, scheme Scheme, method, requestPath string, payload []byte, headers http.Header, keyHint string) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, scheme.BaseURL+requestPath, reader)
	if err != nil {
		return Response{}, &TransportError{Exchange: scheme.Exchange, Err: err}
	}
	for name, values := range headers {
		req.Header[name] = values
	}
	req.Header.Set("Content-Type", "application/json")

	log := c.log.With().
		Str("exchange", string(scheme.Exchange)).
		Str("method", method).
		Str("path", requestPath).
		Logger()
	if keyHint != "" {
		log = log.With().Str("key", keyHint).Logger()
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Debug().Err(err).Dur("elapsed", time.Since(started)).Msg("exchange request failed")
		return Response{}, &TransportError{Exchange: scheme.Exchange, Err: err}
	}
	defer resp.Body.Close()
	log = log.With().Int("status", resp.StatusCode).Logger()

	if resp.StatusCode == http.StatusTooManyRequests {
		log.Warn().Dur("elapsed", time.Since(started)).Msg("exchange rate limited")
		return Response{}, &RateLimitedError{
			Exchange:   scheme.Exchange,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		log.Debug().Err(err).Msg("read exchange response failed")
		return Response{}, &TransportError{Exchange: scheme.Exchange, Err: err}
	}
	if len(body) > maxResponseBytes {
		if resp.StatusCode/100 == 2 {
			log.Warn().Dur("elapsed", time.Since(started)).Msg("exchange response too large")
			return Response{}, &DecodeError{
				Exchange: scheme.Exchange,
				Message:  fmt.Sprintf("response body exceeds %d bytes", maxResponseBytes),
			}
		}
		body = body[:maxResponseBytes]
	}
	log.Debug().Dur("elapsed", time.Since(started)).Int("bytes", len(body)).Msg("exchange response")
	return classify(scheme.Exchange, resp.StatusCode, body)
}

func classify(id core.ExchangeID, status int, body []byte) (Response, error) {
	if status == http.StatusTooManyRequests {
		return Response{}, &RateLimitedError{Exchange: id}
	}
	if status/100 != 2 {
		return Response{}, parseErrorResponse(id, status, body)
	}
	if !json.Valid(body) {
		return Response{}, &DecodeError{
			Exchange: id,
			Message:  "response body is not valid JSON",
			RawText:  truncateText(string(body)),
		}
	}
	return Response{Status: status, Body: json.RawMessage(body)}, nil
}

func (c *Client) observe(id core.ExchangeID, err error, start time.Time) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveCall(id, KindOf(err), time.Since(start))
}
