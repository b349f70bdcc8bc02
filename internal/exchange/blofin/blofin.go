package blofin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"exchange-dashboard/internal/core"
	"exchange-dashboard/internal/exchange"
)

const successCode = "0"

const (
	pathAccountConfig = "/api/v1/account/config"
	pathBalances      = "/api/v1/asset/balances"
	pathFillsHistory  = "/api/v1/trade/fills-history"
	pathOrdersHistory = "/api/v1/trade/orders-history"
	pathInstruments   = "/api/v1/market/instruments"
	pathCandles       = "/api/v1/market/candles"
	pathBooks         = "/api/v1/market/books"
)

var ErrInstIDRequired = errors.New("instId parameter is required")

// API exposes the Blofin endpoints the dashboard reads.
type API struct {
	caller exchange.Caller
}

func New(caller exchange.Caller) *API {
	return &API{caller: caller}
}

type envelope struct {
	Code json.RawMessage `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// AccountConfig is the cheapest signed endpoint; it doubles as the connection test.
func (a *API) AccountConfig(ctx context.Context, cred core.Credential) (json.RawMessage, error) {
	var out json.RawMessage
	if err := a.get(ctx, cred, pathAccountConfig, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) Balances(ctx context.Context, cred core.Credential) ([]Balance, error) {
	var out []Balance
	q := url.Values{"accountType": {"futures"}}
	if err := a.get(ctx, cred, pathBalances, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) FillsHistory(ctx context.Context, cred core.Credential, q HistoryQuery) ([]Fill, error) {
	var out []Fill
	if err := a.get(ctx, cred, pathFillsHistory, q.values(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) OrdersHistory(ctx context.Context, cred core.Credential, q HistoryQuery) ([]Order, error) {
	var out []Order
	if err := a.get(ctx, cred, pathOrdersHistory, q.values(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) Instruments(ctx context.Context, instID string) ([]Instrument, error) {
	q := url.Values{}
	if instID != "" {
		q.Set("instId", instID)
	}
	var out []Instrument
	if err := a.public(ctx, pathInstruments, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) Candles(ctx context.Context, q CandlesQuery) ([]Candle, error) {
	if q.InstID == "" {
		return nil, ErrInstIDRequired
	}
	var out []Candle
	if err := a.public(ctx, pathCandles, q.values(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Books returns the first snapshot of the order book, or an empty one.
func (a *API) Books(ctx context.Context, instID string, size int) (OrderBook, error) {
	if instID == "" {
		return OrderBook{}, ErrInstIDRequired
	}
	q := url.Values{"instId": {instID}}
	if size > 0 {
		q.Set("size", strconv.Itoa(size))
	}
	var out []OrderBook
	if err := a.public(ctx, pathBooks, q, &out); err != nil {
		return OrderBook{}, err
	}
	if len(out) == 0 {
		return OrderBook{}, nil
	}
	return out[0], nil
}

func (a *API) get(ctx context.Context, cred core.Credential, path string, q url.Values, out any) error {
	resp, err := a.caller.Call(ctx, core.Blofin, cred, http.MethodGet, path, q, nil)
	if err != nil {
		return err
	}
	return Unwrap(resp, out)
}

func (a *API) public(ctx context.Context, path string, q url.Values, out any) error {
	resp, err := a.caller.Public(ctx, core.Blofin, path, q)
	if err != nil {
		return err
	}
	return Unwrap(resp, out)
}

// Unwrap checks the envelope code and decodes data into out. A missing code
// is accepted; any code other than "0" is an ExchangeError.
func Unwrap(resp exchange.Response, out any) error {
	var env envelope
	if err := exchange.Decode(core.Blofin, resp, resp.Body, &env); err != nil {
		return err
	}
	if code := exchange.CodeString(env.Code); code != "" && code != successCode {
		return &exchange.ExchangeError{
			Exchange: core.Blofin,
			Status:   resp.Status,
			Code:     code,
			Message:  env.Msg,
			Body:     resp.Body,
		}
	}
	data := bytes.TrimSpace(env.Data)
	if out == nil || len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	return exchange.Decode(core.Blofin, resp, data, out)
}
