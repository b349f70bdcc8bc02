package bitmart

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"exchange-dashboard/internal/core"
	"exchange-dashboard/internal/exchange"
)

const successCode = "1000"

const (
	pathWallet = "/spot/v1/wallet"
	pathOrders = "/spot/v2/orders"

	defaultOrdersLimit = 100
)

type API struct {
	caller exchange.Caller
}

func New(caller exchange.Caller) *API {
	return &API{caller: caller}
}

type envelope struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type WalletEntry struct {
	Currency  string       `json:"id"`
	Name      string       `json:"name"`
	Available core.Decimal `json:"available"`
	Frozen    core.Decimal `json:"frozen"`
}

type Order struct {
	OrderID    string       `json:"order_id"`
	Symbol     string       `json:"symbol"`
	Side       string       `json:"side"`
	Type       string       `json:"type"`
	Price      core.Decimal `json:"price"`
	Size       core.Decimal `json:"size"`
	FilledSize core.Decimal `json:"filled_size"`
	Notional   core.Decimal `json:"notional"`
	Status     string       `json:"status"`
	CreateTime core.Millis  `json:"create_time"`
}

// OrdersQuery filters /spot/v2/orders. Limit defaults to 100.
type OrdersQuery struct {
	Symbol    string
	Status    string
	Limit     int
	StartTime string
	EndTime   string
}

func (q OrdersQuery) values() url.Values {
	v := url.Values{}
	if q.Symbol != "" {
		v.Set("symbol", q.Symbol)
	}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultOrdersLimit
	}
	v.Set("limit", strconv.Itoa(limit))
	if q.StartTime != "" {
		v.Set("start_time", q.StartTime)
	}
	if q.EndTime != "" {
		v.Set("end_time", q.EndTime)
	}
	return v
}

func (a *API) Wallet(ctx context.Context, cred core.Credential) ([]WalletEntry, error) {
	var out struct {
		Wallet []WalletEntry `json:"wallet"`
	}
	if err := a.get(ctx, cred, pathWallet, nil, &out); err != nil {
		return nil, err
	}
	return out.Wallet, nil
}

func (a *API) OrdersHistory(ctx context.Context, cred core.Credential, q OrdersQuery) ([]Order, error) {
	var out struct {
		Orders []Order `json:"orders"`
	}
	if err := a.get(ctx, cred, pathOrders, q.values(), &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

func (a *API) get(ctx context.Context, cred core.Credential, path string, q url.Values, out any) error {
	resp, err := a.caller.Call(ctx, core.Bitmart, cred, http.MethodGet, path, q, nil)
	if err != nil {
		return err
	}
	return Unwrap(resp, out)
}

// Unwrap checks that the envelope code is 1000 and decodes data into out.
func Unwrap(resp exchange.Response, out any) error {
	var env envelope
	if err := exchange.Decode(core.Bitmart, resp, resp.Body, &env); err != nil {
		return err
	}
	if code := exchange.CodeString(env.Code); code != successCode {
		return &exchange.ExchangeError{
			Exchange: core.Bitmart,
			Status:   resp.Status,
			Code:     code,
			Message:  env.Message,
			Body:     resp.Body,
		}
	}
	data := bytes.TrimSpace(env.Data)
	if out == nil || len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	return exchange.Decode(core.Bitmart, resp, data, out)
}
