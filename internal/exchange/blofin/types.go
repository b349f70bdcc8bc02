package blofin

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"exchange-dashboard/internal/core"
)

type Balance struct {
	Currency  string       `json:"ccy"`
	Total     core.Decimal `json:"totalBal"`
	Available core.Decimal `json:"availBal"`
	Frozen    core.Decimal `json:"frozenBal"`
}

type Fill struct {
	InstID    string       `json:"instId"`
	TradeID   string       `json:"tradeId"`
	OrderID   string       `json:"ordId"`
	Side      string       `json:"side"`
	FillPrice core.Decimal `json:"fillPx"`
	FillSize  core.Decimal `json:"fillSz"`
	Fee       core.Decimal `json:"fee"`
	FeeCcy    string       `json:"feeCcy"`
	Timestamp core.Millis  `json:"ts"`
}

type Order struct {
	OrderID     string       `json:"ordId"`
	InstID      string       `json:"instId"`
	OrderType   string       `json:"ordType"`
	Side        string       `json:"side"`
	Price       core.Decimal `json:"px"`
	Size        core.Decimal `json:"sz"`
	FilledSize  core.Decimal `json:"accFillSz"`
	State       string       `json:"state"`
	CreatedTime core.Millis  `json:"cTime"`
}

type Instrument struct {
	InstID    string       `json:"instId"`
	InstType  string       `json:"instType"`
	BaseCcy   string       `json:"baseCcy"`
	QuoteCcy  string       `json:"quoteCcy"`
	SettleCcy string       `json:"settleCcy"`
	CtVal     core.Decimal `json:"ctVal"`
	TickSz    core.Decimal `json:"tickSz"`
	LotSz     core.Decimal `json:"lotSz"`
	MinSz     core.Decimal `json:"minSz"`
	ListTime  core.Millis  `json:"listTime"`
	State     string       `json:"state"`
}

// Candle arrives as a positional string array:
// [ts, open, high, low, close, vol, volCcy, volCcyQuote, confirm].
type Candle struct {
	Timestamp   core.Millis  `json:"ts"`
	Open        core.Decimal `json:"o"`
	High        core.Decimal `json:"h"`
	Low         core.Decimal `json:"l"`
	Close       core.Decimal `json:"c"`
	Volume      core.Decimal `json:"vol"`
	VolumeCcy   core.Decimal `json:"volCcy"`
	VolumeQuote core.Decimal `json:"volCcyQuote"`
	Confirmed   bool         `json:"confirm"`
}

func (c *Candle) UnmarshalJSON(data []byte) error {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) < 7 {
		return fmt.Errorf("candle has %d fields, want at least 7", len(fields))
	}
	var out Candle
	if err := json.Unmarshal(fields[0], &out.Timestamp); err != nil {
		return err
	}
	targets := []*core.Decimal{&out.Open, &out.High, &out.Low, &out.Close, &out.Volume, &out.VolumeCcy}
	if len(fields) > 7 {
		targets = append(targets, &out.VolumeQuote)
	}
	for i, dst := range targets {
		if err := json.Unmarshal(fields[i+1], dst); err != nil {
			return fmt.Errorf("candle field %d: %w", i+1, err)
		}
	}
	out.Confirmed = true
	if len(fields) > 8 {
		var confirm string
		if err := json.Unmarshal(fields[8], &confirm); err == nil {
			out.Confirmed = confirm != "0"
		}
	}
	*c = out
	return nil
}

// MarshalJSON keeps the object form; the positional form only exists on the wire.
func (c Candle) MarshalJSON() ([]byte, error) {
	type plain Candle
	return json.Marshal(plain(c))
}

type Level struct {
	Price core.Decimal `json:"price"`
	Size  core.Decimal `json:"size"`
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var fields []core.Decimal
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) < 2 {
		return fmt.Errorf("book level has %d fields, want 2", len(fields))
	}
	l.Price, l.Size = fields[0], fields[1]
	return nil
}

func (l Level) MarshalJSON() ([]byte, error) {
	type plain Level
	return json.Marshal(plain(l))
}

type OrderBook struct {
	Asks      []Level     `json:"asks"`
	Bids      []Level     `json:"bids"`
	Timestamp core.Millis `json:"ts"`
}

// HistoryQuery filters fills-history and orders-history. Empty fields are omitted.
type HistoryQuery struct {
	InstID    string
	OrderID   string
	OrderType string
	State     string
	After     string
	Before    string
	Limit     int
}

func (q HistoryQuery) values() url.Values {
	v := url.Values{}
	setIf(v, "instId", q.InstID)
	setIf(v, "ordId", q.OrderID)
	setIf(v, "ordType", q.OrderType)
	setIf(v, "state", q.State)
	setIf(v, "after", q.After)
	setIf(v, "before", q.Before)
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

type CandlesQuery struct {
	InstID string
	Bar    string
	After  string
	Before string
	Limit  int
}

func (q CandlesQuery) values() url.Values {
	v := url.Values{"instId": {q.InstID}}
	setIf(v, "bar", q.Bar)
	setIf(v, "after", q.After)
	setIf(v, "before", q.Before)
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

func setIf(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}
