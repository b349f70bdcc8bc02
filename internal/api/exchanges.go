package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"exchange-dashboard/internal/core"
	"exchange-dashboard/internal/exchange/bitmart"
	"exchange-dashboard/internal/exchange/blofin"
	"exchange-dashboard/internal/store"
)

const (
	defaultHistoryLimit = 100
	maxLimiterWait      = 2 * time.Second
)

// withCredential loads the caller's newest enabled key for id, waits on the
// local limiter, runs call, and stamps last_used on success.
func (s *Server) withCredential(r *http.Request, id core.ExchangeID, call func(ctx context.Context, cred core.Credential) (any, error)) (any, error) {
	ctx := r.Context()
	userID := userIDFrom(ctx)

	rec, err := s.store.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !rec.Enabled {
		return nil, core.ErrKeyDisabled
	}
	var data any
	err = s.guarded(ctx, id, func() error {
		var callErr error
		data, callErr = call(ctx, rec.Credential())
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.TouchLastUsed(ctx, userID, id, s.now().UTC()); err != nil {
		s.log.Warn().Err(err).Str("exchange", string(id)).Str("key", core.MaskKey(rec.APIKey)).Msg("update last_used failed")
	}
	return data, nil
}

// guarded runs call behind the local limiter and the exchange's circuit breaker.
func (s *Server) guarded(ctx context.Context, id core.ExchangeID, call func() error) error {
	if err := s.wait(ctx, id); err != nil {
		return err
	}
	if err := s.breaker.Allow(id); err != nil {
		return err
	}
	err := call()
	_ = s.breaker.Record(id, err)
	return err
}

func (s *Server) wait(ctx context.Context, id core.ExchangeID) error {
	lim := s.limiters[id]
	if lim == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, maxLimiterWait)
	defer cancel()
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("%w: local limiter: %v", core.ErrRateLimited, err)
	}
	return nil
}

func (s *Server) serveCredentialed(w http.ResponseWriter, r *http.Request, id core.ExchangeID, message string, call func(ctx context.Context, cred core.Credential) (any, error)) {
	data, err := s.withCredential(r, id, call)
	if err != nil {
		s.fail(w, r, id, err)
		return
	}
	writeSuccess(w, data, message)
}

func (s *Server) handleBlofinTestConnection(w http.ResponseWriter, r *http.Request) {
	s.serveCredentialed(w, r, core.Blofin, "Successfully connected to Blofin API",
		func(ctx context.Context, cred core.Credential) (any, error) {
			return s.blofin.AccountConfig(ctx, cred)
		})
}

func (s *Server) handleBlofinBalances(w http.ResponseWriter, r *http.Request) {
	s.serveCredentialed(w, r, core.Blofin, "", func(ctx context.Context, cred core.Credential) (any, error) {
		return s.blofin.Balances(ctx, cred)
	})
}

func (s *Server) handleBlofinFills(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hq := blofin.HistoryQuery{
		InstID:  q.Get("instId"),
		OrderID: q.Get("ordId"),
		After:   q.Get("after"),
		Before:  q.Get("before"),
		Limit:   parseLimit(q.Get("limit")),
	}
	s.serveCredentialed(w, r, core.Blofin, "", func(ctx context.Context, cred core.Credential) (any, error) {
		return s.blofin.FillsHistory(ctx, cred, hq)
	})
}

func (s *Server) handleBlofinOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hq := blofin.HistoryQuery{
		InstID:    q.Get("instId"),
		OrderType: q.Get("ordType"),
		State:     q.Get("state"),
		After:     q.Get("after"),
		Before:    q.Get("before"),
		Limit:     parseLimit(q.Get("limit")),
	}
	s.serveCredentialed(w, r, core.Blofin, "", func(ctx context.Context, cred core.Credential) (any, error) {
		return s.blofin.OrdersHistory(ctx, cred, hq)
	})
}

func (s *Server) handleBitmartBalances(w http.ResponseWriter, r *http.Request) {
	s.serveCredentialed(w, r, core.Bitmart, "", func(ctx context.Context, cred core.Credential) (any, error) {
		return s.bitmart.Wallet(ctx, cred)
	})
}

func (s *Server) handleBitmartOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	oq := bitmart.OrdersQuery{
		Symbol:    q.Get("symbol"),
		Status:    q.Get("status"),
		Limit:     parseLimit(q.Get("limit")),
		StartTime: q.Get("startTime"),
		EndTime:   q.Get("endTime"),
	}
	s.serveCredentialed(w, r, core.Bitmart, "", func(ctx context.Context, cred core.Credential) (any, error) {
		return s.bitmart.OrdersHistory(ctx, cred, oq)
	})
}

func parseLimit(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultHistoryLimit
	}
	return n
}

type keyDiagnostics struct {
	ID            string          `json:"id"`
	Exchange      core.ExchangeID `json:"exchange"`
	Enabled       bool            `json:"enabled"`
	HasAPIKey     bool            `json:"hasApiKey"`
	HasAPISecret  bool            `json:"hasApiSecret"`
	HasPassphrase bool            `json:"hasPassphrase"`
	CreatedAt     time.Time       `json:"created_at"`
	LastUsed      *time.Time      `json:"last_used"`
}

type exchangeDebug struct {
	KeysFound   int             `json:"keysFound"`
	KeysEnabled int             `json:"keysEnabled"`
	FirstKey    *keyDiagnostics `json:"firstKey"`
	Timestamp   time.Time       `json:"timestamp"`
}

// handleExchangeDebug reports presence flags for the caller's keys on one
// exchange. No key material leaves the handler.
func (s *Server) handleExchangeDebug(id core.ExchangeID) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := s.store.List(r.Context(), userIDFrom(r.Context()))
		if err != nil {
			s.fail(w, r, id, err)
			return
		}
		out := exchangeDebug{Timestamp: s.now().UTC()}
		for _, rec := range records {
			if rec.Exchange != id {
				continue
			}
			out.KeysFound++
			if rec.Enabled {
				out.KeysEnabled++
			}
			if out.FirstKey == nil {
				out.FirstKey = diagnose(rec)
			}
		}
		writeSuccess(w, out, "")
	}
}

func diagnose(rec store.Record) *keyDiagnostics {
	return &keyDiagnostics{
		ID:            rec.ID,
		Exchange:      rec.Exchange,
		Enabled:       rec.Enabled,
		HasAPIKey:     rec.APIKey != "",
		HasAPISecret:  rec.APISecret != "",
		HasPassphrase: rec.Credential().Passphrase != "",
		CreatedAt:     rec.CreatedAt,
		LastUsed:      rec.LastUsed,
	}
}
