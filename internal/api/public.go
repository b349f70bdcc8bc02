package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"exchange-dashboard/internal/cache"
	"exchange-dashboard/internal/core"
	"exchange-dashboard/internal/exchange"
	"exchange-dashboard/internal/exchange/blofin"
)

// cached serves a public endpoint through the market-data cache. Cache
// failures degrade to a direct fetch.
func (s *Server) cached(ctx context.Context, key string, fetch func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("cache_key", key).Msg("cache read failed")
	} else {
		if s.metrics != nil {
			s.metrics.ObserveCache(core.Blofin, ok)
		}
		if ok {
			return raw, nil
		}
	}

	var data any
	err := s.guarded(ctx, core.Blofin, func() error {
		var fetchErr error
		data, fetchErr = fetch(ctx)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, raw); err != nil {
		s.log.Warn().Err(err).Str("cache_key", key).Msg("cache write failed")
	}
	return raw, nil
}

func (s *Server) servePublic(w http.ResponseWriter, r *http.Request, endpoint string, fetch func(ctx context.Context) (any, error)) {
	key := cache.Key(string(core.Blofin), endpoint, exchange.RequestPath("", r.URL.Query()))
	raw, err := s.cached(r.Context(), key, fetch)
	if err != nil {
		if errors.Is(err, blofin.ErrInstIDRequired) {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		s.fail(w, r, core.Blofin, err)
		return
	}
	writeSuccess(w, raw, "")
}

func (s *Server) handleBlofinInstruments(w http.ResponseWriter, r *http.Request) {
	instID := r.URL.Query().Get("instId")
	s.servePublic(w, r, "instruments", func(ctx context.Context) (any, error) {
		return s.blofin.Instruments(ctx, instID)
	})
}

func (s *Server) handleBlofinCandles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("instId") == "" {
		writeFailure(w, http.StatusBadRequest, blofin.ErrInstIDRequired.Error())
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	cq := blofin.CandlesQuery{
		InstID: q.Get("instId"),
		Bar:    q.Get("bar"),
		After:  q.Get("after"),
		Before: q.Get("before"),
		Limit:  limit,
	}
	s.servePublic(w, r, "candles", func(ctx context.Context) (any, error) {
		return s.blofin.Candles(ctx, cq)
	})
}

func (s *Server) handleBlofinBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("instId") == "" {
		writeFailure(w, http.StatusBadRequest, blofin.ErrInstIDRequired.Error())
		return
	}
	size, _ := strconv.Atoi(q.Get("size"))
	instID := q.Get("instId")
	s.servePublic(w, r, "books", func(ctx context.Context) (any, error) {
		return s.blofin.Books(ctx, instID, size)
	})
}
