package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"exchange-dashboard/internal/cache"
	"exchange-dashboard/internal/core"
	"exchange-dashboard/internal/exchange"
	"exchange-dashboard/internal/exchange/bitmart"
	"exchange-dashboard/internal/exchange/blofin"
	"exchange-dashboard/internal/metrics"
	"exchange-dashboard/internal/safety"
	"exchange-dashboard/internal/store"
)

// KeyStore is the subset of *store.Store the handlers use.
type KeyStore interface {
	Get(ctx context.Context, userID string, exchange core.ExchangeID) (store.Record, error)
	List(ctx context.Context, userID string) ([]store.Record, error)
	Save(ctx context.Context, in store.Input) (store.Record, error)
	SetEnabled(ctx context.Context, userID, id string, enabled bool) (store.Record, error)
	Delete(ctx context.Context, userID, id string) error
	TouchLastUsed(ctx context.Context, userID string, exchange core.ExchangeID, at time.Time) error
	Summary(ctx context.Context, userID string) (store.Summary, error)
}

var _ KeyStore = (*store.Store)(nil)

type Options struct {
	Store         KeyStore
	Caller        exchange.Caller
	Cache         cache.Cache
	Limiters      map[core.ExchangeID]*rate.Limiter
	Breaker       *safety.Breaker
	Metrics       *metrics.Recorder
	Logger        zerolog.Logger
	SessionHeader string
	// Ready reports dependency health for /healthz. Optional.
	Ready func(ctx context.Context) error
	Now   func() time.Time
}

type Server struct {
	router        *mux.Router
	store         KeyStore
	cache         cache.Cache
	limiters      map[core.ExchangeID]*rate.Limiter
	breaker       *safety.Breaker
	metrics       *metrics.Recorder
	log           zerolog.Logger
	sessionHeader string
	ready         func(ctx context.Context) error
	now           func() time.Time

	blofin  *blofin.API
	bitmart *bitmart.API
}

func New(opts Options) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		store:         opts.Store,
		cache:         opts.Cache,
		limiters:      opts.Limiters,
		breaker:       opts.Breaker,
		metrics:       opts.Metrics,
		log:           opts.Logger,
		sessionHeader: opts.SessionHeader,
		ready:         opts.Ready,
		now:           opts.Now,
		blofin:        blofin.New(opts.Caller),
		bitmart:       bitmart.New(opts.Caller),
	}
	if s.cache == nil {
		s.cache = cache.Noop{}
	}
	if s.sessionHeader == "" {
		s.sessionHeader = "X-User-ID"
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	public := s.router.PathPrefix("/api/blofin/public").Subrouter()
	public.HandleFunc("/instruments", s.handleBlofinInstruments).Methods(http.MethodGet)
	public.HandleFunc("/candles", s.handleBlofinCandles).Methods(http.MethodGet)
	public.HandleFunc("/books", s.handleBlofinBooks).Methods(http.MethodGet)

	authed := s.router.PathPrefix("/api").Subrouter()
	authed.Use(s.sessionMiddleware)

	authed.HandleFunc("/keys", s.handleListKeys).Methods(http.MethodGet)
	authed.HandleFunc("/keys", s.handleSaveKeys).Methods(http.MethodPost)
	authed.HandleFunc("/keys/{id}", s.handleToggleKey).Methods(http.MethodPatch)
	authed.HandleFunc("/keys/{id}", s.handleDeleteKey).Methods(http.MethodDelete)
	authed.HandleFunc("/debug-keys", s.handleDebugKeys).Methods(http.MethodGet)

	authed.HandleFunc("/blofin/test-connection", s.handleBlofinTestConnection).Methods(http.MethodGet)
	authed.HandleFunc("/blofin/balances", s.handleBlofinBalances).Methods(http.MethodGet)
	authed.HandleFunc("/blofin/fills-history", s.handleBlofinFills).Methods(http.MethodGet)
	authed.HandleFunc("/blofin/orders-history", s.handleBlofinOrders).Methods(http.MethodGet)
	authed.HandleFunc("/blofin/debug", s.handleExchangeDebug(core.Blofin)).Methods(http.MethodGet)

	authed.HandleFunc("/bitmart/balances", s.handleBitmartBalances).Methods(http.MethodGet)
	authed.HandleFunc("/bitmart/orders-history", s.handleBitmartOrders).Methods(http.MethodGet)
	authed.HandleFunc("/bitmart/debug", s.handleExchangeDebug(core.Bitmart)).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusNotFound, "Not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeFailure(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeSuccess(w, map[string]string{"status": "ok"}, "")
}

type ServeOptions struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// ListenAndServe blocks until ctx is cancelled, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, opts ServeOptions) error {
	srv := &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", opts.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.log.Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
