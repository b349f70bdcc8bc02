package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"exchange-dashboard/internal/app"
	"exchange-dashboard/internal/config"
	"exchange-dashboard/internal/core"
	"exchange-dashboard/internal/exchange"
	"exchange-dashboard/internal/exchange/bitmart"
	"exchange-dashboard/internal/exchange/blofin"
	"exchange-dashboard/internal/logging"
	"exchange-dashboard/internal/poller"
)

type checkStatus string

const (
	statusPass checkStatus = "PASS"
	statusFail checkStatus = "FAIL"
	statusSkip checkStatus = "SKIP"
)

type checkResult struct {
	Name       string          `json:"name"`
	Exchange   core.ExchangeID `json:"exchange"`
	Status     checkStatus     `json:"status"`
	Kind       exchange.Kind   `json:"kind"`
	DurationMs int64           `json:"duration_ms"`
	Detail     string          `json:"detail,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type report struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Source     string        `json:"source"`
	Checks     []checkResult `json:"checks"`
}

func (r report) failed() bool {
	for _, c := range r.Checks {
		if c.Status == statusFail {
			return true
		}
	}
	return false
}

// rateLimited reports whether any check in the round was throttled.
func (r report) rateLimited() bool {
	for _, c := range r.Checks {
		if c.Kind == exchange.KindRateLimited {
			return true
		}
	}
	return false
}

type selectedChecks struct {
	public     bool
	connection bool
	balances   bool
	history    bool
}

func parseCheckFlag(raw string) (selectedChecks, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" || raw == "default" {
		return selectedChecks{connection: true, balances: true}, nil
	}
	if raw == "all" {
		return selectedChecks{public: true, connection: true, balances: true, history: true}, nil
	}
	var out selectedChecks
	for _, p := range strings.Split(raw, ",") {
		switch name := strings.TrimSpace(p); name {
		case "":
			continue
		case "public", "instruments":
			out.public = true
		case "connection", "test-connection":
			out.connection = true
		case "balances", "wallet":
			out.balances = true
		case "history", "orders", "fills":
			out.history = true
		default:
			return selectedChecks{}, fmt.Errorf("unknown check: %s", name)
		}
	}
	if !out.public && !out.connection && !out.balances && !out.history {
		return selectedChecks{}, errors.New("no checks selected")
	}
	return out, nil
}

func parseExchanges(raw string) ([]core.ExchangeID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "all") {
		return core.Exchanges, nil
	}
	var out []core.ExchangeID
	for _, p := range strings.Split(raw, ",") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		id, err := core.ParseExchangeID(p)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, errors.New("no exchanges selected")
	}
	return out, nil
}

// credentialsFromEnv reads <EXCHANGE>_API_KEY, <EXCHANGE>_API_SECRET and
// BLOFIN_PASSPHRASE or BITMART_MEMO. Missing exchanges are simply absent.
func credentialsFromEnv(lookup func(string) string) map[core.ExchangeID]core.Credential {
	out := map[core.ExchangeID]core.Credential{}
	for _, id := range core.Exchanges {
		prefix := strings.ToUpper(string(id)) + "_"
		cred := core.Credential{
			Exchange:   id,
			APIKey:     strings.TrimSpace(lookup(prefix + "API_KEY")),
			APISecret:  strings.TrimSpace(lookup(prefix + "API_SECRET")),
			Passphrase: strings.TrimSpace(lookup(prefix + strings.ToUpper(id.SecretLabel()))),
		}
		if cred.APIKey == "" && cred.APISecret == "" && cred.Passphrase == "" {
			continue
		}
		out[id] = cred
	}
	return out
}

type check struct {
	name     string
	exchange core.ExchangeID
	// needsCred checks are skipped when no credential was found.
	needsCred bool
	fn        func(ctx context.Context, cred core.Credential) (string, error)
}

func buildPlan(caller exchange.Caller, ids []core.ExchangeID, sel selectedChecks) []check {
	bf := blofin.New(caller)
	bm := bitmart.New(caller)
	var plan []check
	for _, id := range ids {
		switch id {
		case core.Blofin:
			if sel.public {
				plan = append(plan, check{name: "blofin_public_instruments", exchange: id, fn: func(ctx context.Context, _ core.Credential) (string, error) {
					list, err := bf.Instruments(ctx, "")
					return fmt.Sprintf("instruments=%d", len(list)), err
				}})
			}
			if sel.connection {
				plan = append(plan, check{name: "blofin_test_connection", exchange: id, needsCred: true, fn: func(ctx context.Context, cred core.Credential) (string, error) {
					_, err := bf.AccountConfig(ctx, cred)
					return "", err
				}})
			}
			if sel.balances {
				plan = append(plan, check{name: "blofin_balances", exchange: id, needsCred: true, fn: func(ctx context.Context, cred core.Credential) (string, error) {
					list, err := bf.Balances(ctx, cred)
					return fmt.Sprintf("currencies=%d", len(list)), err
				}})
			}
			if sel.history {
				plan = append(plan, check{name: "blofin_fills_history", exchange: id, needsCred: true, fn: func(ctx context.Context, cred core.Credential) (string, error) {
					list, err := bf.FillsHistory(ctx, cred, blofin.HistoryQuery{Limit: 5})
					return fmt.Sprintf("fills=%d", len(list)), err
				}})
			}
		case core.Bitmart:
			if sel.connection || sel.balances {
				plan = append(plan, check{name: "bitmart_wallet", exchange: id, needsCred: true, fn: func(ctx context.Context, cred core.Credential) (string, error) {
					list, err := bm.Wallet(ctx, cred)
					return fmt.Sprintf("currencies=%d", len(list)), err
				}})
			}
			if sel.history {
				plan = append(plan, check{name: "bitmart_orders_history", exchange: id, needsCred: true, fn: func(ctx context.Context, cred core.Credential) (string, error) {
					list, err := bm.OrdersHistory(ctx, cred, bitmart.OrdersQuery{Limit: 5})
					return fmt.Sprintf("orders=%d", len(list)), err
				}})
			}
		}
	}
	return plan
}

func runChecks(ctx context.Context, plan []check, creds map[core.ExchangeID]core.Credential, source string, out io.Writer) report {
	r := report{StartedAt: time.Now().UTC(), Source: source}
	for _, c := range plan {
		cred, ok := creds[c.exchange]
		cr := checkResult{Name: c.name, Exchange: c.exchange}
		if c.needsCred && !ok {
			cr.Status = statusSkip
			cr.Detail = "no credentials"
			r.Checks = append(r.Checks, cr)
			fmt.Fprintf(out, "[SKIP] %s - no %s credentials\n", c.name, c.exchange.DisplayName())
			continue
		}
		start := time.Now()
		detail, err := c.fn(ctx, cred)
		cr.DurationMs = time.Since(start).Milliseconds()
		cr.Detail = detail
		cr.Kind = exchange.KindOf(err)
		if err != nil {
			cr.Status = statusFail
			cr.Detail = ""
			cr.Error = err.Error()
			fmt.Fprintf(out, "[FAIL] %s (%dms) kind=%s - %s\n", c.name, cr.DurationMs, cr.Kind, cr.Error)
		} else {
			cr.Status = statusPass
			fmt.Fprintf(out, "[PASS] %s (%dms)", c.name, cr.DurationMs)
			if cr.Detail != "" {
				fmt.Fprintf(out, " - %s", cr.Detail)
			}
			fmt.Fprintln(out)
		}
		r.Checks = append(r.Checks, cr)
	}
	r.FinishedAt = time.Now().UTC()
	return r
}

func printSummary(out io.Writer, r report) {
	var pass, fail, skip int
	for _, c := range r.Checks {
		switch c.Status {
		case statusPass:
			pass++
		case statusFail:
			fail++
		default:
			skip++
		}
	}
	fmt.Fprintf(out, "\nsummary source=%s pass=%d fail=%d skip=%d duration=%s\n",
		r.Source,
		pass,
		fail,
		skip,
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
	)
}

func writeReport(path string, r report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

type rootFlags struct {
	configPath string
	exchanges  string
	checks     string
	source     string
	userID     string
	outJSON    string
	timeoutSec int
	watch      bool
}

func newRootCmd() *cobra.Command {
	var f rootFlags
	cmd := &cobra.Command{
		Use:           "keycheck",
		Short:         "Verify exchange API credentials against the live APIs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f, cmd.OutOrStdout())
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "config yaml path (optional)")
	fl.StringVar(&f.exchanges, "exchange", "all", "exchanges to check: all | blofin | bitmart")
	fl.StringVar(&f.checks, "check", "default", "checks to run: default | all | comma list (public,connection,balances,history)")
	fl.StringVar(&f.source, "source", "env", "credential source: env | store")
	fl.StringVar(&f.userID, "user", "", "user id whose stored keys to check (source=store)")
	fl.StringVar(&f.outJSON, "out-json", "", "optional output report path")
	fl.IntVar(&f.timeoutSec, "timeout-sec", 60, "timeout seconds per round")
	fl.BoolVar(&f.watch, "watch", false, "repeat checks on the poll interval until interrupted")
	return cmd
}

func run(ctx context.Context, f rootFlags, out io.Writer) error {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)
	if err != nil {
		return err
	}
	sel, err := parseCheckFlag(f.checks)
	if err != nil {
		return err
	}
	ids, err := parseExchanges(f.exchanges)
	if err != nil {
		return err
	}
	creds, err := loadCredentials(ctx, cfg, f, ids)
	if err != nil {
		return err
	}
	client, err := app.NewClient(cfg, log, nil)
	if err != nil {
		return err
	}
	plan := buildPlan(client, ids, sel)
	timeout := time.Duration(max(f.timeoutSec, 5)) * time.Second

	round := func(ctx context.Context) (report, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		r := runChecks(ctx, plan, creds, f.source, out)
		printSummary(out, r)
		if f.outJSON != "" {
			if err := writeReport(f.outJSON, r); err != nil {
				return r, err
			}
		}
		return r, nil
	}

	if !f.watch {
		r, err := round(ctx)
		if err != nil {
			return err
		}
		if r.failed() {
			return errors.New("one or more checks failed")
		}
		return nil
	}

	p := &poller.Poller{
		Name:        "keycheck",
		Interval:    cfg.PollInterval(),
		MaxInterval: cfg.PollMaxInterval(),
		Logger:      log,
		Fetch: func(ctx context.Context) error {
			r, err := round(ctx)
			if err != nil {
				return err
			}
			if r.rateLimited() {
				return core.ErrRateLimited
			}
			return nil
		},
	}
	err = p.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func loadCredentials(ctx context.Context, cfg config.Config, f rootFlags, ids []core.ExchangeID) (map[core.ExchangeID]core.Credential, error) {
	switch f.source {
	case "env":
		return credentialsFromEnv(os.Getenv), nil
	case "store":
		if strings.TrimSpace(f.userID) == "" {
			return nil, errors.New("--user is required with --source=store")
		}
		st, err := app.OpenStore(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		defer st.Close()
		out := map[core.ExchangeID]core.Credential{}
		for _, id := range ids {
			rec, err := st.Get(ctx, f.userID, id)
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if !rec.Enabled {
				continue
			}
			out[id] = rec.Credential()
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown credential source %q", f.source)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	zerolog.DurationFieldUnit = time.Millisecond
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimSpace(err.Error()))
		stop()
		os.Exit(1)
	}
}
