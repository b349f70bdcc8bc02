package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"exchange-dashboard/internal/app"
	"exchange-dashboard/internal/config"
	"exchange-dashboard/internal/core"
	"exchange-dashboard/internal/exchange"
	"exchange-dashboard/internal/exchange/blofin"
	"exchange-dashboard/internal/lockfile"
	"exchange-dashboard/internal/logging"
	"exchange-dashboard/internal/poller"
)

const (
	defaultOutDir    = "data/blofin"
	defaultPageLimit = 1440
	maxFetchAttempts = 5
	retryBase        = 500 * time.Millisecond
	retryMax         = 30 * time.Second
)

type candleLine struct {
	Time      string       `json:"time"`
	Timestamp int64        `json:"timestamp"`
	InstID    string       `json:"instId"`
	Bar       string       `json:"bar"`
	Open      core.Decimal `json:"open"`
	High      core.Decimal `json:"high"`
	Low       core.Decimal `json:"low"`
	Close     core.Decimal `json:"close"`
	Volume    core.Decimal `json:"volume"`
	Confirmed bool         `json:"confirmed"`
}

type candleSource interface {
	Candles(ctx context.Context, q blofin.CandlesQuery) ([]blofin.Candle, error)
}

type dateWriter struct {
	root        string
	currentDate string
	currentFile *os.File
}

func newDateWriter(root string) (*dateWriter, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &dateWriter{root: root}, nil
}

func (w *dateWriter) write(date string, line []byte) error {
	if err := w.rotate(date); err != nil {
		return err
	}
	_, err := w.currentFile.Write(append(line, '\n'))
	return err
}

func (w *dateWriter) rotate(date string) error {
	if date == w.currentDate && w.currentFile != nil {
		return nil
	}
	if err := w.close(); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(w.root, date+".jsonl"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w.currentFile = f
	w.currentDate = date
	return nil
}

func (w *dateWriter) close() error {
	if w == nil || w.currentFile == nil {
		return nil
	}
	f := w.currentFile
	w.currentFile = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// dayBuffer holds one UTC day of candles. Pages arrive newest first, so a
// day is only complete once an older day shows up.
type dayBuffer struct {
	date    string
	candles []blofin.Candle
}

func (b *dayBuffer) flush(w *dateWriter, instID, bar string) (int, error) {
	if len(b.candles) == 0 {
		return 0, nil
	}
	sort.Slice(b.candles, func(i, j int) bool { return b.candles[i].Timestamp < b.candles[j].Timestamp })
	written := 0
	var last core.Millis = -1
	for _, c := range b.candles {
		if c.Timestamp == last {
			continue
		}
		last = c.Timestamp
		ts := c.Timestamp.Time()
		encoded, err := json.Marshal(candleLine{
			Time:      ts.Format(time.RFC3339),
			Timestamp: int64(c.Timestamp),
			InstID:    instID,
			Bar:       bar,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			Confirmed: c.Confirmed,
		})
		if err != nil {
			return written, err
		}
		if err := w.write(b.date, encoded); err != nil {
			return written, err
		}
		written++
	}
	b.candles = b.candles[:0]
	return written, nil
}

type fetchOptions struct {
	InstID    string
	Bar       string
	Start     time.Time
	End       time.Time
	PageLimit int
	Pause     time.Duration
}

type fetchStats struct {
	Records  int
	Requests int
}

// fetchRange walks the window from End back to Start. Candles are written in
// ascending order per day file.
func fetchRange(ctx context.Context, src candleSource, w *dateWriter, opts fetchOptions, log zerolog.Logger) (fetchStats, error) {
	var stats fetchStats
	startMs := opts.Start.UnixMilli()
	cursor := opts.End.UnixMilli()
	buf := &dayBuffer{}

	for cursor > startMs {
		batch, err := fetchPage(ctx, src, blofin.CandlesQuery{
			InstID: opts.InstID,
			Bar:    opts.Bar,
			After:  strconv.FormatInt(cursor, 10),
			Limit:  opts.PageLimit,
		}, log)
		if err != nil {
			return stats, err
		}
		stats.Requests++
		if len(batch) == 0 {
			break
		}
		oldest := cursor
		for _, c := range batch {
			ts := int64(c.Timestamp)
			if ts < oldest {
				oldest = ts
			}
			if ts < startMs || ts >= opts.End.UnixMilli() {
				continue
			}
			date := c.Timestamp.Time().Format("2006-01-02")
			if buf.date != date {
				n, err := buf.flush(w, opts.InstID, opts.Bar)
				stats.Records += n
				if err != nil {
					return stats, err
				}
				buf.date = date
			}
			buf.candles = append(buf.candles, c)
		}
		if oldest >= cursor {
			break
		}
		cursor = oldest
		if stats.Requests%20 == 0 {
			log.Info().Int("requests", stats.Requests).Int("records", stats.Records).
				Time("cursor", time.UnixMilli(cursor).UTC()).Msg("progress")
		}
		if opts.Pause > 0 {
			if err := pause(ctx, opts.Pause); err != nil {
				return stats, err
			}
		}
	}
	n, err := buf.flush(w, opts.InstID, opts.Bar)
	stats.Records += n
	return stats, err
}

// fetchPage retries rate limits and transport failures with the same
// exponential schedule the poller uses.
func fetchPage(ctx context.Context, src candleSource, q blofin.CandlesQuery, log zerolog.Logger) ([]blofin.Candle, error) {
	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		batch, err := src.Candles(ctx, q)
		if err == nil {
			return batch, nil
		}
		kind := exchange.KindOf(err)
		if kind != exchange.KindRateLimited && kind != exchange.KindTransport {
			return nil, err
		}
		lastErr = err
		delay := poller.NextDelay(retryBase, retryMax, attempt)
		log.Warn().Err(err).Str("kind", string(kind)).Int("attempt", attempt+1).Dur("delay", delay).Msg("candles fetch retry")
		if err := pause(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("fetch candles after %d attempts: %w", maxFetchAttempts, lastErr)
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func resolveWindow(now time.Time, months int, startRaw, endRaw string) (time.Time, time.Time, error) {
	startRaw = strings.TrimSpace(startRaw)
	endRaw = strings.TrimSpace(endRaw)
	if startRaw == "" && endRaw == "" {
		if months < 1 {
			return time.Time{}, time.Time{}, errors.New("months must be >= 1")
		}
		end := now.UTC()
		return end.AddDate(0, -months, 0), end, nil
	}
	if startRaw == "" || endRaw == "" {
		return time.Time{}, time.Time{}, errors.New("start and end must be provided together")
	}
	start, startDateOnly, err := parseRangeTime(startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
	}
	end, endDateOnly, err := parseRangeTime(endRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
	}
	if startDateOnly {
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	}
	if endDateOnly {
		end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, errors.New("end must be after start")
	}
	return start.UTC(), end.UTC(), nil
}

func parseRangeTime(raw string) (time.Time, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false, errors.New("empty")
	}
	if len(raw) == len("2006-01-02") {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, false, err
		}
		return t, true, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), false, nil
		}
	}
	return time.Time{}, false, errors.New("unsupported time format")
}

type rootFlags struct {
	configPath string
	instID     string
	bar        string
	months     int
	start      string
	end        string
	outDir     string
	pageLimit  int
	pauseMs    int
	takeover   bool
}

func newRootCmd() *cobra.Command {
	var f rootFlags
	cmd := &cobra.Command{
		Use:           "marketdata",
		Short:         "Download Blofin candles into daily JSONL files",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "config yaml path (optional)")
	fl.StringVar(&f.instID, "inst-id", "BTC-USDT", "instrument id, e.g. BTC-USDT")
	fl.StringVar(&f.bar, "bar", "1m", "candle bar, e.g. 1m/5m/1H/1D")
	fl.IntVar(&f.months, "months", 1, "how many months to fetch back from now")
	fl.StringVar(&f.start, "start", "", "start time (YYYY-MM-DD or RFC3339, UTC)")
	fl.StringVar(&f.end, "end", "", "end time (YYYY-MM-DD or RFC3339, UTC), inclusive for date")
	fl.StringVar(&f.outDir, "out-dir", defaultOutDir, "output root dir")
	fl.IntVar(&f.pageLimit, "page-limit", defaultPageLimit, "candles per request")
	fl.IntVar(&f.pauseMs, "pause-ms", 120, "pause between requests in milliseconds")
	fl.BoolVar(&f.takeover, "lock-takeover", true, "replace a lock left by a dead process")
	return cmd
}

func run(ctx context.Context, f rootFlags) error {
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

	instID := strings.ToUpper(strings.TrimSpace(f.instID))
	bar := strings.TrimSpace(f.bar)
	if instID == "" || bar == "" {
		return errors.New("inst-id and bar are required")
	}
	start, end, err := resolveWindow(time.Now(), f.months, f.start, f.end)
	if err != nil {
		return err
	}

	targetDir := filepath.Join(f.outDir, instID, bar)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return err
	}
	lock, err := lockfile.Acquire(targetDir, lockfile.Options{Owner: "marketdata", Takeover: f.takeover, StaleAfter: 6 * time.Hour})
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn().Err(err).Msg("release lock failed")
		}
	}()

	writer, err := newDateWriter(targetDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := writer.close(); err != nil {
			log.Warn().Err(err).Msg("close writer failed")
		}
	}()

	client, err := app.NewClient(cfg, log, nil)
	if err != nil {
		return err
	}
	log.Info().Str("inst_id", instID).Str("bar", bar).Time("from", start).Time("to", end).Msg("fetching candles")
	stats, err := fetchRange(ctx, blofin.New(client), writer, fetchOptions{
		InstID:    instID,
		Bar:       bar,
		Start:     start,
		End:       end,
		PageLimit: f.pageLimit,
		Pause:     time.Duration(f.pauseMs) * time.Millisecond,
	}, log)
	if err != nil {
		return err
	}
	log.Info().Int("records", stats.Records).Int("requests", stats.Requests).Str("output", targetDir).Msg("done")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
