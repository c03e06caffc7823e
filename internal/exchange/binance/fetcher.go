// Package binance fetches OHLCV klines from the Binance REST API.
package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"crypto-signalv1/internal/model"
)

// MaxLimit is the largest page the klines endpoint serves.
const MaxLimit = 1000

// ErrMalformed is returned when the response body is not a kline array.
var ErrMalformed = errors.New("binance: malformed klines response")

// Config configures the kline fetcher.
type Config struct {
	BaseURL         string        `yaml:"base_url" default:"https://api.binance.com" validate:"required,url"`
	Timeout         time.Duration `yaml:"timeout" default:"10s"`
	RequestsPerSec  int           `yaml:"requests_per_sec" default:"5" validate:"gte=1"`
	MaxRetryElapsed time.Duration `yaml:"max_retry_elapsed" default:"30s"`
}

// FetchError is a non-200 answer from the exchange.
type FetchError struct {
	StatusCode int
	Body       string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("binance: status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed when repeated.
func (e *FetchError) Retryable() bool {
	return e.StatusCode == fasthttp.StatusTooManyRequests || e.StatusCode >= 500
}

// Fetcher implements model.Fetcher against /api/v3/klines.
type Fetcher struct {
	cfg     Config
	client  *fasthttp.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithClient replaces the HTTP client, e.g. to dial an in-memory listener.
func WithClient(c *fasthttp.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// NewFetcher creates a rate-limited fetcher.
func NewFetcher(cfg Config, opts ...Option) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSec == 0 {
		cfg.RequestsPerSec = 5
	}
	if cfg.MaxRetryElapsed == 0 {
		cfg.MaxRetryElapsed = 30 * time.Second
	}
	f := &Fetcher{
		cfg: cfg,
		client: &fasthttp.Client{
			Name:         "crypto-signal",
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.RequestsPerSec),
		logger:  log.With().Str("component", "binance").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch implements model.Fetcher. When since is set, startTime is passed so
// the bar still forming at since is returned again with its latest values.
func (f *Fetcher) Fetch(ctx context.Context, symbol, interval string, since *time.Time, limit int) ([]model.Bar, error) {
	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(strings.TrimRight(f.cfg.BaseURL, "/") + "/api/v3/klines")
	req.Header.SetMethod(fasthttp.MethodGet)
	args := req.URI().QueryArgs()
	args.Set("symbol", NormalizeSymbol(symbol))
	args.Set("interval", interval)
	args.Set("limit", strconv.Itoa(limit))
	if since != nil {
		args.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}

	var body []byte
	operation := func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		resp.Reset()
		if err := f.client.DoTimeout(req, resp, f.cfg.Timeout); err != nil {
			return err
		}
		if code := resp.StatusCode(); code != fasthttp.StatusOK {
			fe := &FetchError{StatusCode: code, Body: truncate(string(resp.Body()), 256)}
			if !fe.Retryable() {
				return backoff.Permanent(fe)
			}
			return fe
		}
		body = append(body[:0], resp.Body()...)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = f.cfg.MaxRetryElapsed
	notify := func(err error, wait time.Duration) {
		f.logger.Warn().Err(err).Str("symbol", symbol).Dur("retry_in", wait).Msg("kline fetch failed, retrying")
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", symbol, interval, err)
	}

	bars, err := ParseKlines(body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", symbol, interval, err)
	}
	return bars, nil
}

// ParseKlines decodes the klines array:
// [[openTime, "open", "high", "low", "close", "volume", closeTime, ...], ...].
// Rows are returned in the order received; ordering is validated downstream.
func ParseKlines(body []byte) ([]model.Bar, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrMalformed
	}
	result := gjson.ParseBytes(body)
	if !result.IsArray() {
		return nil, ErrMalformed
	}

	rows := result.Array()
	bars := make([]model.Bar, 0, len(rows))
	for i, v := range rows {
		row := v.Array()
		if len(row) < 6 {
			return nil, fmt.Errorf("%w: row %d has %d fields", ErrMalformed, i, len(row))
		}
		if row[0].Type != gjson.Number {
			return nil, fmt.Errorf("%w: row %d: open time %s", ErrMalformed, i, row[0].Type)
		}
		var f [5]float64
		for k := range f {
			v, err := parseNumber(row[k+1])
			if err != nil {
				return nil, fmt.Errorf("%w: row %d field %d: %v", ErrMalformed, i, k+1, err)
			}
			f[k] = v
		}
		bars = append(bars, model.NewBar(row[0].Int(), f[0], f[1], f[2], f[3], f[4]))
	}
	return bars, nil
}

// parseNumber accepts a quoted decimal, as Binance sends prices, or a bare number.
func parseNumber(v gjson.Result) (float64, error) {
	switch v.Type {
	case gjson.String:
		return strconv.ParseFloat(v.Str, 64)
	case gjson.Number:
		return v.Num, nil
	default:
		return 0, fmt.Errorf("unexpected %s", v.Type)
	}
}

// NormalizeSymbol turns "btc/usdt" or "BTC-USDT" into "BTCUSDT".
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(s)
	return strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
