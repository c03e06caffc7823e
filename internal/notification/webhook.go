package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"
)

const webhookTimeout = 10 * time.Second

// webhookPayload is the body POSTed for every alert. The signal fields are
// empty for alerts that do not carry a signal change.
type webhookPayload struct {
	Level    AlertLevel `json:"level"`
	Title    string     `json:"title"`
	Message  string     `json:"message"`
	Symbol   string     `json:"symbol,omitempty"`
	Interval string     `json:"interval,omitempty"`
	Signal   string     `json:"signal,omitempty"`
	Leverage string     `json:"leverage,omitempty"`
	Price    string     `json:"price,omitempty"`
	BarTS    int64      `json:"bar_ts,omitempty"`
	TS       int64      `json:"ts"` // unix ms at send time
}

func newWebhookPayload(a Alert, now time.Time) webhookPayload {
	p := webhookPayload{
		Level:   a.Level,
		Title:   a.Title,
		Message: a.Message,
		Symbol:  a.Symbol,
		TS:      now.UnixMilli(),
	}
	if info := a.Signal; info != nil {
		p.Interval = info.Interval
		p.Signal = info.Signal.String()
		p.Leverage = decimal.NewFromFloat(info.Leverage).StringFixed(2)
		p.Price = decimal.NewFromFloat(info.Price).String()
		p.BarTS = info.TS
	}
	return p
}

// WebhookNotifier POSTs alerts as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *fasthttp.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &fasthttp.Client{Name: "signald", WriteTimeout: webhookTimeout, ReadTimeout: webhookTimeout},
		logger: log.With().Str("component", "webhook").Logger(),
		now:    time.Now,
	}
}

// Send implements Notifier. The request is bounded by the context deadline
// when it is shorter than the default timeout.
func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(newWebhookPayload(alert, w.now()))
	if err != nil {
		return fmt.Errorf("webhook: encode: %w", err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(w.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	timeout := webhookTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(dl))
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}

	start := time.Now()
	if err := w.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	code := resp.StatusCode()
	if code < 200 || code >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", code)
	}
	w.logger.Debug().
		Str("alert_level", string(alert.Level)).
		Str("symbol", alert.Symbol).
		Int("status", code).
		Dur("took", time.Since(start)).
		Msg("alert delivered")
	return nil
}
