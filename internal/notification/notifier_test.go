package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"crypto-signalv1/internal/model"
)

type captureNotifier struct {
	alerts []Alert
	err    error
}

func (c *captureNotifier) Send(_ context.Context, a Alert) error {
	c.alerts = append(c.alerts, a)
	return c.err
}

func cycleWith(sig model.Signal, price float64) model.Cycle {
	return model.Cycle{
		Symbol:        "BTCUSDT",
		Interval:      "1m",
		Rows:          []model.Row{{Timestamp: 1, Close: price}},
		Signal:        sig,
		SignalDefined: true,
		Leverage:      &model.LeverageSuggestion{Multiple: 2},
		Price:         price,
		Reason:        "ma_cross_up+macd_cross_up",
	}
}

func TestAlerter_AlertsOnChangeOnly(t *testing.T) {
	n := &captureNotifier{}
	a := NewAlerter(n)
	ctx := context.Background()

	for _, c := range []model.Cycle{
		cycleWith(model.SignalSell, 100), // seeds
		cycleWith(model.SignalSell, 99),  // unchanged
		cycleWith(model.SignalBuy, 64250.5),
		{Symbol: "BTCUSDT", Interval: "1m"}, // undefined, ignored
	} {
		if err := a.Publish(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	if len(n.alerts) != 1 {
		t.Fatalf("alerts = %+v, want 1", n.alerts)
	}
	got := n.alerts[0]
	if got.Level != AlertWarning || got.Title != "BTCUSDT 1m: buy" {
		t.Errorf("alert = %+v", got)
	}
	if !strings.Contains(got.Message, "sell -> buy at 64250.5") || !strings.Contains(got.Message, "2.00x") {
		t.Errorf("message = %q", got.Message)
	}
}

func TestRejectedAlert(t *testing.T) {
	a := RejectedAlert("ETHUSDT", errors.New("timestamps not increasing at 3"))
	if a.Level != AlertCritical || a.Symbol != "ETHUSDT" || !strings.Contains(a.Message, "not increasing") {
		t.Errorf("alert = %+v", a)
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &captureNotifier{}
	bad := &captureNotifier{err: errors.New("down")}
	err := Multi{ok, bad, NewLogNotifier()}.Send(context.Background(), Alert{Title: "x"})
	if err == nil || len(ok.alerts) != 1 || len(bad.alerts) != 1 {
		t.Errorf("err = %v ok = %d bad = %d", err, len(ok.alerts), len(bad.alerts))
	}
}

func webhookServer(t *testing.T, status int, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("request %s %q", r.Method, r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		if got != nil {
			json.Unmarshal(body, got)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebhook_PostsJSON(t *testing.T) {
	var got map[string]any
	srv := webhookServer(t, http.StatusNoContent, &got)

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Level: AlertCritical, Title: "t", Message: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if got["level"] != "CRITICAL" || got["title"] != "t" || got["ts"] == nil {
		t.Errorf("payload = %v", got)
	}
	if _, ok := got["signal"]; ok {
		t.Errorf("plain alert carries signal fields: %v", got)
	}
}

func TestWebhook_SignalPayload(t *testing.T) {
	var got map[string]any
	srv := webhookServer(t, http.StatusOK, &got)
	n := NewWebhookNotifier(srv.URL)
	n.now = func() time.Time { return time.UnixMilli(1_700_000_060_000) }

	info := model.SignalInfo{
		Symbol: "BTCUSDT", Interval: "1m", TS: 1_700_000_000_000,
		Signal: model.SignalBuy, Leverage: 2.5, Price: 42000.5, Reason: "macd crossed up",
	}
	if err := n.Send(context.Background(), SignalAlert(info, model.SignalHold)); err != nil {
		t.Fatal(err)
	}

	want := map[string]any{
		"level":    "WARNING",
		"symbol":   "BTCUSDT",
		"interval": "1m",
		"signal":   "buy",
		"leverage": "2.50",
		"price":    "42000.5",
		"bar_ts":   float64(1_700_000_000_000),
		"ts":       float64(1_700_000_060_000),
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
	if title, _ := got["title"].(string); title != "BTCUSDT 1m: buy" {
		t.Errorf("title = %q", title)
	}
}

func TestWebhook_Non2xx(t *testing.T) {
	srv := webhookServer(t, http.StatusBadGateway, nil)
	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{}); err == nil {
		t.Fatal("expected error for 502")
	}
}

func TestWebhook_CancelledContext(t *testing.T) {
	srv := webhookServer(t, http.StatusOK, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewWebhookNotifier(srv.URL).Send(ctx, Alert{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

type fakeBot struct {
	sent []tgbotapi.MessageConfig
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.sent = append(b.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestTelegram_EscapesMarkdown(t *testing.T) {
	bot := &fakeBot{}
	n := newTelegram(bot, 42)
	if err := n.Send(context.Background(), Alert{Level: AlertCritical, Title: "BTC.USDT", Message: "a-b"}); err != nil {
		t.Fatal(err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent = %d", len(bot.sent))
	}
	m := bot.sent[0]
	if m.ChatID != 42 || m.ParseMode != tgbotapi.ModeMarkdownV2 {
		t.Errorf("message = %+v", m)
	}
	if !strings.Contains(m.Text, `BTC\.USDT`) || !strings.Contains(m.Text, `a\-b`) {
		t.Errorf("text not escaped: %q", m.Text)
	}
}
