package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"SIGNALD_INSTRUMENTS", "SIGNALD_PRINCIPAL", "TELEGRAM_CHAT_ID", "KAFKA_BROKERS",
	"BINANCE_BASE_URL", "REDIS_ADDR", "REDIS_PASSWORD", "SQLITE_PATH",
	"TELEGRAM_BOT_TOKEN", "ALERT_WEBHOOK_URL", "HTTP_ADDR", "LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "signald.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Instruments) != 1 {
		t.Fatalf("instruments = %+v", cfg.Instruments)
	}
	in := cfg.Instruments[0]
	if in.Symbol != "BTCUSDT" || in.Interval != "1m" || in.Principal != 10 || in.PollEvery != 10*time.Second {
		t.Errorf("instrument = %+v", in)
	}
	if cfg.Indicators.Window != 20 || cfg.Indicators.K != 2 || cfg.Indicators.Long != 26 {
		t.Errorf("indicators = %+v", cfg.Indicators)
	}
	if cfg.Risk.RiskRatio != 0.1 || cfg.Risk.StopLossFraction != 0.05 {
		t.Errorf("risk = %+v", cfg.Risk)
	}
	if cfg.Exchange.BaseURL != "https://api.binance.com" || cfg.Poller.InitialLimit != 1000 {
		t.Errorf("exchange = %+v poller = %+v", cfg.Exchange, cfg.Poller)
	}
	if cfg.SQLite.Path != "data/signals.db" || cfg.Redis.Addr != "" || cfg.Kafka.Enabled() {
		t.Errorf("backends: sqlite=%q redis=%q kafka=%v", cfg.SQLite.Path, cfg.Redis.Addr, cfg.Kafka.Brokers)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.Log.Level != "info" {
		t.Errorf("http = %+v log = %+v", cfg.HTTP, cfg.Log)
	}
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	p := writeFile(t, `
instruments:
  - symbol: eth/usdt
    interval: 5m
    principal: 50
  - symbol: btcusdt
indicators:
  window: 10
retention:
  max_bars: 500
redis:
  addr: localhost:6379
  breaker:
    max_failures: 3
sqlite:
  disabled: true
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Instruments) != 2 {
		t.Fatalf("instruments = %+v", cfg.Instruments)
	}
	eth, btc := cfg.Instruments[0], cfg.Instruments[1]
	if eth.Symbol != "ETHUSDT" || eth.Interval != "5m" || eth.Principal != 50 {
		t.Errorf("eth = %+v", eth)
	}
	if btc.Interval != "1m" || btc.Principal != 10 {
		t.Errorf("btc defaults not applied: %+v", btc)
	}
	if cfg.Indicators.Window != 10 || cfg.Indicators.Short != 12 {
		t.Errorf("indicators = %+v", cfg.Indicators)
	}
	if cfg.Retention.MaxBars != 500 || !cfg.SQLite.Disabled {
		t.Errorf("retention = %+v sqlite = %+v", cfg.Retention, cfg.SQLite)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.Breaker.MaxFailures != 3 || cfg.Redis.Breaker.ResetTimeout != 10*time.Second {
		t.Errorf("redis = %+v", cfg.Redis)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	p := writeFile(t, "instruments:\n  - symbol: SOLUSDT\nredis:\n  addr: file:6379\n")
	t.Setenv("SIGNALD_INSTRUMENTS", "btcusdt:1h, ethusdt")
	t.Setenv("SIGNALD_PRINCIPAL", "25")
	t.Setenv("REDIS_ADDR", "env:6379")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-100200")

	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Instruments) != 2 || cfg.Instruments[0].Symbol != "BTCUSDT" || cfg.Instruments[0].Interval != "1h" {
		t.Fatalf("instruments = %+v", cfg.Instruments)
	}
	if cfg.Instruments[1].Interval != "1m" || cfg.Instruments[1].Principal != 25 {
		t.Errorf("eth = %+v", cfg.Instruments[1])
	}
	if cfg.Redis.Addr != "env:6379" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Alerts.Telegram.ChatID != -100200 {
		t.Errorf("kafka = %v telegram = %+v", cfg.Kafka.Brokers, cfg.Alerts.Telegram)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]struct {
		yaml string
		env  map[string]string
		want string
	}{
		"unknown interval": {yaml: "instruments:\n  - symbol: BTCUSDT\n    interval: 7m\n", want: "Interval"},
		"duplicate symbol": {yaml: "instruments:\n  - symbol: btcusdt\n  - symbol: BTC/USDT\n", want: "twice"},
		"macd spans":       {yaml: "indicators:\n  short: 30\n", want: "short span"},
		"negative risk":    {yaml: "risk:\n  risk_ratio: -1\n", want: "RiskRatio"},
		"chat id":          {env: map[string]string{"TELEGRAM_CHAT_ID": "abc"}, want: "TELEGRAM_CHAT_ID"},
		"token without chat": {
			env:  map[string]string{"TELEGRAM_BOT_TOKEN": "123:abc"},
			want: "ChatID",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			path := ""
			if tc.yaml != "" {
				path = writeFile(t, tc.yaml)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
