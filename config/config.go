// Package config loads the daemon configuration from an optional YAML file,
// a .env file and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"crypto-signalv1/internal/api"
	"crypto-signalv1/internal/exchange/binance"
	"crypto-signalv1/internal/indicator"
	"crypto-signalv1/internal/notification"
	"crypto-signalv1/internal/poller"
	"crypto-signalv1/internal/risk"
	"crypto-signalv1/internal/series"
	"crypto-signalv1/internal/store/redis"
	"crypto-signalv1/internal/store/sqlite"
	"crypto-signalv1/internal/stream/kafka"
)

// Instrument is one symbol/interval pair to track.
type Instrument struct {
	Symbol    string        `yaml:"symbol" validate:"required"`
	Interval  string        `yaml:"interval" default:"1m" validate:"oneof=1s 1m 3m 5m 15m 30m 1h 2h 4h 6h 8h 12h 1d 3d 1w 1M"`
	Principal float64       `yaml:"principal" default:"10" validate:"gt=0"`
	PollEvery time.Duration `yaml:"poll_every" default:"10s" validate:"gte=1s"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" default:"console" validate:"oneof=console json"`
}

// DispatchConfig sizes the per-sink queues.
type DispatchConfig struct {
	BufferSize     int           `yaml:"buffer_size" default:"64" validate:"gte=1"`
	PublishTimeout time.Duration `yaml:"publish_timeout" default:"5s"`
}

// StreamConfig configures the websocket renderer.
type StreamConfig struct {
	ReplaySize int `yaml:"replay_size" default:"256" validate:"gte=0"`
}

// SQLiteConfig configures the local recorder.
type SQLiteConfig struct {
	sqlite.Config `yaml:",inline"`
	Disabled      bool `yaml:"disabled"`
}

// RedisConfig configures the snapshot publisher. An empty address disables it.
type RedisConfig struct {
	redis.Config  `yaml:",inline"`
	Breaker       redis.BreakerConfig `yaml:"breaker"`
	LivenessEvery time.Duration       `yaml:"liveness_every" default:"15s"`
}

// AlertsConfig configures operator notifications.
type AlertsConfig struct {
	Telegram   notification.TelegramConfig `yaml:"telegram"`
	WebhookURL string                      `yaml:"webhook_url" validate:"omitempty,url"`
}

// Config is the full daemon configuration.
type Config struct {
	Instruments []Instrument     `yaml:"instruments" validate:"required,min=1,dive"`
	Indicators  indicator.Params `yaml:"indicators"`
	Risk        risk.Params      `yaml:"risk"`
	Retention   series.Retention `yaml:"retention"`
	Exchange    binance.Config   `yaml:"exchange"`
	Poller      poller.Config    `yaml:"poller"`
	Dispatch    DispatchConfig   `yaml:"dispatch"`
	Stream      StreamConfig     `yaml:"stream"`
	SQLite      SQLiteConfig     `yaml:"sqlite"`
	Redis       RedisConfig      `yaml:"redis"`
	Kafka       kafka.Config     `yaml:"kafka"`
	Alerts      AlertsConfig     `yaml:"alerts"`
	HTTP        api.Config       `yaml:"http"`
	Log         LogConfig        `yaml:"log"`
}

var validate = validator.New()

// Load reads path (if non-empty), then .env, then the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("config: .env not loaded")
	}

	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}
	for i := range cfg.Instruments {
		cfg.Instruments[i].Symbol = binance.NormalizeSymbol(cfg.Instruments[i].Symbol)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Indicators.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	seen := make(map[string]bool, len(c.Instruments))
	for _, in := range c.Instruments {
		if seen[in.Symbol] {
			return fmt.Errorf("config: instrument %s listed twice", in.Symbol)
		}
		seen[in.Symbol] = true
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("SIGNALD_INSTRUMENTS"); v != "" {
		ins, err := parseInstruments(v)
		if err != nil {
			return err
		}
		cfg.Instruments = ins
	}
	if len(cfg.Instruments) == 0 {
		cfg.Instruments = []Instrument{{Symbol: "BTCUSDT"}}
	}
	if v := os.Getenv("SIGNALD_PRINCIPAL"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: SIGNALD_PRINCIPAL: %w", err)
		}
		for i := range cfg.Instruments {
			cfg.Instruments[i].Principal = p
		}
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Alerts.Telegram.ChatID = id
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}

	setString(&cfg.Exchange.BaseURL, "BINANCE_BASE_URL")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.SQLite.Path, "SQLITE_PATH")
	setString(&cfg.Alerts.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&cfg.Alerts.WebhookURL, "ALERT_WEBHOOK_URL")
	setString(&cfg.HTTP.Addr, "HTTP_ADDR")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	return nil
}

// parseInstruments parses "BTCUSDT:1m,ETHUSDT" (interval optional).
func parseInstruments(v string) ([]Instrument, error) {
	var out []Instrument
	for _, item := range splitList(v) {
		sym, interval, _ := strings.Cut(item, ":")
		if sym == "" {
			return nil, fmt.Errorf("config: SIGNALD_INSTRUMENTS: empty symbol in %q", item)
		}
		out = append(out, Instrument{Symbol: sym, Interval: interval})
	}
	return out, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
