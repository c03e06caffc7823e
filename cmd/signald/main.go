package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"crypto-signalv1/config"
	"crypto-signalv1/internal/api"
	"crypto-signalv1/internal/bus"
	"crypto-signalv1/internal/exchange/binance"
	"crypto-signalv1/internal/gateway"
	"crypto-signalv1/internal/logger"
	"crypto-signalv1/internal/metrics"
	"crypto-signalv1/internal/model"
	"crypto-signalv1/internal/notification"
	"crypto-signalv1/internal/poller"
	redisstore "crypto-signalv1/internal/store/redis"
	"crypto-signalv1/internal/store/sqlite"
	kafkastream "crypto-signalv1/internal/stream/kafka"
	"crypto-signalv1/internal/tracker"
)

func main() {
	configPath := flag.String("config", os.Getenv("SIGNALD_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if _, err := logger.Init("signald", cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatal().Err(err).Msg("init logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("signald exited")
	}
	log.Info().Msg("shutdown complete")
}

func run(parent context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()

	registry := tracker.NewRegistry()
	for _, in := range cfg.Instruments {
		tr, err := tracker.New(tracker.Config{
			Symbol:     in.Symbol,
			Interval:   in.Interval,
			Principal:  in.Principal,
			Indicators: cfg.Indicators,
			Risk:       cfg.Risk,
			Retention:  cfg.Retention,
		}, tracker.WithClock(model.SystemClock{Interval: in.PollEvery}))
		if err != nil {
			return err
		}
		registry.Add(tr)
	}
	health.SetInstruments(registry.Symbols())

	alerts := notification.Multi{notification.NewLogNotifier()}
	if cfg.Alerts.Telegram.BotToken != "" {
		tg, err := notification.NewTelegramNotifier(cfg.Alerts.Telegram)
		if err != nil {
			return err
		}
		alerts = append(alerts, tg)
	}
	if cfg.Alerts.WebhookURL != "" {
		alerts = append(alerts, notification.NewWebhookNotifier(cfg.Alerts.WebhookURL))
	}

	dispatcher := bus.New(cfg.Dispatch.BufferSize, cfg.Dispatch.PublishTimeout)
	dispatcher.OnDrop = func(sink string) { m.SinkDropsTotal.WithLabelValues(sink).Inc() }
	dispatcher.OnPublished = func(sink string, d time.Duration) {
		m.SinkPublishDur.WithLabelValues(sink).Observe(d.Seconds())
	}
	dispatcher.OnError = func(sink string, _ error) { m.SinkErrorsTotal.WithLabelValues(sink).Inc() }

	hub := gateway.NewHub(
		gateway.WithReplaySize(cfg.Stream.ReplaySize),
		gateway.WithClientsGauge(m.WSClients),
	)
	defer hub.Close()
	dispatcher.Subscribe(hub)
	dispatcher.Subscribe(notification.NewAlerter(alerts))

	var (
		signals  api.SignalStore
		recorder *sqlite.Recorder
	)
	if !cfg.SQLite.Disabled {
		rec, err := sqlite.Open(cfg.SQLite.Config)
		if err != nil {
			return err
		}
		defer rec.Close()
		rec.ObserveCommit(func(d time.Duration) { m.SQLiteCommitDur.Observe(d.Seconds()) })
		dispatcher.Subscribe(rec)
		recorder, signals = rec, rec
		health.SQLiteEnabled = true
		health.SQLiteOK = true
	}

	var rdb *goredis.Client
	if cfg.Redis.Addr != "" {
		client, err := redisstore.Connect(ctx, cfg.Redis.Config)
		if err != nil {
			return err
		}
		cb := redisstore.NewCircuitBreaker(cfg.Redis.Breaker)
		cb.OnStateChange = func(from, to redisstore.State) {
			m.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				m.RedisCircuitBreakerTrips.Inc()
			}
			log.Warn().Str("component", "redis").Stringer("from", from).Stringer("to", to).Msg("circuit breaker")
		}
		pub := redisstore.NewPublisher(client, cb)
		defer pub.Close()
		pub.OnWrite = func(d time.Duration) { m.RedisWriteDur.Observe(d.Seconds()) }
		dispatcher.Subscribe(pub)
		if signals == nil {
			signals = redisstore.NewReader(client)
		}
		rdb = client
		health.RedisEnabled = true
		health.RedisConnected = true
	}

	if cfg.Kafka.Enabled() {
		prod, err := kafkastream.NewProducer(cfg.Kafka)
		if err != nil {
			return err
		}
		defer prod.Close()
		dispatcher.Subscribe(prod)
	}

	prometheus.MustRegister(metrics.NewQueueCollector(func() map[string]int {
		out := make(map[string]int)
		for _, st := range dispatcher.ChannelStats() {
			out[st.Sink] = st.Len
		}
		return out
	}))

	p := poller.New(cfg.Poller, binance.NewFetcher(cfg.Exchange), dispatcher, alerts, m, health)
	for _, in := range cfg.Instruments {
		tr, _ := registry.Get(in.Symbol)
		if recorder != nil {
			if err := warmStart(ctx, p, recorder, tr, cfg); err != nil {
				return err
			}
		}
		if err := p.Register(tr, in.PollEvery); err != nil {
			return err
		}
	}

	var sqlDB *sql.DB
	if recorder != nil {
		sqlDB = recorder.DB()
	}
	health.StartLivenessChecker(ctx, rdb, sqlDB, cfg.Redis.LivenessEvery)
	dispatcher.Run(ctx)

	srv := api.NewServer(cfg.HTTP, api.NewHandler(registry, signals),
		api.WithHealth(health),
		api.WithMetrics(prometheus.DefaultGatherer),
		api.WithStream(hub),
	)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()

	log.Info().
		Strs("instruments", registry.Symbols()).
		Strs("sinks", dispatcher.Sinks()).
		Msg("signald started")
	p.Start(ctx)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil {
			runErr = err
		}
	}

	log.Info().Msg("shutting down")
	p.Stop()
	if err := srv.Stop(context.Background()); err != nil {
		runErr = errors.Join(runErr, err)
	}
	cancel()
	dispatcher.Wait()
	return runErr
}

// warmStart seeds tr from the bars recorded by a previous run.
func warmStart(ctx context.Context, p *poller.Poller, rec *sqlite.Recorder, tr *tracker.Tracker, cfg *config.Config) error {
	tc := tr.Config()
	limit := cfg.Poller.InitialLimit
	if cfg.Retention.MaxBars > 0 {
		limit = cfg.Retention.MaxBars
	}
	bars, err := rec.ReadBars(ctx, tc.Symbol, tc.Interval, limit)
	if err != nil {
		return err
	}
	if err := p.Seed(tr, bars); err != nil {
		return err
	}
	log.Info().Str("symbol", tc.Symbol).Int("bars", len(bars)).Msg("warm start")
	return nil
}
