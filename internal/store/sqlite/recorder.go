package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"crypto-signalv1/internal/model"
)

// Config configures the SQLite recorder.
type Config struct {
	Path string `yaml:"path" default:"data/signals.db"` // path to SQLite database file
}

// Recorder persists bars, indicator rows and the signal log. It is a
// model.Sink: every cycle upserts its stale rows in one transaction.
type Recorder struct {
	db       *sql.DB
	logger   zerolog.Logger
	observer func(time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (r *Recorder) DB() *sql.DB { return r.db }

// Open creates a Recorder, initializing the database with WAL mode and schema.
func Open(cfg Config) (*Recorder, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite open: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer; readers share the same connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	logger := log.With().Str("component", "sqlite").Logger()
	logger.Info().Str("path", cfg.Path).Msg("opened database")
	return &Recorder{db: db, logger: logger}, nil
}

// ObserveCommit registers a callback receiving each commit's duration.
func (r *Recorder) ObserveCommit(fn func(time.Duration)) { r.observer = fn }

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol      TEXT    NOT NULL,
			interval    TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			open        REAL    NOT NULL,
			high        REAL    NOT NULL,
			low         REAL    NOT NULL,
			close       REAL    NOT NULL,
			volume      REAL    NOT NULL,
			ma          REAL,
			upper_band  REAL,
			lower_band  REAL,
			macd        REAL,
			signal_line REAL,
			macd_hist   REAL,
			PRIMARY KEY (symbol, interval, ts)
		);

		CREATE TABLE IF NOT EXISTS signals (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT    NOT NULL,
			interval   TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			signal     TEXT    NOT NULL,
			leverage   REAL    NOT NULL,
			price      REAL    NOT NULL,
			reason     TEXT,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals (symbol, id);
	`)
	return err
}

// Name implements model.Sink.
func (r *Recorder) Name() string { return "sqlite" }

// Publish implements model.Sink.
func (r *Recorder) Publish(ctx context.Context, c model.Cycle) error {
	rows := c.StaleRows()
	info, hasSignal := c.Info()
	if len(rows) == 0 && !hasSignal {
		return nil
	}

	start := time.Now()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := upsertRows(ctx, tx, c.Symbol, c.Interval, rows); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite upsert bars: %w", err)
	}
	if hasSignal {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO signals (symbol, interval, ts, signal, leverage, price, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, info.Symbol, info.Interval, info.TS, info.Signal.String(), info.Leverage, info.Price, info.Reason, info.At.UnixMilli()); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert signal: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	d := time.Since(start)
	if r.observer != nil {
		r.observer(d)
	}
	r.logger.Debug().Str("symbol", c.Symbol).Int("rows", len(rows)).Dur("took", d).Msg("committed")
	return nil
}

func upsertRows(ctx context.Context, tx *sql.Tx, symbol, interval string, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars
			(symbol, interval, ts, open, high, low, close, volume, ma, upper_band, lower_band, macd, signal_line, macd_hist)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		// nil pointers bind as NULL so warm-up rows stay undefined.
		if _, err := stmt.ExecContext(ctx, symbol, interval, row.Timestamp,
			row.Open, row.High, row.Low, row.Close, row.Volume,
			row.MA, row.UpperBand, row.LowerBand, row.MACD, row.SignalLine, row.MACDHist,
		); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (r *Recorder) Close() error {
	return r.db.Close()
}
