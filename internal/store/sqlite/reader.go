package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"crypto-signalv1/internal/model"
)

// ReadBars returns the newest limit bars of an instrument in ascending time
// order, used to warm-start a tracker before the first exchange poll.
func (r *Recorder) ReadBars(ctx context.Context, symbol, interval string, limit int) ([]model.Bar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM (
			SELECT ts, open, high, low, close, volume
			FROM bars
			WHERE symbol = ? AND interval = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var ts int64
		var o, h, l, c, v float64
		if err := rows.Scan(&ts, &o, &h, &l, &c, &v); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		bars = append(bars, model.NewBar(ts, o, h, l, c, v))
	}
	return bars, rows.Err()
}

// ReadRows returns stored rows with ts >= fromTS in ascending order.
func (r *Recorder) ReadRows(ctx context.Context, symbol, interval string, fromTS int64) ([]model.Row, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume, ma, upper_band, lower_band, macd, signal_line, macd_hist
		FROM bars
		WHERE symbol = ? AND interval = ? AND ts >= ?
		ORDER BY ts ASC
	`, symbol, interval, fromTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query rows: %w", err)
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		var row model.Row
		var ma, up, lo, macd, sig, hist sql.NullFloat64
		if err := rows.Scan(&row.Timestamp, &row.Open, &row.High, &row.Low, &row.Close, &row.Volume,
			&ma, &up, &lo, &macd, &sig, &hist); err != nil {
			return nil, fmt.Errorf("sqlite scan rows: %w", err)
		}
		row.MA, row.UpperBand, row.LowerBand = ptr(ma), ptr(up), ptr(lo)
		row.MACD, row.SignalLine, row.MACDHist = ptr(macd), ptr(sig), ptr(hist)
		out = append(out, row)
	}
	return out, rows.Err()
}

// ReadSignals returns the newest limit signal records for symbol, newest first.
func (r *Recorder) ReadSignals(ctx context.Context, symbol string, limit int) ([]model.SignalInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, interval, ts, signal, leverage, price, reason, created_at
		FROM signals
		WHERE symbol = ?
		ORDER BY id DESC
		LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	var out []model.SignalInfo
	for rows.Next() {
		var s model.SignalInfo
		var name string
		var reason sql.NullString
		var createdMs int64
		if err := rows.Scan(&s.Symbol, &s.Interval, &s.TS, &name, &s.Leverage, &s.Price, &reason, &createdMs); err != nil {
			return nil, fmt.Errorf("sqlite scan signals: %w", err)
		}
		if s.Signal, err = model.ParseSignal(name); err != nil {
			return nil, err
		}
		s.Reason = reason.String
		s.At = time.UnixMilli(createdMs).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

func ptr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
