// Package api serves read-only HTTP views over the live instruments.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"crypto-signalv1/internal/model"
	"crypto-signalv1/internal/tracker"
)

// SignalStore returns recorded signals, newest first.
type SignalStore interface {
	ReadSignals(ctx context.Context, symbol string, limit int) ([]model.SignalInfo, error)
}

// RowStore returns recorded rows in ascending time order. Stores that
// implement it alongside SignalStore also serve the rows route.
type RowStore interface {
	ReadRows(ctx context.Context, symbol, interval string, fromTS int64) ([]model.Row, error)
}

// Handler implements the /api/v1 routes.
type Handler struct {
	registry *tracker.Registry
	signals  SignalStore
	logger   zerolog.Logger
}

// NewHandler creates a handler. signals may be nil when no store is
// configured; the history route then answers 503.
func NewHandler(registry *tracker.Registry, signals SignalStore) *Handler {
	return &Handler{
		registry: registry,
		signals:  signals,
		logger:   log.With().Str("component", "api").Logger(),
	}
}

// RegisterRoutes mounts the handler on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.GET("/instruments", h.Instruments)
	g.GET("/instruments/:symbol/snapshot", h.Snapshot)
	g.GET("/instruments/:symbol/signals", h.Signals)
	g.GET("/instruments/:symbol/rows", h.Rows)
}

type instrumentSummary struct {
	Symbol   string            `json:"symbol"`
	Interval string            `json:"interval"`
	Bars     int               `json:"bars"`
	LastTS   int64             `json:"last_ts,omitempty"`
	Signal   *model.SignalInfo `json:"signal,omitempty"`
}

type snapshotRequest struct {
	Symbol string `param:"symbol" validate:"required"`
	// Tail limits the rows returned to the newest N. Zero returns all.
	Tail int `query:"tail" validate:"gte=0,lte=100000"`
}

type signalsRequest struct {
	Symbol string `param:"symbol" validate:"required"`
	Limit  int    `query:"limit" default:"50" validate:"gte=1,lte=1000"`
}

type rowsRequest struct {
	Symbol string `param:"symbol" validate:"required"`
	// From is the first bar open time, unix ms.
	From int64 `query:"from" validate:"gte=0"`
}

// Instruments lists every tracked instrument with its current signal.
func (h *Handler) Instruments(c echo.Context) error {
	trackers := h.registry.All()
	out := make([]instrumentSummary, 0, len(trackers))
	for _, tr := range trackers {
		snap := tr.Snapshot()
		s := instrumentSummary{
			Symbol:   snap.Symbol,
			Interval: snap.Interval,
			Bars:     len(snap.Rows),
		}
		if last, ok := snap.LastRow(); ok {
			s.LastTS = last.Timestamp
		}
		if info, ok := snap.Info(); ok {
			s.Signal = &info
		}
		out = append(out, s)
	}
	return success(c, out)
}

// Snapshot returns the latest cycle of one instrument.
func (h *Handler) Snapshot(c echo.Context) error {
	req := &snapshotRequest{}
	if errs := bindRequest(c, req); errs != nil {
		return badRequest(c, errs)
	}
	tr, found := h.registry.Get(strings.ToUpper(req.Symbol))
	if !found {
		return notFound(c, "unknown instrument "+req.Symbol)
	}
	snap := tr.Snapshot()
	if req.Tail > 0 && req.Tail < len(snap.Rows) {
		snap.Rows = snap.Rows[len(snap.Rows)-req.Tail:]
	}
	return success(c, snap)
}

// Signals returns recorded signal history of one instrument.
func (h *Handler) Signals(c echo.Context) error {
	req := &signalsRequest{}
	if errs := bindRequest(c, req); errs != nil {
		return badRequest(c, errs)
	}
	sym := strings.ToUpper(req.Symbol)
	if _, found := h.registry.Get(sym); !found {
		return notFound(c, "unknown instrument "+req.Symbol)
	}
	if h.signals == nil {
		return respond(c, http.StatusServiceUnavailable, []ValidationError{{
			Code: "ERR_NO_STORE", Message: "signal history is not recorded",
		}})
	}

	sigs, err := h.signals.ReadSignals(c.Request().Context(), sym, req.Limit)
	if err != nil {
		h.logger.Error().Err(err).Str("symbol", sym).Msg("read signals")
		return respond(c, http.StatusInternalServerError, "Something went wrong")
	}
	if sigs == nil {
		sigs = []model.SignalInfo{}
	}
	return success(c, sigs)
}

// Rows returns recorded rows of one instrument from a timestamp on. Unlike
// the snapshot it is not bounded by the in-memory retention.
func (h *Handler) Rows(c echo.Context) error {
	req := &rowsRequest{}
	if errs := bindRequest(c, req); errs != nil {
		return badRequest(c, errs)
	}
	sym := strings.ToUpper(req.Symbol)
	tr, found := h.registry.Get(sym)
	if !found {
		return notFound(c, "unknown instrument "+req.Symbol)
	}
	store, ok := h.signals.(RowStore)
	if !ok {
		return respond(c, http.StatusServiceUnavailable, []ValidationError{{
			Code: "ERR_NO_STORE", Message: "rows are not recorded",
		}})
	}

	rows, err := store.ReadRows(c.Request().Context(), sym, tr.Config().Interval, req.From)
	if err != nil {
		h.logger.Error().Err(err).Str("symbol", sym).Msg("read rows")
		return respond(c, http.StatusInternalServerError, "Something went wrong")
	}
	if rows == nil {
		rows = []model.Row{}
	}
	return success(c, rows)
}
