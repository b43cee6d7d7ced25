package features

import (
	"context"
	"math"
	"time"

	"market-quorum/internal/domain"
	"market-quorum/internal/repository"
	"market-quorum/internal/ta"

	"go.opentelemetry.io/otel/trace"
)

const (
	momentumLag      = 5
	volatilityWindow = 20
	emaShortPeriod   = 10
	emaLongPeriod    = 50
)

// FeatureNames is the column order every predictor variant consumes.
var FeatureNames = []string{"sma_20", "sma_50", "ema_10", "ema_50", "momentum", "volatility"}

// Vector flattens a row into the shared column order.
func Vector(r domain.FeatureRow) []float64 {
	return []float64{r.SMA20, r.SMA50, r.EMA10, r.EMA50, r.Momentum, r.Volatility}
}

type historySource interface {
	HistoryUpTo(ctx context.Context, symbol string, cutoff *time.Time) ([]repository.FeatureSourceRow, error)
}

// Assembler builds the per-symbol feature frame from stored prices and
// indicators. The derived columns are computed from rows inside the cutoff
// window only, so a replay run can never see values influenced by later data.
type Assembler struct {
	source historySource
	tracer trace.Tracer
}

func NewAssembler(source historySource, tracer trace.Tracer) *Assembler {
	return &Assembler{source: source, tracer: tracer}
}

// Frame returns the ascending feature frame for a symbol up to and including
// the cutoff date. A nil cutoff means the full stored history. No stored
// history yields an empty frame, not an error.
func (a *Assembler) Frame(ctx context.Context, symbol string, cutoff *time.Time) (domain.FeatureFrame, error) {
	ctx, span := a.tracer.Start(ctx, "features.frame")
	defer span.End()

	src, err := a.source.HistoryUpTo(ctx, symbol, cutoff)
	if err != nil {
		return domain.FeatureFrame{}, err
	}

	frame := domain.FeatureFrame{Symbol: symbol, Rows: Derive(src)}
	return frame, nil
}

// Derive computes the engineered columns over the given window and joins them
// with the stored indicator columns. The input must already be ascending by
// date.
func Derive(src []repository.FeatureSourceRow) []domain.FeatureRow {
	if len(src) == 0 {
		return nil
	}

	closes := make([]float64, len(src))
	for i, row := range src {
		closes[i] = row.Close
	}

	ema10 := ta.EMASeries(closes, emaShortPeriod)
	ema50 := ta.EMASeries(closes, emaLongPeriod)
	volatility := ta.RollingStdSeries(closes, volatilityWindow)

	rows := make([]domain.FeatureRow, len(src))
	for i, row := range src {
		momentum := math.NaN()
		if i >= momentumLag {
			momentum = closes[i] - closes[i-momentumLag]
		}
		rows[i] = domain.FeatureRow{
			Date:       row.Date,
			Close:      row.Close,
			SMA20:      row.SMA20,
			SMA50:      row.SMA50,
			Vol20:      row.Vol20,
			RSI14:      row.RSI14,
			EMA10:      ema10[i],
			EMA50:      ema50[i],
			Momentum:   momentum,
			Volatility: volatility[i],
		}
	}
	return rows
}
