package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"market-quorum/internal/domain"
	"market-quorum/internal/repository"
	"market-quorum/internal/ta"

	"go.opentelemetry.io/otel/trace"
)

const (
	smaShortPeriod = 20
	smaLongPeriod  = 50
	volPeriod      = 20
	rsiPeriod      = 14
)

type BarProvider interface {
	FetchDailyBars(ctx context.Context, symbol, rangeSpec string) ([]domain.PriceBar, error)
}

type PriceStore interface {
	UpsertPrices(ctx context.Context, bars []domain.PriceBar) error
	UpsertIndicators(ctx context.Context, rows []domain.IndicatorRow) error
	HistoryUpTo(ctx context.Context, symbol string, cutoff *time.Time) ([]repository.FeatureSourceRow, error)
}

// IngestService pulls daily bars from the market data provider, persists
// them, and recomputes the stored indicator columns over the full close
// history so a partial fetch never leaves stale indicator rows behind.
type IngestService struct {
	tracer   trace.Tracer
	provider BarProvider
	store    PriceStore
}

func NewIngestService(tracer trace.Tracer, provider BarProvider, store PriceStore) *IngestService {
	return &IngestService{tracer: tracer, provider: provider, store: store}
}

// Refresh ingests the symbol's bars for the trailing range and rebuilds its
// indicators.
func (s *IngestService) Refresh(ctx context.Context, symbol, rangeSpec string) error {
	ctx, span := s.tracer.Start(ctx, "ingest-service.refresh")
	defer span.End()

	bars, err := s.provider.FetchDailyBars(ctx, symbol, rangeSpec)
	if err != nil {
		return fmt.Errorf("fetch bars for %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		log.Printf("ingest: no bars returned for %s", symbol)
		return nil
	}
	if err := s.store.UpsertPrices(ctx, bars); err != nil {
		return fmt.Errorf("store bars for %s: %w", symbol, err)
	}
	if err := s.RebuildIndicators(ctx, symbol); err != nil {
		return err
	}
	log.Printf("ingested %d bars for %s", len(bars), symbol)
	return nil
}

// RefreshAll ingests every symbol, keeping going past individual failures.
func (s *IngestService) RefreshAll(ctx context.Context, symbols []string, rangeSpec string) error {
	ctx, span := s.tracer.Start(ctx, "ingest-service.refresh-all")
	defer span.End()

	var firstErr error
	for _, symbol := range symbols {
		if err := s.Refresh(ctx, symbol, rangeSpec); err != nil {
			log.Printf("ingest failed for %s: %v", symbol, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RebuildIndicators recomputes SMA, return volatility, and RSI over the
// symbol's entire stored close series.
func (s *IngestService) RebuildIndicators(ctx context.Context, symbol string) error {
	ctx, span := s.tracer.Start(ctx, "ingest-service.rebuild-indicators")
	defer span.End()

	history, err := s.store.HistoryUpTo(ctx, symbol, nil)
	if err != nil {
		return fmt.Errorf("load history for %s: %w", symbol, err)
	}
	if len(history) == 0 {
		return nil
	}

	closes := make([]float64, len(history))
	for i, row := range history {
		closes[i] = row.Close
	}
	sma20 := ta.SMASeries(closes, smaShortPeriod)
	sma50 := ta.SMASeries(closes, smaLongPeriod)
	vol20 := ta.ReturnVolSeries(closes, volPeriod)
	rsi14 := ta.RSISeries(closes, rsiPeriod)

	rows := make([]domain.IndicatorRow, len(history))
	for i, src := range history {
		rows[i] = domain.IndicatorRow{
			Symbol: symbol,
			Date:   src.Date,
			SMA20:  sma20[i],
			SMA50:  sma50[i],
			Vol20:  vol20[i],
			RSI14:  rsi14[i],
		}
	}
	if err := s.store.UpsertIndicators(ctx, rows); err != nil {
		return fmt.Errorf("store indicators for %s: %w", symbol, err)
	}
	return nil
}
