package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"market-quorum/internal/cache"
	"market-quorum/internal/domain"
	"market-quorum/internal/ensemble"
	"market-quorum/internal/predictor"

	"go.opentelemetry.io/otel/trace"
)

var (
	ErrUnsupportedSymbol = errors.New("unsupported symbol")
	ErrNoOutcomeData     = errors.New("no realized closes for that date")
)

type EnsembleCaller interface {
	Call(ctx context.Context, symbol string, opts ensemble.Options) (domain.EnsembleCall, error)
}

type Ledger interface {
	Record(ctx context.Context, call domain.EnsembleCall, predictionDate, runDate time.Time) error
	FillOutcomes(ctx context.Context, symbol string, date time.Time, trueValue float64) (int, error)
}

type PriceReader interface {
	ClosesOn(ctx context.Context, date time.Time) (map[string]float64, error)
	LatestDate(ctx context.Context, symbol string) (time.Time, error)
}

type ArtifactAdmin interface {
	Describe(ctx context.Context, symbol string) ([]domain.ArtifactInfo, error)
	Prune(ctx context.Context, symbol string, keep int) (int, error)
}

type FrameBuilder interface {
	Frame(ctx context.Context, symbol string, cutoff *time.Time) (domain.FeatureFrame, error)
}

type ModelTuner interface {
	TuneVariant(ctx context.Context, frame domain.FeatureFrame, variantName string, trainingDate time.Time) (predictor.Hyperparams, float64, error)
}

// PredictionService is the outward face of the daily flow: cached live
// calls, ledger grading, forced retrains, tuning, and artifact upkeep.
type PredictionService struct {
	tracer     trace.Tracer
	ensemble   EnsembleCaller
	ledger     Ledger
	prices     PriceReader
	artifacts  ArtifactAdmin
	frames     FrameBuilder
	tuner      ModelTuner
	predCache  *cache.PredictionCache
	symbols    []string
	offsetDays int
	keepLatest int
}

func NewPredictionService(
	tracer trace.Tracer,
	ensemble EnsembleCaller,
	ledger Ledger,
	prices PriceReader,
	artifacts ArtifactAdmin,
	frames FrameBuilder,
	tuner ModelTuner,
	predCache *cache.PredictionCache,
	symbols []string,
	offsetDays int,
	keepLatest int,
) *PredictionService {
	return &PredictionService{
		tracer:     tracer,
		ensemble:   ensemble,
		ledger:     ledger,
		prices:     prices,
		artifacts:  artifacts,
		frames:     frames,
		tuner:      tuner,
		predCache:  predCache,
		symbols:    symbols,
		offsetDays: offsetDays,
		keepLatest: keepLatest,
	}
}

func (s *PredictionService) Supported(symbol string) bool {
	for _, sym := range s.symbols {
		if sym == symbol {
			return true
		}
	}
	return false
}

func (s *PredictionService) Symbols() []string {
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

// Predict returns the current ensemble call for a symbol, serving a cached
// copy when one is fresh. A computed call is recorded in the ledger for the
// configured prediction date before it is returned.
func (s *PredictionService) Predict(ctx context.Context, symbol string) (domain.EnsembleCall, error) {
	ctx, span := s.tracer.Start(ctx, "prediction-service.predict")
	defer span.End()

	if !s.Supported(symbol) {
		return domain.EnsembleCall{}, fmt.Errorf("%w: %s", ErrUnsupportedSymbol, symbol)
	}

	if cached, ok := s.predCache.Get(ctx, symbol); ok {
		return *cached, nil
	}

	call, err := s.ensemble.Call(ctx, symbol, ensemble.Options{})
	if err != nil {
		return domain.EnsembleCall{}, err
	}
	if len(call.Models) > 0 {
		predictionDate := call.AsOf.AddDate(0, 0, s.offsetDays)
		if err := s.ledger.Record(ctx, call, predictionDate, call.AsOf); err != nil {
			return domain.EnsembleCall{}, fmt.Errorf("record prediction: %w", err)
		}
	}
	s.predCache.Set(ctx, &call)
	return call, nil
}

// SimpleSignal evaluates the moving-average rule on the symbol's latest
// feature row. Nothing is trained, cached, or written to the ledger, and an
// empty frame reads as neutral.
func (s *PredictionService) SimpleSignal(ctx context.Context, symbol string) (domain.Signal, error) {
	ctx, span := s.tracer.Start(ctx, "prediction-service.simple-signal")
	defer span.End()

	if !s.Supported(symbol) {
		return domain.SignalNeutral, fmt.Errorf("%w: %s", ErrUnsupportedSymbol, symbol)
	}
	frame, err := s.frames.Frame(ctx, symbol, nil)
	if err != nil {
		return domain.SignalNeutral, fmt.Errorf("assemble frame: %w", err)
	}
	if frame.Empty() {
		return domain.SignalNeutral, nil
	}
	return ensemble.TrendSignal(frame.Last()), nil
}

// Retrain recomputes every model for the symbol from scratch and drops the
// cached call. The refreshed call is recorded like a live prediction; tune
// runs the hyperparameter search for every variant first. Returns how many
// models were refit and how many stale artifacts the prune removed.
func (s *PredictionService) Retrain(ctx context.Context, symbol string, tune bool) (domain.RetrainResult, error) {
	ctx, span := s.tracer.Start(ctx, "prediction-service.retrain")
	defer span.End()

	if !s.Supported(symbol) {
		return domain.RetrainResult{}, fmt.Errorf("%w: %s", ErrUnsupportedSymbol, symbol)
	}

	latest, err := s.prices.LatestDate(ctx, symbol)
	if err != nil {
		return domain.RetrainResult{}, err
	}
	if latest.IsZero() {
		return domain.RetrainResult{}, fmt.Errorf("no stored prices for %s", symbol)
	}

	call, err := s.ensemble.Call(ctx, symbol, ensemble.Options{Cutoff: &latest, ForceRetrain: true, Tune: tune})
	if err != nil {
		return domain.RetrainResult{}, err
	}
	if len(call.Models) > 0 {
		predictionDate := call.AsOf.AddDate(0, 0, s.offsetDays)
		if err := s.ledger.Record(ctx, call, predictionDate, call.AsOf); err != nil {
			return domain.RetrainResult{}, fmt.Errorf("record retrained prediction: %w", err)
		}
	}
	s.predCache.Invalidate(ctx, symbol)
	s.predCache.Set(ctx, &call)

	result := domain.RetrainResult{Call: call, ModelsRetrained: len(call.Models)}
	if pruned, err := s.artifacts.Prune(ctx, symbol, s.keepLatest); err != nil {
		log.Printf("artifact prune failed for %s: %v", symbol, err)
	} else {
		result.OldArtifactsPruned = pruned
	}
	return result, nil
}

// Validate grades every ledger row whose prediction date matches the given
// day against the stored closes, regrading rows that were already filled so
// a corrected close takes effect. Symbols without a close that day stay
// pending. ErrNoOutcomeData when no close exists at all.
func (s *PredictionService) Validate(ctx context.Context, date time.Time) (domain.ValidationResult, error) {
	ctx, span := s.tracer.Start(ctx, "prediction-service.validate")
	defer span.End()

	result := domain.ValidationResult{TargetDate: date}

	closes, err := s.prices.ClosesOn(ctx, date)
	if err != nil {
		return result, err
	}
	if len(closes) == 0 {
		return result, fmt.Errorf("%w: %s", ErrNoOutcomeData, date.Format("2006-01-02"))
	}

	symbols := make([]string, 0, len(closes))
	for symbol := range closes {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		updated, err := s.ledger.FillOutcomes(ctx, symbol, date, closes[symbol])
		if err != nil {
			return result, err
		}
		if updated > 0 {
			result.ValidatedInstruments = append(result.ValidatedInstruments, symbol)
			result.RowsUpdated += updated
		}
	}
	return result, nil
}

// ValidateYesterday is the shortcut the overnight job and the bot both use.
func (s *PredictionService) ValidateYesterday(ctx context.Context) (domain.ValidationResult, error) {
	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	return s.Validate(ctx, time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 0, 0, 0, 0, time.UTC))
}

// Tune searches the variant's hyperparameter space on the symbol's full
// history and persists the winner, so the next retrain picks it up.
func (s *PredictionService) Tune(ctx context.Context, symbol, variant string) (predictor.Hyperparams, float64, error) {
	ctx, span := s.tracer.Start(ctx, "prediction-service.tune")
	defer span.End()

	if !s.Supported(symbol) {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnsupportedSymbol, symbol)
	}
	frame, err := s.frames.Frame(ctx, symbol, nil)
	if err != nil {
		return nil, 0, err
	}
	if frame.Empty() {
		return nil, 0, fmt.Errorf("no stored history for %s", symbol)
	}
	hp, score, err := s.tuner.TuneVariant(ctx, frame, variant, frame.Last().Date)
	if err != nil {
		return nil, 0, err
	}
	s.predCache.Invalidate(ctx, symbol)
	return hp, score, nil
}

// Artifacts lists the stored models for a symbol, newest first.
func (s *PredictionService) Artifacts(ctx context.Context, symbol string) ([]domain.ArtifactInfo, error) {
	ctx, span := s.tracer.Start(ctx, "prediction-service.artifacts")
	defer span.End()

	if !s.Supported(symbol) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSymbol, symbol)
	}
	return s.artifacts.Describe(ctx, symbol)
}
