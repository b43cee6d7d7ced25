package evaluator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"market-quorum/internal/domain"
	"market-quorum/internal/ta"

	"go.opentelemetry.io/otel/trace"
)

type ledgerSource interface {
	WindowRows(ctx context.Context, symbol string, from, to time.Time, onlyGraded bool) ([]domain.PredictionRecord, error)
	CountSince(ctx context.Context, symbol string, since time.Time) (int, error)
}

type closesSource interface {
	ClosesInRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.PriceBar, error)
}

// Thresholds are the per-model flag levels. A model trips when its windowed
// MAE or error spread exceeds the level, or its graded buy signals hit below
// the accuracy floor.
type Thresholds struct {
	MAE              float64
	StdError         float64
	BuyAccuracyFloor float64
	MinPredictions   int
}

// Service derives performance summaries and retrain advice from graded
// ledger rows. Everything here is recomputed per call; nothing is persisted.
type Service struct {
	ledger     ledgerSource
	prices     closesSource
	thresholds Thresholds
	tracer     trace.Tracer
}

func NewService(ledger ledgerSource, prices closesSource, thresholds Thresholds, tracer trace.Tracer) *Service {
	if thresholds.MinPredictions < 1 {
		thresholds.MinPredictions = 1
	}
	return &Service{ledger: ledger, prices: prices, thresholds: thresholds, tracer: tracer}
}

// priorCloseLookup maps a prediction date to the close of the latest trading
// day strictly before it. Signal grading compares the realized close against
// this value: a buy is right when the market actually went up from where it
// last stood, regardless of how far off the price forecast was.
type priorCloseLookup struct {
	dates  []time.Time
	closes []float64
}

func (l priorCloseLookup) before(date time.Time) (float64, bool) {
	i := sort.Search(len(l.dates), func(i int) bool { return !l.dates[i].Before(date) })
	if i == 0 {
		return 0, false
	}
	return l.closes[i-1], true
}

// Report aggregates the graded ledger rows for a symbol over a trailing
// window. Models with fewer graded rows than the minimum are omitted.
func (s *Service) Report(ctx context.Context, symbol string, windowDays int, now time.Time) (domain.PerformanceSummary, error) {
	ctx, span := s.tracer.Start(ctx, "evaluator.report")
	defer span.End()

	to := dateOnly(now)
	from := to.AddDate(0, 0, -windowDays)
	summary := domain.PerformanceSummary{Symbol: symbol, WindowStart: from, WindowEnd: to}

	rows, err := s.ledger.WindowRows(ctx, symbol, from, to, true)
	if err != nil {
		return summary, err
	}
	if len(rows) == 0 {
		return summary, nil
	}

	// Reach further back than the window for the prior-close lookup so the
	// first prediction date still has a predecessor.
	bars, err := s.prices.ClosesInRange(ctx, symbol, from.AddDate(0, 0, -14), to)
	if err != nil {
		return summary, err
	}
	lookup := priorCloseLookup{}
	for _, b := range bars {
		lookup.dates = append(lookup.dates, b.Date)
		lookup.closes = append(lookup.closes, b.Close)
	}

	byModel := make(map[string][]domain.PredictionRecord)
	var order []string
	for _, rec := range rows {
		if _, seen := byModel[rec.ModelName]; !seen {
			order = append(order, rec.ModelName)
		}
		byModel[rec.ModelName] = append(byModel[rec.ModelName], rec)
	}
	sort.Strings(order)

	var maeSum float64
	bestMAE := math.Inf(1)
	for _, name := range order {
		recs := byModel[name]
		if len(recs) < s.thresholds.MinPredictions {
			continue
		}
		perf := s.scoreModel(name, recs, lookup)
		summary.Models = append(summary.Models, perf)
		maeSum += perf.MAE
		if perf.NeedsRetrain {
			summary.ModelsToRetrain = append(summary.ModelsToRetrain, name)
		}
		if name != domain.EnsembleModelName && perf.MAE < bestMAE {
			bestMAE = perf.MAE
			summary.BestModel = name
		}
	}
	if len(summary.Models) > 0 {
		summary.AvgMAE = maeSum / float64(len(summary.Models))
	}
	return summary, nil
}

func (s *Service) scoreModel(name string, recs []domain.PredictionRecord, lookup priorCloseLookup) domain.ModelPerformance {
	perf := domain.ModelPerformance{ModelName: name, Predictions: len(recs)}

	errs := make([]float64, 0, len(recs))
	var sqSum float64
	best, worst := math.Inf(1), 0.0
	var buyRight, buyTotal, sellRight, sellTotal int
	for _, rec := range recs {
		e := *rec.AbsoluteError
		errs = append(errs, e)
		sqSum += e * e
		if e < best {
			best = e
		}
		if e > worst {
			worst = e
		}

		prior, ok := lookup.before(rec.PredictionDate)
		if !ok || rec.PredictedSignal == domain.SignalNeutral {
			continue
		}
		wentUp := *rec.TrueValue > prior
		switch rec.PredictedSignal {
		case domain.SignalBuy:
			buyTotal++
			if wentUp {
				buyRight++
			}
		case domain.SignalSell:
			sellTotal++
			if !wentUp {
				sellRight++
			}
		}
	}

	mean, std := ta.MeanStd(errs)
	perf.MAE = mean
	perf.StdError = std
	perf.RMSE = math.Sqrt(sqSum / float64(len(errs)))
	perf.BestError = best
	perf.WorstError = worst
	if buyTotal > 0 {
		acc := 100 * float64(buyRight) / float64(buyTotal)
		perf.BuyAccuracy = &acc
	}
	if sellTotal > 0 {
		acc := 100 * float64(sellRight) / float64(sellTotal)
		perf.SellAccuracy = &acc
	}

	if perf.MAE > s.thresholds.MAE {
		perf.RetrainReasons = append(perf.RetrainReasons,
			fmt.Sprintf("MAE %.2f above %.2f", perf.MAE, s.thresholds.MAE))
	}
	if perf.StdError > s.thresholds.StdError {
		perf.RetrainReasons = append(perf.RetrainReasons,
			fmt.Sprintf("error spread %.2f above %.2f", perf.StdError, s.thresholds.StdError))
	}
	if perf.BuyAccuracy != nil && *perf.BuyAccuracy < s.thresholds.BuyAccuracyFloor {
		perf.RetrainReasons = append(perf.RetrainReasons,
			fmt.Sprintf("buy accuracy %.1f%% below %.1f%%", *perf.BuyAccuracy, s.thresholds.BuyAccuracyFloor))
	}
	perf.NeedsRetrain = len(perf.RetrainReasons) > 0
	return perf
}

// ShouldRetrain inspects a short trailing window and recommends a retrain
// when the average MAE breaches the caller's threshold or at least three
// models individually trip. A non-positive maeThreshold falls back to the
// configured level; the per-model flags always use the configured levels.
// Too few recent predictions is an explicit "no", not an error.
func (s *Service) ShouldRetrain(ctx context.Context, symbol string, windowDays, minPredictions int, maeThreshold float64, now time.Time) (domain.RetrainAdvice, error) {
	ctx, span := s.tracer.Start(ctx, "evaluator.should-retrain")
	defer span.End()

	advice := domain.RetrainAdvice{Symbol: symbol}
	if maeThreshold <= 0 {
		maeThreshold = s.thresholds.MAE
	}

	since := dateOnly(now).AddDate(0, 0, -windowDays)
	count, err := s.ledger.CountSince(ctx, symbol, since)
	if err != nil {
		return advice, err
	}
	if count < minPredictions {
		advice.Reasons = append(advice.Reasons,
			fmt.Sprintf("only %d predictions in the last %d days, need %d", count, windowDays, minPredictions))
		return advice, nil
	}

	report, err := s.Report(ctx, symbol, windowDays, now)
	if err != nil {
		return advice, err
	}
	advice.AvgMAE = report.AvgMAE
	advice.ModelsToRetrain = report.ModelsToRetrain
	advice.Report = &report

	if len(report.Models) > 0 && report.AvgMAE > maeThreshold {
		advice.ShouldRetrain = true
		advice.Reasons = append(advice.Reasons,
			fmt.Sprintf("average MAE %.2f above %.2f", report.AvgMAE, maeThreshold))
	}
	if len(report.ModelsToRetrain) >= 3 {
		advice.ShouldRetrain = true
		advice.Reasons = append(advice.Reasons,
			fmt.Sprintf("%d models individually flagged", len(report.ModelsToRetrain)))
	}
	if !advice.ShouldRetrain {
		advice.Reasons = append(advice.Reasons, "recent performance within thresholds")
	}
	return advice, nil
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
