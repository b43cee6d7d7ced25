package ensemble

import (
	"context"
	"math"
	"time"

	"market-quorum/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type frameBuilder interface {
	Frame(ctx context.Context, symbol string, cutoff *time.Time) (domain.FeatureFrame, error)
}

type modelBank interface {
	Predict(ctx context.Context, frame domain.FeatureFrame, trainingDate time.Time, forceRetrain, tune bool) ([]domain.ModelResult, float64, error)
}

// Options steer one ensemble call. A non-nil Cutoff restricts the frame to
// rows at or before it and always forces a retrain, so a historical step can
// never reuse a model fit on newer data. Tune runs the hyperparameter search
// for every variant before fitting, which implies a retrain as well.
type Options struct {
	Cutoff       *time.Time
	ForceRetrain bool
	Tune         bool
}

// Service produces one ensemble call per invocation: the rule signals, every
// model's forecast, and the majority vote over the model signals. Rule
// signals are informative only and never join the vote.
type Service struct {
	frames frameBuilder
	bank   modelBank
	tracer trace.Tracer
}

func NewService(frames frameBuilder, bank modelBank, tracer trace.Tracer) *Service {
	return &Service{frames: frames, bank: bank, tracer: tracer}
}

// Call aggregates a fresh ensemble decision for the symbol.
func (s *Service) Call(ctx context.Context, symbol string, opts Options) (domain.EnsembleCall, error) {
	ctx, span := s.tracer.Start(ctx, "ensemble.call")
	defer span.End()

	frame, err := s.frames.Frame(ctx, symbol, opts.Cutoff)
	if err != nil {
		return domain.EnsembleCall{}, err
	}

	call := domain.EnsembleCall{
		Symbol:      symbol,
		RuleSignals: []domain.Signal{0, 0, 0},
	}
	if frame.Empty() {
		if opts.Cutoff != nil {
			call.AsOf = *opts.Cutoff
		}
		return call, nil
	}

	last := frame.Last()
	call.AsOf = last.Date
	call.RuleSignals = RuleSignals(last)

	forceRetrain := opts.ForceRetrain || opts.Tune || opts.Cutoff != nil
	models, probUp, err := s.bank.Predict(ctx, frame, last.Date, forceRetrain, opts.Tune)
	if err != nil {
		return domain.EnsembleCall{}, err
	}
	call.Models = models
	call.DirectionProbUp = probUp
	call.MLSignals = make([]domain.Signal, len(models))
	for i, m := range models {
		call.MLSignals[i] = m.Signal
	}
	call.SignalEnsemble = MajorityVote(call.MLSignals)
	return call, nil
}

// MajorityVote counts buys against sells; a tie, including the empty slate,
// is neutral.
func MajorityVote(signals []domain.Signal) domain.Signal {
	var buys, sells int
	for _, s := range signals {
		switch s {
		case domain.SignalBuy:
			buys++
		case domain.SignalSell:
			sells++
		}
	}
	if buys > sells {
		return domain.SignalBuy
	}
	if sells > buys {
		return domain.SignalSell
	}
	return domain.SignalNeutral
}

// RuleSignals evaluates the three indicator rules on the latest row. A NaN
// in any compared column fails the comparison and leaves that rule neutral.
func RuleSignals(r domain.FeatureRow) []domain.Signal {
	return []domain.Signal{
		trendRule(r),
		volatilityRule(r),
		contrarianRule(r),
	}
}

// TrendSignal exposes the moving-average rule on its own, for callers that
// want a cheap directional read without fitting any model.
func TrendSignal(r domain.FeatureRow) domain.Signal {
	return trendRule(r)
}

// trendRule follows price against its short moving average unless momentum
// already looks stretched.
func trendRule(r domain.FeatureRow) domain.Signal {
	if r.Close > r.SMA20 && r.RSI14 < 70 {
		return domain.SignalBuy
	}
	if r.Close < r.SMA20 && r.RSI14 > 30 {
		return domain.SignalSell
	}
	return domain.SignalNeutral
}

// volatilityRule only takes trend entries in quiet regimes and exits when
// the regime turns noisy or overbought.
func volatilityRule(r domain.FeatureRow) domain.Signal {
	if r.Vol20 < 0.01 && r.Close > r.SMA20 {
		return domain.SignalBuy
	}
	if r.Vol20 > 0.015 || r.RSI14 > 75 {
		return domain.SignalSell
	}
	return domain.SignalNeutral
}

// contrarianRule fades RSI extremes.
func contrarianRule(r domain.FeatureRow) domain.Signal {
	if r.RSI14 < 30 {
		return domain.SignalBuy
	}
	if r.RSI14 > 70 {
		return domain.SignalSell
	}
	return domain.SignalNeutral
}

// MeanForecast averages the model forecasts for the synthetic ensemble
// ledger row. NaN when no model reported.
func MeanForecast(models []domain.ModelResult) float64 {
	if len(models) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, m := range models {
		sum += m.Forecast
	}
	return sum / float64(len(models))
}
