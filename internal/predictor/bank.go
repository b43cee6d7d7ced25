package predictor

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"market-quorum/internal/domain"
	"market-quorum/internal/features"

	"go.opentelemetry.io/otel/trace"
)

type artifactStore interface {
	LoadLatest(ctx context.Context, symbol, variant string) (*domain.ModelArtifact, error)
	Save(ctx context.Context, art domain.ModelArtifact) error
}

// Bank runs every registered variant over a feature frame, reusing the
// variant's latest stored artifact when one exists and training a fresh one
// otherwise. A variant that fails is logged and omitted; the remaining
// variants still report.
type Bank struct {
	store   artifactStore
	tracer  trace.Tracer
	minRows int
}

func NewBank(store artifactStore, tracer trace.Tracer, minRows int) *Bank {
	if minRows < 2 {
		minRows = 2
	}
	return &Bank{store: store, tracer: tracer, minRows: minRows}
}

// Predict fits or reloads each variant on all clean rows but the last, then
// forecasts the last row. Fewer clean rows than the training minimum yields
// an empty result, not an error. forceRetrain skips the latest-artifact reuse
// so a replay step always fits on its own window; tune additionally searches
// each variant's parameter space before fitting and implies a retrain.
func (b *Bank) Predict(ctx context.Context, frame domain.FeatureFrame, trainingDate time.Time, forceRetrain, tune bool) ([]domain.ModelResult, float64, error) {
	ctx, span := b.tracer.Start(ctx, "predictor-bank.predict")
	defer span.End()

	clean := frame.Clean()
	if len(clean) < b.minRows {
		return nil, 0, nil
	}
	samples := toSamples(clean)
	train := samples[:len(samples)-1]
	forecastRow := samples[len(samples)-1]

	results := make([]domain.ModelResult, 0, len(All()))
	for _, v := range All() {
		res, err := b.runVariant(ctx, frame.Symbol, v, train, forecastRow, trainingDate, forceRetrain, tune)
		if err != nil {
			log.Printf("predictor bank: %s/%s failed: %v", frame.Symbol, v.Name(), err)
			continue
		}
		results = append(results, res)
	}

	probUp := 0.0
	if classifier, err := TrainDirection(samples); err == nil {
		probUp = classifier.ProbUp(forecastRow.Features)
	} else {
		log.Printf("predictor bank: %s direction classifier skipped: %v", frame.Symbol, err)
	}

	return results, probUp, nil
}

func (b *Bank) runVariant(ctx context.Context, symbol string, v Variant, train []Sample, forecastRow Sample, trainingDate time.Time, forceRetrain, tune bool) (domain.ModelResult, error) {
	res := domain.ModelResult{Variant: v.Name(), TrainingDate: trainingDate}

	latest, err := b.store.LoadLatest(ctx, symbol, v.Name())
	if err != nil {
		return res, err
	}
	if !forceRetrain && !tune && latest != nil {
		est, err := Unmarshal(v.Name(), latest.Blob)
		if err != nil {
			return res, fmt.Errorf("decode stored artifact: %w", err)
		}
		res.FromCache = true
		res.TrainingDate = latest.TrainingDate
		res.MAE = latest.Metadata.MAE
		res.RMSE = latest.Metadata.RMSE
		res.SampleCount = latest.Metadata.SampleCount
		res.Tuned = len(latest.Metadata.TunedParams) > 0
		return b.finish(res, est, forecastRow)
	}

	hp := v.Defaults()
	tuned := false
	if tune {
		searched, _, err := Tune(v, train)
		if err != nil {
			return res, fmt.Errorf("tune: %w", err)
		}
		hp = searched
		tuned = true
	} else if latest != nil && len(latest.Metadata.TunedParams) > 0 {
		hp = Hyperparams(latest.Metadata.TunedParams)
		tuned = true
	}

	est, err := v.Train(train, hp)
	if err != nil {
		return res, err
	}
	mae, rmse := fitMetrics(est, train)
	res.MAE = mae
	res.RMSE = rmse
	res.SampleCount = len(train)
	res.Tuned = tuned

	if err := b.save(ctx, symbol, v.Name(), trainingDate, est, res, hp, tuned); err != nil {
		return res, err
	}
	return b.finish(res, est, forecastRow)
}

func (b *Bank) finish(res domain.ModelResult, est Estimator, forecastRow Sample) (domain.ModelResult, error) {
	forecast := est.Forecast(forecastRow)
	if math.IsNaN(forecast) || math.IsInf(forecast, 0) {
		return res, fmt.Errorf("non-finite forecast %f", forecast)
	}
	res.Forecast = forecast
	if forecast > forecastRow.Target {
		res.Signal = domain.SignalBuy
	} else {
		res.Signal = domain.SignalSell
	}
	return res, nil
}

func (b *Bank) save(ctx context.Context, symbol, variant string, trainingDate time.Time, est Estimator, res domain.ModelResult, hp Hyperparams, tuned bool) error {
	blob, err := est.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	meta := domain.ArtifactMetadata{
		MAE:         res.MAE,
		RMSE:        res.RMSE,
		SampleCount: res.SampleCount,
	}
	if tuned {
		meta.TunedParams = map[string]float64(hp)
	}
	return b.store.Save(ctx, domain.ModelArtifact{
		Symbol:       symbol,
		Variant:      variant,
		TrainingDate: trainingDate,
		Blob:         blob,
		Metadata:     meta,
	})
}

// TuneVariant searches the variant's parameter space over the frame's clean
// rows, refits with the winner, and persists the artifact so later training
// runs pick the tuned parameters up from the latest pointer.
func (b *Bank) TuneVariant(ctx context.Context, frame domain.FeatureFrame, variantName string, trainingDate time.Time) (Hyperparams, float64, error) {
	ctx, span := b.tracer.Start(ctx, "predictor-bank.tune")
	defer span.End()

	v := ByName(variantName)
	if v == nil {
		return nil, 0, fmt.Errorf("unknown model variant %q", variantName)
	}
	clean := frame.Clean()
	if len(clean) < b.minRows {
		return nil, 0, fmt.Errorf("only %d clean rows, need %d", len(clean), b.minRows)
	}
	samples := toSamples(clean)
	train := samples[:len(samples)-1]

	hp, score, err := Tune(v, train)
	if err != nil {
		return nil, 0, err
	}

	est, err := v.Train(train, hp)
	if err != nil {
		return nil, 0, err
	}
	mae, rmse := fitMetrics(est, train)
	res := domain.ModelResult{MAE: mae, RMSE: rmse, SampleCount: len(train)}
	if err := b.save(ctx, frame.Symbol, v.Name(), trainingDate, est, res, hp, true); err != nil {
		return nil, 0, err
	}
	return hp, score, nil
}

func toSamples(rows []domain.FeatureRow) []Sample {
	out := make([]Sample, len(rows))
	for i, r := range rows {
		out[i] = Sample{Date: r.Date, Features: features.Vector(r), Target: r.Close}
	}
	return out
}

func fitMetrics(est Estimator, train []Sample) (float64, float64) {
	if len(train) == 0 {
		return 0, 0
	}
	var absSum, sqSum float64
	for _, s := range train {
		d := est.Forecast(s) - s.Target
		absSum += math.Abs(d)
		sqSum += d * d
	}
	n := float64(len(train))
	return absSum / n, math.Sqrt(sqSum / n)
}
