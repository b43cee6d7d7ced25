package job

import (
	"context"
	"log"
	"time"

	"market-quorum/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// DailyPredictor produces and records one ensemble call per symbol.
type DailyPredictor interface {
	Predict(ctx context.Context, symbol string) (domain.EnsembleCall, error)
	Symbols() []string
}

// PredictJob runs the whole board once a day after the close, at a fixed
// UTC hour.
type PredictJob struct {
	tracer      trace.Tracer
	predictions DailyPredictor
	runHour     int
}

func NewPredictJob(tracer trace.Tracer, predictions DailyPredictor, runHourUTC int) *PredictJob {
	if runHourUTC < 0 || runHourUTC > 23 {
		runHourUTC = 22
	}
	return &PredictJob{tracer: tracer, predictions: predictions, runHour: runHourUTC}
}

func (j *PredictJob) Start(ctx context.Context) {
	if j.predictions == nil {
		log.Println("Predict job disabled: no prediction service")
		<-ctx.Done()
		return
	}
	for {
		next := nextRunUTC(time.Now().UTC(), j.runHour)
		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.runOnce(ctx)
		}
	}
}

func (j *PredictJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "predict-job.run-once")
	defer span.End()

	for _, symbol := range j.predictions.Symbols() {
		call, err := j.predictions.Predict(ctx, symbol)
		if err != nil {
			log.Printf("Daily prediction error for %s: %v", symbol, err)
			continue
		}
		if len(call.Models) == 0 {
			log.Printf("Daily prediction for %s skipped: not enough history", symbol)
			continue
		}
		log.Printf("Daily prediction for %s as of %s: ensemble=%d models=%d",
			call.Symbol, call.AsOf.Format("2006-01-02"), call.SignalEnsemble, len(call.Models))
	}
}

func nextRunUTC(now time.Time, hour int) time.Time {
	run := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !run.After(now) {
		run = run.Add(24 * time.Hour)
	}
	return run
}
