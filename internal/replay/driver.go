package replay

import (
	"context"
	"log"
	"time"

	"market-quorum/internal/domain"
	"market-quorum/internal/ensemble"

	"go.opentelemetry.io/otel/trace"
)

type ensembleCaller interface {
	Call(ctx context.Context, symbol string, opts ensemble.Options) (domain.EnsembleCall, error)
}

type ledgerWriter interface {
	Record(ctx context.Context, call domain.EnsembleCall, predictionDate, runDate time.Time) error
	FillOutcomes(ctx context.Context, symbol string, date time.Time, trueValue float64) (int, error)
}

type calendarSource interface {
	TradingDates(ctx context.Context, symbol string, from, to time.Time) ([]time.Time, error)
	ClosesOn(ctx context.Context, date time.Time) (map[string]float64, error)
}

// Result summarizes one replay run.
type Result struct {
	Symbol   string    `json:"symbol"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Steps    int       `json:"steps"`
	Recorded int       `json:"recorded"`
	Graded   int       `json:"graded"`
	Skipped  int       `json:"skipped"`
}

// Driver replays the daily prediction flow over stored history. Every step
// passes its date as the frame cutoff, which both hides later rows and
// forces a retrain, so the run reproduces what a live caller would have seen
// on that day.
type Driver struct {
	ensemble   ensembleCaller
	ledger     ledgerWriter
	calendar   calendarSource
	offsetDays int
	tracer     trace.Tracer
}

func NewDriver(ensemble ensembleCaller, ledger ledgerWriter, calendar calendarSource, offsetDays int, tracer trace.Tracer) *Driver {
	return &Driver{
		ensemble:   ensemble,
		ledger:     ledger,
		calendar:   calendar,
		offsetDays: offsetDays,
		tracer:     tracer,
	}
}

// Run walks each trading date of the symbol inside [from, to], records the
// resulting call, and grades it straight away when the realized close is
// already in the store. A step whose window is still too short is skipped,
// not fatal.
func (d *Driver) Run(ctx context.Context, symbol string, from, to time.Time) (Result, error) {
	ctx, span := d.tracer.Start(ctx, "replay.run")
	defer span.End()

	res := Result{Symbol: symbol, From: from, To: to}

	dates, err := d.calendar.TradingDates(ctx, symbol, from, to)
	if err != nil {
		return res, err
	}

	for _, date := range dates {
		res.Steps++
		cutoff := date
		call, err := d.ensemble.Call(ctx, symbol, ensemble.Options{Cutoff: &cutoff, ForceRetrain: true})
		if err != nil {
			return res, err
		}
		if len(call.Models) == 0 {
			res.Skipped++
			continue
		}

		predictionDate := date.AddDate(0, 0, d.offsetDays)
		if err := d.ledger.Record(ctx, call, predictionDate, date); err != nil {
			return res, err
		}
		res.Recorded++

		closes, err := d.calendar.ClosesOn(ctx, predictionDate)
		if err != nil {
			return res, err
		}
		realized, ok := closes[symbol]
		if !ok {
			continue
		}
		updated, err := d.ledger.FillOutcomes(ctx, symbol, predictionDate, realized)
		if err != nil {
			return res, err
		}
		if updated > 0 {
			res.Graded++
		}
	}

	log.Printf("replay %s: %d steps, %d recorded, %d graded, %d skipped",
		symbol, res.Steps, res.Recorded, res.Graded, res.Skipped)
	return res, nil
}
