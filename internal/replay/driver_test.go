package replay

import (
	"context"
	"testing"
	"time"

	"market-quorum/internal/domain"
	"market-quorum/internal/ensemble"

	"go.opentelemetry.io/otel/trace"
)

type fakeEnsemble struct {
	cutoffs []time.Time
	forced  []bool
	empty   map[string]bool
}

func (f *fakeEnsemble) Call(_ context.Context, symbol string, opts ensemble.Options) (domain.EnsembleCall, error) {
	f.cutoffs = append(f.cutoffs, *opts.Cutoff)
	f.forced = append(f.forced, opts.ForceRetrain)
	call := domain.EnsembleCall{Symbol: symbol, AsOf: *opts.Cutoff}
	if !f.empty[opts.Cutoff.Format("2006-01-02")] {
		call.Models = []domain.ModelResult{{Variant: "linear", Forecast: 100, Signal: domain.SignalBuy}}
	}
	return call, nil
}

type fakeLedger struct {
	recorded []time.Time
	graded   []time.Time
}

func (f *fakeLedger) Record(_ context.Context, _ domain.EnsembleCall, predictionDate, _ time.Time) error {
	f.recorded = append(f.recorded, predictionDate)
	return nil
}

func (f *fakeLedger) FillOutcomes(_ context.Context, _ string, date time.Time, _ float64) (int, error) {
	f.graded = append(f.graded, date)
	return 1, nil
}

type fakeCalendar struct {
	dates  []time.Time
	closes map[string]map[string]float64
}

func (f fakeCalendar) TradingDates(context.Context, string, time.Time, time.Time) ([]time.Time, error) {
	return f.dates, nil
}

func (f fakeCalendar) ClosesOn(_ context.Context, date time.Time) (map[string]float64, error) {
	return f.closes[date.Format("2006-01-02")], nil
}

func day(d int) time.Time {
	return time.Date(2026, 4, d, 0, 0, 0, 0, time.UTC)
}

func testTracer() trace.Tracer {
	return trace.NewNoopTracerProvider().Tracer("test")
}

func TestRunStepsEveryTradingDate(t *testing.T) {
	ens := &fakeEnsemble{}
	led := &fakeLedger{}
	cal := fakeCalendar{
		dates: []time.Time{day(1), day(2), day(3)},
		closes: map[string]map[string]float64{
			"2026-04-01": {"^IBEX": 100},
			"2026-04-02": {"^IBEX": 101},
		},
	}
	drv := NewDriver(ens, led, cal, 0, testTracer())

	res, err := drv.Run(context.Background(), "^IBEX", day(1), day(3))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Steps != 3 || res.Recorded != 3 {
		t.Fatalf("expected 3 steps and 3 records, got %+v", res)
	}
	// Day 3 has no stored close yet and stays ungraded.
	if res.Graded != 2 {
		t.Fatalf("expected 2 graded steps, got %d", res.Graded)
	}
	for i, c := range ens.cutoffs {
		if !c.Equal(day(i + 1)) {
			t.Fatalf("step %d saw cutoff %v", i, c)
		}
		if !ens.forced[i] {
			t.Fatalf("step %d should force a retrain", i)
		}
	}
}

func TestRunSkipsShortWindows(t *testing.T) {
	ens := &fakeEnsemble{empty: map[string]bool{"2026-04-01": true}}
	led := &fakeLedger{}
	cal := fakeCalendar{dates: []time.Time{day(1), day(2)}}
	drv := NewDriver(ens, led, cal, 0, testTracer())

	res, err := drv.Run(context.Background(), "^IBEX", day(1), day(2))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Skipped != 1 || res.Recorded != 1 {
		t.Fatalf("expected one skip and one record, got %+v", res)
	}
}

func TestRunAppliesPredictionOffset(t *testing.T) {
	ens := &fakeEnsemble{}
	led := &fakeLedger{}
	cal := fakeCalendar{dates: []time.Time{day(1)}}
	drv := NewDriver(ens, led, cal, 1, testTracer())

	if _, err := drv.Run(context.Background(), "^IBEX", day(1), day(1)); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(led.recorded) != 1 || !led.recorded[0].Equal(day(2)) {
		t.Fatalf("offset 1 should record for the next day, got %v", led.recorded)
	}
}
