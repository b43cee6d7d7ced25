package ensemble

import (
	"context"
	"math"
	"testing"
	"time"

	"market-quorum/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type stubFrames struct {
	frame domain.FeatureFrame
}

func (s stubFrames) Frame(context.Context, string, *time.Time) (domain.FeatureFrame, error) {
	return s.frame, nil
}

type stubBank struct {
	models  []domain.ModelResult
	probUp  float64
	forced  bool
	tuned   bool
	trained time.Time
}

func (s *stubBank) Predict(_ context.Context, _ domain.FeatureFrame, trainingDate time.Time, forceRetrain, tune bool) ([]domain.ModelResult, float64, error) {
	s.forced = forceRetrain
	s.tuned = tune
	s.trained = trainingDate
	return s.models, s.probUp, nil
}

func testTracer() trace.Tracer {
	return trace.NewNoopTracerProvider().Tracer("test")
}

func TestMajorityVote(t *testing.T) {
	cases := []struct {
		name    string
		signals []domain.Signal
		want    domain.Signal
	}{
		{"empty slate is neutral", nil, domain.SignalNeutral},
		{"buy majority", []domain.Signal{1, 1, -1}, domain.SignalBuy},
		{"sell majority", []domain.Signal{-1, -1, 1, -1}, domain.SignalSell},
		{"tie is neutral", []domain.Signal{1, -1}, domain.SignalNeutral},
		{"neutrals do not vote", []domain.Signal{0, 0, 1}, domain.SignalBuy},
	}
	for _, tc := range cases {
		if got := MajorityVote(tc.signals); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestRuleSignals(t *testing.T) {
	quietUptrend := domain.FeatureRow{Close: 105, SMA20: 100, RSI14: 55, Vol20: 0.005}
	got := RuleSignals(quietUptrend)
	if got[0] != domain.SignalBuy || got[1] != domain.SignalBuy || got[2] != domain.SignalNeutral {
		t.Fatalf("quiet uptrend: got %v", got)
	}

	noisyOverbought := domain.FeatureRow{Close: 95, SMA20: 100, RSI14: 80, Vol20: 0.02}
	got = RuleSignals(noisyOverbought)
	if got[0] != domain.SignalSell || got[1] != domain.SignalSell || got[2] != domain.SignalSell {
		t.Fatalf("noisy overbought: got %v", got)
	}

	oversold := domain.FeatureRow{Close: 95, SMA20: 100, RSI14: 20, Vol20: 0.012}
	got = RuleSignals(oversold)
	if got[2] != domain.SignalBuy {
		t.Fatalf("oversold should trigger the contrarian buy, got %v", got)
	}
}

func TestRuleSignalsStayNeutralOnNaN(t *testing.T) {
	row := domain.FeatureRow{Close: 100, SMA20: math.NaN(), RSI14: math.NaN(), Vol20: math.NaN()}
	for i, s := range RuleSignals(row) {
		if s != domain.SignalNeutral {
			t.Fatalf("rule %d should be neutral on NaN inputs, got %d", i, s)
		}
	}
}

func TestCallEmptyFrame(t *testing.T) {
	svc := NewService(stubFrames{}, &stubBank{}, testTracer())
	cutoff := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	call, err := svc.Call(context.Background(), "^IBEX", Options{Cutoff: &cutoff})
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if call.SignalEnsemble != domain.SignalNeutral || len(call.Models) != 0 {
		t.Fatalf("empty frame should yield a neutral empty call, got %+v", call)
	}
	if !call.AsOf.Equal(cutoff) {
		t.Fatalf("empty call should carry the cutoff as its as-of date")
	}
}

func TestCallVotesOverModelSignals(t *testing.T) {
	day := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	frame := domain.FeatureFrame{
		Symbol: "^GSPC",
		Rows: []domain.FeatureRow{
			{Date: day, Close: 105, SMA20: 100, SMA50: 99, RSI14: 55, Vol20: 0.005},
		},
	}
	bank := &stubBank{
		models: []domain.ModelResult{
			{Variant: "linear", Forecast: 110, Signal: domain.SignalBuy},
			{Variant: "forest", Forecast: 108, Signal: domain.SignalBuy},
			{Variant: "svr", Forecast: 101, Signal: domain.SignalSell},
		},
		probUp: 0.7,
	}
	svc := NewService(stubFrames{frame: frame}, bank, testTracer())

	call, err := svc.Call(context.Background(), "^GSPC", Options{})
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if call.SignalEnsemble != domain.SignalBuy {
		t.Fatalf("expected a buy vote, got %d", call.SignalEnsemble)
	}
	if bank.forced {
		t.Fatalf("live call must not force a retrain")
	}
	if !bank.trained.Equal(day) {
		t.Fatalf("training date should be the frame's last date, got %v", bank.trained)
	}
	if call.DirectionProbUp != 0.7 {
		t.Fatalf("direction diagnostic should pass through, got %f", call.DirectionProbUp)
	}
}

func TestCallWithCutoffForcesRetrain(t *testing.T) {
	day := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	frame := domain.FeatureFrame{
		Symbol: "^GSPC",
		Rows:   []domain.FeatureRow{{Date: day, Close: 100, SMA20: 99, RSI14: 50, Vol20: 0.01}},
	}
	bank := &stubBank{}
	svc := NewService(stubFrames{frame: frame}, bank, testTracer())

	if _, err := svc.Call(context.Background(), "^GSPC", Options{Cutoff: &day}); err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if !bank.forced {
		t.Fatalf("a cutoff call must force a retrain")
	}
}

func TestCallWithTuneForcesRetrainAndTunes(t *testing.T) {
	day := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	frame := domain.FeatureFrame{
		Symbol: "^GSPC",
		Rows:   []domain.FeatureRow{{Date: day, Close: 100, SMA20: 99, RSI14: 50, Vol20: 0.01}},
	}
	bank := &stubBank{}
	svc := NewService(stubFrames{frame: frame}, bank, testTracer())

	if _, err := svc.Call(context.Background(), "^GSPC", Options{Tune: true}); err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if !bank.tuned {
		t.Fatalf("the tune flag must reach the model bank")
	}
	if !bank.forced {
		t.Fatalf("a tuned call must force a retrain")
	}
}

func TestMeanForecast(t *testing.T) {
	models := []domain.ModelResult{{Forecast: 100}, {Forecast: 110}}
	if got := MeanForecast(models); got != 105 {
		t.Fatalf("expected 105, got %f", got)
	}
	if !math.IsNaN(MeanForecast(nil)) {
		t.Fatalf("empty model list should average to NaN")
	}
}
