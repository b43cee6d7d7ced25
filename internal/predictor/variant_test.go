package predictor

import (
	"math"
	"testing"
	"time"
)

func lineSamples(n int) []Sample {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	out := make([]Sample, n)
	for i := 0; i < n; i++ {
		x := float64(i)
		out[i] = Sample{
			Date:     start.AddDate(0, 0, i),
			Features: []float64{x, 2 * x, 100 - x, x * x, math.Sin(x), 1},
			Target:   3*x + 10,
		}
	}
	return out
}

func TestAllVariantsAreResolvable(t *testing.T) {
	for _, v := range All() {
		if ByName(v.Name()) == nil {
			t.Fatalf("variant %s not resolvable by name", v.Name())
		}
	}
	if ByName("nope") != nil {
		t.Fatalf("unknown name should resolve to nil")
	}
}

func TestLinearRecoversExactFit(t *testing.T) {
	samples := lineSamples(60)
	est, err := (&LinearVariant{}).Train(samples, nil)
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}
	probe := samples[59]
	got := est.Forecast(probe)
	if math.Abs(got-probe.Target) > 0.5 {
		t.Fatalf("expected forecast near %f, got %f", probe.Target, got)
	}
}

func TestForestFitsStepFunction(t *testing.T) {
	samples := make([]Sample, 80)
	for i := range samples {
		x := float64(i)
		target := 100.0
		if x >= 40 {
			target = 200.0
		}
		samples[i] = Sample{Features: []float64{x, 0, 0, 0, 0, 0}, Target: target}
	}
	est, err := (&ForestVariant{}).Train(samples, Hyperparams{"n_trees": 30, "max_depth": 4})
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}
	low := est.Forecast(Sample{Features: []float64{10, 0, 0, 0, 0, 0}})
	high := est.Forecast(Sample{Features: []float64{70, 0, 0, 0, 0, 0}})
	if low > 150 || high < 150 {
		t.Fatalf("forest missed the step: low=%f high=%f", low, high)
	}
}

func TestBoostReducesTrainingError(t *testing.T) {
	samples := lineSamples(60)
	var mean float64
	for _, s := range samples {
		mean += s.Target
	}
	mean /= float64(len(samples))
	var baseMAE float64
	for _, s := range samples {
		baseMAE += math.Abs(s.Target - mean)
	}
	baseMAE /= float64(len(samples))

	for _, v := range []Variant{&BoostVariant{}, &LeafwiseBoostVariant{}, &ObliviousBoostVariant{}} {
		est, err := v.Train(samples, nil)
		if err != nil {
			t.Fatalf("%s train failed: %v", v.Name(), err)
		}
		mae, _ := fitMetrics(est, samples)
		if mae >= baseMAE {
			t.Fatalf("%s did not improve on the mean: %f >= %f", v.Name(), mae, baseMAE)
		}
	}
}

func TestSVRApproximatesLinearTrend(t *testing.T) {
	samples := lineSamples(80)
	est, err := (&SVRVariant{}).Train(samples, nil)
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}
	probe := samples[40]
	got := est.Forecast(probe)
	if math.Abs(got-probe.Target) > 20 {
		t.Fatalf("svr too far from trend: expected near %f, got %f", probe.Target, got)
	}
}

func TestSeasonalCapturesTrend(t *testing.T) {
	samples := lineSamples(60)
	est, err := (&SeasonalVariant{}).Train(samples, nil)
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}
	next := Sample{Date: samples[59].Date.AddDate(0, 0, 1)}
	got := est.Forecast(next)
	want := 3*60.0 + 10
	if math.Abs(got-want) > 10 {
		t.Fatalf("expected forecast near %f, got %f", want, got)
	}
}

func TestMarshalRoundTripPreservesForecast(t *testing.T) {
	samples := lineSamples(60)
	probe := samples[59]
	for _, v := range All() {
		est, err := v.Train(samples[:59], nil)
		if err != nil {
			t.Fatalf("%s train failed: %v", v.Name(), err)
		}
		blob, err := est.MarshalBinary()
		if err != nil {
			t.Fatalf("%s marshal failed: %v", v.Name(), err)
		}
		restored, err := Unmarshal(v.Name(), blob)
		if err != nil {
			t.Fatalf("%s unmarshal failed: %v", v.Name(), err)
		}
		if a, b := est.Forecast(probe), restored.Forecast(probe); a != b {
			t.Fatalf("%s forecast changed across round trip: %f vs %f", v.Name(), a, b)
		}
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := Unmarshal("linear", nil); err == nil {
		t.Fatalf("empty blob should fail")
	}
	if _, err := Unmarshal("martian", []byte("{}")); err == nil {
		t.Fatalf("unknown variant should fail")
	}
}
