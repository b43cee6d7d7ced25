package predictor

import (
	"math"
	"math/rand"
	"testing"
)

func TestDrawParamsRespectsBounds(t *testing.T) {
	space := []ParamDim{
		{Name: "rounds", Min: 30, Max: 200, Integer: true},
		{Name: "learning_rate", Min: 0.01, Max: 0.3, Log: true},
		{Name: "frac", Min: 0.4, Max: 1.0},
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		hp := drawParams(space, rng)
		r := hp["rounds"]
		if r < 30 || r > 200 || r != math.Round(r) {
			t.Fatalf("rounds out of bounds or fractional: %f", r)
		}
		if lr := hp["learning_rate"]; lr < 0.01 || lr > 0.3 {
			t.Fatalf("learning_rate out of bounds: %f", lr)
		}
		if f := hp["frac"]; f < 0.4 || f > 1.0 {
			t.Fatalf("frac out of bounds: %f", f)
		}
	}
}

func TestTuneReturnsDefaultsForEmptySpace(t *testing.T) {
	samples := lineSamples(40)
	hp, _, err := Tune(&noSpaceVariant{}, samples)
	if err != nil {
		t.Fatalf("tune failed: %v", err)
	}
	if hp["l2"] != 1e-6 {
		t.Fatalf("expected defaults back, got %v", hp)
	}
}

type noSpaceVariant struct{ LinearVariant }

func (*noSpaceVariant) Space() []ParamDim { return nil }

func TestTunePicksFiniteScore(t *testing.T) {
	samples := lineSamples(60)
	hp, score, err := Tune(&LinearVariant{}, samples)
	if err != nil {
		t.Fatalf("tune failed: %v", err)
	}
	if hp == nil {
		t.Fatalf("expected a parameter set")
	}
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
		t.Fatalf("expected a finite non-negative score, got %f", score)
	}
}

func TestCrossValidateNeedsEnoughRows(t *testing.T) {
	if _, _, err := Tune(&LinearVariant{}, lineSamples(4)); err == nil {
		t.Fatalf("expected an error for a tiny dataset")
	}
}

func TestTuneIsDeterministic(t *testing.T) {
	samples := lineSamples(60)
	a, _, err := Tune(&BoostVariant{}, samples)
	if err != nil {
		t.Fatalf("tune failed: %v", err)
	}
	b, _, err := Tune(&BoostVariant{}, samples)
	if err != nil {
		t.Fatalf("tune failed: %v", err)
	}
	for k, v := range a {
		if b[k] != v {
			t.Fatalf("seeded search diverged on %s: %f vs %f", k, v, b[k])
		}
	}
}
