package predictor

import (
	"errors"
	"math"
	"math/rand"
)

const (
	tuneDraws = 20
	tuneFolds = 3
	tuneSeed  = 42
)

// Tune runs a seeded random search over the variant's parameter space,
// scoring each draw with chronological cross-validation and returning the
// MAE-minimizing parameter set. Variants with an empty space return their
// defaults untouched.
func Tune(v Variant, samples []Sample) (Hyperparams, float64, error) {
	space := v.Space()
	if len(space) == 0 {
		return v.Defaults(), math.NaN(), nil
	}
	if len(samples) < tuneFolds*2 {
		return nil, 0, errors.New("not enough rows to cross-validate")
	}

	rng := rand.New(rand.NewSource(tuneSeed))
	best := v.Defaults()
	bestScore, err := crossValidate(v, samples, best)
	if err != nil {
		bestScore = math.Inf(1)
	}

	for draw := 0; draw < tuneDraws; draw++ {
		hp := drawParams(space, rng)
		score, err := crossValidate(v, samples, hp)
		if err != nil {
			continue
		}
		if score < bestScore {
			bestScore = score
			best = hp
		}
	}
	if math.IsInf(bestScore, 1) {
		return nil, 0, errors.New("every cross-validation fold failed")
	}
	return best, bestScore, nil
}

func drawParams(space []ParamDim, rng *rand.Rand) Hyperparams {
	hp := make(Hyperparams, len(space))
	for _, dim := range space {
		var v float64
		if dim.Log {
			lo, hi := math.Log(dim.Min), math.Log(dim.Max)
			v = math.Exp(lo + rng.Float64()*(hi-lo))
		} else {
			v = dim.Min + rng.Float64()*(dim.Max-dim.Min)
		}
		if dim.Integer {
			v = math.Round(v)
		}
		hp[dim.Name] = v
	}
	return hp
}

// crossValidate scores a parameter set with expanding-window folds: each
// fold trains on everything before it and is never shuffled, so no fold can
// see data from its own future.
func crossValidate(v Variant, samples []Sample, hp Hyperparams) (float64, error) {
	foldSize := len(samples) / (tuneFolds + 1)
	if foldSize < 1 {
		return 0, errors.New("not enough rows per fold")
	}

	var absSum float64
	var count int
	for fold := 1; fold <= tuneFolds; fold++ {
		trainEnd := foldSize * fold
		validEnd := trainEnd + foldSize
		if fold == tuneFolds {
			validEnd = len(samples)
		}
		est, err := v.Train(samples[:trainEnd], hp)
		if err != nil {
			return 0, err
		}
		for _, s := range samples[trainEnd:validEnd] {
			pred := est.Forecast(s)
			if math.IsNaN(pred) || math.IsInf(pred, 0) {
				return 0, errors.New("non-finite forecast during validation")
			}
			absSum += math.Abs(pred - s.Target)
			count++
		}
	}
	if count == 0 {
		return 0, errors.New("empty validation folds")
	}
	return absSum / float64(count), nil
}
