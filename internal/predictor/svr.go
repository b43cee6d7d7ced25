package predictor

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
)

type svrArtifact struct {
	Weights      []float64 `json:"weights"`
	Bias         float64   `json:"bias"`
	FeatureMeans []float64 `json:"feature_means"`
	FeatureStds  []float64 `json:"feature_stds"`
	TargetMean   float64   `json:"target_mean"`
	TargetStd    float64   `json:"target_std"`
	C            float64   `json:"c"`
	Epsilon      float64   `json:"epsilon"`
}

type svrEstimator struct {
	artifact svrArtifact
}

// SVRVariant is a linear support vector regressor fit in the primal with
// epsilon-insensitive loss and stochastic subgradient steps. Features and
// target are standardized before the fit; the forecast is de-standardized.
type SVRVariant struct{}

func (v *SVRVariant) Name() string { return "svr" }

func (v *SVRVariant) Defaults() Hyperparams {
	return Hyperparams{
		"c":       1.0,
		"epsilon": 0.05,
		"epochs":  300,
	}
}

func (v *SVRVariant) Space() []ParamDim {
	return []ParamDim{
		{Name: "c", Min: 0.01, Max: 100, Log: true},
		{Name: "epsilon", Min: 0.001, Max: 0.5, Log: true},
		{Name: "epochs", Min: 100, Max: 800, Integer: true},
	}
}

func (v *SVRVariant) Train(samples []Sample, hp Hyperparams) (Estimator, error) {
	if len(samples) == 0 {
		return nil, errors.New("empty training dataset")
	}
	dim := len(samples[0].Features)
	if dim == 0 {
		return nil, errors.New("empty feature vectors")
	}
	defs := v.Defaults()
	c := hp.Get("c", defs["c"])
	epsilon := hp.Get("epsilon", defs["epsilon"])
	epochs := int(hp.Get("epochs", defs["epochs"]))
	if epochs < 1 {
		epochs = 1
	}

	featMeans, featStds := columnStats(samples, dim)
	var tMean, tStd float64
	for _, s := range samples {
		tMean += s.Target
	}
	tMean /= float64(len(samples))
	for _, s := range samples {
		d := s.Target - tMean
		tStd += d * d
	}
	tStd = math.Sqrt(tStd / float64(len(samples)))
	if tStd == 0 {
		tStd = 1
	}

	x := make([][]float64, len(samples))
	y := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = standardize(s.Features, featMeans, featStds)
		y[i] = (s.Target - tMean) / tStd
	}

	weights := make([]float64, dim)
	bias := 0.0
	lambda := 1.0 / (c * float64(len(samples)))
	rng := rand.New(rand.NewSource(42))
	step := 0

	for epoch := 0; epoch < epochs; epoch++ {
		for range samples {
			step++
			i := rng.Intn(len(samples))
			eta := 1.0 / (lambda * float64(step))
			pred := bias
			for j := range weights {
				pred += weights[j] * x[i][j]
			}
			diff := pred - y[i]

			for j := range weights {
				weights[j] -= eta * lambda * weights[j]
			}
			if diff > epsilon {
				for j := range weights {
					weights[j] -= eta * x[i][j] / float64(len(samples))
				}
				bias -= eta / float64(len(samples))
			} else if diff < -epsilon {
				for j := range weights {
					weights[j] += eta * x[i][j] / float64(len(samples))
				}
				bias += eta / float64(len(samples))
			}
		}
	}

	return &svrEstimator{artifact: svrArtifact{
		Weights:      weights,
		Bias:         bias,
		FeatureMeans: featMeans,
		FeatureStds:  featStds,
		TargetMean:   tMean,
		TargetStd:    tStd,
		C:            c,
		Epsilon:      epsilon,
	}}, nil
}

func (e *svrEstimator) Forecast(s Sample) float64 {
	a := e.artifact
	if len(s.Features) != len(a.Weights) {
		return a.TargetMean
	}
	x := standardize(s.Features, a.FeatureMeans, a.FeatureStds)
	pred := a.Bias
	for j, w := range a.Weights {
		pred += w * x[j]
	}
	return pred*a.TargetStd + a.TargetMean
}

func (e *svrEstimator) MarshalBinary() ([]byte, error) {
	return json.Marshal(e.artifact)
}

func unmarshalSVR(blob []byte) (Estimator, error) {
	var a svrArtifact
	if err := json.Unmarshal(blob, &a); err != nil {
		return nil, err
	}
	if len(a.Weights) == 0 || len(a.Weights) != len(a.FeatureMeans) || len(a.Weights) != len(a.FeatureStds) {
		return nil, errors.New("invalid svr artifact")
	}
	return &svrEstimator{artifact: a}, nil
}

func columnStats(samples []Sample, dim int) ([]float64, []float64) {
	means := make([]float64, dim)
	stds := make([]float64, dim)
	for j := 0; j < dim; j++ {
		for i := range samples {
			means[j] += samples[i].Features[j]
		}
		means[j] /= float64(len(samples))
		for i := range samples {
			d := samples[i].Features[j] - means[j]
			stds[j] += d * d
		}
		stds[j] = math.Sqrt(stds[j] / float64(len(samples)))
		if stds[j] == 0 {
			stds[j] = 1
		}
	}
	return means, stds
}

func standardize(in, means, stds []float64) []float64 {
	out := make([]float64, len(in))
	for i := range in {
		out[i] = (in[i] - means[i]) / stds[i]
	}
	return out
}
