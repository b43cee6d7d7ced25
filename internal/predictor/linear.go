package predictor

import (
	"encoding/json"
	"errors"

	"gonum.org/v1/gonum/mat"
)

type linearArtifact struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
	L2      float64   `json:"l2"`
}

type linearEstimator struct {
	artifact linearArtifact
}

// LinearVariant is ridge-regularized ordinary least squares solved through
// the normal equations.
type LinearVariant struct{}

func (v *LinearVariant) Name() string { return "linear" }

func (v *LinearVariant) Defaults() Hyperparams {
	return Hyperparams{"l2": 1e-6}
}

func (v *LinearVariant) Space() []ParamDim {
	return []ParamDim{
		{Name: "l2", Min: 1e-8, Max: 1.0, Log: true},
	}
}

func (v *LinearVariant) Train(samples []Sample, hp Hyperparams) (Estimator, error) {
	if len(samples) == 0 {
		return nil, errors.New("empty training dataset")
	}
	dim := len(samples[0].Features)
	if dim == 0 {
		return nil, errors.New("empty feature vectors")
	}
	l2 := hp.Get("l2", v.Defaults()["l2"])
	if l2 < 0 {
		l2 = 0
	}

	// Augment with a bias column and solve (X'X + l2*I) w = X'y. The bias
	// coefficient is left unregularized.
	n := len(samples)
	cols := dim + 1
	gram := mat.NewDense(cols, cols, nil)
	rhs := mat.NewVecDense(cols, nil)
	row := make([]float64, cols)
	for i := 0; i < n; i++ {
		copy(row, samples[i].Features)
		row[dim] = 1
		for a := 0; a < cols; a++ {
			rhs.SetVec(a, rhs.AtVec(a)+row[a]*samples[i].Target)
			for b := 0; b < cols; b++ {
				gram.Set(a, b, gram.At(a, b)+row[a]*row[b])
			}
		}
	}
	for a := 0; a < dim; a++ {
		gram.Set(a, a, gram.At(a, a)+l2*float64(n))
	}

	var w mat.VecDense
	if err := solveTolerant(&w, gram, rhs); err != nil {
		// Singular design matrix; retry with a stronger ridge.
		for a := 0; a < cols; a++ {
			gram.Set(a, a, gram.At(a, a)+1e-3*float64(n))
		}
		if err := solveTolerant(&w, gram, rhs); err != nil {
			return nil, err
		}
	}

	weights := make([]float64, dim)
	for a := 0; a < dim; a++ {
		weights[a] = w.AtVec(a)
	}
	return &linearEstimator{artifact: linearArtifact{
		Weights: weights,
		Bias:    w.AtVec(dim),
		L2:      l2,
	}}, nil
}

func (e *linearEstimator) Forecast(s Sample) float64 {
	if len(s.Features) != len(e.artifact.Weights) {
		return 0
	}
	out := e.artifact.Bias
	for i, w := range e.artifact.Weights {
		out += w * s.Features[i]
	}
	return out
}

func (e *linearEstimator) MarshalBinary() ([]byte, error) {
	return json.Marshal(e.artifact)
}

// solveTolerant accepts gonum's ill-conditioning report as a usable
// solution and only fails on outright singularity.
func solveTolerant(w *mat.VecDense, gram mat.Matrix, rhs mat.Vector) error {
	err := w.SolveVec(gram, rhs)
	if err == nil {
		return nil
	}
	if _, conditioned := err.(mat.Condition); conditioned {
		return nil
	}
	return err
}

func unmarshalLinear(blob []byte) (Estimator, error) {
	var a linearArtifact
	if err := json.Unmarshal(blob, &a); err != nil {
		return nil, err
	}
	if len(a.Weights) == 0 {
		return nil, errors.New("invalid linear artifact")
	}
	return &linearEstimator{artifact: a}, nil
}
