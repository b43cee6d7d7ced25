package predictor

import (
	"errors"
	"fmt"
	"time"
)

// Sample is one training or inference row: the engineered feature vector,
// its calendar date, and the close the variant regresses on.
type Sample struct {
	Date     time.Time
	Features []float64
	Target   float64
}

// Hyperparams is a flat named parameter set. Missing keys fall back to the
// variant's defaults.
type Hyperparams map[string]float64

func (h Hyperparams) Get(name string, def float64) float64 {
	if h == nil {
		return def
	}
	if v, ok := h[name]; ok {
		return v
	}
	return def
}

// ParamDim bounds one tunable dimension. Log dimensions are sampled
// log-uniformly; Integer dimensions round after sampling.
type ParamDim struct {
	Name    string
	Min     float64
	Max     float64
	Log     bool
	Integer bool
}

// Estimator is a fitted model. Forecast ignores the sample's Target.
type Estimator interface {
	Forecast(s Sample) float64
	MarshalBinary() ([]byte, error)
}

// Variant is one trainable model family in the bank.
type Variant interface {
	Name() string
	Defaults() Hyperparams
	Space() []ParamDim
	Train(samples []Sample, hp Hyperparams) (Estimator, error)
}

// All returns the registered variants in their stable bank order.
func All() []Variant {
	return []Variant{
		&LinearVariant{},
		&ForestVariant{},
		&BoostVariant{},
		&LeafwiseBoostVariant{},
		&ObliviousBoostVariant{},
		&SVRVariant{},
		&SeasonalVariant{},
	}
}

// ByName resolves a variant identifier, or nil when unknown.
func ByName(name string) Variant {
	for _, v := range All() {
		if v.Name() == name {
			return v
		}
	}
	return nil
}

// Unmarshal decodes a stored blob into the named variant's estimator.
func Unmarshal(variant string, blob []byte) (Estimator, error) {
	if len(blob) == 0 {
		return nil, errors.New("empty artifact blob")
	}
	switch variant {
	case "linear":
		return unmarshalLinear(blob)
	case "forest":
		return unmarshalForest(blob)
	case "boost":
		return unmarshalBoost(blob)
	case "boost_leafwise":
		return unmarshalLeafwiseBoost(blob)
	case "boost_oblivious":
		return unmarshalObliviousBoost(blob)
	case "svr":
		return unmarshalSVR(blob)
	case "seasonal":
		return unmarshalSeasonal(blob)
	default:
		return nil, fmt.Errorf("unknown model variant %q", variant)
	}
}
