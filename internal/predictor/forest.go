package predictor

import (
	"encoding/json"
	"errors"
	"math/rand"
)

type forestArtifact struct {
	Trees       []*treeNode `json:"trees"`
	FeatureFrac float64     `json:"feature_frac"`
}

type forestEstimator struct {
	artifact forestArtifact
}

// ForestVariant is a bagged ensemble of regression trees. Each tree fits a
// bootstrap resample over a random feature subset; the forecast is the mean
// of the tree outputs.
type ForestVariant struct{}

func (v *ForestVariant) Name() string { return "forest" }

func (v *ForestVariant) Defaults() Hyperparams {
	return Hyperparams{
		"n_trees":      100,
		"max_depth":    6,
		"min_leaf":     2,
		"feature_frac": 0.8,
	}
}

func (v *ForestVariant) Space() []ParamDim {
	return []ParamDim{
		{Name: "n_trees", Min: 30, Max: 200, Integer: true},
		{Name: "max_depth", Min: 3, Max: 10, Integer: true},
		{Name: "min_leaf", Min: 1, Max: 8, Integer: true},
		{Name: "feature_frac", Min: 0.4, Max: 1.0},
	}
}

func (v *ForestVariant) Train(samples []Sample, hp Hyperparams) (Estimator, error) {
	if len(samples) == 0 {
		return nil, errors.New("empty training dataset")
	}
	defs := v.Defaults()
	nTrees := int(hp.Get("n_trees", defs["n_trees"]))
	if nTrees < 1 {
		nTrees = 1
	}
	frac := hp.Get("feature_frac", defs["feature_frac"])
	opts := treeOptions{
		maxDepth:    int(hp.Get("max_depth", defs["max_depth"])),
		minLeaf:     int(hp.Get("min_leaf", defs["min_leaf"])),
		featureFrac: frac,
	}
	if opts.minLeaf < 1 {
		opts.minLeaf = 1
	}

	features, targets := unpack(samples)
	rng := rand.New(rand.NewSource(42))
	trees := make([]*treeNode, 0, nTrees)
	idx := make([]int, len(samples))
	for t := 0; t < nTrees; t++ {
		for i := range idx {
			idx[i] = rng.Intn(len(samples))
		}
		opts.rng = rng
		trees = append(trees, growTree(features, targets, idx, 0, opts))
	}
	return &forestEstimator{artifact: forestArtifact{Trees: trees, FeatureFrac: frac}}, nil
}

func (e *forestEstimator) Forecast(s Sample) float64 {
	if len(e.artifact.Trees) == 0 {
		return 0
	}
	var sum float64
	for _, t := range e.artifact.Trees {
		sum += t.predict(s.Features)
	}
	return sum / float64(len(e.artifact.Trees))
}

func (e *forestEstimator) MarshalBinary() ([]byte, error) {
	return json.Marshal(e.artifact)
}

func unmarshalForest(blob []byte) (Estimator, error) {
	var a forestArtifact
	if err := json.Unmarshal(blob, &a); err != nil {
		return nil, err
	}
	if len(a.Trees) == 0 {
		return nil, errors.New("invalid forest artifact")
	}
	return &forestEstimator{artifact: a}, nil
}

func unpack(samples []Sample) ([][]float64, []float64) {
	features := make([][]float64, len(samples))
	targets := make([]float64, len(samples))
	for i, s := range samples {
		features[i] = s.Features
		targets[i] = s.Target
	}
	return features, targets
}
