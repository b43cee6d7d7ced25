package predictor

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
)

// Shared gradient boosting loop for the tree-ensemble variants. Squared
// loss, so each round fits a tree to the current residuals.

type boostRound func(residTargets []float64, idx []int) boostedLearner

type boostedLearner interface {
	predict(x []float64) float64
}

func boostFit(samples []Sample, rounds int, learningRate float64, fitOne boostRound) (float64, []boostedLearner) {
	_, targets := unpack(samples)
	var base float64
	for _, y := range targets {
		base += y
	}
	base /= float64(len(targets))

	pred := make([]float64, len(samples))
	for i := range pred {
		pred[i] = base
	}
	idx := make([]int, len(samples))
	for i := range idx {
		idx[i] = i
	}

	resid := make([]float64, len(samples))
	learners := make([]boostedLearner, 0, rounds)
	for r := 0; r < rounds; r++ {
		for i := range resid {
			resid[i] = targets[i] - pred[i]
		}
		learner := fitOne(resid, idx)
		if learner == nil {
			break
		}
		learners = append(learners, learner)
		for i, s := range samples {
			pred[i] += learningRate * learner.predict(s.Features)
		}
	}
	return base, learners
}

func boostForecast(base float64, learningRate float64, learners []boostedLearner, x []float64) float64 {
	out := base
	for _, l := range learners {
		out += learningRate * l.predict(x)
	}
	return out
}

type boostArtifact struct {
	Base         float64     `json:"base"`
	LearningRate float64     `json:"learning_rate"`
	Trees        []*treeNode `json:"trees"`
}

type boostEstimator struct {
	artifact boostArtifact
}

// BoostVariant is gradient boosting over depth-wise regression trees.
type BoostVariant struct{}

func (v *BoostVariant) Name() string { return "boost" }

func (v *BoostVariant) Defaults() Hyperparams {
	return Hyperparams{
		"rounds":        80,
		"learning_rate": 0.08,
		"max_depth":     3,
		"min_leaf":      2,
	}
}

func (v *BoostVariant) Space() []ParamDim {
	return []ParamDim{
		{Name: "rounds", Min: 30, Max: 200, Integer: true},
		{Name: "learning_rate", Min: 0.01, Max: 0.3, Log: true},
		{Name: "max_depth", Min: 2, Max: 6, Integer: true},
		{Name: "min_leaf", Min: 1, Max: 8, Integer: true},
	}
}

func (v *BoostVariant) Train(samples []Sample, hp Hyperparams) (Estimator, error) {
	if len(samples) == 0 {
		return nil, errors.New("empty training dataset")
	}
	defs := v.Defaults()
	rounds := int(hp.Get("rounds", defs["rounds"]))
	lr := hp.Get("learning_rate", defs["learning_rate"])
	opts := treeOptions{
		maxDepth: int(hp.Get("max_depth", defs["max_depth"])),
		minLeaf:  int(hp.Get("min_leaf", defs["min_leaf"])),
	}
	if opts.minLeaf < 1 {
		opts.minLeaf = 1
	}

	features, _ := unpack(samples)
	base, learners := boostFit(samples, rounds, lr, func(resid []float64, idx []int) boostedLearner {
		return growTree(features, resid, idx, 0, opts)
	})
	trees := make([]*treeNode, len(learners))
	for i, l := range learners {
		trees[i] = l.(*treeNode)
	}
	return &boostEstimator{artifact: boostArtifact{Base: base, LearningRate: lr, Trees: trees}}, nil
}

func (e *boostEstimator) Forecast(s Sample) float64 {
	out := e.artifact.Base
	for _, t := range e.artifact.Trees {
		out += e.artifact.LearningRate * t.predict(s.Features)
	}
	return out
}

func (e *boostEstimator) MarshalBinary() ([]byte, error) {
	return json.Marshal(e.artifact)
}

func unmarshalBoost(blob []byte) (Estimator, error) {
	var a boostArtifact
	if err := json.Unmarshal(blob, &a); err != nil {
		return nil, err
	}
	if len(a.Trees) == 0 {
		return nil, errors.New("invalid boost artifact")
	}
	return &boostEstimator{artifact: a}, nil
}

// LeafwiseBoostVariant boosts trees grown leaf-wise: each step splits the
// leaf with the highest gain anywhere in the tree, up to a leaf budget.
type LeafwiseBoostVariant struct{}

func (v *LeafwiseBoostVariant) Name() string { return "boost_leafwise" }

func (v *LeafwiseBoostVariant) Defaults() Hyperparams {
	return Hyperparams{
		"rounds":        80,
		"learning_rate": 0.08,
		"num_leaves":    15,
		"min_leaf":      3,
	}
}

func (v *LeafwiseBoostVariant) Space() []ParamDim {
	return []ParamDim{
		{Name: "rounds", Min: 30, Max: 200, Integer: true},
		{Name: "learning_rate", Min: 0.01, Max: 0.3, Log: true},
		{Name: "num_leaves", Min: 4, Max: 31, Integer: true},
		{Name: "min_leaf", Min: 1, Max: 8, Integer: true},
	}
}

func (v *LeafwiseBoostVariant) Train(samples []Sample, hp Hyperparams) (Estimator, error) {
	if len(samples) == 0 {
		return nil, errors.New("empty training dataset")
	}
	defs := v.Defaults()
	rounds := int(hp.Get("rounds", defs["rounds"]))
	lr := hp.Get("learning_rate", defs["learning_rate"])
	numLeaves := int(hp.Get("num_leaves", defs["num_leaves"]))
	minLeaf := int(hp.Get("min_leaf", defs["min_leaf"]))
	if minLeaf < 1 {
		minLeaf = 1
	}
	if numLeaves < 2 {
		numLeaves = 2
	}

	features, _ := unpack(samples)
	base, learners := boostFit(samples, rounds, lr, func(resid []float64, idx []int) boostedLearner {
		return growLeafwise(features, resid, idx, numLeaves, minLeaf)
	})
	trees := make([]*treeNode, len(learners))
	for i, l := range learners {
		trees[i] = l.(*treeNode)
	}
	return &boostEstimator{artifact: boostArtifact{Base: base, LearningRate: lr, Trees: trees}}, nil
}

type openLeaf struct {
	node *treeNode
	idx  []int
}

// growLeafwise splits the globally best leaf until the leaf budget is spent
// or no leaf has a positive-gain split left.
func growLeafwise(features [][]float64, targets []float64, idx []int, numLeaves, minLeaf int) *treeNode {
	opts := treeOptions{maxDepth: math.MaxInt32, minLeaf: minLeaf}
	root := &treeNode{Value: meanOf(targets, idx)}
	open := []openLeaf{{node: root, idx: idx}}
	leafCount := 1

	for leafCount < numLeaves {
		bestGain := 0.0
		bestLeaf := -1
		var bestRes splitResult
		for i, leaf := range open {
			res, ok := bestSplit(features, targets, leaf.idx, opts)
			if ok && res.gain > bestGain {
				bestGain = res.gain
				bestLeaf = i
				bestRes = res
			}
		}
		if bestLeaf < 0 {
			break
		}
		leaf := open[bestLeaf]
		leaf.node.Feature = bestRes.feature
		leaf.node.Threshold = bestRes.threshold
		leaf.node.Value = 0
		leaf.node.Left = &treeNode{Value: meanOf(targets, bestRes.left)}
		leaf.node.Right = &treeNode{Value: meanOf(targets, bestRes.right)}

		open[bestLeaf] = openLeaf{node: leaf.node.Left, idx: bestRes.left}
		open = append(open, openLeaf{node: leaf.node.Right, idx: bestRes.right})
		leafCount++
	}
	return root
}

func unmarshalLeafwiseBoost(blob []byte) (Estimator, error) {
	return unmarshalBoost(blob)
}

type obliviousLevel struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
}

// obliviousTree applies the same split at every node of a level. A sample's
// leaf index is the bit pattern of its level comparisons.
type obliviousTree struct {
	Levels []obliviousLevel `json:"levels"`
	Values []float64        `json:"values"`
}

func (t *obliviousTree) predict(x []float64) float64 {
	leaf := 0
	for _, lvl := range t.Levels {
		leaf <<= 1
		if x[lvl.Feature] >= lvl.Threshold {
			leaf |= 1
		}
	}
	if leaf >= len(t.Values) {
		return 0
	}
	return t.Values[leaf]
}

type obliviousArtifact struct {
	Base         float64          `json:"base"`
	LearningRate float64          `json:"learning_rate"`
	Trees        []*obliviousTree `json:"trees"`
}

type obliviousEstimator struct {
	artifact obliviousArtifact
}

// ObliviousBoostVariant boosts symmetric trees: one shared split per depth
// level, so every tree is a balanced lookup table.
type ObliviousBoostVariant struct{}

func (v *ObliviousBoostVariant) Name() string { return "boost_oblivious" }

func (v *ObliviousBoostVariant) Defaults() Hyperparams {
	return Hyperparams{
		"rounds":        100,
		"learning_rate": 0.08,
		"depth":         4,
	}
}

func (v *ObliviousBoostVariant) Space() []ParamDim {
	return []ParamDim{
		{Name: "rounds", Min: 30, Max: 250, Integer: true},
		{Name: "learning_rate", Min: 0.01, Max: 0.3, Log: true},
		{Name: "depth", Min: 2, Max: 6, Integer: true},
	}
}

func (v *ObliviousBoostVariant) Train(samples []Sample, hp Hyperparams) (Estimator, error) {
	if len(samples) == 0 {
		return nil, errors.New("empty training dataset")
	}
	defs := v.Defaults()
	rounds := int(hp.Get("rounds", defs["rounds"]))
	lr := hp.Get("learning_rate", defs["learning_rate"])
	depth := int(hp.Get("depth", defs["depth"]))
	if depth < 1 {
		depth = 1
	}

	features, _ := unpack(samples)
	thresholds := candidateThresholds(features, 15)
	base, learners := boostFit(samples, rounds, lr, func(resid []float64, idx []int) boostedLearner {
		return growOblivious(features, resid, idx, depth, thresholds)
	})
	trees := make([]*obliviousTree, len(learners))
	for i, l := range learners {
		trees[i] = l.(*obliviousTree)
	}
	return &obliviousEstimator{artifact: obliviousArtifact{Base: base, LearningRate: lr, Trees: trees}}, nil
}

// candidateThresholds samples up to maxPerFeature quantile midpoints per
// feature from the full training window.
func candidateThresholds(features [][]float64, maxPerFeature int) [][]float64 {
	if len(features) == 0 {
		return nil
	}
	dim := len(features[0])
	out := make([][]float64, dim)
	col := make([]float64, len(features))
	for f := 0; f < dim; f++ {
		for i := range features {
			col[i] = features[i][f]
		}
		sort.Float64s(col)
		seen := make(map[float64]struct{})
		for q := 1; q <= maxPerFeature; q++ {
			pos := q * len(col) / (maxPerFeature + 1)
			if pos >= len(col)-1 {
				break
			}
			if col[pos] == col[pos+1] {
				continue
			}
			t := (col[pos] + col[pos+1]) / 2
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out[f] = append(out[f], t)
		}
	}
	return out
}

// growOblivious greedily picks, per level, the single (feature, threshold)
// that minimizes the summed SSE across every current leaf group.
func growOblivious(features [][]float64, targets []float64, idx []int, depth int, thresholds [][]float64) boostedLearner {
	groups := [][]int{idx}
	tree := &obliviousTree{}

	for d := 0; d < depth; d++ {
		bestSSE := math.Inf(1)
		bestFeat := -1
		bestThr := 0.0
		for f := range thresholds {
			for _, thr := range thresholds[f] {
				var total float64
				for _, g := range groups {
					var leftSum, leftSq, rightSum, rightSq float64
					var nl, nr float64
					for _, i := range g {
						y := targets[i]
						if features[i][f] < thr {
							leftSum += y
							leftSq += y * y
							nl++
						} else {
							rightSum += y
							rightSq += y * y
							nr++
						}
					}
					if nl > 0 {
						total += leftSq - leftSum*leftSum/nl
					}
					if nr > 0 {
						total += rightSq - rightSum*rightSum/nr
					}
				}
				if total < bestSSE {
					bestSSE = total
					bestFeat = f
					bestThr = thr
				}
			}
		}
		if bestFeat < 0 {
			break
		}
		tree.Levels = append(tree.Levels, obliviousLevel{Feature: bestFeat, Threshold: bestThr})
		next := make([][]int, 0, len(groups)*2)
		for _, g := range groups {
			var left, right []int
			for _, i := range g {
				if features[i][bestFeat] < bestThr {
					left = append(left, i)
				} else {
					right = append(right, i)
				}
			}
			next = append(next, left, right)
		}
		groups = next
	}

	tree.Values = make([]float64, len(groups))
	for g, members := range groups {
		tree.Values[g] = meanOf(targets, members)
	}
	return tree
}

func (e *obliviousEstimator) Forecast(s Sample) float64 {
	out := e.artifact.Base
	for _, t := range e.artifact.Trees {
		out += e.artifact.LearningRate * t.predict(s.Features)
	}
	return out
}

func (e *obliviousEstimator) MarshalBinary() ([]byte, error) {
	return json.Marshal(e.artifact)
}

func unmarshalObliviousBoost(blob []byte) (Estimator, error) {
	var a obliviousArtifact
	if err := json.Unmarshal(blob, &a); err != nil {
		return nil, err
	}
	if len(a.Trees) == 0 {
		return nil, errors.New("invalid oblivious boost artifact")
	}
	return &obliviousEstimator{artifact: a}, nil
}
