package predictor

import (
	"math"
	"math/rand"
	"sort"
)

// treeNode is one node of a regression tree. Leaves carry Value; internal
// nodes split on Feature < Threshold.
type treeNode struct {
	Feature   int       `json:"f,omitempty"`
	Threshold float64   `json:"t,omitempty"`
	Value     float64   `json:"v,omitempty"`
	Left      *treeNode `json:"l,omitempty"`
	Right     *treeNode `json:"r,omitempty"`
}

func (n *treeNode) leaf() bool { return n.Left == nil && n.Right == nil }

func (n *treeNode) predict(x []float64) float64 {
	for !n.leaf() {
		if x[n.Feature] < n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Value
}

type treeOptions struct {
	maxDepth    int
	minLeaf     int
	featureFrac float64
	rng         *rand.Rand
}

type splitResult struct {
	feature   int
	threshold float64
	gain      float64
	left      []int
	right     []int
}

func meanOf(targets []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, i := range idx {
		sum += targets[i]
	}
	return sum / float64(len(idx))
}

func sseOf(targets []float64, idx []int) float64 {
	m := meanOf(targets, idx)
	var sse float64
	for _, i := range idx {
		d := targets[i] - m
		sse += d * d
	}
	return sse
}

// bestSplit scans candidate features for the variance-reduction-optimal
// threshold over the index subset. Returns ok=false when no split beats the
// parent or satisfies the leaf minimum.
func bestSplit(features [][]float64, targets []float64, idx []int, opts treeOptions) (splitResult, bool) {
	if len(idx) < 2*opts.minLeaf {
		return splitResult{}, false
	}
	dim := len(features[0])
	candidates := featureSubset(dim, opts)

	parentSSE := sseOf(targets, idx)
	best := splitResult{gain: 0}
	found := false

	order := make([]int, len(idx))
	for _, f := range candidates {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool {
			return features[order[a]][f] < features[order[b]][f]
		})

		// Prefix sums over the sorted order give each candidate split's SSE
		// in one pass.
		var leftSum, leftSq float64
		var totalSum, totalSq float64
		for _, i := range order {
			totalSum += targets[i]
			totalSq += targets[i] * targets[i]
		}
		n := float64(len(order))
		for k := 0; k < len(order)-1; k++ {
			y := targets[order[k]]
			leftSum += y
			leftSq += y * y
			if k+1 < opts.minLeaf || len(order)-k-1 < opts.minLeaf {
				continue
			}
			if features[order[k]][f] == features[order[k+1]][f] {
				continue
			}
			nl := float64(k + 1)
			nr := n - nl
			leftSSE := leftSq - leftSum*leftSum/nl
			rightSSE := (totalSq - leftSq) - (totalSum-leftSum)*(totalSum-leftSum)/nr
			gain := parentSSE - leftSSE - rightSSE
			if gain > best.gain {
				threshold := (features[order[k]][f] + features[order[k+1]][f]) / 2
				best = splitResult{feature: f, threshold: threshold, gain: gain}
				best.left = append(best.left[:0], order[:k+1]...)
				best.right = append(best.right[:0], order[k+1:]...)
				found = true
			}
		}
	}
	if !found {
		return splitResult{}, false
	}
	return best, true
}

func featureSubset(dim int, opts treeOptions) []int {
	all := make([]int, dim)
	for i := range all {
		all[i] = i
	}
	if opts.featureFrac <= 0 || opts.featureFrac >= 1 || opts.rng == nil {
		return all
	}
	k := int(math.Ceil(opts.featureFrac * float64(dim)))
	if k < 1 {
		k = 1
	}
	opts.rng.Shuffle(dim, func(a, b int) { all[a], all[b] = all[b], all[a] })
	picked := all[:k]
	sort.Ints(picked)
	return picked
}

// growTree builds a depth-limited variance-reduction regression tree over
// the index subset.
func growTree(features [][]float64, targets []float64, idx []int, depth int, opts treeOptions) *treeNode {
	node := &treeNode{Value: meanOf(targets, idx)}
	if depth >= opts.maxDepth || len(idx) < 2*opts.minLeaf {
		return node
	}
	split, ok := bestSplit(features, targets, idx, opts)
	if !ok {
		return node
	}
	node.Feature = split.feature
	node.Threshold = split.threshold
	node.Value = 0
	node.Left = growTree(features, targets, split.left, depth+1, opts)
	node.Right = growTree(features, targets, split.right, depth+1, opts)
	return node
}
