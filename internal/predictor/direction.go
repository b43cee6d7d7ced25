package predictor

import (
	"errors"
	"math"

	"github.com/rmera/boo"
	"github.com/rmera/boo/utils"
)

// DirectionClassifier is a gradient-boosted up/down classifier over the
// same feature vectors the regressors consume. It never joins the vote; its
// probability is attached to the ensemble output as a diagnostic.
type DirectionClassifier struct {
	boost *boo.MultiClass
}

// TrainDirection fits the classifier on consecutive close moves: the label
// for row i is whether row i+1 closed higher. The final row has no next
// close and is dropped.
func TrainDirection(samples []Sample) (*DirectionClassifier, error) {
	if len(samples) < 3 {
		return nil, errors.New("not enough rows for direction fit")
	}

	data := make([][]float64, 0, len(samples)-1)
	labels := make([]int, 0, len(samples)-1)
	classes := make(map[int]struct{}, 2)
	for i := 0; i < len(samples)-1; i++ {
		label := 0
		if samples[i+1].Target > samples[i].Target {
			label = 1
		}
		data = append(data, samples[i].Features)
		labels = append(labels, label)
		classes[label] = struct{}{}
	}
	if len(classes) < 2 {
		return nil, errors.New("close series is one-directional")
	}

	o := boo.DefaultXOptions()
	o.Rounds = 40
	o.LearningRate = 0.08
	o.MaxDepth = 4
	o.Verbose = false
	o.EarlyStop = 0

	model := boo.NewMultiClass(&utils.DataBunch{Data: data, Labels: labels}, o)
	if model == nil {
		return nil, errors.New("direction classifier failed to fit")
	}
	return &DirectionClassifier{boost: model}, nil
}

// ProbUp returns the probability that the next close is higher, clamped to
// [0,1]. A nil classifier reports the uninformative 0.5.
func (c *DirectionClassifier) ProbUp(features []float64) float64 {
	if c == nil || c.boost == nil {
		return 0.5
	}
	probs := c.boost.PredictSingle(features)
	labels := c.boost.ClassLabels()
	for i := range labels {
		if labels[i] == 1 {
			return clampProb(probs[i])
		}
	}
	if len(probs) == 0 {
		return 0.5
	}
	return clampProb(probs[len(probs)-1])
}

func clampProb(v float64) float64 {
	if math.IsNaN(v) {
		return 0.5
	}
	return math.Max(0, math.Min(1, v))
}
