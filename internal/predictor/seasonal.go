package predictor

import (
	"encoding/json"
	"errors"
	"time"

	"gonum.org/v1/gonum/mat"
)

type seasonalArtifact struct {
	Intercept float64    `json:"intercept"`
	Trend     float64    `json:"trend"`
	Weekday   [5]float64 `json:"weekday"`
	NextIndex int        `json:"next_index"`
	L2        float64    `json:"l2"`
}

type seasonalEstimator struct {
	artifact seasonalArtifact
}

// SeasonalVariant regresses the close on a linear time trend plus
// day-of-week offsets. It ignores the engineered features entirely and
// exists to give the vote a purely calendar-driven member.
type SeasonalVariant struct{}

func (v *SeasonalVariant) Name() string { return "seasonal" }

func (v *SeasonalVariant) Defaults() Hyperparams {
	return Hyperparams{"l2": 1e-4}
}

func (v *SeasonalVariant) Space() []ParamDim {
	return []ParamDim{
		{Name: "l2", Min: 1e-6, Max: 1.0, Log: true},
	}
}

func (v *SeasonalVariant) Train(samples []Sample, hp Hyperparams) (Estimator, error) {
	if len(samples) < 2 {
		return nil, errors.New("not enough rows for seasonal fit")
	}
	l2 := hp.Get("l2", v.Defaults()["l2"])
	if l2 < 0 {
		l2 = 0
	}

	// Design: intercept, trend index, Tuesday..Friday dummies. Monday is
	// the baseline so the dummies stay identifiable.
	const cols = 6
	gram := mat.NewDense(cols, cols, nil)
	rhs := mat.NewVecDense(cols, nil)
	row := make([]float64, cols)
	for t, s := range samples {
		seasonalRow(row, t, s.Date)
		for a := 0; a < cols; a++ {
			rhs.SetVec(a, rhs.AtVec(a)+row[a]*s.Target)
			for b := 0; b < cols; b++ {
				gram.Set(a, b, gram.At(a, b)+row[a]*row[b])
			}
		}
	}
	for a := 1; a < cols; a++ {
		gram.Set(a, a, gram.At(a, a)+l2*float64(len(samples)))
	}

	var w mat.VecDense
	if err := solveTolerant(&w, gram, rhs); err != nil {
		return nil, err
	}

	art := seasonalArtifact{
		Intercept: w.AtVec(0),
		Trend:     w.AtVec(1),
		NextIndex: len(samples),
		L2:        l2,
	}
	for d := 1; d < 5; d++ {
		art.Weekday[d] = w.AtVec(1 + d)
	}
	return &seasonalEstimator{artifact: art}, nil
}

func seasonalRow(row []float64, t int, date time.Time) {
	for i := range row {
		row[i] = 0
	}
	row[0] = 1
	row[1] = float64(t)
	if d := weekdayIndex(date); d >= 1 {
		row[1+d] = 1
	}
}

// weekdayIndex maps Monday..Friday to 0..4; weekend rows fold into Monday.
func weekdayIndex(date time.Time) int {
	switch date.Weekday() {
	case time.Tuesday:
		return 1
	case time.Wednesday:
		return 2
	case time.Thursday:
		return 3
	case time.Friday:
		return 4
	default:
		return 0
	}
}

// Forecast assumes the input is the row immediately after the training
// window, which is how the bank always calls it.
func (e *seasonalEstimator) Forecast(s Sample) float64 {
	a := e.artifact
	out := a.Intercept + a.Trend*float64(a.NextIndex)
	if d := weekdayIndex(s.Date); d >= 1 {
		out += a.Weekday[d]
	}
	return out
}

func (e *seasonalEstimator) MarshalBinary() ([]byte, error) {
	return json.Marshal(e.artifact)
}

func unmarshalSeasonal(blob []byte) (Estimator, error) {
	var a seasonalArtifact
	if err := json.Unmarshal(blob, &a); err != nil {
		return nil, err
	}
	if a.NextIndex <= 0 {
		return nil, errors.New("invalid seasonal artifact")
	}
	return &seasonalEstimator{artifact: a}, nil
}
