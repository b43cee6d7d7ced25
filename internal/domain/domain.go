package domain

import (
	"math"
	"time"
)

// Signal is a directional trading signal: +1 buy, 0 neutral, -1 sell.
type Signal int

const (
	SignalBuy     Signal = 1
	SignalNeutral Signal = 0
	SignalSell    Signal = -1
)

func (s Signal) IsValid() bool {
	return s == SignalBuy || s == SignalNeutral || s == SignalSell
}

// Model variant identifiers. The ledger additionally stores the synthetic
// "ensemble" pseudo-model.
const (
	VariantLinear         = "linear"
	VariantForest         = "forest"
	VariantBoost          = "boost"
	VariantBoostLeafwise  = "boost_leafwise"
	VariantBoostOblivious = "boost_oblivious"
	VariantSVR            = "svr"
	VariantSeasonal       = "seasonal"

	EnsembleModelName = "ensemble"
)

// SupportedSymbols lists the instruments tracked by default.
var SupportedSymbols = []string{"^IBEX", "^GSPC", "^N225"}

// PriceBar is one daily OHLCV row for an instrument.
type PriceBar struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// IndicatorRow holds the externally computed indicator columns for one day.
// Missing values are NaN.
type IndicatorRow struct {
	Symbol string
	Date   time.Time
	SMA20  float64
	SMA50  float64
	Vol20  float64
	RSI14  float64
}

// FeatureRow is one joined, engineered row of the feature frame.
// SMA/Vol/RSI come from the indicator store; EMA10, EMA50, Momentum and
// Volatility are derived inside the assembler from in-window history only.
type FeatureRow struct {
	Date       time.Time
	Close      float64
	SMA20      float64
	SMA50      float64
	Vol20      float64
	RSI14      float64
	EMA10      float64
	EMA50      float64
	Momentum   float64
	Volatility float64
}

// Clean reports whether every column a model fit depends on is present.
func (r FeatureRow) Clean() bool {
	for _, v := range []float64{r.Close, r.SMA20, r.SMA50, r.EMA10, r.EMA50, r.Momentum, r.Volatility} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// FeatureFrame is an ascending, duplicate-free sequence of feature rows.
// It is owned by a single prediction invocation and never mutated after
// construction.
type FeatureFrame struct {
	Symbol string
	Rows   []FeatureRow
}

func (f FeatureFrame) Empty() bool { return len(f.Rows) == 0 }

// Last returns the most recent row; callers must check Empty first.
func (f FeatureFrame) Last() FeatureRow { return f.Rows[len(f.Rows)-1] }

// Clean returns the rows usable for model fitting, in order.
func (f FeatureFrame) Clean() []FeatureRow {
	out := make([]FeatureRow, 0, len(f.Rows))
	for _, r := range f.Rows {
		if r.Clean() {
			out = append(out, r)
		}
	}
	return out
}

// ArtifactMetadata is the training metadata persisted alongside a fitted
// model blob.
type ArtifactMetadata struct {
	MAE         float64            `json:"mae"`
	RMSE        float64            `json:"rmse"`
	SampleCount int                `json:"sample_count"`
	TunedParams map[string]float64 `json:"tuned_params,omitempty"`
}

// ModelArtifact is a persisted trained model. The blob is opaque to the
// store; only the matching predictor variant can decode it. Artifacts are
// immutable once written and superseded, never edited.
type ModelArtifact struct {
	Symbol       string
	Variant      string
	TrainingDate time.Time
	Blob         []byte
	Metadata     ArtifactMetadata
	CreatedAt    time.Time
}

// ArtifactInfo describes a stored artifact without its blob.
type ArtifactInfo struct {
	Variant      string           `json:"variant"`
	TrainingDate time.Time        `json:"training_date"`
	IsLatest     bool             `json:"is_latest"`
	Metadata     ArtifactMetadata `json:"metadata"`
}

// ModelResult is one predictor variant's contribution to an ensemble call.
type ModelResult struct {
	Variant      string    `json:"model_name"`
	Forecast     float64   `json:"prediction_next_day"`
	Signal       Signal    `json:"signal_next_day"`
	MAE          float64   `json:"mae"`
	RMSE         float64   `json:"rmse"`
	FromCache    bool      `json:"from_cache"`
	TrainingDate time.Time `json:"training_date"`
	Tuned        bool      `json:"tuned,omitempty"`
	SampleCount  int       `json:"sample_count,omitempty"`
}

// EnsembleCall is the derived output of one aggregator invocation. It is
// recomputed fresh on every call and never stored as its own entity.
type EnsembleCall struct {
	Symbol         string        `json:"symbol"`
	AsOf           time.Time     `json:"as_of"`
	RuleSignals    []Signal      `json:"rule_signals"`
	Models         []ModelResult `json:"ml_models"`
	MLSignals      []Signal      `json:"ml_signals"`
	SignalEnsemble Signal        `json:"signal_ensemble"`
	// DirectionProbUp is a non-voting gradient-boosted classifier diagnostic;
	// NaN-safe zero when the classifier could not be fit.
	DirectionProbUp float64 `json:"direction_prob_up,omitempty"`
}

// PredictionRecord mirrors one ledger row. TrueValue and AbsoluteError stay
// nil until the realized close is posted and the row is validated.
type PredictionRecord struct {
	Symbol          string    `json:"symbol"`
	PredictionDate  time.Time `json:"prediction_date"`
	ModelName       string    `json:"model_name"`
	RunDate         time.Time `json:"run_date"`
	PredictedValue  float64   `json:"predicted_value"`
	PredictedSignal Signal    `json:"predicted_signal"`
	TrueValue       *float64  `json:"true_value,omitempty"`
	AbsoluteError   *float64  `json:"absolute_error,omitempty"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
}

// ValidationResult reports one validation pass over the ledger.
type ValidationResult struct {
	TargetDate           time.Time `json:"target_date"`
	ValidatedInstruments []string  `json:"validated_instruments"`
	RowsUpdated          int       `json:"rows_updated"`
}

// ModelPerformance aggregates validated ledger rows for one model over a
// trailing window.
type ModelPerformance struct {
	ModelName      string   `json:"model_name"`
	Predictions    int      `json:"n_predictions"`
	MAE            float64  `json:"mae"`
	RMSE           float64  `json:"rmse"`
	BestError      float64  `json:"best_prediction_error"`
	WorstError     float64  `json:"worst_prediction_error"`
	StdError       float64  `json:"std_error"`
	BuyAccuracy    *float64 `json:"buy_signal_accuracy,omitempty"`
	SellAccuracy   *float64 `json:"sell_signal_accuracy,omitempty"`
	NeedsRetrain   bool     `json:"needs_retrain"`
	RetrainReasons []string `json:"retrain_reasons,omitempty"`
}

// PerformanceSummary is the derived read model returned by the evaluator.
// Recomputed on demand, never persisted.
type PerformanceSummary struct {
	Symbol          string             `json:"symbol"`
	WindowStart     time.Time          `json:"window_start"`
	WindowEnd       time.Time          `json:"window_end"`
	Models          []ModelPerformance `json:"models"`
	BestModel       string             `json:"best_model,omitempty"`
	ModelsToRetrain []string           `json:"models_to_retrain,omitempty"`
	AvgMAE          float64            `json:"avg_mae_all_models"`
}

// RetrainResult reports what a forced retrain produced and cleaned up.
type RetrainResult struct {
	Call               EnsembleCall `json:"call"`
	ModelsRetrained    int          `json:"models_retrained"`
	OldArtifactsPruned int          `json:"old_artifacts_pruned"`
}

// RetrainAdvice is the evaluator's recommendation; acting on it is the
// caller's decision.
type RetrainAdvice struct {
	Symbol          string              `json:"symbol"`
	ShouldRetrain   bool                `json:"should_retrain"`
	Reasons         []string            `json:"reasons"`
	AvgMAE          float64             `json:"avg_mae"`
	ModelsToRetrain []string            `json:"models_to_retrain,omitempty"`
	Report          *PerformanceSummary `json:"detailed_report,omitempty"`
}

// ConversationMessage is one turn of an advisor chat, keyed by Telegram chat id.
type ConversationMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
