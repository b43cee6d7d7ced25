package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"market-quorum/internal/cache"
	"market-quorum/internal/domain"
	"market-quorum/internal/ensemble"
	"market-quorum/internal/predictor"
	"market-quorum/internal/replay"
	"market-quorum/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type stubEnsemble struct{ call domain.EnsembleCall }

func (s stubEnsemble) Call(context.Context, string, ensemble.Options) (domain.EnsembleCall, error) {
	return s.call, nil
}

type stubLedger struct{}

func (stubLedger) Record(context.Context, domain.EnsembleCall, time.Time, time.Time) error {
	return nil
}

func (stubLedger) FillOutcomes(context.Context, string, time.Time, float64) (int, error) {
	return 1, nil
}

type stubPrices struct{}

func (stubPrices) ClosesOn(context.Context, time.Time) (map[string]float64, error) {
	return map[string]float64{"^IBEX": 11000}, nil
}

func (stubPrices) LatestDate(context.Context, string) (time.Time, error) {
	return time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC), nil
}

type stubArtifacts struct{}

func (stubArtifacts) Describe(context.Context, string) ([]domain.ArtifactInfo, error) {
	return nil, nil
}

func (stubArtifacts) Prune(context.Context, string, int) (int, error) { return 0, nil }

type stubFrames struct{}

func (stubFrames) Frame(context.Context, string, *time.Time) (domain.FeatureFrame, error) {
	return domain.FeatureFrame{}, nil
}

type stubTuner struct{}

func (stubTuner) TuneVariant(context.Context, domain.FeatureFrame, string, time.Time) (predictor.Hyperparams, float64, error) {
	return nil, 0, nil
}

type stubEvaluator struct {
	summary      domain.PerformanceSummary
	advice       domain.RetrainAdvice
	maeThreshold float64
}

func (s stubEvaluator) Report(context.Context, string, int, time.Time) (domain.PerformanceSummary, error) {
	return s.summary, nil
}

func (s *stubEvaluator) ShouldRetrain(_ context.Context, _ string, _, _ int, maeThreshold float64, _ time.Time) (domain.RetrainAdvice, error) {
	s.maeThreshold = maeThreshold
	return s.advice, nil
}

type stubReplayer struct {
	from, to time.Time
}

func (s *stubReplayer) Run(_ context.Context, symbol string, from, to time.Time) (replay.Result, error) {
	s.from, s.to = from, to
	return replay.Result{Symbol: symbol, Steps: 5}, nil
}

func testHandler(call domain.EnsembleCall, replayer *stubReplayer) *Handler {
	return testHandlerWithEvaluator(call, replayer, &stubEvaluator{})
}

func testHandlerWithEvaluator(call domain.EnsembleCall, replayer *stubReplayer, evaluator *stubEvaluator) *Handler {
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	predictions := service.NewPredictionService(
		tracer, stubEnsemble{call: call}, stubLedger{}, stubPrices{},
		stubArtifacts{}, stubFrames{}, stubTuner{},
		cache.NewPredictionCache(nil, 0),
		[]string{"^IBEX"}, 0, 7,
	)
	if replayer == nil {
		replayer = &stubReplayer{}
	}
	return New(tracer, predictions, nil, evaluator, replayer, 30, 7, 2)
}

func serve(h *Handler, method, target string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, target, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := serve(testHandler(domain.EnsembleCall{}, nil), "GET", "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestPredictKnownSymbol(t *testing.T) {
	call := domain.EnsembleCall{
		Symbol:         "^IBEX",
		AsOf:           time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC),
		SignalEnsemble: domain.SignalBuy,
		Models:         []domain.ModelResult{{Variant: "linear", Forecast: 11050, Signal: domain.SignalBuy}},
	}
	w := serve(testHandler(call, nil), "GET", "/api/predict/^IBEX")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var got domain.EnsembleCall
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if got.SignalEnsemble != domain.SignalBuy || len(got.Models) != 1 {
		t.Fatalf("unexpected call payload: %+v", got)
	}
}

func TestPredictUnknownSymbolIs400(t *testing.T) {
	w := serve(testHandler(domain.EnsembleCall{}, nil), "GET", "/api/predict/^FTSE")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestSimpleSignalNeutralOnEmptyHistory(t *testing.T) {
	w := serve(testHandler(domain.EnsembleCall{}, nil), "GET", "/api/signal/^IBEX")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var got struct {
		Symbol string        `json:"symbol"`
		Signal domain.Signal `json:"signal"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if got.Symbol != "^IBEX" || got.Signal != domain.SignalNeutral {
		t.Fatalf("unexpected signal payload: %+v", got)
	}
}

func TestSimpleSignalUnknownSymbolIs400(t *testing.T) {
	w := serve(testHandler(domain.EnsembleCall{}, nil), "GET", "/api/signal/^FTSE")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestReplayValidatesDates(t *testing.T) {
	h := testHandler(domain.EnsembleCall{}, nil)
	if w := serve(h, "POST", "/api/replay/^IBEX?from=nope&to=2026-01-31"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad from should 400, got %d", w.Code)
	}
	if w := serve(h, "POST", "/api/replay/^IBEX?from=2026-02-01&to=2026-01-31"); w.Code != http.StatusBadRequest {
		t.Fatalf("inverted range should 400, got %d", w.Code)
	}
}

func TestReplayPassesRangeThrough(t *testing.T) {
	replayer := &stubReplayer{}
	h := testHandler(domain.EnsembleCall{}, replayer)
	w := serve(h, "POST", "/api/replay/^IBEX?from=2026-01-05&to=2026-01-30")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if replayer.from.Day() != 5 || replayer.to.Day() != 30 {
		t.Fatalf("range not passed through: %v %v", replayer.from, replayer.to)
	}
}

func TestReportRejectsBadWindow(t *testing.T) {
	w := serve(testHandler(domain.EnsembleCall{}, nil), "GET", "/api/report/^IBEX?window=zero")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestRetrainReturnsCounts(t *testing.T) {
	call := domain.EnsembleCall{
		Symbol: "^IBEX",
		AsOf:   time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC),
		Models: []domain.ModelResult{{Variant: "linear", Forecast: 11050}},
	}
	w := serve(testHandler(call, nil), "POST", "/api/retrain/^IBEX")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var got domain.RetrainResult
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if got.ModelsRetrained != 1 || got.Call.Symbol != "^IBEX" {
		t.Fatalf("unexpected retrain payload: %+v", got)
	}
}

func TestRetrainRejectsBadTuneFlag(t *testing.T) {
	w := serve(testHandler(domain.EnsembleCall{}, nil), "POST", "/api/retrain/^IBEX?tune=maybe")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestRetrainCheckPassesThresholdThrough(t *testing.T) {
	evaluator := &stubEvaluator{}
	h := testHandlerWithEvaluator(domain.EnsembleCall{}, nil, evaluator)
	if w := serve(h, "GET", "/api/retrain-check/^IBEX?mae_threshold=150.5"); w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if evaluator.maeThreshold != 150.5 {
		t.Fatalf("threshold not passed through, got %f", evaluator.maeThreshold)
	}
	if w := serve(h, "GET", "/api/retrain-check/^IBEX"); w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if evaluator.maeThreshold != 0 {
		t.Fatalf("an absent threshold should fall back to the configured default, got %f", evaluator.maeThreshold)
	}
}

func TestRetrainCheckRejectsBadThreshold(t *testing.T) {
	w := serve(testHandler(domain.EnsembleCall{}, nil), "GET", "/api/retrain-check/^IBEX?mae_threshold=-5")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(APIKeyAuth("sekret"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/x", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing key should 401, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/x", nil)
	req.Header.Set("X-API-Key", "wrong")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("wrong key should 403, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/x", nil)
	req.Header.Set("X-API-Key", "sekret")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("right key should pass, got %d", w.Code)
	}
}
