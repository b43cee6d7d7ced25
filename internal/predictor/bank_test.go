package predictor

import (
	"context"
	"testing"
	"time"

	"market-quorum/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type memoryStore struct {
	dated  map[string]domain.ModelArtifact
	latest map[string]domain.ModelArtifact
	saves  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		dated:  make(map[string]domain.ModelArtifact),
		latest: make(map[string]domain.ModelArtifact),
	}
}

func datedKey(symbol, variant string, d time.Time) string {
	return symbol + "|" + variant + "|" + d.Format("2006-01-02")
}

func (m *memoryStore) LoadLatest(_ context.Context, symbol, variant string) (*domain.ModelArtifact, error) {
	if art, ok := m.latest[symbol+"|"+variant]; ok {
		return &art, nil
	}
	return nil, nil
}

func (m *memoryStore) Save(_ context.Context, art domain.ModelArtifact) error {
	m.saves++
	m.dated[datedKey(art.Symbol, art.Variant, art.TrainingDate)] = art
	m.latest[art.Symbol+"|"+art.Variant] = art
	return nil
}

func bankFrame(n int) domain.FeatureFrame {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	rows := make([]domain.FeatureRow, n)
	for i := 0; i < n; i++ {
		x := float64(i)
		close := 1000 + 2*x
		if i%4 == 0 {
			close -= 3
		}
		rows[i] = domain.FeatureRow{
			Date:       start.AddDate(0, 0, i),
			Close:      close,
			SMA20:      close - 1,
			SMA50:      close - 2,
			Vol20:      0.01,
			RSI14:      50,
			EMA10:      close - 0.5,
			EMA50:      close - 1.5,
			Momentum:   10,
			Volatility: 2,
		}
	}
	return domain.FeatureFrame{Symbol: "^GSPC", Rows: rows}
}

func TestBankShortFrameYieldsEmptyResult(t *testing.T) {
	bank := NewBank(newMemoryStore(), trace.NewNoopTracerProvider().Tracer("test"), 50)
	results, probUp, err := bank.Predict(context.Background(), bankFrame(20), time.Now(), false, false)
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if len(results) != 0 || probUp != 0 {
		t.Fatalf("expected empty result for short frame, got %d models", len(results))
	}
}

func TestBankTrainsAndCaches(t *testing.T) {
	store := newMemoryStore()
	bank := NewBank(store, trace.NewNoopTracerProvider().Tracer("test"), 50)
	frame := bankFrame(80)
	day := time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC)

	first, _, err := bank.Predict(context.Background(), frame, day, false, false)
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if len(first) != len(All()) {
		t.Fatalf("expected %d model results, got %d", len(All()), len(first))
	}
	for _, r := range first {
		if r.FromCache {
			t.Fatalf("first run of %s should train, not reuse", r.Variant)
		}
		if !r.Signal.IsValid() || r.Signal == domain.SignalNeutral {
			t.Fatalf("%s should emit a directional signal, got %d", r.Variant, r.Signal)
		}
	}
	savesAfterFirst := store.saves

	// A later trading day still reuses the latest stored artifact.
	later := day.AddDate(0, 0, 3)
	second, _, err := bank.Predict(context.Background(), frame, later, false, false)
	if err != nil {
		t.Fatalf("second predict failed: %v", err)
	}
	for _, r := range second {
		if !r.FromCache {
			t.Fatalf("run on %s of %s should reuse the stored artifact", later.Format("2006-01-02"), r.Variant)
		}
		if !r.TrainingDate.Equal(day) {
			t.Fatalf("%s cache hit should report the artifact's training date, got %s", r.Variant, r.TrainingDate)
		}
	}
	if store.saves != savesAfterFirst {
		t.Fatalf("cache hits must not write artifacts: %d -> %d", savesAfterFirst, store.saves)
	}
}

func TestBankForceRetrainSkipsCache(t *testing.T) {
	store := newMemoryStore()
	bank := NewBank(store, trace.NewNoopTracerProvider().Tracer("test"), 50)
	frame := bankFrame(80)
	day := time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC)

	if _, _, err := bank.Predict(context.Background(), frame, day, false, false); err != nil {
		t.Fatalf("seed predict failed: %v", err)
	}
	results, _, err := bank.Predict(context.Background(), frame, day, true, false)
	if err != nil {
		t.Fatalf("forced predict failed: %v", err)
	}
	for _, r := range results {
		if r.FromCache {
			t.Fatalf("forced retrain of %s must not reuse the cache", r.Variant)
		}
	}
}

func TestBankPredictWithTuneRefitsAndMarksTuned(t *testing.T) {
	store := newMemoryStore()
	bank := NewBank(store, trace.NewNoopTracerProvider().Tracer("test"), 50)
	frame := bankFrame(80)
	day := time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC)

	if _, _, err := bank.Predict(context.Background(), frame, day, false, false); err != nil {
		t.Fatalf("seed predict failed: %v", err)
	}
	results, _, err := bank.Predict(context.Background(), frame, day, false, true)
	if err != nil {
		t.Fatalf("tuned predict failed: %v", err)
	}
	for _, r := range results {
		if r.FromCache {
			t.Fatalf("tuned run of %s must refit, not reuse the cache", r.Variant)
		}
		if !r.Tuned {
			t.Fatalf("tuned run of %s should mark the result as tuned", r.Variant)
		}
	}
	for _, r := range results {
		latest, _ := store.LoadLatest(context.Background(), "^GSPC", r.Variant)
		if latest == nil || len(latest.Metadata.TunedParams) == 0 {
			t.Fatalf("tuned run of %s should persist the winning parameters", r.Variant)
		}
	}
}

func TestBankTuneVariantPersistsParams(t *testing.T) {
	store := newMemoryStore()
	bank := NewBank(store, trace.NewNoopTracerProvider().Tracer("test"), 50)
	frame := bankFrame(80)
	day := time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC)

	hp, _, err := bank.TuneVariant(context.Background(), frame, "linear", day)
	if err != nil {
		t.Fatalf("tune failed: %v", err)
	}
	if len(hp) == 0 {
		t.Fatalf("expected winning parameters")
	}
	latest, _ := store.LoadLatest(context.Background(), "^GSPC", "linear")
	if latest == nil || len(latest.Metadata.TunedParams) == 0 {
		t.Fatalf("tuned parameters should persist on the latest artifact")
	}
}

func TestBankTuneUnknownVariant(t *testing.T) {
	bank := NewBank(newMemoryStore(), trace.NewNoopTracerProvider().Tracer("test"), 50)
	if _, _, err := bank.TuneVariant(context.Background(), bankFrame(80), "martian", time.Now()); err == nil {
		t.Fatalf("expected an error for an unknown variant")
	}
}
