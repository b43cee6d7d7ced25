package job

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"market-quorum/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

func TestNextRunUTCSameDay(t *testing.T) {
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	next := nextRunUTC(now, 22)
	want := time.Date(2026, 5, 10, 22, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestNextRunUTCRollsToTomorrow(t *testing.T) {
	now := time.Date(2026, 5, 10, 22, 30, 0, 0, time.UTC)
	next := nextRunUTC(now, 22)
	want := time.Date(2026, 5, 11, 22, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestIngestPollerRunsAtLeastOnce(t *testing.T) {
	var calls int32
	refresher := &refresherTestStub{calls: &calls}
	poller := NewIngestPoller(trace.NewNoopTracerProvider().Tracer("test"), refresher, []string{"^IBEX"}, "1mo", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		poller.Start(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if atomic.LoadInt32(&calls) == 0 {
		t.Fatal("expected at least one refresh run")
	}
}

func TestPredictJobStopsOnCancel(t *testing.T) {
	job := NewPredictJob(trace.NewNoopTracerProvider().Tracer("test"), &predictorTestStub{}, 23)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("predict job did not stop on cancel")
	}
}

func TestValidateJobDisabledWithoutValidator(t *testing.T) {
	job := NewValidateJob(trace.NewNoopTracerProvider().Tracer("test"), nil, 23)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("validate job did not stop on cancel")
	}
}

type refresherTestStub struct {
	calls *int32
}

func (s *refresherTestStub) RefreshAll(ctx context.Context, symbols []string, rangeSpec string) error {
	atomic.AddInt32(s.calls, 1)
	return nil
}

type predictorTestStub struct{}

func (predictorTestStub) Predict(ctx context.Context, symbol string) (domain.EnsembleCall, error) {
	return domain.EnsembleCall{Symbol: symbol}, nil
}

func (predictorTestStub) Symbols() []string { return []string{"^IBEX"} }
