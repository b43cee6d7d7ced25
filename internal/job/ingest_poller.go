package job

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// BarRefresher pulls daily bars for a set of symbols and rebuilds indicators.
type BarRefresher interface {
	RefreshAll(ctx context.Context, symbols []string, rangeSpec string) error
}

// IngestPoller keeps the price tables current by refreshing every symbol on
// a fixed interval. Daily bars change at most once per trading day, so the
// interval is generous by default.
type IngestPoller struct {
	tracer       trace.Tracer
	ingest       BarRefresher
	symbols      []string
	rangeSpec    string
	pollInterval time.Duration
}

func NewIngestPoller(tracer trace.Tracer, ingest BarRefresher, symbols []string, rangeSpec string, pollIntervalSecs int) *IngestPoller {
	if pollIntervalSecs <= 0 {
		pollIntervalSecs = 6 * 60 * 60
	}
	if rangeSpec == "" {
		rangeSpec = "1mo"
	}
	return &IngestPoller{
		tracer:       tracer,
		ingest:       ingest,
		symbols:      symbols,
		rangeSpec:    rangeSpec,
		pollInterval: time.Duration(pollIntervalSecs) * time.Second,
	}
}

// Start blocks until ctx is cancelled.
func (p *IngestPoller) Start(ctx context.Context) {
	if p.ingest == nil || len(p.symbols) == 0 {
		log.Println("Ingest poller disabled: nothing to refresh")
		<-ctx.Done()
		return
	}
	log.Println("Ingest poller starting...")

	p.runOnce(ctx)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Ingest poller stopped")
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *IngestPoller) runOnce(ctx context.Context) {
	ctx, span := p.tracer.Start(ctx, "ingest-poller.run-once")
	defer span.End()

	if err := p.ingest.RefreshAll(ctx, p.symbols, p.rangeSpec); err != nil {
		log.Printf("Ingest refresh error: %v", err)
	}
}
