package job

import (
	"context"
	"log"
	"time"

	"market-quorum/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// OutcomeValidator grades pending ledger rows against realized closes.
type OutcomeValidator interface {
	ValidateYesterday(ctx context.Context) (domain.ValidationResult, error)
}

// ValidateJob fills in realized outcomes once a day, after fresh closes
// have been ingested.
type ValidateJob struct {
	tracer    trace.Tracer
	validator OutcomeValidator
	runHour   int
}

func NewValidateJob(tracer trace.Tracer, validator OutcomeValidator, runHourUTC int) *ValidateJob {
	if runHourUTC < 0 || runHourUTC > 23 {
		runHourUTC = 23
	}
	return &ValidateJob{tracer: tracer, validator: validator, runHour: runHourUTC}
}

func (j *ValidateJob) Start(ctx context.Context) {
	if j.validator == nil {
		log.Println("Validate job disabled: no validator")
		<-ctx.Done()
		return
	}
	for {
		next := nextRunUTC(time.Now().UTC(), j.runHour)
		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.runOnce(ctx)
		}
	}
}

func (j *ValidateJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "validate-job.run-once")
	defer span.End()

	result, err := j.validator.ValidateYesterday(ctx)
	if err != nil {
		log.Printf("Outcome validation error: %v", err)
		return
	}
	if result.RowsUpdated > 0 {
		log.Printf("Outcome validation for %s graded %d rows across %d instruments",
			result.TargetDate.Format("2006-01-02"), result.RowsUpdated, len(result.ValidatedInstruments))
	}
}
