package ledger

import (
	"context"
	"time"

	"market-quorum/internal/domain"
	"market-quorum/internal/ensemble"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/trace"
)

const createLedgerTable = `
CREATE TABLE IF NOT EXISTS ml_predictions (
    symbol           TEXT             NOT NULL,
    prediction_date  DATE             NOT NULL,
    model_name       TEXT             NOT NULL,
    run_date         DATE             NOT NULL,
    predicted_value  DOUBLE PRECISION NOT NULL,
    predicted_signal INT              NOT NULL,
    true_value       DOUBLE PRECISION,
    error_abs        DOUBLE PRECISION,
    created_at       TIMESTAMPTZ      NOT NULL DEFAULT now(),
    PRIMARY KEY (symbol, prediction_date, model_name, run_date)
);

CREATE INDEX IF NOT EXISTS idx_ml_predictions_date
    ON ml_predictions (prediction_date);
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository is the append-and-fill prediction ledger. Forecasts land once
// per (symbol, prediction date, model, run date); realized closes are filled
// in later without ever rewriting the forecast columns.
type Repository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewRepository(pool PgxPool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

func (r *Repository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "ledger.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createLedgerTable)
	return err
}

const upsertPredictionSQL = `
INSERT INTO ml_predictions
    (symbol, prediction_date, model_name, run_date, predicted_value, predicted_signal)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (symbol, prediction_date, model_name, run_date) DO UPDATE SET
    predicted_value = EXCLUDED.predicted_value,
    predicted_signal = EXCLUDED.predicted_signal,
    true_value = NULL,
    error_abs = NULL,
    created_at = now()`

// Record writes one ledger row per model plus the synthetic ensemble row,
// whose value is the mean of the model forecasts, in a single transaction.
// Re-running the same day overwrites the forecasts and resets any previously
// filled outcome, since the forecast it graded no longer exists. An empty
// call records nothing.
func (r *Repository) Record(ctx context.Context, call domain.EnsembleCall, predictionDate, runDate time.Time) error {
	ctx, span := r.tracer.Start(ctx, "ledger.record")
	defer span.End()

	if len(call.Models) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, m := range call.Models {
		_, err = tx.Exec(ctx, upsertPredictionSQL,
			call.Symbol, dateOnly(predictionDate), m.Variant, dateOnly(runDate),
			m.Forecast, int(m.Signal))
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, upsertPredictionSQL,
		call.Symbol, dateOnly(predictionDate), domain.EnsembleModelName, dateOnly(runDate),
		ensemble.MeanForecast(call.Models), int(call.SignalEnsemble))
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// FillOutcomes grades every row for the symbol and date against the realized
// close, recomputing the outcome columns on rows already graded so a
// corrected close can be re-applied. Returns the number of rows updated.
func (r *Repository) FillOutcomes(ctx context.Context, symbol string, date time.Time, trueValue float64) (int, error) {
	_, span := r.tracer.Start(ctx, "ledger.fill-outcomes")
	defer span.End()

	tag, err := r.pool.Exec(ctx,
		`UPDATE ml_predictions
		 SET true_value = $3,
		     error_abs = ABS(predicted_value - $3)
		 WHERE symbol = $1 AND prediction_date = $2`,
		symbol, dateOnly(date), trueValue)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// WindowRows returns the ledger rows for a symbol whose prediction date
// falls in [from, to], ascending. onlyGraded keeps just the rows with a
// filled outcome.
func (r *Repository) WindowRows(ctx context.Context, symbol string, from, to time.Time, onlyGraded bool) ([]domain.PredictionRecord, error) {
	_, span := r.tracer.Start(ctx, "ledger.window-rows")
	defer span.End()

	query := `
SELECT symbol, prediction_date, model_name, run_date,
       predicted_value, predicted_signal, true_value, error_abs, created_at
FROM ml_predictions
WHERE symbol = $1 AND prediction_date >= $2 AND prediction_date <= $3`
	if onlyGraded {
		query += ` AND true_value IS NOT NULL`
	}
	query += ` ORDER BY prediction_date ASC, model_name ASC`

	rows, err := r.pool.Query(ctx, query, symbol, dateOnly(from), dateOnly(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.PredictionRecord, 0)
	for rows.Next() {
		var rec domain.PredictionRecord
		var signal int
		var trueValue, errorAbs pgtype.Float8
		err := rows.Scan(&rec.Symbol, &rec.PredictionDate, &rec.ModelName, &rec.RunDate,
			&rec.PredictedValue, &signal, &trueValue, &errorAbs, &rec.CreatedAt)
		if err != nil {
			return nil, err
		}
		rec.PredictedSignal = domain.Signal(signal)
		rec.PredictionDate = dateOnly(rec.PredictionDate)
		rec.RunDate = dateOnly(rec.RunDate)
		if trueValue.Valid {
			v := trueValue.Float64
			rec.TrueValue = &v
		}
		if errorAbs.Valid {
			v := errorAbs.Float64
			rec.AbsoluteError = &v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountSince counts the ledger rows recorded for a symbol with a prediction
// date at or after the given day, excluding the synthetic ensemble rows.
func (r *Repository) CountSince(ctx context.Context, symbol string, since time.Time) (int, error) {
	_, span := r.tracer.Start(ctx, "ledger.count-since")
	defer span.End()

	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ml_predictions
		 WHERE symbol = $1 AND prediction_date >= $2 AND model_name <> $3`,
		symbol, dateOnly(since), domain.EnsembleModelName).Scan(&count)
	return count, err
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
