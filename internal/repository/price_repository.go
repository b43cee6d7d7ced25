package repository

import (
	"context"
	"math"
	"time"

	"market-quorum/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/trace"
)

const createPriceTables = `
CREATE TABLE IF NOT EXISTS prices (
    symbol  TEXT             NOT NULL,
    date    DATE             NOT NULL,
    open    DOUBLE PRECISION NOT NULL,
    high    DOUBLE PRECISION NOT NULL,
    low     DOUBLE PRECISION NOT NULL,
    close   DOUBLE PRECISION NOT NULL,
    volume  DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (symbol, date)
);

CREATE TABLE IF NOT EXISTS indicators (
    symbol  TEXT             NOT NULL,
    date    DATE             NOT NULL,
    sma_20  DOUBLE PRECISION,
    sma_50  DOUBLE PRECISION,
    vol_20  DOUBLE PRECISION,
    rsi_14  DOUBLE PRECISION,
    PRIMARY KEY (symbol, date)
);

CREATE INDEX IF NOT EXISTS idx_prices_symbol_date
    ON prices (symbol, date DESC);
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// FeatureSourceRow is one price row joined with its indicator row. Missing
// indicator columns come back as NaN.
type FeatureSourceRow struct {
	Date  time.Time
	Close float64
	SMA20 float64
	SMA50 float64
	Vol20 float64
	RSI14 float64
}

type PriceRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewPriceRepository(pool PgxPool, tracer trace.Tracer) *PriceRepository {
	return &PriceRepository{pool: pool, tracer: tracer}
}

func (r *PriceRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "price-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createPriceTables)
	return err
}

func (r *PriceRepository) UpsertPrices(ctx context.Context, bars []domain.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	_, span := r.tracer.Start(ctx, "price-repo.upsert-prices")
	defer span.End()

	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(
			`INSERT INTO prices (symbol, date, open, high, low, close, volume)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (symbol, date) DO UPDATE SET
			     open = EXCLUDED.open,
			     high = EXCLUDED.high,
			     low = EXCLUDED.low,
			     close = EXCLUDED.close,
			     volume = EXCLUDED.volume`,
			b.Symbol, dateOnly(b.Date), b.Open, b.High, b.Low, b.Close, b.Volume,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range bars {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (r *PriceRepository) UpsertIndicators(ctx context.Context, rows []domain.IndicatorRow) error {
	if len(rows) == 0 {
		return nil
	}

	_, span := r.tracer.Start(ctx, "price-repo.upsert-indicators")
	defer span.End()

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(
			`INSERT INTO indicators (symbol, date, sma_20, sma_50, vol_20, rsi_14)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (symbol, date) DO UPDATE SET
			     sma_20 = EXCLUDED.sma_20,
			     sma_50 = EXCLUDED.sma_50,
			     vol_20 = EXCLUDED.vol_20,
			     rsi_14 = EXCLUDED.rsi_14`,
			row.Symbol, dateOnly(row.Date),
			nullIfNaN(row.SMA20), nullIfNaN(row.SMA50),
			nullIfNaN(row.Vol20), nullIfNaN(row.RSI14),
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range rows {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// HistoryUpTo returns the joined price+indicator history for a symbol in
// ascending date order. A nil cutoff means the whole history; a non-nil
// cutoff keeps the filter on the SQL side so callers can never observe rows
// past it.
func (r *PriceRepository) HistoryUpTo(ctx context.Context, symbol string, cutoff *time.Time) ([]FeatureSourceRow, error) {
	_, span := r.tracer.Start(ctx, "price-repo.history-up-to")
	defer span.End()

	query := `
SELECT p.date, p.close, i.sma_20, i.sma_50, i.vol_20, i.rsi_14
FROM prices p
LEFT JOIN indicators i
    ON p.symbol = i.symbol AND p.date = i.date
WHERE p.symbol = $1`
	args := []any{symbol}
	if cutoff != nil {
		query += ` AND p.date <= $2`
		args = append(args, dateOnly(*cutoff))
	}
	query += ` ORDER BY p.date ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]FeatureSourceRow, 0)
	for rows.Next() {
		var row FeatureSourceRow
		var sma20, sma50, vol20, rsi14 pgtype.Float8
		if err := rows.Scan(&row.Date, &row.Close, &sma20, &sma50, &vol20, &rsi14); err != nil {
			return nil, err
		}
		row.Date = dateOnly(row.Date)
		row.SMA20 = floatOrNaN(sma20)
		row.SMA50 = floatOrNaN(sma50)
		row.Vol20 = floatOrNaN(vol20)
		row.RSI14 = floatOrNaN(rsi14)
		out = append(out, row)
	}
	return out, rows.Err()
}

// ClosesOn returns the realized close per symbol for one calendar date.
func (r *PriceRepository) ClosesOn(ctx context.Context, date time.Time) (map[string]float64, error) {
	_, span := r.tracer.Start(ctx, "price-repo.closes-on")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT symbol, close FROM prices WHERE date = $1`, dateOnly(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var symbol string
		var close float64
		if err := rows.Scan(&symbol, &close); err != nil {
			return nil, err
		}
		out[symbol] = close
	}
	return out, rows.Err()
}

// TradingDates lists the distinct dates with a price row for the symbol
// inside [from, to], ascending. The replay driver iterates exactly these.
func (r *PriceRepository) TradingDates(ctx context.Context, symbol string, from, to time.Time) ([]time.Time, error) {
	_, span := r.tracer.Start(ctx, "price-repo.trading-dates")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT date FROM prices
		 WHERE symbol = $1 AND date >= $2 AND date <= $3
		 ORDER BY date ASC`,
		symbol, dateOnly(from), dateOnly(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]time.Time, 0)
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, dateOnly(d))
	}
	return out, rows.Err()
}

// ClosesInRange returns (date, close) pairs for a symbol, ascending. The
// evaluator uses it to look up the close prior to each prediction date.
func (r *PriceRepository) ClosesInRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.PriceBar, error) {
	_, span := r.tracer.Start(ctx, "price-repo.closes-in-range")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT symbol, date, close FROM prices
		 WHERE symbol = $1 AND date >= $2 AND date <= $3
		 ORDER BY date ASC`,
		symbol, dateOnly(from), dateOnly(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.PriceBar, 0)
	for rows.Next() {
		var bar domain.PriceBar
		if err := rows.Scan(&bar.Symbol, &bar.Date, &bar.Close); err != nil {
			return nil, err
		}
		bar.Date = dateOnly(bar.Date)
		out = append(out, bar)
	}
	return out, rows.Err()
}

// LatestDate returns the most recent price date for a symbol, or zero time
// when no rows exist.
func (r *PriceRepository) LatestDate(ctx context.Context, symbol string) (time.Time, error) {
	_, span := r.tracer.Start(ctx, "price-repo.latest-date")
	defer span.End()

	var d pgtype.Date
	err := r.pool.QueryRow(ctx,
		`SELECT MAX(date) FROM prices WHERE symbol = $1`, symbol).Scan(&d)
	if err != nil {
		return time.Time{}, err
	}
	if !d.Valid {
		return time.Time{}, nil
	}
	return dateOnly(d.Time), nil
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfNaN(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func floatOrNaN(v pgtype.Float8) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
