package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"market-quorum/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

const createArtifactTables = `
CREATE TABLE IF NOT EXISTS model_artifacts (
    symbol        TEXT        NOT NULL,
    variant       TEXT        NOT NULL,
    training_date DATE        NOT NULL,
    blob          BYTEA       NOT NULL,
    metadata      JSONB       NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (symbol, variant, training_date)
);

CREATE TABLE IF NOT EXISTS model_latest (
    symbol        TEXT        NOT NULL,
    variant       TEXT        NOT NULL,
    training_date DATE        NOT NULL,
    blob          BYTEA       NOT NULL,
    metadata      JSONB       NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (symbol, variant)
);
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists trained model blobs. Every save writes the dated row and
// the per-variant latest row in one transaction, so a reader of model_latest
// never observes a latest pointer without its dated counterpart.
type Store struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewStore(pool PgxPool, tracer trace.Tracer) *Store {
	return &Store{pool: pool, tracer: tracer}
}

func (s *Store) RunMigrations(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "artifact-store.run-migrations")
	defer span.End()

	_, err := s.pool.Exec(ctx, createArtifactTables)
	return err
}

func (s *Store) Save(ctx context.Context, art domain.ModelArtifact) error {
	ctx, span := s.tracer.Start(ctx, "artifact-store.save")
	defer span.End()

	meta, err := json.Marshal(art.Metadata)
	if err != nil {
		return fmt.Errorf("marshal artifact metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO model_artifacts (symbol, variant, training_date, blob, metadata)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (symbol, variant, training_date) DO UPDATE SET
		     blob = EXCLUDED.blob,
		     metadata = EXCLUDED.metadata,
		     created_at = now()`,
		art.Symbol, art.Variant, dateOnly(art.TrainingDate), art.Blob, meta)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO model_latest (symbol, variant, training_date, blob, metadata)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (symbol, variant) DO UPDATE SET
		     training_date = EXCLUDED.training_date,
		     blob = EXCLUDED.blob,
		     metadata = EXCLUDED.metadata,
		     created_at = now()`,
		art.Symbol, art.Variant, dateOnly(art.TrainingDate), art.Blob, meta)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// LoadLatest returns the most recently saved artifact for the variant, or
// (nil, nil) when none has ever been saved.
func (s *Store) LoadLatest(ctx context.Context, symbol, variant string) (*domain.ModelArtifact, error) {
	_, span := s.tracer.Start(ctx, "artifact-store.load-latest")
	defer span.End()

	var trainingDate time.Time
	var blob []byte
	var meta []byte
	var createdAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT training_date, blob, metadata, created_at FROM model_latest
		 WHERE symbol = $1 AND variant = $2`,
		symbol, variant).Scan(&trainingDate, &blob, &meta, &createdAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return buildArtifact(symbol, variant, trainingDate, blob, meta, createdAt)
}

// Prune deletes dated artifacts beyond the newest keep rows per variant for
// the symbol. The model_latest table is never touched, so the reusable model
// survives any prune.
func (s *Store) Prune(ctx context.Context, symbol string, keep int) (int, error) {
	_, span := s.tracer.Start(ctx, "artifact-store.prune")
	defer span.End()

	if keep < 1 {
		keep = 1
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM model_artifacts
		 WHERE (symbol, variant, training_date) IN (
		     SELECT symbol, variant, training_date FROM (
		         SELECT symbol, variant, training_date,
		                ROW_NUMBER() OVER (
		                    PARTITION BY variant ORDER BY training_date DESC
		                ) AS rank
		         FROM model_artifacts
		         WHERE symbol = $1
		     ) ranked
		     WHERE rank > $2
		 )`,
		symbol, keep)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Describe lists the stored artifacts for a symbol, newest first, flagging
// the row each variant's latest pointer currently references.
func (s *Store) Describe(ctx context.Context, symbol string) ([]domain.ArtifactInfo, error) {
	_, span := s.tracer.Start(ctx, "artifact-store.describe")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT a.variant, a.training_date, a.metadata,
		        (l.training_date IS NOT NULL) AS is_latest
		 FROM model_artifacts a
		 LEFT JOIN model_latest l
		     ON a.symbol = l.symbol
		    AND a.variant = l.variant
		    AND a.training_date = l.training_date
		 WHERE a.symbol = $1
		 ORDER BY a.training_date DESC, a.variant ASC`,
		symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ArtifactInfo, 0)
	for rows.Next() {
		var info domain.ArtifactInfo
		var meta []byte
		if err := rows.Scan(&info.Variant, &info.TrainingDate, &meta, &info.IsLatest); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &info.Metadata); err != nil {
				return nil, fmt.Errorf("decode artifact metadata: %w", err)
			}
		}
		info.TrainingDate = dateOnly(info.TrainingDate)
		out = append(out, info)
	}
	return out, rows.Err()
}

func buildArtifact(symbol, variant string, trainingDate time.Time, blob, meta []byte, createdAt time.Time) (*domain.ModelArtifact, error) {
	art := &domain.ModelArtifact{
		Symbol:       symbol,
		Variant:      variant,
		TrainingDate: dateOnly(trainingDate),
		Blob:         blob,
		CreatedAt:    createdAt,
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &art.Metadata); err != nil {
			return nil, fmt.Errorf("decode artifact metadata: %w", err)
		}
	}
	return art, nil
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
