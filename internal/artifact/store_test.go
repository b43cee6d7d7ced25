package artifact

import (
	"context"
	"strings"
	"testing"
	"time"

	"market-quorum/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

type execCall struct {
	sql  string
	args []any
}

type fakeTx struct {
	execs     []execCall
	committed bool
}

func (t *fakeTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error { return nil }

func (t *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (t *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }

func (t *fakeTx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }

func (t *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }

func (t *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row { return nil }

func (t *fakeTx) Conn() *pgx.Conn { return nil }

type fakePool struct {
	tx    *fakeTx
	execs []execCall
	tag   pgconn.CommandTag
}

func (p *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execs = append(p.execs, execCall{sql: sql, args: args})
	return p.tag, nil
}

func (p *fakePool) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }

func (p *fakePool) QueryRow(context.Context, string, ...any) pgx.Row { return nil }

func (p *fakePool) Begin(context.Context) (pgx.Tx, error) { return p.tx, nil }

func testTracer() trace.Tracer {
	return trace.NewNoopTracerProvider().Tracer("test")
}

func TestSaveWritesDatedAndLatestRowsInOneTx(t *testing.T) {
	tx := &fakeTx{}
	store := NewStore(&fakePool{tx: tx}, testTracer())
	art := domain.ModelArtifact{
		Symbol:       "^IBEX",
		Variant:      "linear",
		TrainingDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Blob:         []byte("weights"),
	}

	if err := store.Save(context.Background(), art); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if len(tx.execs) != 2 || !tx.committed {
		t.Fatalf("save must land both rows and commit, got %d execs", len(tx.execs))
	}
	if !strings.Contains(tx.execs[0].sql, "model_artifacts") {
		t.Fatalf("first write should hit the dated table: %s", tx.execs[0].sql)
	}
	if !strings.Contains(tx.execs[1].sql, "model_latest") {
		t.Fatalf("second write should refresh the latest pointer: %s", tx.execs[1].sql)
	}
}

func TestPruneKeepsNewestPerVariant(t *testing.T) {
	pool := &fakePool{tag: pgconn.NewCommandTag("DELETE 3")}
	store := NewStore(pool, testTracer())

	deleted, err := store.Prune(context.Background(), "^IBEX", 7)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected the delete count to pass through, got %d", deleted)
	}
	call := pool.execs[0]
	if call.args[0] != "^IBEX" || call.args[1] != 7 {
		t.Fatalf("wrong prune arguments: %v", call.args)
	}
	if !strings.Contains(call.sql, "PARTITION BY variant") {
		t.Fatalf("prune must rank rows per variant: %s", call.sql)
	}
	if strings.Contains(call.sql, "model_latest") {
		t.Fatalf("prune must never touch the latest pointers: %s", call.sql)
	}
}

func TestPruneClampsKeepToOne(t *testing.T) {
	pool := &fakePool{tag: pgconn.NewCommandTag("DELETE 0")}
	store := NewStore(pool, testTracer())

	if _, err := store.Prune(context.Background(), "^IBEX", 0); err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if pool.execs[0].args[1] != 1 {
		t.Fatalf("a keep below one should clamp to one, got %v", pool.execs[0].args[1])
	}
}
