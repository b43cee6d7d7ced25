package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	"market-quorum/internal/domain"

	tea "github.com/charmbracelet/bubbletea"
)

type stubPredictions struct {
	calls map[string]domain.EnsembleCall
}

func (s *stubPredictions) Predict(ctx context.Context, symbol string) (domain.EnsembleCall, error) {
	return s.calls[symbol], nil
}

func (s *stubPredictions) Symbols() []string {
	syms := make([]string, 0, len(s.calls))
	for sym := range s.calls {
		syms = append(syms, sym)
	}
	return syms
}

func TestBoardRowsFormatsCalls(t *testing.T) {
	calls := []domain.EnsembleCall{
		{
			Symbol:          "^IBEX",
			AsOf:            time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC),
			SignalEnsemble:  domain.SignalBuy,
			DirectionProbUp: 0.61,
			Models:          []domain.ModelResult{{Variant: "linear"}, {Variant: "boost"}},
		},
	}
	rows := boardRows(calls)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0][0] != "^IBEX" || rows[0][1] != "2026-05-10" {
		t.Fatalf("unexpected row: %v", rows[0])
	}
	if !strings.Contains(rows[0][2], "BUY") {
		t.Fatalf("expected buy cell, got %q", rows[0][2])
	}
	if rows[0][4] != "2" {
		t.Fatalf("expected model count 2, got %q", rows[0][4])
	}
}

func TestDetailRowsMarksCached(t *testing.T) {
	call := domain.EnsembleCall{
		Models: []domain.ModelResult{
			{Variant: "linear", Forecast: 11050.25, Signal: domain.SignalBuy},
			{Variant: "boost", Forecast: 10990, Signal: domain.SignalSell, FromCache: true},
		},
	}
	rows := detailRows(call)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][4] != "" || rows[1][4] != "yes" {
		t.Fatalf("unexpected cached cells: %q %q", rows[0][4], rows[1][4])
	}
}

func TestBoardLoadPopulatesModel(t *testing.T) {
	preds := &stubPredictions{calls: map[string]domain.EnsembleCall{
		"^IBEX": {Symbol: "^IBEX", SignalEnsemble: domain.SignalSell},
	}}
	m := NewAppModel(Services{Predictions: preds, Username: "trader"})

	msg := m.Init()()
	loaded, ok := msg.(boardLoadedMsg)
	if !ok {
		t.Fatalf("expected boardLoadedMsg, got %T", msg)
	}
	if len(loaded.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(loaded.calls))
	}

	updated, _ := m.Update(loaded)
	app := updated.(*AppModel)
	if app.status != "1 symbols loaded" {
		t.Fatalf("unexpected status: %q", app.status)
	}
}

func TestQuitKey(t *testing.T) {
	m := NewAppModel(Services{Predictions: &stubPredictions{}})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if msg := cmd(); msg != tea.Quit() {
		t.Fatalf("expected quit message, got %v", msg)
	}
}

func TestAdvisorKeyWithoutAdvisorSetsStatus(t *testing.T) {
	m := NewAppModel(Services{Predictions: &stubPredictions{}})
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
	app := updated.(*AppModel)
	if app.view != viewBoard {
		t.Fatal("advisor view should not open without an advisor")
	}
	if app.status != "advisor not configured" {
		t.Fatalf("unexpected status: %q", app.status)
	}
}
