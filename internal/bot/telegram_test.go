package bot

import (
	"testing"
	"time"

	"market-quorum/internal/domain"
)

func TestStartTelegramBotSkipsWithoutToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	StartTelegramBot(nil, nil, nil)
}

func TestFormatCallListsModels(t *testing.T) {
	call := domain.EnsembleCall{
		Symbol:         "^IBEX",
		AsOf:           time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC),
		SignalEnsemble: domain.SignalBuy,
		Models: []domain.ModelResult{
			{Variant: "linear", Forecast: 11050.25, Signal: domain.SignalBuy},
			{Variant: "boost", Forecast: 10990.00, Signal: domain.SignalSell, FromCache: true},
		},
	}
	got := formatCall(call)
	want := "^IBEX as of 2026-05-10\nEnsemble: BUY\nlinear: 11050.25 BUY\nboost: 10990.00 SELL (cached)"
	if got != want {
		t.Fatalf("unexpected format:\n%s", got)
	}
}

func TestFormatSummaryEmptyWindow(t *testing.T) {
	got := formatSummary(domain.PerformanceSummary{Symbol: "^GSPC"})
	if got != "^GSPC: no graded predictions in the window yet" {
		t.Fatalf("unexpected format: %s", got)
	}
}
