package bot

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"market-quorum/internal/advisor"
	"market-quorum/internal/domain"
	"market-quorum/internal/service"

	tele "gopkg.in/telebot.v3"
)

// Evaluator provides accuracy reports and retrain advice for bot commands.
type Evaluator interface {
	Report(ctx context.Context, symbol string, windowDays int, now time.Time) (domain.PerformanceSummary, error)
	ShouldRetrain(ctx context.Context, symbol string, windowDays, minPredictions int, maeThreshold float64, now time.Time) (domain.RetrainAdvice, error)
}

func StartTelegramBot(predictions *service.PredictionService, evaluator Evaluator, adv *advisor.AdvisorService) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return
	}
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		log.Fatalf("failed to create Telegram bot: %v", err)
	}

	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	b.Handle("/signal", func(c tele.Context) error {
		symbol, err := symbolArg(predictions, c.Args(), "/signal ^IBEX")
		if err != nil {
			return c.Send(err.Error())
		}
		signal, err := predictions.SimpleSignal(context.Background(), symbol)
		if err != nil {
			return c.Send(fmt.Sprintf("Error fetching signal for %s: %v", symbol, err))
		}
		return c.Send(fmt.Sprintf("%s rule signal: %s", symbol, signalWord(signal)))
	})

	b.Handle("/predict", func(c tele.Context) error {
		symbol, err := symbolArg(predictions, c.Args(), "/predict ^IBEX")
		if err != nil {
			return c.Send(err.Error())
		}
		call, err := predictions.Predict(context.Background(), symbol)
		if err != nil {
			return c.Send(fmt.Sprintf("Error fetching prediction for %s: %v", symbol, err))
		}
		return c.Send(formatCall(call))
	})

	b.Handle("/report", func(c tele.Context) error {
		symbol, err := symbolArg(predictions, c.Args(), "/report ^IBEX")
		if err != nil {
			return c.Send(err.Error())
		}
		summary, err := evaluator.Report(context.Background(), symbol, 30, time.Now().UTC())
		if err != nil {
			return c.Send(fmt.Sprintf("Error building report for %s: %v", symbol, err))
		}
		return c.Send(formatSummary(summary))
	})

	b.Handle("/retrain", func(c tele.Context) error {
		symbol, err := symbolArg(predictions, c.Args(), "/retrain ^IBEX")
		if err != nil {
			return c.Send(err.Error())
		}
		result, err := predictions.Retrain(context.Background(), symbol, false)
		if err != nil {
			return c.Send(fmt.Sprintf("Retrain failed for %s: %v", symbol, err))
		}
		return c.Send(fmt.Sprintf("Retrained %d models for %s on data through %s (%d old artifacts pruned)\nEnsemble: %s",
			result.ModelsRetrained, result.Call.Symbol, result.Call.AsOf.Format("2006-01-02"),
			result.OldArtifactsPruned, signalWord(result.Call.SignalEnsemble)))
	})

	b.Handle("/check", func(c tele.Context) error {
		symbol, err := symbolArg(predictions, c.Args(), "/check ^IBEX")
		if err != nil {
			return c.Send(err.Error())
		}
		advice, err := evaluator.ShouldRetrain(context.Background(), symbol, 30, 5, 0, time.Now().UTC())
		if err != nil {
			return c.Send(fmt.Sprintf("Retrain check failed for %s: %v", symbol, err))
		}
		if !advice.ShouldRetrain {
			return c.Send(fmt.Sprintf("%s: no retrain needed (avg MAE %.2f)", symbol, advice.AvgMAE))
		}
		return c.Send(fmt.Sprintf("%s: retrain recommended\n%s", symbol, strings.Join(advice.Reasons, "\n")))
	})

	b.Handle("/explain", func(c tele.Context) error {
		if adv == nil {
			return c.Send("Advisor is not configured")
		}
		question := strings.TrimSpace(strings.TrimPrefix(c.Text(), "/explain"))
		if question == "" {
			question = "Explain the current signals across all tracked indices."
		}
		reply, err := adv.Ask(context.Background(), c.Chat().ID, question)
		if err != nil {
			return c.Send(fmt.Sprintf("Advisor error: %v", err))
		}
		return c.Send(reply)
	})

	log.Println("Telegram bot started")
	go b.Start()
}

func symbolArg(predictions *service.PredictionService, args []string, usage string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("Usage: %s\nSupported: %s", usage, strings.Join(predictions.Symbols(), ", "))
	}
	symbol := strings.ToUpper(args[0])
	if !strings.HasPrefix(symbol, "^") && predictions.Supported("^"+symbol) {
		symbol = "^" + symbol
	}
	if !predictions.Supported(symbol) {
		return "", fmt.Errorf("Unknown symbol: %s\nSupported: %s", symbol, strings.Join(predictions.Symbols(), ", "))
	}
	return symbol, nil
}

func formatCall(call domain.EnsembleCall) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s as of %s\nEnsemble: %s\n", call.Symbol, call.AsOf.Format("2006-01-02"), signalWord(call.SignalEnsemble)))
	for _, m := range call.Models {
		cached := ""
		if m.FromCache {
			cached = " (cached)"
		}
		sb.WriteString(fmt.Sprintf("%s: %.2f %s%s\n", m.Variant, m.Forecast, signalWord(m.Signal), cached))
	}
	if len(call.Models) == 0 {
		sb.WriteString("No model forecasts available\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatSummary(summary domain.PerformanceSummary) string {
	if len(summary.Models) == 0 {
		return fmt.Sprintf("%s: no graded predictions in the window yet", summary.Symbol)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s performance %s to %s\n",
		summary.Symbol, summary.WindowStart.Format("2006-01-02"), summary.WindowEnd.Format("2006-01-02")))
	for _, m := range summary.Models {
		sb.WriteString(fmt.Sprintf("%s: n=%d MAE=%.2f", m.ModelName, m.Predictions, m.MAE))
		if m.BuyAccuracy != nil {
			sb.WriteString(fmt.Sprintf(" buy=%.0f%%", *m.BuyAccuracy))
		}
		if m.NeedsRetrain {
			sb.WriteString(" [retrain]")
		}
		sb.WriteString("\n")
	}
	if summary.BestModel != "" {
		sb.WriteString(fmt.Sprintf("Best: %s", summary.BestModel))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func signalWord(s domain.Signal) string {
	switch {
	case s > 0:
		return "BUY"
	case s < 0:
		return "SELL"
	default:
		return "NEUTRAL"
	}
}
