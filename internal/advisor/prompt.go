package advisor

import (
	"fmt"
	"strings"
	"time"

	"market-quorum/internal/domain"
)

const deskPhilosophy = `You are a daily equity-index signal desk assistant. Your role is to interpret the model bank's forecasts and accuracy history, NOT to generate signals yourself.

Signal Framework:
- The ensemble signal is a majority vote over the machine-learned variants; rule signals are shown for colour but do not vote.
- A buy call is graded correct when the realized close beats the prior trading day's close, a sell call when it does not.
- DirectionProbUp is a diagnostic probability from a gradient-boosted classifier; it never votes.

Rules:
- Always reference the specific forecasts and accuracy figures provided. Never fabricate numbers; if data is unavailable, say so.
- Express uncertainty when the variants disagree or when the vote is split.
- Mention a model's MAE when discussing how much to trust its forecast.
- Keep responses concise and actionable. You are talking via Telegram.
- Do not attach financial advice disclaimers to every message. The user understands this is informational.
- When asked about an index, summarize: the latest ensemble call, how the variants voted, and the recent accuracy of the best model.
- If a model is flagged for retraining, say so rather than leaning on its forecast.`

func BuildSystemPrompt(marketContext string) string {
	var sb strings.Builder
	sb.WriteString(deskPhilosophy)
	sb.WriteString("\n\n--- LIVE DESK DATA (as of ")
	sb.WriteString(time.Now().UTC().Format(time.RFC822))
	sb.WriteString(") ---\n")
	sb.WriteString(marketContext)
	return sb.String()
}

func FormatDeskContext(calls []domain.EnsembleCall, reports []domain.PerformanceSummary) string {
	var sb strings.Builder

	if len(calls) > 0 {
		sb.WriteString("\nLatest Calls:\n")
		for _, c := range calls {
			sb.WriteString(fmt.Sprintf("  %s as of %s: ensemble=%s prob_up=%.2f\n",
				c.Symbol, c.AsOf.Format("2006-01-02"), signalWord(c.SignalEnsemble), c.DirectionProbUp))
			for _, m := range c.Models {
				sb.WriteString(fmt.Sprintf("    %s: forecast=%.2f signal=%s mae=%.2f\n",
					m.Variant, m.Forecast, signalWord(m.Signal), m.MAE))
			}
		}
	}

	if len(reports) > 0 {
		sb.WriteString("\nRecent Accuracy:\n")
		for _, r := range reports {
			sb.WriteString(fmt.Sprintf("  %s (window %s to %s): avg_mae=%.2f best=%s\n",
				r.Symbol, r.WindowStart.Format("2006-01-02"), r.WindowEnd.Format("2006-01-02"),
				r.AvgMAE, orNone(r.BestModel)))
			for _, m := range r.Models {
				line := fmt.Sprintf("    %s: n=%d mae=%.2f rmse=%.2f", m.ModelName, m.Predictions, m.MAE, m.RMSE)
				if m.BuyAccuracy != nil {
					line += fmt.Sprintf(" buy_acc=%.0f%%", *m.BuyAccuracy)
				}
				if m.NeedsRetrain {
					line += " NEEDS RETRAIN"
				}
				sb.WriteString(line + "\n")
			}
		}
	}

	if sb.Len() == 0 {
		return "No desk data currently available."
	}
	return sb.String()
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

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
