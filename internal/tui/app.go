package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"market-quorum/internal/domain"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// PredictionQuerier serves the board and detail views.
type PredictionQuerier interface {
	Predict(ctx context.Context, symbol string) (domain.EnsembleCall, error)
	Symbols() []string
}

// ReportQuerier serves the accuracy view.
type ReportQuerier interface {
	Report(ctx context.Context, symbol string, windowDays int, now time.Time) (domain.PerformanceSummary, error)
}

// AdvisorQuerier answers free-form questions in the advisor view.
type AdvisorQuerier interface {
	Ask(ctx context.Context, chatID int64, message string) (string, error)
}

// Services bundles everything an SSH session needs. Advisor may be nil.
type Services struct {
	Predictions PredictionQuerier
	Reports     ReportQuerier
	Advisor     AdvisorQuerier
	UserID      int64
	Username    string
}

type view int

const (
	viewBoard view = iota
	viewDetail
	viewReport
	viewAdvisor
)

const reportWindowDays = 30

type boardLoadedMsg struct {
	calls []domain.EnsembleCall
	errs  []string
}

type reportLoadedMsg struct {
	summary domain.PerformanceSummary
	err     error
}

type advisorReplyMsg struct {
	reply string
	err   error
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1)
	statusStyle = lipgloss.NewStyle().Faint(true).Padding(0, 1)
	buyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	sellStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle   = lipgloss.NewStyle().Faint(true).Padding(0, 1)
)

// AppModel is the root bubbletea model for the SSH dashboard.
type AppModel struct {
	svc    Services
	view   view
	width  int
	height int

	board    table.Model
	calls    []domain.EnsembleCall
	selected int

	detail table.Model

	report    domain.PerformanceSummary
	reportErr error

	prompt       textinput.Model
	conversation []string
	thinking     bool

	status string
}

func NewAppModel(svc Services) *AppModel {
	board := table.New(
		table.WithColumns([]table.Column{
			{Title: "Symbol", Width: 10},
			{Title: "As Of", Width: 12},
			{Title: "Ensemble", Width: 10},
			{Title: "ProbUp", Width: 8},
			{Title: "Models", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	detail := table.New(
		table.WithColumns([]table.Column{
			{Title: "Model", Width: 16},
			{Title: "Forecast", Width: 12},
			{Title: "Signal", Width: 9},
			{Title: "MAE", Width: 10},
			{Title: "Cached", Width: 7},
		}),
		table.WithHeight(10),
	)

	prompt := textinput.New()
	prompt.Placeholder = "Ask about the board..."
	prompt.CharLimit = 280

	return &AppModel{
		svc:    svc,
		view:   viewBoard,
		board:  board,
		detail: detail,
		prompt: prompt,
		status: "loading board...",
	}
}

func (m *AppModel) SetSize(width, height int) {
	m.width = width
	m.height = height
	if height > 8 {
		m.board.SetHeight(height - 6)
		m.detail.SetHeight(height - 6)
	}
}

func (m *AppModel) Init() tea.Cmd {
	return m.loadBoard()
}

func (m *AppModel) loadBoard() tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		var msg boardLoadedMsg
		for _, sym := range svc.Predictions.Symbols() {
			call, err := svc.Predictions.Predict(context.Background(), sym)
			if err != nil {
				msg.errs = append(msg.errs, fmt.Sprintf("%s: %v", sym, err))
				continue
			}
			msg.calls = append(msg.calls, call)
		}
		return msg
	}
}

func (m *AppModel) loadReport(symbol string) tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		summary, err := svc.Reports.Report(context.Background(), symbol, reportWindowDays, time.Now().UTC())
		return reportLoadedMsg{summary: summary, err: err}
	}
}

func (m *AppModel) askAdvisor(question string) tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		reply, err := svc.Advisor.Ask(context.Background(), svc.UserID, question)
		return advisorReplyMsg{reply: reply, err: err}
	}
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		return m, nil

	case boardLoadedMsg:
		m.calls = msg.calls
		m.board.SetRows(boardRows(msg.calls))
		if len(msg.errs) > 0 {
			m.status = strings.Join(msg.errs, "; ")
		} else {
			m.status = fmt.Sprintf("%d symbols loaded", len(msg.calls))
		}
		return m, nil

	case reportLoadedMsg:
		m.report = msg.summary
		m.reportErr = msg.err
		m.view = viewReport
		return m, nil

	case advisorReplyMsg:
		m.thinking = false
		if msg.err != nil {
			m.conversation = append(m.conversation, "advisor: "+msg.err.Error())
		} else {
			m.conversation = append(m.conversation, "advisor: "+msg.reply)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *AppModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.view == viewAdvisor && m.prompt.Focused() {
		switch msg.String() {
		case "enter":
			question := strings.TrimSpace(m.prompt.Value())
			if question == "" || m.thinking {
				return m, nil
			}
			m.conversation = append(m.conversation, m.svc.Username+": "+question)
			m.prompt.SetValue("")
			m.thinking = true
			return m, m.askAdvisor(question)
		case "esc":
			m.prompt.Blur()
			m.view = viewBoard
			return m, nil
		default:
			var cmd tea.Cmd
			m.prompt, cmd = m.prompt.Update(msg)
			return m, cmd
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		m.status = "refreshing..."
		return m, m.loadBoard()
	case "enter":
		if m.view == viewBoard && len(m.calls) > 0 {
			m.selected = m.board.Cursor()
			if m.selected >= 0 && m.selected < len(m.calls) {
				m.detail.SetRows(detailRows(m.calls[m.selected]))
				m.view = viewDetail
			}
		}
		return m, nil
	case "p":
		if len(m.calls) > 0 {
			idx := m.board.Cursor()
			if m.view != viewBoard {
				idx = m.selected
			}
			if idx >= 0 && idx < len(m.calls) {
				return m, m.loadReport(m.calls[idx].Symbol)
			}
		}
		return m, nil
	case "a":
		if m.svc.Advisor != nil {
			m.view = viewAdvisor
			m.prompt.Focus()
		} else {
			m.status = "advisor not configured"
		}
		return m, nil
	case "esc", "b":
		m.view = viewBoard
		return m, nil
	}

	var cmd tea.Cmd
	switch m.view {
	case viewBoard:
		m.board, cmd = m.board.Update(msg)
	case viewDetail:
		m.detail, cmd = m.detail.Update(msg)
	}
	return m, cmd
}

func (m *AppModel) View() string {
	var body string
	switch m.view {
	case viewBoard:
		body = m.board.View()
	case viewDetail:
		symbol := ""
		if m.selected >= 0 && m.selected < len(m.calls) {
			symbol = m.calls[m.selected].Symbol
		}
		body = titleStyle.Render(symbol) + "\n" + m.detail.View()
	case viewReport:
		body = renderReport(m.report, m.reportErr)
	case viewAdvisor:
		body = renderConversation(m.conversation, m.thinking) + "\n" + m.prompt.View()
	}

	header := titleStyle.Render("market quorum") + statusStyle.Render(m.status)
	help := helpStyle.Render("enter detail · p report · a advisor · r refresh · b back · q quit")
	return header + "\n" + body + "\n" + help
}

func boardRows(calls []domain.EnsembleCall) []table.Row {
	rows := make([]table.Row, 0, len(calls))
	for _, c := range calls {
		rows = append(rows, table.Row{
			c.Symbol,
			c.AsOf.Format("2006-01-02"),
			signalCell(c.SignalEnsemble),
			fmt.Sprintf("%.2f", c.DirectionProbUp),
			fmt.Sprintf("%d", len(c.Models)),
		})
	}
	return rows
}

func detailRows(call domain.EnsembleCall) []table.Row {
	rows := make([]table.Row, 0, len(call.Models))
	for _, m := range call.Models {
		cached := ""
		if m.FromCache {
			cached = "yes"
		}
		rows = append(rows, table.Row{
			m.Variant,
			fmt.Sprintf("%.2f", m.Forecast),
			signalCell(m.Signal),
			fmt.Sprintf("%.2f", m.MAE),
			cached,
		})
	}
	return rows
}

func signalCell(s domain.Signal) string {
	switch {
	case s > 0:
		return buyStyle.Render("BUY")
	case s < 0:
		return sellStyle.Render("SELL")
	default:
		return "NEUTRAL"
	}
}

func renderReport(summary domain.PerformanceSummary, err error) string {
	if err != nil {
		return statusStyle.Render("report error: " + err.Error())
	}
	if len(summary.Models) == 0 {
		return statusStyle.Render(summary.Symbol + ": no graded predictions in the window")
	}
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s  %s to %s",
		summary.Symbol, summary.WindowStart.Format("2006-01-02"), summary.WindowEnd.Format("2006-01-02"))))
	sb.WriteString("\n")
	for _, m := range summary.Models {
		line := fmt.Sprintf("  %-16s n=%-4d mae=%-8.2f rmse=%-8.2f", m.ModelName, m.Predictions, m.MAE, m.RMSE)
		if m.BuyAccuracy != nil {
			line += fmt.Sprintf(" buy=%.0f%%", *m.BuyAccuracy)
		}
		if m.NeedsRetrain {
			line += sellStyle.Render(" [retrain]")
		}
		sb.WriteString(line + "\n")
	}
	if summary.BestModel != "" {
		sb.WriteString(buyStyle.Render("  best: " + summary.BestModel))
	}
	return sb.String()
}

func renderConversation(lines []string, thinking bool) string {
	if len(lines) == 0 {
		return statusStyle.Render("Ask the advisor about the board. Esc to go back.")
	}
	shown := lines
	if len(shown) > 12 {
		shown = shown[len(shown)-12:]
	}
	out := strings.Join(shown, "\n")
	if thinking {
		out += "\n" + statusStyle.Render("thinking...")
	}
	return out
}
