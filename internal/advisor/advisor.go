package advisor

import (
	"context"
	"fmt"
	"log"
	"time"

	"market-quorum/internal/domain"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LLMClient abstracts the OpenAI chat completions API for testability.
type LLMClient interface {
	CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// CallSource provides the latest ensemble calls for the advisor's context.
type CallSource interface {
	Predict(ctx context.Context, symbol string) (domain.EnsembleCall, error)
	Symbols() []string
}

// ReportSource provides accuracy history for the advisor's context.
type ReportSource interface {
	Report(ctx context.Context, symbol string, windowDays int, now time.Time) (domain.PerformanceSummary, error)
}

// ConversationStore persists and retrieves conversation messages.
type ConversationStore interface {
	AppendMessage(ctx context.Context, chatID int64, role, content string) error
	RecentMessages(ctx context.Context, chatID int64, limit int) ([]domain.ConversationMessage, error)
}

type AdvisorService struct {
	tracer     trace.Tracer
	llm        LLMClient
	calls      CallSource
	reports    ReportSource
	convStore  ConversationStore
	model      string
	maxHistory int
	windowDays int
}

func NewAdvisorService(
	tracer trace.Tracer,
	llm LLMClient,
	calls CallSource,
	reports ReportSource,
	convStore ConversationStore,
	model string,
	maxHistory int,
	windowDays int,
) *AdvisorService {
	if maxHistory <= 0 {
		maxHistory = 20
	}
	if windowDays <= 0 {
		windowDays = 30
	}
	return &AdvisorService{
		tracer:     tracer,
		llm:        llm,
		calls:      calls,
		reports:    reports,
		convStore:  convStore,
		model:      model,
		maxHistory: maxHistory,
		windowDays: windowDays,
	}
}

func (s *AdvisorService) Ask(ctx context.Context, chatID int64, userMessage string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "advisor.ask")
	defer span.End()
	span.SetAttributes(attribute.Int64("chat_id", chatID))

	// 1. Persist the user message
	if err := s.convStore.AppendMessage(ctx, chatID, "user", userMessage); err != nil {
		log.Printf("failed to store user message: %v", err)
	}

	// 2. Extract mentioned symbols for targeted context
	mentioned := ExtractSymbols(userMessage)

	// 3. Gather desk context
	deskContext, err := s.gatherContext(ctx, mentioned)
	if err != nil {
		log.Printf("failed to gather desk context: %v", err)
		deskContext = "Desk data temporarily unavailable."
	}

	// 4. Build system prompt with live data
	systemPrompt := BuildSystemPrompt(deskContext)

	// 5. Load conversation history
	history, err := s.convStore.RecentMessages(ctx, chatID, s.maxHistory)
	if err != nil {
		log.Printf("failed to load conversation history: %v", err)
		history = nil
	}

	// 6. Construct messages array
	messages := s.buildMessages(systemPrompt, history)

	// 7. Call LLM
	reply, err := s.callLLM(ctx, messages)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("advisor unavailable: %w", err)
	}

	// 8. Persist the assistant reply
	if err := s.convStore.AppendMessage(ctx, chatID, "assistant", reply); err != nil {
		log.Printf("failed to store assistant reply: %v", err)
	}

	return reply, nil
}

func (s *AdvisorService) gatherContext(ctx context.Context, symbols []string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "advisor.gather-context")
	defer span.End()

	targets := symbols
	if len(targets) == 0 {
		targets = s.calls.Symbols()
	}

	now := time.Now().UTC()
	var calls []domain.EnsembleCall
	var reports []domain.PerformanceSummary
	for _, sym := range targets {
		call, err := s.calls.Predict(ctx, sym)
		if err != nil {
			if len(symbols) == 0 {
				// Asked for the whole board; a single dead symbol is not fatal.
				continue
			}
			return "", err
		}
		calls = append(calls, call)
		if report, err := s.reports.Report(ctx, sym, s.windowDays, now); err == nil {
			reports = append(reports, report)
		}
	}

	return FormatDeskContext(calls, reports), nil
}

func (s *AdvisorService) buildMessages(
	systemPrompt string,
	history []domain.ConversationMessage,
) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)

	// System prompt always first
	messages = append(messages, openai.SystemMessage(systemPrompt))

	// Conversation history (already limited by RecentMessages query)
	for _, msg := range history {
		switch msg.Role {
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}

	return messages
}

func (s *AdvisorService) callLLM(
	ctx context.Context,
	messages []openai.ChatCompletionMessageParamUnion,
) (string, error) {
	ctx, span := s.tracer.Start(ctx, "advisor.llm-call")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", s.model),
		attribute.Int("llm.message_count", len(messages)),
	)

	completion, err := s.llm.CreateChatCompletion(ctx, openai.ChatCompletionNewParams{
		Model:    s.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no choices in LLM response")
	}

	reply := completion.Choices[0].Message.Content
	span.SetAttributes(attribute.Int("llm.reply_length", len(reply)))
	return reply, nil
}

// openaiClient wraps the official SDK's chat completions service.
type openaiClient struct {
	client openai.Client
}

func NewOpenAIClient(apiKey string) LLMClient {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &openaiClient{client: client}
}

func (c *openaiClient) CreateChatCompletion(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}
