// Package modelpick decides which completion tier answers a turn. The
// decision has three stages: a keyword fast path over the user's message, a
// cheap classification call when no keyword matches, and an availability
// probe before committing to the reasoning tier.
package modelpick

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/reynekefox/chatrelay/internal/llm"
)

// reasoningKeywords route a message straight to the reasoning tier without a
// classification round trip.
var reasoningKeywords = []string{
	"план", "стратегия", "анализ", "причины", "почему", "как лучше", "что делать",
	"объясни", "разбери", "составь", "помоги разобраться", "мотивационную историю",
	"терапевтическую", "поучительную", "детально", "подробно", "глубоко",
}

const classifierSystemPrompt = "Ты — ассистент, который выбирает оптимальную модель для ответа на вопрос пользователя.\n" +
	"Если вопрос требует анализа, рассуждений, составления плана, объяснения причин, выбора стратегии, создания подробных историй или сложного психологического консультирования — выбери 'reasoning'.\n" +
	"Если вопрос простой, бытовой, не требует глубокого анализа — выбери 'chat'.\n" +
	"Ответь только одним словом: reasoning или chat."

// historyWindow bounds how much dialog context the classifier sees.
const historyWindow = 10

// Choice is the routing outcome for one turn. RawSignal keeps the verbatim
// classifier answer (or "reasoning"/"chat" for the fast paths) for the audit
// log. Downgraded is set when the reasoning tier was chosen but its probe
// failed.
type Choice struct {
	Variant    llm.Variant
	RawSignal  string
	Downgraded bool
}

type Selector struct {
	client llm.Client
	logger *slog.Logger
}

func New(client llm.Client, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		client: client,
		logger: logger.With("component", "modelpick"),
	}
}

// Choose routes one turn. Every failure path lands on the chat tier: routing
// must never lose a turn.
func (s *Selector) Choose(ctx context.Context, message string, history []llm.Message) Choice {
	variant, raw := s.classify(ctx, message, history)
	if variant != llm.VariantReasoning {
		return Choice{Variant: llm.VariantChat, RawSignal: raw}
	}
	if err := s.client.Probe(ctx, llm.VariantReasoning); err != nil {
		s.logger.Warn("reasoning tier unavailable, falling back to chat", "error", err)
		return Choice{Variant: llm.VariantChat, RawSignal: raw, Downgraded: true}
	}
	return Choice{Variant: llm.VariantReasoning, RawSignal: raw}
}

func (s *Selector) classify(ctx context.Context, message string, history []llm.Message) (llm.Variant, string) {
	lowered := strings.ToLower(message)
	for _, keyword := range reasoningKeywords {
		if strings.Contains(lowered, keyword) {
			s.logger.Info("reasoning tier selected by keyword", "keyword", keyword)
			return llm.VariantReasoning, "reasoning"
		}
	}

	reply, err := s.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: classifierSystemPrompt},
			{Role: "user", Content: classifierQuestion(message, history)},
		},
		Variant:     llm.VariantChat,
		Temperature: 0.1,
		MaxTokens:   10,
	})
	if err != nil {
		s.logger.Warn("model classification failed, defaulting to chat", "error", err)
		return llm.VariantChat, "chat"
	}

	raw := strings.ToLower(strings.TrimSpace(reply))
	if raw == "reasoning" {
		return llm.VariantReasoning, raw
	}
	return llm.VariantChat, raw
}

func classifierQuestion(message string, history []llm.Message) string {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	var context strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&context, "%s: %s\n", turn.Role, turn.Content)
	}
	return fmt.Sprintf(
		"Текущий вопрос пользователя: '%s'\n\nИстория диалога: %s\n\nКакую модель выбрать для ответа на текущий вопрос?",
		message,
		context.String(),
	)
}
