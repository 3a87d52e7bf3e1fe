// Package relay orchestrates one conversational turn: route the message to a
// completion tier, call the backend, post-process the reply and deliver it in
// transport-sized pieces.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/reynekefox/chatrelay/internal/dialog"
	"github.com/reynekefox/chatrelay/internal/llm"
	"github.com/reynekefox/chatrelay/internal/modelpick"
	"github.com/reynekefox/chatrelay/internal/render"
	"github.com/reynekefox/chatrelay/internal/store"
	"github.com/reynekefox/chatrelay/internal/textsplit"
)

const (
	thinkingNotice  = "🤔 Надо подумать..."
	downgradeNotice = "🤔 Надо подумать... Упс, не получилось, отвечу проще!"
	timeoutNotice   = "⏰ Извините, обработка заняла слишком много времени. Попробуйте еще раз."
	failureNotice   = "😔 Извините, произошла ошибка при обработке вашего запроса. Попробуйте еще раз."
	emptyNotice     = "Извините, произошла ошибка при обработке вашего запроса."
)

// Transport is the chat delivery surface the handler writes to.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string, html bool) (int64, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	SendEmotion(ctx context.Context, chatID int64, emotion, caption string) error
}

// DialogStore is the slice of the dialog package the handler needs.
type DialogStore interface {
	Append(userID int64, role, content string)
	Turns(userID int64) []dialog.Turn
}

// MetaStore records who talks to the relay and how each turn went.
type MetaStore interface {
	RegisterUser(ctx context.Context, input store.RegisterUserInput) error
	TouchUser(ctx context.Context, userID int64) error
	LogTurn(ctx context.Context, input store.LogTurnInput) error
}

// Selector picks the completion tier for a turn.
type Selector interface {
	Choose(ctx context.Context, message string, history []llm.Message) modelpick.Choice
}

// PromptProvider supplies the current system prompt.
type PromptProvider interface {
	SystemPrompt() string
}

type Config struct {
	// TurnDeadline bounds routing, completion and delivery for one turn.
	TurnDeadline time.Duration
	// CaptionLimit is the largest reply delivered as a single image caption.
	CaptionLimit int
	// CaptionChunkSize leaves headroom for the part label when a reply with
	// an emotion has to be chunked.
	CaptionChunkSize int
	// TextChunkSize is the chunk bound for replies without an emotion.
	TextChunkSize int
	// ChunkPause is the delay between consecutive parts.
	ChunkPause time.Duration
}

func (c *Config) applyDefaults() {
	if c.TurnDeadline <= 0 {
		c.TurnDeadline = 90 * time.Second
	}
	if c.CaptionLimit <= 0 {
		c.CaptionLimit = 1024
	}
	if c.CaptionChunkSize <= 0 {
		c.CaptionChunkSize = 900
	}
	if c.TextChunkSize <= 0 {
		c.TextChunkSize = 2000
	}
	if c.ChunkPause < 0 {
		c.ChunkPause = 0
	} else if c.ChunkPause == 0 {
		c.ChunkPause = 500 * time.Millisecond
	}
}

// Incoming is one user message as the connector hands it over.
type Incoming struct {
	ChatID    int64
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	Text      string
}

type Handler struct {
	cfg       Config
	transport Transport
	dialogs   DialogStore
	meta      MetaStore
	selector  Selector
	client    llm.Client
	prompts   PromptProvider
	logger    *slog.Logger
}

func NewHandler(cfg Config, transport Transport, dialogs DialogStore, meta MetaStore, selector Selector, client llm.Client, prompts PromptProvider, logger *slog.Logger) *Handler {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:       cfg,
		transport: transport,
		dialogs:   dialogs,
		meta:      meta,
		selector:  selector,
		client:    client,
		prompts:   prompts,
		logger:    logger.With("component", "relay"),
	}
}

// HandleTurn processes one user message end to end. It never returns an
// error: every failure is reported to the user in-channel and absorbed here
// so the poll loop keeps running.
func (h *Handler) HandleTurn(ctx context.Context, msg Incoming) {
	start := time.Now()
	logger := h.logger.With("user_id", msg.UserID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("turn panicked", "panic", r)
			h.notify(ctx, msg.ChatID, failureNotice)
		}
		logger.Info("turn finished", "duration", time.Since(start))
	}()

	turnCtx, cancel := context.WithTimeout(ctx, h.cfg.TurnDeadline)
	defer cancel()

	if err := h.meta.RegisterUser(turnCtx, store.RegisterUserInput{
		ID:        msg.UserID,
		Username:  msg.Username,
		FirstName: msg.FirstName,
		LastName:  msg.LastName,
	}); err != nil {
		logger.Error("register user failed", "error", err)
	}

	// The routing decision sees the history as it was before this message;
	// the completion request sees it with the message appended.
	before := toMessages(h.dialogs.Turns(msg.UserID))
	choice := h.selector.Choose(turnCtx, msg.Text, before)
	logger.Info("tier selected", "variant", choice.Variant, "signal", choice.RawSignal, "downgraded", choice.Downgraded)

	var thinkingID int64
	if choice.Downgraded {
		h.notify(turnCtx, msg.ChatID, downgradeNotice)
	} else if choice.Variant == llm.VariantReasoning {
		if id, err := h.transport.SendText(turnCtx, msg.ChatID, thinkingNotice, false); err == nil {
			thinkingID = id
		}
	}

	h.dialogs.Append(msg.UserID, dialog.RoleUser, msg.Text)

	messages := make([]llm.Message, 0, 1+len(before)+1)
	messages = append(messages, llm.Message{Role: "system", Content: h.prompts.SystemPrompt()})
	messages = append(messages, toMessages(h.dialogs.Turns(msg.UserID))...)

	raw, err := h.client.Complete(turnCtx, llm.CompletionRequest{
		Messages:    messages,
		Variant:     choice.Variant,
		Temperature: 0.05,
	})
	if err != nil {
		h.failTurn(ctx, turnCtx, logger, msg, choice, start, err)
		return
	}
	if raw == "" {
		logger.Error("completion returned empty reply")
		h.notify(turnCtx, msg.ChatID, emptyNotice)
		h.audit(ctx, msg, choice, "failed", 0, start)
		return
	}

	emotion := render.ExtractEmotion(raw)
	text := render.ConvertMarkdownToHTML(render.RemoveEmotionTags(raw))

	if thinkingID != 0 {
		if err := h.transport.DeleteMessage(turnCtx, msg.ChatID, thinkingID); err != nil {
			logger.Debug("delete placeholder failed", "error", err)
		}
	}

	delivered := false
	if resolved, ok := render.ResolveEmotion(emotion); ok {
		delivered = h.deliverWithEmotion(turnCtx, logger, msg.ChatID, resolved, text)
	} else {
		if emotion != "" {
			logger.Warn("emotion label outside vocabulary, delivering as text", "emotion", emotion)
		}
		delivered = h.deliverText(turnCtx, logger, msg.ChatID, text)
	}
	if !delivered && turnCtx.Err() != nil {
		h.failTurn(ctx, turnCtx, logger, msg, choice, start, turnCtx.Err())
		return
	}

	// History keeps the reply as the backend produced it, tags included, so
	// later turns see what the model actually said.
	h.dialogs.Append(msg.UserID, dialog.RoleAssistant, raw)

	if err := h.meta.TouchUser(ctx, msg.UserID); err != nil && !errors.Is(err, store.ErrUserNotFound) {
		logger.Error("touch user failed", "error", err)
	}
	outcome := "delivered"
	if !delivered {
		outcome = "failed"
	}
	h.audit(ctx, msg, choice, outcome, utf8.RuneCountInString(raw), start)
}

func (h *Handler) failTurn(ctx, turnCtx context.Context, logger *slog.Logger, msg Incoming, choice modelpick.Choice, start time.Time, cause error) {
	outcome := "failed"
	notice := failureNotice
	if errors.Is(cause, context.DeadlineExceeded) || turnCtx.Err() != nil {
		outcome = "timeout"
		notice = timeoutNotice
	}
	logger.Error("turn failed", "outcome", outcome, "error", cause)

	// The turn context may already be dead, so the notice goes out on a
	// short-lived one detached from it.
	noticeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	h.notify(noticeCtx, msg.ChatID, notice)
	h.audit(ctx, msg, choice, outcome, 0, start)
}

func (h *Handler) audit(ctx context.Context, msg Incoming, choice modelpick.Choice, outcome string, replyChars int, start time.Time) {
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := h.meta.LogTurn(auditCtx, store.LogTurnInput{
		ID:           uuid.NewString(),
		UserID:       msg.UserID,
		Variant:      string(choice.Variant),
		Downgraded:   choice.Downgraded,
		Outcome:      outcome,
		RequestChars: utf8.RuneCountInString(msg.Text),
		ReplyChars:   replyChars,
		Duration:     time.Since(start),
	})
	if err != nil {
		h.logger.Error("turn audit failed", "user_id", msg.UserID, "error", err)
	}
}

// deliverText sends a reply without an emotion as HTML text, chunked at the
// text bound. Each part falls back to plain text when the HTML send fails;
// a part that fails both ways is skipped so the rest of the reply still
// goes out.
func (h *Handler) deliverText(ctx context.Context, logger *slog.Logger, chatID int64, text string) bool {
	chunks := textsplit.Split(text, h.cfg.TextChunkSize)
	sent := 0
	for index, chunk := range chunks {
		part := labelPart(chunk, index, len(chunks))
		if h.sendWithFallback(ctx, logger, chatID, part) {
			sent++
		} else if ctx.Err() != nil {
			return false
		} else {
			logger.Error("part skipped", "part", index+1, "total", len(chunks))
		}
		if index < len(chunks)-1 && !h.pause(ctx) {
			return false
		}
	}
	return sent > 0
}

// deliverWithEmotion sends a reply that carries a resolved emotion. A short
// reply goes out as a single image caption; a long one is chunked with the
// image attached to the last part.
func (h *Handler) deliverWithEmotion(ctx context.Context, logger *slog.Logger, chatID int64, emotion, text string) bool {
	if utf8.RuneCountInString(text) <= h.cfg.CaptionLimit {
		return h.sendEmotionWithFallback(ctx, logger, chatID, emotion, text)
	}

	chunks := textsplit.Split(text, h.cfg.CaptionChunkSize)
	sent := 0
	for index, chunk := range chunks[:len(chunks)-1] {
		part := labelPart(chunk, index, len(chunks))
		if h.sendWithFallback(ctx, logger, chatID, part) {
			sent++
		} else if ctx.Err() != nil {
			return false
		} else {
			logger.Error("part skipped", "part", index+1, "total", len(chunks))
		}
		if !h.pause(ctx) {
			return false
		}
	}
	last := labelPart(chunks[len(chunks)-1], len(chunks)-1, len(chunks))
	if h.sendEmotionWithFallback(ctx, logger, chatID, emotion, last) {
		sent++
	} else if ctx.Err() != nil {
		return false
	} else {
		logger.Error("part skipped", "part", len(chunks), "total", len(chunks))
	}
	return sent > 0
}

func (h *Handler) sendWithFallback(ctx context.Context, logger *slog.Logger, chatID int64, part string) bool {
	if _, err := h.transport.SendText(ctx, chatID, part, true); err == nil {
		return true
	} else {
		logger.Warn("html send failed, retrying plain", "error", err)
	}
	if _, err := h.transport.SendText(ctx, chatID, part, false); err != nil {
		logger.Error("plain send failed", "error", err)
		return false
	}
	return true
}

func (h *Handler) sendEmotionWithFallback(ctx context.Context, logger *slog.Logger, chatID int64, emotion, caption string) bool {
	if err := h.transport.SendEmotion(ctx, chatID, emotion, caption); err == nil {
		return true
	} else {
		logger.Warn("emotion send failed, delivering as text", "emotion", emotion, "error", err)
	}
	return h.sendWithFallback(ctx, logger, chatID, caption)
}

func (h *Handler) pause(ctx context.Context) bool {
	timer := time.NewTimer(h.cfg.ChunkPause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (h *Handler) notify(ctx context.Context, chatID int64, text string) {
	if _, err := h.transport.SendText(ctx, chatID, text, false); err != nil {
		h.logger.Error("notice send failed", "error", err)
	}
}

func labelPart(chunk string, index, total int) string {
	if total <= 1 {
		return chunk
	}
	return fmt.Sprintf("📝 Часть %d/%d:\n\n%s", index+1, total, chunk)
}

func toMessages(turns []dialog.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	return messages
}
