// Package telegram is the chat transport: a long-poll loop over the Bot API
// that routes commands, hands conversational messages to the relay and
// exposes the send primitives the relay delivers through.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/reynekefox/chatrelay/internal/relay"
	"github.com/reynekefox/chatrelay/internal/store"
)

// TurnHandler runs one conversational turn end to end.
type TurnHandler interface {
	HandleTurn(ctx context.Context, msg relay.Incoming)
}

// DialogStore is the slice of the dialog package commands need.
type DialogStore interface {
	Clear(userID int64) error
}

// MetaStore backs the admin inspection commands.
type MetaStore interface {
	RegisterUser(ctx context.Context, input store.RegisterUserInput) error
	LookupUser(ctx context.Context, userID int64) (store.UserRecord, error)
	ListUsers(ctx context.Context) ([]store.UserRecord, error)
}

// PromptSource exposes the system prompt for the admin commands.
type PromptSource interface {
	SystemPrompt() string
	Reload() error
}

// Broadcaster fans one message out to every known user.
type Broadcaster interface {
	Send(ctx context.Context, text string) (sent, blocked int, err error)
}

type Connector struct {
	token       string
	apiBase     string
	assetsDir   string
	pollSeconds int
	adminIDs    map[int64]bool

	turns       TurnHandler
	dialogs     DialogStore
	meta        MetaStore
	prompts     PromptSource
	broadcaster Broadcaster

	httpClient  *http.Client
	logger      *slog.Logger
	botUsername string
	offset      int64
}

type Options struct {
	Token       string
	APIBase     string
	AssetsDir   string
	PollSeconds int
	AdminIDs    []int64
}

func New(opts Options, turns TurnHandler, dialogs DialogStore, meta MetaStore, prompts PromptSource, broadcaster Broadcaster, logger *slog.Logger) *Connector {
	if strings.TrimSpace(opts.APIBase) == "" {
		opts.APIBase = "https://api.telegram.org"
	}
	if opts.PollSeconds < 1 {
		opts.PollSeconds = 25
	}
	admins := make(map[int64]bool, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		admins[id] = true
	}
	return &Connector{
		token:       strings.TrimSpace(opts.Token),
		apiBase:     strings.TrimRight(strings.TrimSpace(opts.APIBase), "/"),
		assetsDir:   strings.TrimSpace(opts.AssetsDir),
		pollSeconds: opts.PollSeconds,
		adminIDs:    admins,
		turns:       turns,
		dialogs:     dialogs,
		meta:        meta,
		prompts:     prompts,
		broadcaster: broadcaster,
		httpClient: &http.Client{
			Timeout: time.Duration(opts.PollSeconds+10) * time.Second,
		},
		logger: logger.With("component", "telegram"),
	}
}

func (c *Connector) Name() string {
	return "telegram"
}

// SetTurnHandler wires the conversational handler. The handler needs the
// connector as its transport, so it is attached after construction and
// before Start.
func (c *Connector) SetTurnHandler(turns TurnHandler) {
	c.turns = turns
}

// SetBroadcaster wires the admin broadcast sender, same construction order
// constraint as SetTurnHandler.
func (c *Connector) SetBroadcaster(broadcaster Broadcaster) {
	c.broadcaster = broadcaster
}

func (c *Connector) Start(ctx context.Context) error {
	if c.token == "" {
		c.logger.Info("connector disabled, token missing")
		<-ctx.Done()
		return nil
	}

	c.logger.Info("connector started", "api_base", c.apiBase)
	if username, err := c.fetchBotUsername(ctx); err == nil {
		c.botUsername = username
		if c.botUsername != "" {
			c.logger.Info("bot identity loaded", "username", c.botUsername)
		}
	} else {
		c.logger.Warn("bot username lookup failed", "error", err)
	}

	for {
		if ctx.Err() != nil {
			c.logger.Info("connector stopped")
			return nil
		}
		if err := c.pollOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("poll failed", "error", err)
			select {
			case <-ctx.Done():
				c.logger.Info("connector stopped")
				return nil
			case <-time.After(1500 * time.Millisecond):
			}
		}
	}
}

func (c *Connector) pollOnce(ctx context.Context) error {
	url := fmt.Sprintf("%s/bot%s/getUpdates?timeout=%d&offset=%d", c.apiBase, c.token, c.pollSeconds, c.offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	var payload getUpdatesResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode getUpdates: %w", err)
	}
	if !payload.OK {
		return fmt.Errorf("telegram getUpdates failed")
	}

	for _, update := range payload.Result {
		if update.UpdateID >= c.offset {
			c.offset = update.UpdateID + 1
		}
		if update.Message == nil {
			continue
		}
		c.dispatch(ctx, *update.Message)
	}
	return nil
}

// dispatch routes one update. Commands run inline; conversational turns run
// in their own goroutine so one slow completion does not stall the poll loop
// for everyone else.
func (c *Connector) dispatch(ctx context.Context, message telegramMessage) {
	text := strings.TrimSpace(message.Text)
	if text == "" || message.From.ID == 0 {
		return
	}

	if strings.HasPrefix(text, "/") {
		if handled := c.handleCommand(ctx, message, text); handled {
			return
		}
	}

	go c.turns.HandleTurn(ctx, relay.Incoming{
		ChatID:    message.Chat.ID,
		UserID:    message.From.ID,
		Username:  message.From.Username,
		FirstName: message.From.FirstName,
		LastName:  message.From.LastName,
		Text:      text,
	})
}

func (c *Connector) fetchBotUsername(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/bot%s/getMe", c.apiBase, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	var payload struct {
		OK     bool `json:"ok"`
		Result struct {
			Username string `json:"username"`
		} `json:"result"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", err
	}
	if !payload.OK {
		return "", fmt.Errorf("telegram getMe failed")
	}
	return strings.TrimSpace(payload.Result.Username), nil
}

type getUpdatesResponse struct {
	OK     bool             `json:"ok"`
	Result []telegramUpdate `json:"result"`
}

type telegramUpdate struct {
	UpdateID int64            `json:"update_id"`
	Message  *telegramMessage `json:"message"`
}

type telegramMessage struct {
	MessageID int64        `json:"message_id"`
	From      telegramUser `json:"from"`
	Chat      telegramChat `json:"chat"`
	Text      string       `json:"text"`
}

type telegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type telegramUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}
