// Package broadcast fans one admin message out to every registered user,
// pacing the sends and pruning users the transport can no longer reach.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/reynekefox/chatrelay/internal/connectors/telegram"
	"github.com/reynekefox/chatrelay/internal/dialog"
)

// Sender is the transport slice broadcast delivery needs.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, html bool) (int64, error)
}

// Registry lists the recipients and drops the unreachable ones.
type Registry interface {
	ListUserIDs(ctx context.Context) ([]int64, error)
	RemoveUser(ctx context.Context, userID int64) error
}

// DialogAppender records the broadcast in each recipient's history so later
// turns see it as something the assistant said.
type DialogAppender interface {
	Append(userID int64, role, content string)
}

type Broadcaster struct {
	transport Sender
	registry  Registry
	dialogs   DialogAppender
	pace      time.Duration
	logger    *slog.Logger
}

func New(transport Sender, registry Registry, dialogs DialogAppender, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		transport: transport,
		registry:  registry,
		dialogs:   dialogs,
		pace:      100 * time.Millisecond,
		logger:    logger.With("component", "broadcast"),
	}
}

// Send delivers text to every registered user and returns how many sends
// succeeded and how many recipients turned out to be unreachable. Unreachable
// recipients are removed from the registry. A canceled context stops the
// fan-out early with the counts so far.
func (b *Broadcaster) Send(ctx context.Context, text string) (int, int, error) {
	ids, err := b.registry.ListUserIDs(ctx)
	if err != nil {
		return 0, 0, err
	}
	b.logger.Info("broadcast started", "recipients", len(ids))

	sent := 0
	blocked := 0
	for index, userID := range ids {
		if ctx.Err() != nil {
			b.logger.Warn("broadcast interrupted", "delivered", sent, "remaining", len(ids)-index)
			return sent, blocked, ctx.Err()
		}

		if _, err := b.transport.SendText(ctx, userID, text, true); err != nil {
			if errors.Is(err, telegram.ErrRecipientUnreachable) {
				blocked++
				b.logger.Info("pruning unreachable user", "user_id", userID)
				if removeErr := b.registry.RemoveUser(ctx, userID); removeErr != nil {
					b.logger.Error("prune failed", "user_id", userID, "error", removeErr)
				}
			} else {
				b.logger.Error("broadcast send failed", "user_id", userID, "error", err)
			}
		} else {
			sent++
			b.dialogs.Append(userID, dialog.RoleAssistant, text)
		}

		if index < len(ids)-1 {
			if !b.pause(ctx) {
				return sent, blocked, ctx.Err()
			}
		}
	}

	b.logger.Info("broadcast finished", "sent", sent, "blocked", blocked)
	return sent, blocked, nil
}

func (b *Broadcaster) pause(ctx context.Context) bool {
	timer := time.NewTimer(b.pace)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
