package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/reynekefox/chatrelay/internal/heartbeat"
)

// notifyTransport is the transport slice needed to reach admin chats.
type notifyTransport interface {
	SendText(ctx context.Context, chatID int64, text string, html bool) (int64, error)
}

// heartbeatNotifier forwards component state changes to the admin chats so
// a dead poller or failing backend is noticed without watching logs.
type heartbeatNotifier struct {
	transport notifyTransport
	adminIDs  []int64
	logger    *slog.Logger
}

func newHeartbeatNotifier(transport notifyTransport, adminIDs []int64, logger *slog.Logger) *heartbeatNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &heartbeatNotifier{
		transport: transport,
		adminIDs:  adminIDs,
		logger:    logger,
	}
}

func (n *heartbeatNotifier) HandleTransition(ctx context.Context, transition heartbeat.Transition) {
	message := buildTransitionMessage(transition)
	if message == "" {
		return
	}
	for _, chatID := range n.adminIDs {
		sendCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
		_, err := n.transport.SendText(sendCtx, chatID, message, false)
		cancel()
		if err != nil {
			n.logger.Error("heartbeat notify failed", "chat_id", chatID, "error", err)
		}
	}
}

// buildTransitionMessage reports drops into degraded or stale states and
// recoveries back to healthy. Other transitions stay in the logs only.
func buildTransitionMessage(transition heartbeat.Transition) string {
	var title string
	switch {
	case transition.To == heartbeat.StateDegraded || transition.To == heartbeat.StateStale:
		title = "⚠️ Компонент " + transition.Component + " неисправен"
	case transition.To == heartbeat.StateHealthy &&
		(transition.From == heartbeat.StateDegraded || transition.From == heartbeat.StateStale):
		title = "✅ Компонент " + transition.Component + " восстановлен"
	default:
		return ""
	}

	builder := strings.Builder{}
	builder.WriteString(title)
	builder.WriteString("\nСостояние: ")
	builder.WriteString(transition.From)
	builder.WriteString(" -> ")
	builder.WriteString(transition.To)
	if detail := strings.TrimSpace(transition.Message); detail != "" {
		builder.WriteString("\nДетали: ")
		builder.WriteString(detail)
	}
	if errorText := strings.TrimSpace(transition.Error); errorText != "" {
		builder.WriteString("\nОшибка: ")
		builder.WriteString(errorText)
	}
	return builder.String()
}
