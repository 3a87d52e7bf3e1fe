package heartbeat

import (
	"context"
	"log/slog"
	"time"
)

// Transition describes one component changing state between two monitor
// sweeps.
type Transition struct {
	Component string
	From      string
	To        string
	Message   string
	Error     string
}

type MonitorConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	// OnTransition fires for every state change, typically to notify an
	// admin chat.
	OnTransition func(ctx context.Context, transition Transition)
}

// Monitor periodically snapshots the registry and reports state changes.
type Monitor struct {
	registry *Registry
	cfg      MonitorConfig
	logger   *slog.Logger
}

func NewMonitor(registry *Registry, cfg MonitorConfig, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		registry: registry,
		cfg:      cfg,
		logger:   logger.With("component", "heartbeat"),
	}
}

func (m *Monitor) Start(ctx context.Context) error {
	if m.registry == nil {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	m.logger.Info("heartbeat monitor started", "interval", m.cfg.Interval.String())

	previous := map[string]string{}
	for {
		m.sweep(ctx, previous)
		select {
		case <-ctx.Done():
			m.logger.Info("heartbeat monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) sweep(ctx context.Context, previous map[string]string) {
	snapshot := m.registry.Snapshot(m.cfg.StaleAfter)
	for _, status := range snapshot.Components {
		before, seen := previous[status.Name]
		previous[status.Name] = status.State
		if !seen || before == status.State {
			continue
		}
		m.logger.Info("component state changed",
			"name", status.Name, "from", before, "to", status.State, "error", status.Error)
		if m.cfg.OnTransition != nil {
			m.cfg.OnTransition(ctx, Transition{
				Component: status.Name,
				From:      before,
				To:        status.State,
				Message:   status.Message,
				Error:     status.Error,
			})
		}
	}
}
