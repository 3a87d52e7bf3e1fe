// Package heartbeat tracks the liveness of the relay's long-running parts:
// the poll loop, the completion backend checks and the background services
// report here, and the HTTP surface exposes the aggregate.
package heartbeat

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	StateStarting = "starting"
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateStopped  = "stopped"
	StateStale    = "stale"
)

// Reporter is what components hold to report their own state.
type Reporter interface {
	Starting(component, message string)
	Beat(component, message string)
	Degrade(component, message string, err error)
	Stopped(component, message string)
}

type Status struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	LastBeat  time.Time `json:"last_beat,omitzero"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Snapshot struct {
	GeneratedAt time.Time `json:"generated_at"`
	Overall     string    `json:"overall"`
	Components  []Status  `json:"components"`
}

type entry struct {
	state     string
	message   string
	lastError string
	lastBeat  time.Time
	updatedAt time.Time
}

type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

func (r *Registry) Starting(component, message string) {
	r.update(component, StateStarting, message, "", false)
}

func (r *Registry) Beat(component, message string) {
	r.update(component, StateHealthy, message, "", true)
}

func (r *Registry) Degrade(component, message string, err error) {
	errorText := ""
	if err != nil {
		errorText = err.Error()
	}
	r.update(component, StateDegraded, message, errorText, false)
}

func (r *Registry) Stopped(component, message string) {
	r.update(component, StateStopped, message, "", false)
}

func (r *Registry) update(component, state, message, errorText string, beat bool) {
	name := strings.ToLower(strings.TrimSpace(component))
	if name == "" {
		return
	}
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.entries[name]
	if !ok {
		current = &entry{}
		r.entries[name] = current
	}
	current.state = state
	current.message = strings.TrimSpace(message)
	current.lastError = strings.TrimSpace(errorText)
	current.updatedAt = now
	if beat || current.lastBeat.IsZero() {
		current.lastBeat = now
	}
}

// Snapshot reports every component, flagging the ones whose beats stopped
// arriving. With staleAfter zero no staleness detection happens.
func (r *Registry) Snapshot(staleAfter time.Duration) Snapshot {
	now := time.Now().UTC()

	r.mu.RLock()
	defer r.mu.RUnlock()

	components := make([]Status, 0, len(r.entries))
	for name, current := range r.entries {
		status := Status{
			Name:      name,
			State:     current.state,
			Message:   current.message,
			Error:     current.lastError,
			LastBeat:  current.lastBeat,
			UpdatedAt: current.updatedAt,
		}
		if staleAfter > 0 && liveState(current.state) && now.Sub(current.lastBeat) > staleAfter {
			status.State = StateStale
		}
		components = append(components, status)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	return Snapshot{
		GeneratedAt: now,
		Overall:     overall(components),
		Components:  components,
	}
}

func liveState(state string) bool {
	return state == StateHealthy || state == StateStarting
}

func overall(components []Status) string {
	if len(components) == 0 {
		return "unknown"
	}
	starting := false
	healthy := false
	for _, status := range components {
		switch status.State {
		case StateDegraded, StateStale:
			return StateDegraded
		case StateStarting:
			starting = true
		case StateHealthy:
			healthy = true
		}
	}
	if starting {
		return StateStarting
	}
	if healthy {
		return StateHealthy
	}
	return "idle"
}
