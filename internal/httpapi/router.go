// Package httpapi is the relay's diagnostic surface: liveness, readiness and
// the heartbeat snapshot for whatever supervises the process.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/reynekefox/chatrelay/internal/heartbeat"
	"github.com/reynekefox/chatrelay/internal/store"
)

// MetaStore is the store slice the readiness, info and turn handlers use.
type MetaStore interface {
	Ping(ctx context.Context) error
	CountUsers(ctx context.Context) (int, error)
	ListRecentTurns(ctx context.Context, userID int64, limit int) ([]store.TurnRecord, error)
}

// DialogStore reports how many dialogs are loaded.
type DialogStore interface {
	KnownUserIDs() []int64
}

type Dependencies struct {
	Environment         string
	Store               MetaStore
	Dialogs             DialogStore
	Heartbeat           *heartbeat.Registry
	HeartbeatStaleAfter time.Duration
	Logger              *slog.Logger
}

type router struct {
	deps      Dependencies
	startedAt time.Time
}

func NewRouter(deps Dependencies) http.Handler {
	rt := &router{deps: deps, startedAt: time.Now().UTC()}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.handleHealth)
	mux.HandleFunc("/readyz", rt.handleReady)
	mux.HandleFunc("/api/v1/heartbeat", rt.handleHeartbeat)
	mux.HandleFunc("/api/v1/info", rt.handleInfo)
	mux.HandleFunc("/api/v1/turns", rt.handleTurns)
	return mux
}

func (r *router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *router) handleReady(w http.ResponseWriter, req *http.Request) {
	if err := r.deps.Store.Ping(req.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not-ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (r *router) handleHeartbeat(w http.ResponseWriter, req *http.Request) {
	if r.deps.Heartbeat == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "heartbeat is disabled",
		})
		return
	}
	writeJSON(w, http.StatusOK, r.deps.Heartbeat.Snapshot(r.deps.HeartbeatStaleAfter))
}

func (r *router) handleInfo(w http.ResponseWriter, req *http.Request) {
	payload := map[string]any{
		"name":           "chatrelay",
		"environment":    r.deps.Environment,
		"uptime_seconds": int64(time.Since(r.startedAt).Seconds()),
	}
	if count, err := r.deps.Store.CountUsers(req.Context()); err == nil {
		payload["known_users"] = count
	} else if r.deps.Logger != nil {
		r.deps.Logger.Error("count users failed", "error", err)
	}
	if r.deps.Dialogs != nil {
		payload["active_dialogs"] = len(r.deps.Dialogs.KnownUserIDs())
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleTurns returns the newest audit rows for one user, newest first.
func (r *router) handleTurns(w http.ResponseWriter, req *http.Request) {
	userID, err := strconv.ParseInt(req.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id must be an integer"})
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	records, err := r.deps.Store.ListRecentTurns(req.Context(), userID, limit)
	if err != nil {
		if r.deps.Logger != nil {
			r.deps.Logger.Error("list recent turns failed", "user_id", userID, "error", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "turn log unavailable"})
		return
	}

	turns := make([]map[string]any, 0, len(records))
	for _, record := range records {
		turns = append(turns, map[string]any{
			"id":            record.ID,
			"variant":       record.Variant,
			"downgraded":    record.Downgraded,
			"outcome":       record.Outcome,
			"request_chars": record.RequestChars,
			"reply_chars":   record.ReplyChars,
			"duration_ms":   record.Duration.Milliseconds(),
			"created_at":    record.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "turns": turns})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
