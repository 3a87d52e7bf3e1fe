// Package dialog keeps the per-user conversation history: an in-memory
// working copy backed by one JSON file per user. The in-memory copy is the
// source of truth for the running process; files exist so history survives a
// restart and so snapshots can be taken.
package dialog

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Turn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type dialogFile struct {
	Messages    []Turn `json:"messages"`
	LastUpdated string `json:"last_updated"`
}

// Store is safe for concurrent use. Operations on different users proceed in
// parallel; operations on the same user serialize behind a per-user lock.
type Store struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	dialogs map[int64]*userDialog
}

type userDialog struct {
	mu    sync.Mutex
	turns []Turn
}

// Open loads every dialog file found under dir into memory. Files that fail
// to parse are skipped with a warning rather than aborting startup.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dialog dir: %w", err)
	}
	store := &Store{
		dir:     dir,
		logger:  logger.With("component", "dialog"),
		dialogs: make(map[int64]*userDialog),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dialog dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		userID, ok := userIDFromFilename(entry.Name())
		if !ok {
			continue
		}
		turns, err := readDialogFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			store.logger.Warn("skipping unreadable dialog file", "file", entry.Name(), "error", err)
			continue
		}
		store.dialogs[userID] = &userDialog{turns: turns}
	}
	store.logger.Info("dialog store loaded", "users", len(store.dialogs))
	return store, nil
}

// Append adds one turn to a user's history and writes the file through. A
// persistence failure is logged but does not fail the append: the in-memory
// history stays authoritative for the session.
func (s *Store) Append(userID int64, role, content string) {
	d := s.dialog(userID)
	d.mu.Lock()
	defer d.mu.Unlock()

	d.turns = append(d.turns, Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err := s.writeDialogFile(userID, d.turns); err != nil {
		s.logger.Error("persist dialog failed", "user_id", userID, "error", err)
	}
}

// Turns returns a copy of the user's history in append order.
func (s *Store) Turns(userID int64) []Turn {
	d := s.dialog(userID)
	d.mu.Lock()
	defer d.mu.Unlock()

	turns := make([]Turn, len(d.turns))
	copy(turns, d.turns)
	return turns
}

// Clear forgets a user's history in memory and removes the backing file.
func (s *Store) Clear(userID int64) error {
	d := s.dialog(userID)
	d.mu.Lock()
	defer d.mu.Unlock()

	d.turns = nil
	path := s.dialogPath(userID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove dialog file: %w", err)
	}
	return nil
}

// KnownUserIDs lists users with at least one stored turn, in ascending order.
func (s *Store) KnownUserIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.dialogs))
	for userID, d := range s.dialogs {
		d.mu.Lock()
		populated := len(d.turns) > 0
		d.mu.Unlock()
		if populated {
			ids = append(ids, userID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot copies every dialog file into destination, creating it if needed.
// Returns the number of files copied.
func (s *Store) Snapshot(destination string) (int, error) {
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return 0, fmt.Errorf("create snapshot dir: %w", err)
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read dialog dir: %w", err)
	}

	copied := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := userIDFromFilename(entry.Name()); !ok {
			continue
		}
		if err := copyFile(filepath.Join(s.dir, entry.Name()), filepath.Join(destination, entry.Name())); err != nil {
			return copied, fmt.Errorf("copy %s: %w", entry.Name(), err)
		}
		copied++
	}
	return copied, nil
}

func (s *Store) dialog(userID int64) *userDialog {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dialogs[userID]
	if !ok {
		d = &userDialog{}
		s.dialogs[userID] = d
	}
	return d
}

func (s *Store) dialogPath(userID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("dialog_%d.json", userID))
}

// writeDialogFile writes to a temp file in the same directory and renames it
// over the target so readers never observe a half-written dialog.
func (s *Store) writeDialogFile(userID int64, turns []Turn) error {
	payload := dialogFile{
		Messages:    turns,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dialog: %w", err)
	}

	target := s.dialogPath(userID)
	temp, err := os.CreateTemp(s.dir, fmt.Sprintf("dialog_%d_*.tmp", userID))
	if err != nil {
		return fmt.Errorf("create temp dialog: %w", err)
	}
	if _, err := temp.Write(data); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return fmt.Errorf("write temp dialog: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return fmt.Errorf("close temp dialog: %w", err)
	}
	if err := os.Rename(temp.Name(), target); err != nil {
		os.Remove(temp.Name())
		return fmt.Errorf("replace dialog file: %w", err)
	}
	return nil
}

func readDialogFile(path string) ([]Turn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var payload dialogFile
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload.Messages, nil
}

func userIDFromFilename(name string) (int64, bool) {
	if !strings.HasPrefix(name, "dialog_") || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, "dialog_"), ".json")
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return userID, true
}

func copyFile(source, destination string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(destination)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
