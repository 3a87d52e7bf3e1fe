package dialog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open dialog store: %v", err)
	}
	return store, dir
}

func TestAppendKeepsOrder(t *testing.T) {
	store, _ := newTestStore(t)

	store.Append(42, RoleUser, "привет")
	store.Append(42, RoleAssistant, "здравствуйте")
	store.Append(42, RoleUser, "как дела?")

	turns := store.Turns(42)
	if len(turns) != 3 {
		t.Fatalf("expected three turns, got %d", len(turns))
	}
	if turns[0].Role != RoleUser || turns[0].Content != "привет" {
		t.Fatalf("unexpected first turn: %+v", turns[0])
	}
	if turns[1].Role != RoleAssistant {
		t.Fatalf("unexpected second turn: %+v", turns[1])
	}
	if turns[2].Content != "как дела?" {
		t.Fatalf("unexpected third turn: %+v", turns[2])
	}
	for _, turn := range turns {
		if turn.Timestamp == "" {
			t.Fatalf("turn missing timestamp: %+v", turn)
		}
	}
}

func TestHistorySurvivesReopen(t *testing.T) {
	store, dir := newTestStore(t)
	store.Append(7, RoleUser, "первое")
	store.Append(7, RoleAssistant, "второе")

	reopened, err := Open(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("reopen dialog store: %v", err)
	}
	turns := reopened.Turns(7)
	if len(turns) != 2 {
		t.Fatalf("expected two turns after reopen, got %d", len(turns))
	}
	if turns[0].Content != "первое" || turns[1].Content != "второе" {
		t.Fatalf("turn content lost across reopen: %+v", turns)
	}
}

func TestClearRemovesHistoryAndFile(t *testing.T) {
	store, dir := newTestStore(t)
	store.Append(9, RoleUser, "текст")

	if err := store.Clear(9); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if turns := store.Turns(9); len(turns) != 0 {
		t.Fatalf("expected empty history, got %v", turns)
	}
	if _, err := os.Stat(filepath.Join(dir, "dialog_9.json")); !os.IsNotExist(err) {
		t.Fatalf("expected dialog file removed, got err=%v", err)
	}
}

func TestClearWithoutHistory(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.Clear(404); err != nil {
		t.Fatalf("clear of unknown user should succeed, got %v", err)
	}
}

func TestKnownUserIDs(t *testing.T) {
	store, _ := newTestStore(t)
	store.Append(3, RoleUser, "a")
	store.Append(1, RoleUser, "b")
	store.Turns(2)

	ids := store.KnownUserIDs()
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestConcurrentAppendsSameUserLoseNothing(t *testing.T) {
	store, dir := newTestStore(t)

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			store.Append(7, RoleUser, fmt.Sprintf("сообщение %d", n))
		}(i)
	}
	wg.Wait()

	turns := store.Turns(7)
	if len(turns) != writers {
		t.Fatalf("expected %d turns, got %d", writers, len(turns))
	}
	seen := map[string]bool{}
	for _, turn := range turns {
		if seen[turn.Content] {
			t.Fatalf("duplicate turn: %q", turn.Content)
		}
		seen[turn.Content] = true
	}

	reopened, err := Open(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("reopen dialog store: %v", err)
	}
	if got := len(reopened.Turns(7)); got != writers {
		t.Fatalf("expected %d persisted turns, got %d", writers, got)
	}
}

func TestConcurrentUsersKeepTheirOwnOrder(t *testing.T) {
	store, _ := newTestStore(t)

	const users = 8
	const perUser = 20
	var wg sync.WaitGroup
	for u := int64(1); u <= users; u++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			for n := 0; n < perUser; n++ {
				store.Append(userID, RoleUser, fmt.Sprintf("пользователь %d сообщение %d", userID, n))
			}
		}(u)
	}
	wg.Wait()

	for u := int64(1); u <= users; u++ {
		turns := store.Turns(u)
		if len(turns) != perUser {
			t.Fatalf("user %d: expected %d turns, got %d", u, perUser, len(turns))
		}
		for n, turn := range turns {
			want := fmt.Sprintf("пользователь %d сообщение %d", u, n)
			if turn.Content != want {
				t.Fatalf("user %d turn %d out of order: got %q", u, n, turn.Content)
			}
		}
	}
}

func TestSnapshotCopiesDialogFiles(t *testing.T) {
	store, _ := newTestStore(t)
	store.Append(1, RoleUser, "раз")
	store.Append(2, RoleUser, "два")

	destination := filepath.Join(t.TempDir(), "backup")
	copied, err := store.Snapshot(destination)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if copied != 2 {
		t.Fatalf("expected two files copied, got %d", copied)
	}
	for _, name := range []string{"dialog_1.json", "dialog_2.json"} {
		if _, err := os.Stat(filepath.Join(destination, name)); err != nil {
			t.Fatalf("missing snapshot file %s: %v", name, err)
		}
	}
}

func TestIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write foreign file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "dialog_bad.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write bad name file: %v", err)
	}

	store, err := Open(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open dialog store: %v", err)
	}
	if ids := store.KnownUserIDs(); len(ids) != 0 {
		t.Fatalf("expected no users, got %v", ids)
	}
}
