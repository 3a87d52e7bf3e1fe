package cli

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVersionCommand(t *testing.T) {
	root := NewRoot(newTestLogger())
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), version) {
		t.Fatalf("expected version in output, got %q", out.String())
	}
}

func TestSnapshotCommand(t *testing.T) {
	dataDir := t.TempDir()
	dialogDir := filepath.Join(dataDir, "dialogs")
	if err := os.MkdirAll(dialogDir, 0o755); err != nil {
		t.Fatal(err)
	}
	payload := `{"messages":[{"role":"user","content":"привет","timestamp":"2026-08-01T10:00:00Z"}],"last_updated":"2026-08-01T10:00:00Z"}`
	if err := os.WriteFile(filepath.Join(dialogDir, "dialog_42.json"), []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHATRELAY_DATA_DIR", dataDir)
	t.Setenv("CHATRELAY_DIALOG_DIR", dialogDir)
	t.Setenv("CHATRELAY_BACKUP_DIR", filepath.Join(dataDir, "backups"))

	root := NewRoot(newTestLogger())
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs([]string{"snapshot"})

	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "1 dialogs") {
		t.Fatalf("expected one dialog copied, got %q", out.String())
	}
}
