package prompt

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProviderLoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("Ты — помощник.\n"), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}

	provider := NewProvider(path, discardLogger())
	if got := provider.SystemPrompt(); got != "Ты — помощник." {
		t.Fatalf("unexpected prompt: %q", got)
	}
}

func TestProviderFallsBackToDefault(t *testing.T) {
	provider := NewProvider(filepath.Join(t.TempDir(), "missing.txt"), discardLogger())
	if got := provider.SystemPrompt(); got != Default() {
		t.Fatalf("expected default prompt, got %q", got)
	}
}

func TestProviderWithoutPath(t *testing.T) {
	provider := NewProvider("", discardLogger())
	if got := provider.SystemPrompt(); got != Default() {
		t.Fatalf("expected default prompt, got %q", got)
	}
	if err := provider.Reload(); err != nil {
		t.Fatalf("reload without path must be a no-op, got %v", err)
	}
}

func TestReloadPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("первая версия"), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	provider := NewProvider(path, discardLogger())

	if err := os.WriteFile(path, []byte("вторая версия"), 0o644); err != nil {
		t.Fatalf("rewrite prompt: %v", err)
	}
	if err := provider.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := provider.SystemPrompt(); got != "вторая версия" {
		t.Fatalf("unexpected prompt after reload: %q", got)
	}
}

func TestReloadKeepsPromptOnEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("рабочий промпт"), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	provider := NewProvider(path, discardLogger())

	if err := os.WriteFile(path, []byte("   "), 0o644); err != nil {
		t.Fatalf("truncate prompt: %v", err)
	}
	if err := provider.Reload(); err == nil {
		t.Fatal("expected error for empty prompt file")
	}
	if got := provider.SystemPrompt(); got != "рабочий промпт" {
		t.Fatalf("prompt must survive a bad reload, got %q", got)
	}
}
