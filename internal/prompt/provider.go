// Package prompt holds the system prompt used for every completion request.
// The prompt lives in a plain text file that can be edited and reloaded
// without restarting the relay; when no file is configured or readable the
// built-in default applies.
package prompt

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// defaultSystemPrompt is the persona the relay falls back to when the prompt
// file is missing or unreadable.
const defaultSystemPrompt = "Ты — опытный детский психолог и педагог. Твоя задача — помогать родителям в воспитании детей, " +
	"отвечать на их вопросы о развитии, обучении и поведении детей. Используй научный подход, " +
	"но объясняй простым языком. Всегда проявляй эмпатию и понимание к родителям."

type Provider struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current string
}

// NewProvider loads the prompt file once. A missing or empty file is not
// fatal: the provider starts with the default and logs what happened.
func NewProvider(path string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		path:    strings.TrimSpace(path),
		logger:  logger.With("component", "prompt"),
		current: defaultSystemPrompt,
	}
	if p.path == "" {
		p.logger.Info("no prompt file configured, using built-in prompt")
		return p
	}
	if err := p.Reload(); err != nil {
		p.logger.Warn("prompt file unavailable, using built-in prompt", "path", p.path, "error", err)
	}
	return p
}

// SystemPrompt returns the active prompt. Safe for concurrent use.
func (p *Provider) SystemPrompt() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Reload re-reads the prompt file. On any error the active prompt is left
// untouched.
func (p *Provider) Reload() error {
	if p.path == "" {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read prompt file: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return fmt.Errorf("prompt file %s is empty", p.path)
	}

	p.mu.Lock()
	p.current = text
	p.mu.Unlock()
	p.logger.Info("system prompt loaded", "path", p.path, "chars", len(text))
	return nil
}

// Default exposes the built-in prompt for display commands.
func Default() string {
	return defaultSystemPrompt
}
