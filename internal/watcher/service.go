// Package watcher reloads the system prompt when its file changes on disk,
// so edits take effect without the /reload_prompts command or a restart.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

type Service struct {
	path     string
	logger   *slog.Logger
	onChange func(context.Context)
	watcher  *fsnotify.Watcher
}

// New watches the directory holding path and fires onChange whenever the
// file itself is written, created or renamed into place. Editors that swap
// files atomically produce rename or create events, which is why the watch
// sits on the directory rather than the file.
func New(path string, logger *slog.Logger, onChange func(context.Context)) (*Service, error) {
	fileWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Service{
		path:     filepath.Clean(path),
		logger:   logger.With("component", "watcher"),
		onChange: onChange,
		watcher:  fileWatcher,
	}, nil
}

func (s *Service) Start(ctx context.Context) error {
	defer s.watcher.Close()

	dir := filepath.Dir(s.path)
	if err := s.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch dir %s: %w", dir, err)
	}
	s.logger.Info("prompt watcher started", "path", s.path)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("prompt watcher stopped")
			return nil
		case event := <-s.watcher.Events:
			s.handleEvent(ctx, event)
		case err := <-s.watcher.Errors:
			if err != nil {
				s.logger.Error("file watcher error", "error", err)
			}
		}
	}
}

func (s *Service) handleEvent(ctx context.Context, event fsnotify.Event) {
	if filepath.Clean(event.Name) != s.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	s.logger.Info("prompt file changed", "op", event.Op.String())
	s.onChange(ctx)
}
