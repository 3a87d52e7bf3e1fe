// Package app assembles the relay from its parts and runs them as one
// process.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/reynekefox/chatrelay/internal/backup"
	"github.com/reynekefox/chatrelay/internal/broadcast"
	"github.com/reynekefox/chatrelay/internal/config"
	"github.com/reynekefox/chatrelay/internal/connectors/telegram"
	"github.com/reynekefox/chatrelay/internal/dialog"
	"github.com/reynekefox/chatrelay/internal/heartbeat"
	"github.com/reynekefox/chatrelay/internal/httpapi"
	"github.com/reynekefox/chatrelay/internal/llm/deepseek"
	"github.com/reynekefox/chatrelay/internal/modelpick"
	"github.com/reynekefox/chatrelay/internal/prompt"
	"github.com/reynekefox/chatrelay/internal/relay"
	"github.com/reynekefox/chatrelay/internal/store"
	"github.com/reynekefox/chatrelay/internal/watcher"
)

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *store.Store
	dialogs    *dialog.Store
	prompts    *prompt.Provider
	connector  *telegram.Connector
	watcher    *watcher.Service
	backup     *backup.Service
	heartbeat  *heartbeat.Registry
	monitor    *heartbeat.Monitor
	httpServer *http.Server
}

func New(cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	if err := os.MkdirAll(cfg.DialogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create dialog directory: %w", err)
	}

	sqlStore, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		sqlStore.Close()
		return nil, err
	}

	dialogs, err := dialog.Open(cfg.DialogDir, logger.With("component", "dialog"))
	if err != nil {
		sqlStore.Close()
		return nil, err
	}

	prompts := prompt.NewProvider(cfg.PromptFile, logger.With("component", "prompt"))
	client := deepseek.New(deepseek.Config{
		APIKey:         cfg.LLMAPIKey,
		BaseURL:        cfg.LLMBaseURL,
		ChatModel:      cfg.LLMChatModel,
		ReasoningModel: cfg.LLMReasoningModel,
		Timeout:        time.Duration(cfg.LLMTimeoutSec) * time.Second,
	}, logger)
	selector := modelpick.New(client, logger.With("component", "modelpick"))

	connector := telegram.New(telegram.Options{
		Token:       cfg.TelegramToken,
		APIBase:     cfg.TelegramAPI,
		AssetsDir:   cfg.AssetsDir,
		PollSeconds: cfg.TelegramPoll,
		AdminIDs:    cfg.AdminIDs,
	}, nil, dialogs, sqlStore, prompts, nil, logger)

	handler := relay.NewHandler(relay.Config{
		TurnDeadline:     time.Duration(cfg.TurnDeadlineSec) * time.Second,
		CaptionLimit:     cfg.CaptionLimit,
		CaptionChunkSize: cfg.CaptionChunkSize,
		TextChunkSize:    cfg.TextChunkSize,
		ChunkPause:       time.Duration(cfg.ChunkPauseMS) * time.Millisecond,
	}, connector, dialogs, sqlStore, selector, client, prompts, logger)
	broadcaster := broadcast.New(connector, sqlStore, dialogs, logger.With("component", "broadcast"))
	connector.SetTurnHandler(handler)
	connector.SetBroadcaster(broadcaster)

	var registry *heartbeat.Registry
	var monitor *heartbeat.Monitor
	if cfg.HeartbeatOn {
		registry = heartbeat.NewRegistry()
		monitorCfg := heartbeat.MonitorConfig{
			Interval:   time.Duration(cfg.HeartbeatSec) * time.Second,
			StaleAfter: time.Duration(cfg.HeartbeatStale) * time.Second,
		}
		if cfg.HeartbeatNotifyAdmin && len(cfg.AdminIDs) > 0 {
			notifier := newHeartbeatNotifier(connector, cfg.AdminIDs, logger.With("component", "heartbeat-notify"))
			monitorCfg.OnTransition = notifier.HandleTransition
		}
		monitor = heartbeat.NewMonitor(registry, monitorCfg, logger)
	}

	var watchService *watcher.Service
	if cfg.WatchPrompt && cfg.PromptFile != "" {
		watchService, err = watcher.New(cfg.PromptFile, logger.With("component", "watcher"), func(ctx context.Context) {
			if reloadErr := prompts.Reload(); reloadErr != nil {
				logger.Error("prompt reload failed", "error", reloadErr)
				return
			}
			logger.Info("system prompt reloaded", "path", cfg.PromptFile)
		})
		if err != nil {
			sqlStore.Close()
			return nil, err
		}
	}

	backupService := backup.New(dialogs, cfg.BackupDir, cfg.BackupCron, cfg.BackupKeep, logger)
	if registry != nil {
		backupService.SetHeartbeatReporter(registry)
	}

	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Dependencies{
			Environment:         cfg.Environment,
			Store:               sqlStore,
			Dialogs:             dialogs,
			Heartbeat:           registry,
			HeartbeatStaleAfter: time.Duration(cfg.HeartbeatStale) * time.Second,
			Logger:              logger.With("component", "api"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		store:      sqlStore,
		dialogs:    dialogs,
		prompts:    prompts,
		connector:  connector,
		watcher:    watchService,
		backup:     backupService,
		heartbeat:  registry,
		monitor:    monitor,
		httpServer: httpServer,
	}, nil
}

func (r *Runtime) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}
