package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reynekefox/chatrelay/internal/app"
	"github.com/reynekefox/chatrelay/internal/backup"
	"github.com/reynekefox/chatrelay/internal/config"
	"github.com/reynekefox/chatrelay/internal/dialog"
)

const version = "0.1.0"

func NewRoot(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "chatrelay",
		Short: "Chatrelay bridges Telegram chats to a DeepSeek backend",
	}

	root.AddCommand(newServeCommand(logger))
	root.AddCommand(newSnapshotCommand(logger))
	root.AddCommand(newVersionCommand())

	return root
}

func newServeCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay: Telegram polling, dialog store and diagnostics API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			runtime, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer runtime.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runtime.Run(ctx)
		},
	}
}

func newSnapshotCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Take an immediate backup of the dialog directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			dialogs, err := dialog.Open(cfg.DialogDir, logger)
			if err != nil {
				return err
			}
			service := backup.New(dialogs, cfg.BackupDir, cfg.BackupCron, cfg.BackupKeep, logger)
			destination, copied, err := service.RunOnce()
			if err != nil {
				return err
			}
			cmd.Println(fmt.Sprintf("snapshot written to %s (%d dialogs)", destination, copied))
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}
