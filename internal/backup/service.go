// Package backup periodically snapshots the dialog directory so history
// survives a lost disk or a bad deploy.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/reynekefox/chatrelay/internal/heartbeat"
	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

const snapshotDirLayout = "20060102-150405"

// DialogSource copies its current dialog files into a destination directory.
type DialogSource interface {
	Snapshot(destination string) (int, error)
}

type Service struct {
	dialogs  DialogSource
	dir      string
	cronExpr string
	keep     int
	logger   *slog.Logger
	reporter heartbeat.Reporter
}

// New builds the backup service. cronExpr uses the standard five-field
// syntax plus descriptors like "@daily". keep limits how many snapshot
// directories survive pruning.
func New(dialogs DialogSource, dir, cronExpr string, keep int, logger *slog.Logger) *Service {
	if keep <= 0 {
		keep = 14
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		dialogs:  dialogs,
		dir:      dir,
		cronExpr: normalizeCronExpr(cronExpr),
		keep:     keep,
		logger:   logger.With("component", "backup"),
	}
}

func (s *Service) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	s.reporter = reporter
}

func (s *Service) Start(ctx context.Context) error {
	if s.dialogs == nil || s.dir == "" || s.cronExpr == "" {
		s.logger.Info("backup disabled")
		<-ctx.Done()
		return nil
	}
	spec, err := scheduleParser.Parse(s.cronExpr)
	if err != nil {
		return fmt.Errorf("parse backup schedule: %w", err)
	}
	if s.reporter != nil {
		s.reporter.Starting("backup", "scheduled")
	}
	s.logger.Info("backup started", "schedule", s.cronExpr, "dir", s.dir)
	for {
		next := spec.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			if s.reporter != nil {
				s.reporter.Stopped("backup", "stopped")
			}
			s.logger.Info("backup stopped")
			return nil
		case <-timer.C:
		}
		if err := s.runOnce(); err != nil {
			if s.reporter != nil {
				s.reporter.Degrade("backup", "snapshot failed", err)
			}
			s.logger.Error("backup snapshot failed", "error", err)
			continue
		}
		if s.reporter != nil {
			s.reporter.Beat("backup", "snapshot completed")
		}
	}
}

// RunOnce takes an immediate snapshot outside the schedule.
func (s *Service) RunOnce() (string, int, error) {
	destination := filepath.Join(s.dir, time.Now().UTC().Format(snapshotDirLayout))
	copied, err := s.dialogs.Snapshot(destination)
	if err != nil {
		return "", 0, fmt.Errorf("snapshot dialogs: %w", err)
	}
	return destination, copied, nil
}

func (s *Service) runOnce() error {
	destination, copied, err := s.RunOnce()
	if err != nil {
		return err
	}
	s.logger.Info("backup snapshot written", "destination", destination, "dialogs", copied)
	if err := s.prune(); err != nil {
		s.logger.Warn("backup prune failed", "error", err)
	}
	return nil
}

// prune removes the oldest snapshot directories beyond the retention limit.
func (s *Service) prune() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	var snapshots []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := time.Parse(snapshotDirLayout, entry.Name()); err != nil {
			continue
		}
		snapshots = append(snapshots, entry.Name())
	}
	if len(snapshots) <= s.keep {
		return nil
	}
	sort.Strings(snapshots)
	for _, name := range snapshots[:len(snapshots)-s.keep] {
		if err := os.RemoveAll(filepath.Join(s.dir, name)); err != nil {
			return err
		}
		s.logger.Info("backup snapshot pruned", "name", name)
	}
	return nil
}

func normalizeCronExpr(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	return strings.Join(strings.Fields(trimmed), " ")
}
