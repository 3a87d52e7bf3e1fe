package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type LogTurnInput struct {
	ID           string
	UserID       int64
	Variant      string
	Downgraded   bool
	Outcome      string
	RequestChars int
	ReplyChars   int
	Duration     time.Duration
}

type TurnRecord struct {
	ID           string
	UserID       int64
	Variant      string
	Downgraded   bool
	Outcome      string
	RequestChars int
	ReplyChars   int
	Duration     time.Duration
	CreatedAt    time.Time
}

// LogTurn appends one row to the turn audit log. Failures here must never
// fail the turn itself, so callers log the returned error and move on.
func (s *Store) LogTurn(ctx context.Context, input LogTurnInput) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO turn_log (id, user_id, variant, downgraded, outcome, request_chars, reply_chars, duration_ms, created_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.TrimSpace(input.ID),
		input.UserID,
		strings.TrimSpace(input.Variant),
		boolToInt(input.Downgraded),
		strings.TrimSpace(input.Outcome),
		input.RequestChars,
		input.ReplyChars,
		input.Duration.Milliseconds(),
		time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("log turn: %w", err)
	}
	return nil
}

// ListRecentTurns returns the newest audit rows for one user, newest first.
func (s *Store) ListRecentTurns(ctx context.Context, userID int64, limit int) ([]TurnRecord, error) {
	if limit < 1 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, user_id, variant, downgraded, outcome, request_chars, reply_chars, duration_ms, created_at_unix
		 FROM turn_log
		 WHERE user_id = ?
		 ORDER BY created_at_unix DESC
		 LIMIT ?`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent turns: %w", err)
	}
	defer rows.Close()

	results := make([]TurnRecord, 0, limit)
	for rows.Next() {
		var record TurnRecord
		var downgraded int
		var durationMillis int64
		var createdAtUnix int64
		if err := rows.Scan(
			&record.ID,
			&record.UserID,
			&record.Variant,
			&downgraded,
			&record.Outcome,
			&record.RequestChars,
			&record.ReplyChars,
			&durationMillis,
			&createdAtUnix,
		); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		record.Downgraded = downgraded != 0
		record.Duration = time.Duration(durationMillis) * time.Millisecond
		record.CreatedAt = parseUnix(createdAtUnix)
		results = append(results, record)
	}
	return results, rows.Err()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
