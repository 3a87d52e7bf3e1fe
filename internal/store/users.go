package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUserNotFound = errors.New("user not found")

type UserRecord struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	Turns     int
	FirstSeen time.Time
	LastSeen  time.Time
}

type RegisterUserInput struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// RegisterUser records a chat user on first contact and refreshes the profile
// fields and last-seen stamp on every later one.
func (s *Store) RegisterUser(ctx context.Context, input RegisterUserInput) error {
	nowUnix := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO users (id, username, first_name, last_name, first_seen_unix, last_seen_unix)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     username = excluded.username,
		     first_name = excluded.first_name,
		     last_name = excluded.last_name,
		     last_seen_unix = excluded.last_seen_unix`,
		input.ID,
		nullIfEmpty(strings.TrimSpace(input.Username)),
		nullIfEmpty(strings.TrimSpace(input.FirstName)),
		nullIfEmpty(strings.TrimSpace(input.LastName)),
		nowUnix,
		nowUnix,
	)
	if err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	return nil
}

// TouchUser bumps the turn counter and last-seen stamp after a completed turn.
func (s *Store) TouchUser(ctx context.Context, userID int64) error {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE users SET turns = turns + 1, last_seen_unix = ? WHERE id = ?`,
		time.Now().UTC().Unix(),
		userID,
	)
	if err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RemoveUser drops a user from the registry, typically after the transport
// reports the recipient as unreachable.
func (s *Store) RemoveUser(ctx context.Context, userID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("remove user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Store) LookupUser(ctx context.Context, userID int64) (UserRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, COALESCE(username, ''), COALESCE(first_name, ''), COALESCE(last_name, ''),
		        turns, first_seen_unix, last_seen_unix
		 FROM users
		 WHERE id = ?`,
		userID,
	)
	var record UserRecord
	var firstSeenUnix int64
	var lastSeenUnix int64
	if err := row.Scan(
		&record.ID,
		&record.Username,
		&record.FirstName,
		&record.LastName,
		&record.Turns,
		&firstSeenUnix,
		&lastSeenUnix,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserRecord{}, ErrUserNotFound
		}
		return UserRecord{}, fmt.Errorf("lookup user: %w", err)
	}
	record.FirstSeen = parseUnix(firstSeenUnix)
	record.LastSeen = parseUnix(lastSeenUnix)
	return record, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]UserRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, COALESCE(username, ''), COALESCE(first_name, ''), COALESCE(last_name, ''),
		        turns, first_seen_unix, last_seen_unix
		 FROM users
		 ORDER BY last_seen_unix DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	results := make([]UserRecord, 0, 16)
	for rows.Next() {
		var record UserRecord
		var firstSeenUnix int64
		var lastSeenUnix int64
		if err := rows.Scan(
			&record.ID,
			&record.Username,
			&record.FirstName,
			&record.LastName,
			&record.Turns,
			&firstSeenUnix,
			&lastSeenUnix,
		); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		record.FirstSeen = parseUnix(firstSeenUnix)
		record.LastSeen = parseUnix(lastSeenUnix)
		results = append(results, record)
	}
	return results, rows.Err()
}

// ListUserIDs returns every registered chat id, oldest registration first.
// Broadcast delivery walks this list.
func (s *Store) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY first_seen_unix ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, 16)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}
