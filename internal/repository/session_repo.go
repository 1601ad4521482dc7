package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/telnet-web-access/backend/internal/model"
)

// SessionRepository provides data access for session audit records.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// ListOptions filters List results. Zero values match everything.
type ListOptions struct {
	Host   string
	Port   int
	Status model.SessionStatus
	Limit  int
}

const sessionColumns = `id, session_key, client_id, host, port, status, bytes_in, bytes_out, error, created_at, updated_at`

// Create inserts a new session record.
func (r *SessionRepository) Create(ctx context.Context, session *model.Session) error {
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.Key,
		session.ClientID,
		session.Host,
		session.Port,
		session.Status,
		session.BytesIn,
		session.BytesOut,
		session.Error,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetByID retrieves a session record by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// List returns session records, newest first.
func (r *SessionRepository) List(ctx context.Context, opts ListOptions) ([]*model.Session, error) {
	var where []string
	var args []any

	if opts.Host != "" {
		where = append(where, "host = ?")
		args = append(args, opts.Host)
	}
	if opts.Port != 0 {
		where = append(where, "port = ?")
		args = append(args, opts.Port)
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, opts.Status)
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*model.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// UpdateStatus sets the status of a session and, for failures, the error text.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, status model.SessionStatus, errMsg string) error {
	query := `
		UPDATE sessions
		SET status = ?, error = ?, updated_at = ?
		WHERE id = ?
	`

	return r.exec(ctx, "update session status", query, status, errMsg, time.Now(), id)
}

// UpdateCounters records the bytes transferred so far.
func (r *SessionRepository) UpdateCounters(ctx context.Context, id string, bytesIn, bytesOut int64) error {
	query := `
		UPDATE sessions
		SET bytes_in = ?, bytes_out = ?, updated_at = ?
		WHERE id = ?
	`

	return r.exec(ctx, "update session counters", query, bytesIn, bytesOut, time.Now(), id)
}

// MarkInterrupted fails every record still connecting or streaming. It is
// run at startup, when no session from a previous process can be alive.
func (r *SessionRepository) MarkInterrupted(ctx context.Context, reason string) (int64, error) {
	query := `
		UPDATE sessions
		SET status = ?, error = ?, updated_at = ?
		WHERE status IN (?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		model.SessionStatusFailed, reason, time.Now(),
		model.SessionStatusConnecting, model.SessionStatusStreaming,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted sessions: %w", err)
	}
	return result.RowsAffected()
}

// CountActive returns the number of sessions connecting or streaming.
func (r *SessionRepository) CountActive(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM sessions WHERE status IN (?, ?)`

	var count int
	err := r.db.QueryRowContext(ctx, query, model.SessionStatusConnecting, model.SessionStatusStreaming).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}

	return count, nil
}

// Delete removes a session record.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, "delete session", `DELETE FROM sessions WHERE id = ?`, id)
}

func (r *SessionRepository) exec(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrSessionNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	session := &model.Session{}
	err := row.Scan(
		&session.ID,
		&session.Key,
		&session.ClientID,
		&session.Host,
		&session.Port,
		&session.Status,
		&session.BytesIn,
		&session.BytesOut,
		&session.Error,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return session, nil
}
