package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eargollo/keeper/internal/status"
)

const sessionColumns = `id, status, total_groups, groups_proposed,
	groups_validated, groups_skipped, created_at, resumed_at, last_activity_at`

func scanSession(row interface{ Scan(...any) error }) (*SelectionSession, error) {
	var s SelectionSession
	var st string
	var resumedAt sql.NullInt64
	if err := row.Scan(
		&s.ID, &st, &s.TotalGroups, &s.GroupsProposed,
		&s.GroupsValidated, &s.GroupsSkipped, &s.CreatedAt, &resumedAt, &s.LastActivityAt,
	); err != nil {
		return nil, err
	}
	s.Status = status.SessionStatus(st)
	s.ResumedAt = nullInt64(resumedAt)
	return &s, nil
}

// GetSession loads one session. Returns ErrNotFound when absent.
func (s *Store) GetSession(ctx context.Context, q DBTX, id int64) (*SelectionSession, error) {
	sess, err := scanSession(q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM selection_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %d: %w", id, err)
	}
	return sess, nil
}

// GetCurrentSession returns the single active-or-paused session, or
// ErrNotFound when none exists. The LIMIT 1 query is the single-writer rule:
// at most one such row is ever created.
func (s *Store) GetCurrentSession(ctx context.Context, q DBTX) (*SelectionSession, error) {
	sess, err := scanSession(q.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM selection_sessions
		WHERE status IN (?, ?)
		ORDER BY id DESC LIMIT 1`,
		string(status.SessionActive), string(status.SessionPaused)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load current session: %w", err)
	}
	return sess, nil
}

// CreateSession inserts a new active session snapshotting totalGroups.
func (s *Store) CreateSession(ctx context.Context, q DBTX, totalGroups int, now time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO selection_sessions (status, total_groups, created_at, last_activity_at)
		VALUES (?, ?, ?, ?)`,
		string(status.SessionActive), totalGroups, now.Unix(), now.Unix())
	if err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// SetSessionStatus updates the session lifecycle state. Resuming stamps
// resumed_at; every change stamps last_activity_at.
func (s *Store) SetSessionStatus(ctx context.Context, q DBTX, id int64, to status.SessionStatus, resumed bool, now time.Time) error {
	query := `UPDATE selection_sessions SET status = ?, last_activity_at = ?`
	args := []any{string(to), now.Unix()}
	if resumed {
		query += `, resumed_at = ?`
		args = append(args, now.Unix())
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set session %d status %s: %w", id, to, err)
	}
	return nil
}

// BumpSessionCounter increments one of the session progress counters.
// column must be one of groups_proposed, groups_validated, groups_skipped.
func (s *Store) BumpSessionCounter(ctx context.Context, q DBTX, id int64, column string, now time.Time) error {
	switch column {
	case "groups_proposed", "groups_validated", "groups_skipped":
	default:
		return fmt.Errorf("unknown session counter %q", column)
	}
	_, err := q.ExecContext(ctx,
		`UPDATE selection_sessions SET `+column+` = `+column+` + 1, last_activity_at = ? WHERE id = ?`,
		now.Unix(), id)
	if err != nil {
		return fmt.Errorf("bump session %d counter %s: %w", id, column, err)
	}
	return nil
}

// AssignReviewOrder snapshots the session's working set: every unresolved
// group gets a 1-based review_order by total_size descending and is tagged
// with the session ID. Returns the number of groups in the snapshot.
func (s *Store) AssignReviewOrder(ctx context.Context, q DBTX, sessionID int64) (int, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id FROM duplicate_groups
		WHERE status IN (?, ?, ?)
		ORDER BY total_size DESC, id ASC`,
		string(status.GroupPending), string(status.GroupAutoSelected), string(status.GroupProposed))
	if err != nil {
		return 0, fmt.Errorf("snapshot session groups: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	// Bumping version makes the snapshot visible to optimistic-concurrency
	// writers: a group copy loaded before the session started fails its CAS
	// write instead of silently clearing the session linkage.
	for i, id := range ids {
		if _, err := q.ExecContext(ctx, `
			UPDATE duplicate_groups
			SET review_order = ?, review_session_id = ?, last_reviewed_at = NULL,
			    version = version + 1
			WHERE id = ?`, i+1, sessionID, id); err != nil {
			return 0, fmt.Errorf("assign review order: %w", err)
		}
	}
	return len(ids), nil
}

// NextReviewGroup returns the next not-yet-reviewed unresolved group of the
// session after the given review order, or ErrNotFound when the pass is done.
func (s *Store) NextReviewGroup(ctx context.Context, q DBTX, sessionID int64, afterOrder int64) (*DuplicateGroup, error) {
	g, err := scanGroup(q.QueryRowContext(ctx, `
		SELECT `+groupColumns+` FROM duplicate_groups
		WHERE review_session_id = ?
		  AND review_order > ?
		  AND status IN (?, ?, ?)
		  AND last_reviewed_at IS NULL
		ORDER BY review_order ASC LIMIT 1`,
		sessionID, afterOrder,
		string(status.GroupPending), string(status.GroupAutoSelected), string(status.GroupProposed)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("next review group: %w", err)
	}
	return g, nil
}
