package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eargollo/keeper/internal/status"
)

const groupColumns = `id, content_hash, file_count, total_size, status,
	kept_file_id, validated_at, created_at, last_reviewed_at,
	review_order, review_session_id, version`

func scanGroup(row interface{ Scan(...any) error }) (*DuplicateGroup, error) {
	var g DuplicateGroup
	var st string
	var kept, validatedAt, reviewedAt, order, sessionID sql.NullInt64
	if err := row.Scan(
		&g.ID, &g.ContentHash, &g.FileCount, &g.TotalSize, &st,
		&kept, &validatedAt, &g.CreatedAt, &reviewedAt,
		&order, &sessionID, &g.Version,
	); err != nil {
		return nil, err
	}
	g.Status = status.GroupStatus(st)
	g.KeptFileID = nullInt64(kept)
	g.ValidatedAt = nullInt64(validatedAt)
	g.LastReviewedAt = nullInt64(reviewedAt)
	g.ReviewOrder = nullInt64(order)
	g.ReviewSessionID = nullInt64(sessionID)
	return &g, nil
}

// GetGroup loads one group by ID. Returns ErrNotFound when absent.
func (s *Store) GetGroup(ctx context.Context, q DBTX, id int64) (*DuplicateGroup, error) {
	g, err := scanGroup(q.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM duplicate_groups WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load group %d: %w", id, err)
	}
	return g, nil
}

// ListGroups returns groups in the given statuses ordered by total_size DESC
// (id ASC for equal sizes, so the order is stable). An empty status list
// means all statuses.
func (s *Store) ListGroups(ctx context.Context, q DBTX, statuses []status.GroupStatus, limit, offset int) ([]*DuplicateGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM duplicate_groups`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY total_size DESC, id ASC`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []*DuplicateGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// CountGroups returns the number of groups in the given statuses
// (all statuses when the list is empty).
func (s *Store) CountGroups(ctx context.Context, q DBTX, statuses []status.GroupStatus) (int, error) {
	query := `SELECT COUNT(*) FROM duplicate_groups`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count groups: %w", err)
	}
	return n, nil
}

// UpdateGroupCAS writes all mutable group fields guarded by the version
// column. The caller mutates g after validating the status change; on
// success g.Version is bumped to match the stored row. Zero rows affected
// means another writer got there first: ErrVersionConflict.
func (s *Store) UpdateGroupCAS(ctx context.Context, q DBTX, g *DuplicateGroup) error {
	res, err := q.ExecContext(ctx, `
		UPDATE duplicate_groups
		SET file_count = ?, total_size = ?, status = ?, kept_file_id = ?,
		    validated_at = ?, last_reviewed_at = ?, review_order = ?,
		    review_session_id = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		g.FileCount, g.TotalSize, string(g.Status), int64Arg(g.KeptFileID),
		int64Arg(g.ValidatedAt), int64Arg(g.LastReviewedAt), int64Arg(g.ReviewOrder),
		int64Arg(g.ReviewSessionID),
		g.ID, g.Version)
	if err != nil {
		return fmt.Errorf("update group %d: %w", g.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}
	g.Version++
	return nil
}

// TransitionGroup validates the status change, applies it to g, and persists
// via UpdateGroupCAS. Mutations beyond the status itself (kept file,
// timestamps) are the caller's job, done on g before calling.
func (s *Store) TransitionGroup(ctx context.Context, q DBTX, g *DuplicateGroup, to status.GroupStatus) error {
	if err := status.Validate(g.Status, to); err != nil {
		return err
	}
	g.Status = to
	return s.UpdateGroupCAS(ctx, q, g)
}

// GetGroupFiles loads all member files of a group ordered by ID.
func (s *Store) GetGroupFiles(ctx context.Context, q DBTX, groupID int64) ([]*IndexedFile, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, file_path, file_hash, file_size, taken_at, is_duplicate,
		       duplicate_group_id, is_deleted, deleted_at, archive_path, thumbnail_path
		FROM indexed_files
		WHERE duplicate_group_id = ?
		ORDER BY id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("load files for group %d: %w", groupID, err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

// GetFile loads one indexed file by ID. Returns ErrNotFound when absent.
func (s *Store) GetFile(ctx context.Context, q DBTX, id int64) (*IndexedFile, error) {
	f, err := scanFile(q.QueryRowContext(ctx, `
		SELECT id, file_path, file_hash, file_size, taken_at, is_duplicate,
		       duplicate_group_id, is_deleted, deleted_at, archive_path, thumbnail_path
		FROM indexed_files WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load file %d: %w", id, err)
	}
	return f, nil
}

// MarkKeptFile flips is_duplicate so keptID is the sole original of the
// group and every sibling is a duplicate.
func (s *Store) MarkKeptFile(ctx context.Context, q DBTX, groupID, keptID int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE indexed_files
		SET is_duplicate = CASE WHEN id = ? THEN 0 ELSE 1 END
		WHERE duplicate_group_id = ?`, keptID, groupID)
	if err != nil {
		return fmt.Errorf("mark kept file %d in group %d: %w", keptID, groupID, err)
	}
	return nil
}

// ResetGroupFiles marks every member a duplicate again — the pre-selection
// state — used by undo.
func (s *Store) ResetGroupFiles(ctx context.Context, q DBTX, groupID int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE indexed_files SET is_duplicate = 1 WHERE duplicate_group_id = ?`, groupID)
	if err != nil {
		return fmt.Errorf("reset files in group %d: %w", groupID, err)
	}
	return nil
}

// MarkFileDeleted records a physical deletion confirmed by an agent.
func (s *Store) MarkFileDeleted(ctx context.Context, q DBTX, fileID int64, archivePath string, deletedAt time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE indexed_files
		SET is_deleted = 1, deleted_at = ?, archive_path = ?
		WHERE id = ?`, deletedAt.Unix(), archivePath, fileID)
	if err != nil {
		return fmt.Errorf("mark file %d deleted: %w", fileID, err)
	}
	return nil
}

// SetThumbnailPath records where a rendered thumbnail was stored.
func (s *Store) SetThumbnailPath(ctx context.Context, q DBTX, fileID int64, path string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE indexed_files SET thumbnail_path = ? WHERE id = ?`, path, fileID)
	return err
}

func scanFile(row interface{ Scan(...any) error }) (*IndexedFile, error) {
	var f IndexedFile
	var takenAt, groupID, deletedAt sql.NullInt64
	var archivePath, thumbPath sql.NullString
	var isDup, isDel int
	if err := row.Scan(
		&f.ID, &f.FilePath, &f.FileHash, &f.FileSize, &takenAt, &isDup,
		&groupID, &isDel, &deletedAt, &archivePath, &thumbPath,
	); err != nil {
		return nil, err
	}
	f.TakenAt = nullInt64(takenAt)
	f.IsDuplicate = isDup != 0
	f.DuplicateGroupID = nullInt64(groupID)
	f.IsDeleted = isDel != 0
	f.DeletedAt = nullInt64(deletedAt)
	f.ArchivePath = nullString(archivePath)
	f.ThumbnailPath = nullString(thumbPath)
	return &f, nil
}

func collectFiles(rows *sql.Rows) ([]*IndexedFile, error) {
	var files []*IndexedFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// placeholders returns "?, ?, …" with n markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
