package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/eargollo/keeper/internal/status"
)

// FileInput is one record handed over by the upstream scanning/hashing
// pipeline. Hashing happened there; this layer only stores and groups.
type FileInput struct {
	FilePath string
	FileHash string
	FileSize int64
	TakenAt  *time.Time
}

// IngestStats summarises one ingest batch.
type IngestStats struct {
	FilesUpserted int64
	GroupsCreated int64
	GroupsUpdated int64
}

// ingestBatchSize is the number of files written per transaction. Batching
// keeps fsync overhead low when a scanner hands over a large collection.
const ingestBatchSize = 500

// IngestFiles upserts indexed-file records and links every hash shared by
// two or more files into a duplicate group. Re-ingesting the same path
// updates the row in place; re-ingesting a known hash refreshes the existing
// group's counters rather than creating a second group.
//
// New groups start in pending with all members flagged duplicates; resolved
// groups keep their status and kept-file assignment untouched.
func (s *Store) IngestFiles(ctx context.Context, files []FileInput) (IngestStats, error) {
	var stats IngestStats

	for i := 0; i < len(files); i += ingestBatchSize {
		end := i + ingestBatchSize
		if end > len(files) {
			end = len(files)
		}
		if err := s.ingestBatch(ctx, files[i:end], &stats); err != nil {
			return stats, err
		}
	}

	return stats, s.regroup(ctx, files, &stats)
}

func (s *Store) ingestBatch(ctx context.Context, batch []FileInput, stats *IngestStats) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO indexed_files (file_path, file_hash, file_size, taken_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			file_hash = excluded.file_hash,
			file_size = excluded.file_size,
			taken_at  = excluded.taken_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, f := range batch {
		var takenAt any
		if f.TakenAt != nil {
			takenAt = f.TakenAt.Unix()
		}
		if _, err := stmt.ExecContext(ctx, f.FilePath, f.FileHash, f.FileSize, takenAt); err != nil {
			return fmt.Errorf("upsert file %s: %w", f.FilePath, err)
		}
		stats.FilesUpserted++
	}
	return tx.Commit()
}

// regroup creates or refreshes duplicate groups for every hash touched by
// this ingest that is shared by at least two live files.
func (s *Store) regroup(ctx context.Context, files []FileInput, stats *IngestStats) error {
	hashes := make(map[string]bool, len(files))
	for _, f := range files {
		hashes[f.FileHash] = true
	}

	now := time.Now().Unix()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for hash := range hashes {
		var count int
		var totalSize sql.NullInt64
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*), COALESCE(SUM(file_size), 0)
			FROM indexed_files
			WHERE file_hash = ? AND is_deleted = 0`, hash,
		).Scan(&count, &totalSize); err != nil {
			return fmt.Errorf("count hash %s: %w", shortHash(hash), err)
		}
		if count < 2 {
			continue
		}

		var groupID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM duplicate_groups WHERE content_hash = ?`, hash,
		).Scan(&groupID)
		switch {
		case err == sql.ErrNoRows:
			res, err := tx.ExecContext(ctx, `
				INSERT INTO duplicate_groups (content_hash, file_count, total_size, status, created_at)
				VALUES (?, ?, ?, ?, ?)`,
				hash, count, totalSize.Int64, string(status.GroupPending), now)
			if err != nil {
				return fmt.Errorf("create group for %s: %w", shortHash(hash), err)
			}
			groupID, _ = res.LastInsertId()
			stats.GroupsCreated++
		case err != nil:
			return fmt.Errorf("lookup group for %s: %w", shortHash(hash), err)
		default:
			if _, err := tx.ExecContext(ctx, `
				UPDATE duplicate_groups SET file_count = ?, total_size = ?
				WHERE id = ?`, count, totalSize.Int64, groupID); err != nil {
				return fmt.Errorf("refresh group %d: %w", groupID, err)
			}
			stats.GroupsUpdated++
		}

		// Unresolved members all count as duplicates; the kept file of an
		// already-resolved group keeps its flag.
		if _, err := tx.ExecContext(ctx, `
			UPDATE indexed_files
			SET duplicate_group_id = ?,
			    is_duplicate = CASE
			        WHEN id = (SELECT kept_file_id FROM duplicate_groups WHERE id = ?) THEN 0
			        ELSE 1
			    END
			WHERE file_hash = ? AND is_deleted = 0`, groupID, groupID, hash); err != nil {
			return fmt.Errorf("link files to group %d: %w", groupID, err)
		}
	}

	return tx.Commit()
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
