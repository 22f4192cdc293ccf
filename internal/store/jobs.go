package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eargollo/keeper/internal/status"
)

const jobColumns = `id, status, category, dry_run, total_files, processed_files,
	succeeded_files, failed_files, skipped_files, created_at, started_at, completed_at`

func scanJob(row interface{ Scan(...any) error }) (*CleanerJob, error) {
	var j CleanerJob
	var st string
	var dryRun int
	var startedAt, completedAt sql.NullInt64
	if err := row.Scan(
		&j.ID, &st, &j.Category, &dryRun, &j.TotalFiles, &j.ProcessedFiles,
		&j.SucceededFiles, &j.FailedFiles, &j.SkippedFiles,
		&j.CreatedAt, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	j.Status = status.JobStatus(st)
	j.DryRun = dryRun != 0
	j.StartedAt = nullInt64(startedAt)
	j.CompletedAt = nullInt64(completedAt)
	return &j, nil
}

// CreateJob inserts a cleaner job row and returns its ID.
func (s *Store) CreateJob(ctx context.Context, q DBTX, category string, dryRun bool, totalFiles int, now time.Time) (int64, error) {
	dr := 0
	if dryRun {
		dr = 1
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO cleaner_jobs (status, category, dry_run, total_files, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(status.JobPending), category, dr, totalFiles, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("create job: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// CreateJobFile inserts one target file row for a job.
func (s *Store) CreateJobFile(ctx context.Context, q DBTX, jobID int64, f *IndexedFile, groupID int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO cleaner_job_files (job_id, file_id, group_id, file_path, file_hash, file_size, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		jobID, f.ID, groupID, f.FilePath, f.FileHash, f.FileSize, string(status.JobFilePending))
	if err != nil {
		return fmt.Errorf("create job file %d for job %d: %w", f.ID, jobID, err)
	}
	return nil
}

// GetJob loads one job. Returns ErrNotFound when absent.
func (s *Store) GetJob(ctx context.Context, q DBTX, id int64) (*CleanerJob, error) {
	j, err := scanJob(q.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM cleaner_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job %d: %w", id, err)
	}
	return j, nil
}

// ListJobs returns jobs newest-first.
func (s *Store) ListJobs(ctx context.Context, q DBTX, limit, offset int) ([]*CleanerJob, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM cleaner_jobs ORDER BY id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*CleanerJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CountJobs returns the total number of cleaner jobs.
func (s *Store) CountJobs(ctx context.Context, q DBTX) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM cleaner_jobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

const jobFileColumns = `id, job_id, file_id, group_id, file_path, file_hash,
	file_size, status, archive_path, error_message, processed_at`

func scanJobFile(row interface{ Scan(...any) error }) (*CleanerJobFile, error) {
	var f CleanerJobFile
	var st string
	var archivePath, errMsg sql.NullString
	var processedAt sql.NullInt64
	if err := row.Scan(
		&f.ID, &f.JobID, &f.FileID, &f.GroupID, &f.FilePath, &f.FileHash,
		&f.FileSize, &st, &archivePath, &errMsg, &processedAt,
	); err != nil {
		return nil, err
	}
	f.Status = status.JobFileStatus(st)
	f.ArchivePath = nullString(archivePath)
	f.ErrorMessage = nullString(errMsg)
	f.ProcessedAt = nullInt64(processedAt)
	return &f, nil
}

// GetJobFiles returns all file rows of a job ordered by ID.
func (s *Store) GetJobFiles(ctx context.Context, q DBTX, jobID int64) ([]*CleanerJobFile, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+jobFileColumns+` FROM cleaner_job_files WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("load files for job %d: %w", jobID, err)
	}
	defer rows.Close()
	return collectJobFiles(rows)
}

// GetGroupJobFiles returns the job-file rows of one group within one job.
func (s *Store) GetGroupJobFiles(ctx context.Context, q DBTX, jobID, groupID int64) ([]*CleanerJobFile, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+jobFileColumns+` FROM cleaner_job_files WHERE job_id = ? AND group_id = ? ORDER BY id`,
		jobID, groupID)
	if err != nil {
		return nil, fmt.Errorf("load group %d files for job %d: %w", groupID, jobID, err)
	}
	defer rows.Close()
	return collectJobFiles(rows)
}

// GetPendingJobFiles returns the not-yet-confirmed files of a job, used by
// the watchdog to re-dispatch.
func (s *Store) GetPendingJobFiles(ctx context.Context, q DBTX, jobID int64) ([]*CleanerJobFile, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+jobFileColumns+` FROM cleaner_job_files WHERE job_id = ? AND status = ? ORDER BY id`,
		jobID, string(status.JobFilePending))
	if err != nil {
		return nil, fmt.Errorf("load pending files for job %d: %w", jobID, err)
	}
	defer rows.Close()
	return collectJobFiles(rows)
}

func collectJobFiles(rows *sql.Rows) ([]*CleanerJobFile, error) {
	var files []*CleanerJobFile
	for rows.Next() {
		f, err := scanJobFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// FinishJobFile moves a pending job file to a terminal status. The WHERE
// clause makes the update conditional on the row still being pending, so a
// duplicate confirmation for the same (job, file) pair is a no-op: the
// returned bool reports whether this call actually applied the change.
func (s *Store) FinishJobFile(ctx context.Context, q DBTX, jobID, fileID int64, to status.JobFileStatus, archivePath, errMsg string, now time.Time) (bool, error) {
	var ap, em any
	if archivePath != "" {
		ap = archivePath
	}
	if errMsg != "" {
		em = errMsg
	}
	res, err := q.ExecContext(ctx, `
		UPDATE cleaner_job_files
		SET status = ?, archive_path = ?, error_message = ?, processed_at = ?
		WHERE job_id = ? AND file_id = ? AND status = ?`,
		string(to), ap, em, now.Unix(),
		jobID, fileID, string(status.JobFilePending))
	if err != nil {
		return false, fmt.Errorf("finish job file %d/%d: %w", jobID, fileID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// BumpJobCounters increments the job progress counters by the given deltas.
func (s *Store) BumpJobCounters(ctx context.Context, q DBTX, jobID int64, succeeded, failed, skipped int) error {
	_, err := q.ExecContext(ctx, `
		UPDATE cleaner_jobs
		SET processed_files = processed_files + 1,
		    succeeded_files = succeeded_files + ?,
		    failed_files    = failed_files + ?,
		    skipped_files   = skipped_files + ?
		WHERE id = ?`, succeeded, failed, skipped, jobID)
	if err != nil {
		return fmt.Errorf("bump counters for job %d: %w", jobID, err)
	}
	return nil
}

// SetJobStatus updates a job's status, stamping started/completed times for
// the transitions that carry them. When from is non-empty the update is
// conditional on the current status.
func (s *Store) SetJobStatus(ctx context.Context, q DBTX, jobID int64, from, to status.JobStatus, now time.Time) (bool, error) {
	set := `status = ?`
	args := []any{string(to)}
	switch to {
	case status.JobRunning:
		set += `, started_at = ?`
		args = append(args, now.Unix())
	case status.JobCompleted, status.JobFailed, status.JobCancelled:
		set += `, completed_at = ?`
		args = append(args, now.Unix())
	}

	query := `UPDATE cleaner_jobs SET ` + set + ` WHERE id = ?`
	args = append(args, jobID)
	if from != "" {
		query += ` AND status = ?`
		args = append(args, string(from))
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("set job %d status %s: %w", jobID, to, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListStuckJobs returns non-terminal jobs created before cutoff whose files
// have seen no confirmation activity since cutoff.
func (s *Store) ListStuckJobs(ctx context.Context, q DBTX, cutoff time.Time) ([]*CleanerJob, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM cleaner_jobs j
		WHERE j.status IN (?, ?)
		  AND j.created_at < ?
		  AND NOT EXISTS (
		      SELECT 1 FROM cleaner_job_files f
		      WHERE f.job_id = j.id AND f.processed_at >= ?)
		  AND EXISTS (
		      SELECT 1 FROM cleaner_job_files f
		      WHERE f.job_id = j.id AND f.status = ?)
		ORDER BY j.id`,
		string(status.JobPending), string(status.JobRunning),
		cutoff.Unix(), cutoff.Unix(), string(status.JobFilePending))
	if err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*CleanerJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
