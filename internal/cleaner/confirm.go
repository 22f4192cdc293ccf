package cleaner

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/eargollo/keeper/internal/archive"
	"github.com/eargollo/keeper/internal/status"
	"github.com/eargollo/keeper/internal/transport"
)

// handleConfirmation folds one agent confirmation into job, file, and group
// state. Installed as the hub's confirmation handler.
//
// Confirmations arrive at-least-once and out of order. The job-file update
// is conditional on the row still being pending, so a duplicate for an
// already-terminal (job, file) pair changes nothing — counters, file flags,
// and group state are only touched when this confirmation is the one that
// applied.
func (o *Orchestrator) handleConfirmation(conf transport.Confirmation) {
	ctx := context.Background()

	var applied bool
	var thumbToDelete string

	err := o.store.WithTx(ctx, func(tx *sql.Tx) error {
		now := o.now()

		job, err := o.store.GetJob(ctx, tx, conf.JobID)
		if err != nil {
			return err
		}

		to := status.JobFileFailed
		succeeded, failed, skipped := 0, 0, 0
		switch {
		case conf.Success && conf.WasDryRun:
			to = status.JobFileUploaded
			succeeded, skipped = 1, 1
		case conf.Success:
			to = status.JobFileDeleted
			succeeded = 1
		default:
			failed = 1
		}

		applied, err = o.store.FinishJobFile(ctx, tx, conf.JobID, conf.FileID, to, conf.ArchivePath, conf.Error, now)
		if err != nil {
			return err
		}
		if !applied {
			return nil // duplicate delivery
		}

		if err := o.store.BumpJobCounters(ctx, tx, conf.JobID, succeeded, failed, skipped); err != nil {
			return err
		}

		if conf.Success && !conf.WasDryRun {
			if err := o.store.MarkFileDeleted(ctx, tx, conf.FileID, conf.ArchivePath, now); err != nil {
				return err
			}
			if f, err := o.store.GetFile(ctx, tx, conf.FileID); err == nil && f.ThumbnailPath != nil {
				thumbToDelete = *f.ThumbnailPath
			}
		}

		if err := o.finalizeJobIfDone(ctx, tx, job.ID, now); err != nil {
			return err
		}
		if !job.DryRun {
			if err := o.settleGroup(ctx, tx, conf.JobID, conf.FileID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("apply confirmation", "job_id", conf.JobID, "file_id", conf.FileID, "error", err)
		return
	}
	if !applied {
		slog.Debug("duplicate confirmation ignored", "job_id", conf.JobID, "file_id", conf.FileID)
		return
	}

	// Thumbnail cleanup is best-effort: a leftover thumbnail never fails a
	// job that already deleted the real file.
	if thumbToDelete != "" {
		if err := o.archive.Delete(ctx, thumbToDelete); err != nil && err != archive.ErrNotArchived {
			slog.Warn("thumbnail cleanup failed", "path", thumbToDelete, "error", err)
		}
	}
}

// finalizeJobIfDone closes the job once every file is processed: completed
// when nothing failed, failed otherwise. Cancelled jobs stay cancelled — the
// conditional update from running makes sure of it.
func (o *Orchestrator) finalizeJobIfDone(ctx context.Context, tx *sql.Tx, jobID int64, now time.Time) error {
	job, err := o.store.GetJob(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if job.ProcessedFiles < job.TotalFiles || status.IsTerminalJob(job.Status) {
		return nil
	}

	final := status.JobCompleted
	if job.FailedFiles > 0 {
		final = status.JobFailed
	}
	if _, err := o.store.SetJobStatus(ctx, tx, jobID, status.JobRunning, final, now); err != nil {
		return err
	}
	slog.Info("cleaner job finished", "job_id", jobID, "status", final,
		"succeeded", job.SucceededFiles, "failed", job.FailedFiles)
	return nil
}

// settleGroup moves the confirmed file's group to its terminal state once
// all of that group's job files are settled: cleaned when every one was
// deleted (or skipped), cleaning_failed as soon as any one failed. With
// files still pending the group stays cleaning.
func (o *Orchestrator) settleGroup(ctx context.Context, tx *sql.Tx, jobID, fileID int64) error {
	var groupID int64
	if err := tx.QueryRowContext(ctx,
		`SELECT group_id FROM cleaner_job_files WHERE job_id = ? AND file_id = ?`,
		jobID, fileID,
	).Scan(&groupID); err != nil {
		return err
	}

	jobFiles, err := o.store.GetGroupJobFiles(ctx, tx, jobID, groupID)
	if err != nil {
		return err
	}

	var pending, failed int
	for _, jf := range jobFiles {
		switch jf.Status {
		case status.JobFilePending:
			pending++
		case status.JobFileFailed:
			failed++
		}
	}

	var target status.GroupStatus
	switch {
	case failed > 0:
		target = status.GroupCleaningFailed
	case pending == 0:
		target = status.GroupCleaned
	default:
		return nil // still cleaning
	}

	g, err := o.store.GetGroup(ctx, tx, groupID)
	if err != nil {
		return err
	}
	if g.Status == target {
		return nil // an earlier failed confirmation already settled it
	}
	if !status.CanTransition(g.Status, target) {
		// e.g. a late confirmation for a group an operator already reset
		slog.Warn("skipping group settle: illegal transition",
			"group_id", groupID, "from", g.Status, "to", target)
		return nil
	}
	if err := o.store.TransitionGroup(ctx, tx, g, target); err != nil {
		return err
	}
	slog.Info("group cleanup settled", "group_id", groupID, "status", target)
	return nil
}
