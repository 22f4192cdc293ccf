// Package cleaner turns validated duplicate groups into delete jobs,
// dispatches per-file commands to remote agents, and folds the confirmations
// back into job and group state.
package cleaner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eargollo/keeper/internal/archive"
	"github.com/eargollo/keeper/internal/status"
	"github.com/eargollo/keeper/internal/store"
	"github.com/eargollo/keeper/internal/transport"
)

// Job categories; they govern archive retention downstream.
const (
	CategoryHashDuplicate = "hash_duplicate"
	CategoryNearDuplicate = "near_duplicate"
	CategoryManual        = "manual"
)

// ErrEmptyFileList rejects a job with nothing to do.
var ErrEmptyFileList = errors.New("file list must not be empty")

// ErrFileAlreadyDeleted rejects re-deleting a file that is already gone.
var ErrFileAlreadyDeleted = errors.New("file is already deleted")

// ErrNothingToRetry is returned when a retry finds no failed files.
var ErrNothingToRetry = errors.New("group has no failed files to retry")

// Orchestrator creates and tracks cleaner jobs.
type Orchestrator struct {
	store   *store.Store
	hub     *transport.Hub
	archive archive.Store
	now     func() time.Time
}

// New creates an Orchestrator and installs it as the hub's confirmation
// handler.
func New(st *store.Store, hub *transport.Hub, arch archive.Store) *Orchestrator {
	o := &Orchestrator{store: st, hub: hub, archive: arch, now: time.Now}
	hub.OnConfirm(o.handleConfirmation)
	return o
}

// CreateJob builds a cleaner job for the given files and dispatches one
// delete command per file to the connected agents.
//
// Fails fast when no agent is connected: there is no unattended backlog, a
// job only exists when something can execute it. Non-dry-run jobs move each
// target's group validated → cleaning inside the job transaction; dry runs
// archive without deleting and leave group states untouched.
func (o *Orchestrator) CreateJob(ctx context.Context, fileIDs []int64, category string, dryRun bool) (*store.CleanerJob, error) {
	if len(fileIDs) == 0 {
		return nil, ErrEmptyFileList
	}
	if o.hub.ConnectedAgentCount() == 0 {
		return nil, transport.ErrNoAgents
	}
	if category == "" {
		category = CategoryHashDuplicate
	}

	var jobID int64
	var targets []*store.IndexedFile

	err := o.store.WithTx(ctx, func(tx *sql.Tx) error {
		now := o.now()

		groups := map[int64]*store.DuplicateGroup{}
		for _, fid := range fileIDs {
			f, err := o.store.GetFile(ctx, tx, fid)
			if err != nil {
				return fmt.Errorf("file %d: %w", fid, err)
			}
			if f.IsDeleted {
				return fmt.Errorf("file %d (%s): %w", fid, f.FilePath, ErrFileAlreadyDeleted)
			}
			if f.DuplicateGroupID == nil {
				return fmt.Errorf("file %d (%s) belongs to no duplicate group", fid, f.FilePath)
			}
			if _, ok := groups[*f.DuplicateGroupID]; !ok {
				g, err := o.store.GetGroup(ctx, tx, *f.DuplicateGroupID)
				if err != nil {
					return err
				}
				groups[g.ID] = g
			}
			targets = append(targets, f)
		}

		// Cleaning is only reachable from validated; the validator rejects
		// any group an operator has not signed off on.
		if !dryRun {
			for _, g := range groups {
				if err := o.store.TransitionGroup(ctx, tx, g, status.GroupCleaning); err != nil {
					return fmt.Errorf("group %d: %w", g.ID, err)
				}
			}
		}

		var err error
		jobID, err = o.store.CreateJob(ctx, tx, category, dryRun, len(targets), now)
		if err != nil {
			return err
		}
		for _, f := range targets {
			if err := o.store.CreateJobFile(ctx, tx, jobID, f, *f.DuplicateGroupID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Dispatch strictly after the transaction commits: a crash in between
	// leaves a pending job the watchdog re-dispatches, never a command for
	// a job that does not exist.
	o.dispatch(ctx, jobID, category, dryRun, targets)

	return o.store.GetJob(ctx, o.store.DB(), jobID)
}

func (o *Orchestrator) dispatch(ctx context.Context, jobID int64, category string, dryRun bool, targets []*store.IndexedFile) {
	for _, f := range targets {
		cmd := transport.Command{
			Name:         transport.CmdDeleteFile,
			JobID:        jobID,
			FileID:       f.ID,
			FilePath:     f.FilePath,
			ExpectedHash: f.FileHash,
			Category:     category,
			DryRun:       dryRun,
		}
		if err := o.hub.SendCommand(cmd); err != nil {
			slog.Warn("dispatch failed, watchdog will retry", "command", cmd.String(), "error", err)
		}
	}
	if _, err := o.store.SetJobStatus(ctx, o.store.DB(), jobID, status.JobPending, status.JobRunning, o.now()); err != nil {
		slog.Error("mark job running", "job_id", jobID, "error", err)
	}
	slog.Info("cleaner job dispatched", "job_id", jobID, "files", len(targets), "dry_run", dryRun)
}

// CancelJob stops a job: no new dispatch, cancellation broadcast to agents.
// In-flight per-file operations are not forcibly aborted; their
// confirmations still land for bookkeeping.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID int64) (*store.CleanerJob, error) {
	job, err := o.store.GetJob(ctx, o.store.DB(), jobID)
	if err != nil {
		return nil, err
	}
	if status.IsTerminalJob(job.Status) {
		return nil, fmt.Errorf("job %d is already %s", jobID, job.Status)
	}

	// Conditional on the loaded status: a confirmation settling the job
	// between the check above and this write leaves zero rows instead of
	// resurrecting a terminal job as cancelled.
	applied, err := o.store.SetJobStatus(ctx, o.store.DB(), jobID, job.Status, status.JobCancelled, o.now())
	if err != nil {
		return nil, err
	}
	if !applied {
		job, err = o.store.GetJob(ctx, o.store.DB(), jobID)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("job %d is already %s", jobID, job.Status)
	}
	if err := o.hub.SendCommand(transport.Command{Name: transport.CmdCancelJob, JobID: jobID}); err != nil {
		slog.Warn("cancel broadcast failed", "job_id", jobID, "error", err)
	}
	slog.Info("cleaner job cancelled", "job_id", jobID)
	return o.store.GetJob(ctx, o.store.DB(), jobID)
}

// RetryGroup re-attempts a failed cleanup: the group moves cleaning_failed →
// validated and a new job is created for the failed files only. Files that
// already made it to the archive and got deleted are not re-dispatched.
func (o *Orchestrator) RetryGroup(ctx context.Context, groupID int64, dryRun bool) (*store.CleanerJob, error) {
	db := o.store.DB()
	g, err := o.store.GetGroup(ctx, db, groupID)
	if err != nil {
		return nil, err
	}

	// Failed files of the group's most recent job.
	rows, err := db.QueryContext(ctx, `
		SELECT f.file_id, j.category
		FROM cleaner_job_files f
		JOIN cleaner_jobs j ON j.id = f.job_id
		WHERE f.group_id = ? AND f.status = ?
		  AND f.job_id = (SELECT MAX(job_id) FROM cleaner_job_files WHERE group_id = ?)`,
		groupID, string(status.JobFileFailed), groupID)
	if err != nil {
		return nil, fmt.Errorf("load failed files for group %d: %w", groupID, err)
	}
	var fileIDs []int64
	category := CategoryHashDuplicate
	for rows.Next() {
		var fid int64
		if err := rows.Scan(&fid, &category); err != nil {
			rows.Close()
			return nil, err
		}
		fileIDs = append(fileIDs, fid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(fileIDs) == 0 {
		return nil, ErrNothingToRetry
	}

	err = o.store.WithTx(ctx, func(tx *sql.Tx) error {
		return o.store.TransitionGroup(ctx, tx, g, status.GroupValidated)
	})
	if err != nil {
		return nil, err
	}

	return o.CreateJob(ctx, fileIDs, category, dryRun)
}

// ResetGroup administratively resets a group back to pending (including
// cleaned groups, which have no other way out).
func (o *Orchestrator) ResetGroup(ctx context.Context, groupID int64) error {
	return o.store.WithTx(ctx, func(tx *sql.Tx) error {
		g, err := o.store.GetGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if err := o.store.ResetGroupFiles(ctx, tx, groupID); err != nil {
			return err
		}
		g.KeptFileID = nil
		g.ValidatedAt = nil
		return o.store.TransitionGroup(ctx, tx, g, status.GroupPending)
	})
}
