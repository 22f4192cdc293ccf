package cleaner

import (
	"context"
	"log/slog"
	"time"

	"github.com/eargollo/keeper/internal/transport"
)

// RedispatchStuck finds non-terminal jobs with pending files and no
// confirmation activity since stuckAfter ago, and re-sends their pending
// delete commands. Commands are idempotent on the agent side (the file is
// re-verified before anything happens) and the confirmation path ignores
// duplicates, so re-dispatching is always safe.
//
// Returns the number of commands re-sent. A run with no connected agent does
// nothing: the commands would only be dropped.
func (o *Orchestrator) RedispatchStuck(ctx context.Context, stuckAfter time.Duration) (int, error) {
	if o.hub.ConnectedAgentCount() == 0 {
		return 0, nil
	}

	cutoff := o.now().Add(-stuckAfter)
	jobs, err := o.store.ListStuckJobs(ctx, o.store.DB(), cutoff)
	if err != nil {
		return 0, err
	}

	var resent int
	for _, job := range jobs {
		files, err := o.store.GetPendingJobFiles(ctx, o.store.DB(), job.ID)
		if err != nil {
			return resent, err
		}
		for _, jf := range files {
			cmd := transport.Command{
				Name:         transport.CmdDeleteFile,
				JobID:        job.ID,
				FileID:       jf.FileID,
				FilePath:     jf.FilePath,
				ExpectedHash: jf.FileHash,
				Category:     job.Category,
				DryRun:       job.DryRun,
			}
			if err := o.hub.SendCommand(cmd); err != nil {
				slog.Warn("watchdog re-dispatch failed", "command", cmd.String(), "error", err)
				continue
			}
			resent++
		}
		slog.Info("watchdog re-dispatched stuck job", "job_id", job.ID, "pending_files", len(files))
	}
	return resent, nil
}
