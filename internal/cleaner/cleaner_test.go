package cleaner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eargollo/keeper/internal/status"
	"github.com/eargollo/keeper/internal/store"
	"github.com/eargollo/keeper/internal/transport"
)

func TestCreateJobFailsWithoutAgents(t *testing.T) {
	st := mustOpenStore(t)
	hub := transport.NewHub()
	o := New(st, hub, nil)

	_, fileIDs := seedValidatedGroupNoAgent(t, st)
	_, err := o.CreateJob(context.Background(), fileIDs[1:], "", false)
	if !errors.Is(err, transport.ErrNoAgents) {
		t.Errorf("error = %v, want ErrNoAgents", err)
	}
}

func seedValidatedGroupNoAgent(t *testing.T, st *store.Store) (int64, []int64) {
	t.Helper()
	return seedValidatedGroup(t, st, "aaaa1111", 2)
}

func TestCreateJobDispatchesDeleteCommands(t *testing.T) {
	o, st, _, conn := newTestOrchestrator(t)
	groupID, fileIDs := seedValidatedGroup(t, st, "bbbb2222", 3)
	dups := fileIDs[1:]

	job, err := o.CreateJob(context.Background(), dups, "", false)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.Status != status.JobRunning {
		t.Errorf("job status = %s, want running", job.Status)
	}
	if job.TotalFiles != 2 {
		t.Errorf("total files = %d, want 2", job.TotalFiles)
	}
	if job.Category != CategoryHashDuplicate {
		t.Errorf("category = %s, want default %s", job.Category, CategoryHashDuplicate)
	}

	if g := mustGroup(t, st, groupID); g.Status != status.GroupCleaning {
		t.Errorf("group status = %s, want cleaning", g.Status)
	}

	cmds := recvCommands(t, conn, 2)
	seen := map[int64]bool{}
	for _, cmd := range cmds {
		if cmd.Name != transport.CmdDeleteFile {
			t.Errorf("command name = %s", cmd.Name)
		}
		if cmd.JobID != job.ID || cmd.ExpectedHash != "bbbb2222" || cmd.DryRun {
			t.Errorf("unexpected command %+v", cmd)
		}
		seen[cmd.FileID] = true
	}
	for _, fid := range dups {
		if !seen[fid] {
			t.Errorf("no command dispatched for file %d", fid)
		}
	}
}

func TestCreateJobRejectsDeletedFile(t *testing.T) {
	o, st, _, _ := newTestOrchestrator(t)
	_, fileIDs := seedValidatedGroup(t, st, "cccc3333", 2)
	ctx := context.Background()

	if err := st.MarkFileDeleted(ctx, st.DB(), fileIDs[1], "x/y.jpg", time.Now()); err != nil {
		t.Fatal(err)
	}
	_, err := o.CreateJob(ctx, fileIDs[1:], "", false)
	if !errors.Is(err, ErrFileAlreadyDeleted) {
		t.Errorf("error = %v, want ErrFileAlreadyDeleted", err)
	}
}

func TestConfirmationsSettleJobAndGroup(t *testing.T) {
	o, st, _, conn := newTestOrchestrator(t)
	groupID, fileIDs := seedValidatedGroup(t, st, "dddd4444", 3)
	ctx := context.Background()

	job, err := o.CreateJob(ctx, fileIDs[1:], CategoryHashDuplicate, false)
	if err != nil {
		t.Fatal(err)
	}
	recvCommands(t, conn, 2)

	for _, fid := range fileIDs[1:] {
		conn.Confirm(transport.Confirmation{
			JobID:       job.ID,
			FileID:      fid,
			Success:     true,
			ArchivePath: "hash_duplicate/2026-08/img.jpg",
		})
	}

	job = mustJob(t, st, job.ID)
	if job.Status != status.JobCompleted {
		t.Errorf("job status = %s, want completed", job.Status)
	}
	if job.SucceededFiles != 2 || job.ProcessedFiles != 2 || job.FailedFiles != 0 {
		t.Errorf("counters = %+v", job)
	}

	if g := mustGroup(t, st, groupID); g.Status != status.GroupCleaned {
		t.Errorf("group status = %s, want cleaned", g.Status)
	}
	for _, fid := range fileIDs[1:] {
		f, err := st.GetFile(ctx, st.DB(), fid)
		if err != nil {
			t.Fatal(err)
		}
		if !f.IsDeleted || f.ArchivePath == nil {
			t.Errorf("file %d not marked deleted with archive path", fid)
		}
	}
	if kept, _ := st.GetFile(ctx, st.DB(), fileIDs[0]); kept.IsDeleted {
		t.Error("kept file was deleted")
	}
	if n, _ := o.store.FinishJobFile(ctx, st.DB(), job.ID, fileIDs[1], status.JobFileDeleted, "", "", time.Now()); n {
		t.Error("terminal job file accepted a second finish")
	}
}

func TestFailureMarksGroupAndRetryRedeems(t *testing.T) {
	o, st, _, conn := newTestOrchestrator(t)
	groupID, fileIDs := seedValidatedGroup(t, st, "eeee5555", 3)
	ctx := context.Background()

	job, err := o.CreateJob(ctx, fileIDs[1:], "", false)
	if err != nil {
		t.Fatal(err)
	}
	recvCommands(t, conn, 2)

	conn.Confirm(transport.Confirmation{
		JobID: job.ID, FileID: fileIDs[1], Success: true, ArchivePath: "a/b.jpg",
	})
	conn.Confirm(transport.Confirmation{
		JobID: job.ID, FileID: fileIDs[2], Success: false, Error: "File not found on disk",
	})

	if j := mustJob(t, st, job.ID); j.Status != status.JobFailed || j.FailedFiles != 1 {
		t.Errorf("job = %s failed=%d, want failed/1", j.Status, j.FailedFiles)
	}
	if g := mustGroup(t, st, groupID); g.Status != status.GroupCleaningFailed {
		t.Errorf("group status = %s, want cleaning_failed", g.Status)
	}

	// Retry re-dispatches only the failed file.
	retry, err := o.RetryGroup(ctx, groupID, false)
	if err != nil {
		t.Fatalf("RetryGroup: %v", err)
	}
	if retry.TotalFiles != 1 {
		t.Errorf("retry total files = %d, want 1", retry.TotalFiles)
	}
	cmds := recvCommands(t, conn, 1)
	if cmds[0].FileID != fileIDs[2] {
		t.Errorf("retry targeted file %d, want %d", cmds[0].FileID, fileIDs[2])
	}
	if g := mustGroup(t, st, groupID); g.Status != status.GroupCleaning {
		t.Errorf("group status after retry = %s, want cleaning", g.Status)
	}

	conn.Confirm(transport.Confirmation{
		JobID: retry.ID, FileID: fileIDs[2], Success: true, ArchivePath: "a/c.jpg",
	})
	if g := mustGroup(t, st, groupID); g.Status != status.GroupCleaned {
		t.Errorf("group status after retry success = %s, want cleaned", g.Status)
	}

	if _, err := o.RetryGroup(ctx, groupID, false); !errors.Is(err, ErrNothingToRetry) {
		t.Errorf("second retry error = %v, want ErrNothingToRetry", err)
	}
}

func TestDuplicateConfirmationIsIgnored(t *testing.T) {
	o, st, _, conn := newTestOrchestrator(t)
	_, fileIDs := seedValidatedGroup(t, st, "ffff6666", 3)
	ctx := context.Background()

	job, err := o.CreateJob(ctx, fileIDs[1:], "", false)
	if err != nil {
		t.Fatal(err)
	}
	recvCommands(t, conn, 2)

	conf := transport.Confirmation{
		JobID: job.ID, FileID: fileIDs[1], Success: true, ArchivePath: "a/b.jpg",
	}
	conn.Confirm(conf)
	conn.Confirm(conf)
	conn.Confirm(conf)

	j := mustJob(t, st, job.ID)
	if j.ProcessedFiles != 1 || j.SucceededFiles != 1 {
		t.Errorf("counters after duplicates = processed %d succeeded %d, want 1/1",
			j.ProcessedFiles, j.SucceededFiles)
	}
}

func TestDryRunLeavesGroupValidated(t *testing.T) {
	o, st, _, conn := newTestOrchestrator(t)
	groupID, fileIDs := seedValidatedGroup(t, st, "abab7777", 2)
	ctx := context.Background()

	job, err := o.CreateJob(ctx, fileIDs[1:], "", true)
	if err != nil {
		t.Fatal(err)
	}
	if g := mustGroup(t, st, groupID); g.Status != status.GroupValidated {
		t.Errorf("group status during dry run = %s, want validated", g.Status)
	}

	cmds := recvCommands(t, conn, 1)
	if !cmds[0].DryRun {
		t.Error("command not flagged dry-run")
	}
	conn.Confirm(transport.Confirmation{
		JobID: job.ID, FileID: fileIDs[1], Success: true,
		ArchivePath: "hash_duplicate/2026-08/img.jpg", WasDryRun: true,
	})

	j := mustJob(t, st, job.ID)
	if j.Status != status.JobCompleted || j.SucceededFiles != 1 || j.SkippedFiles != 1 {
		t.Errorf("job = %s succeeded=%d skipped=%d", j.Status, j.SucceededFiles, j.SkippedFiles)
	}
	if g := mustGroup(t, st, groupID); g.Status != status.GroupValidated {
		t.Errorf("group status after dry run = %s, want validated", g.Status)
	}
	if f, _ := st.GetFile(ctx, st.DB(), fileIDs[1]); f.IsDeleted {
		t.Error("dry run deleted the file")
	}
	jfs, err := st.GetJobFiles(ctx, st.DB(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if jfs[0].Status != status.JobFileUploaded {
		t.Errorf("job file status = %s, want uploaded", jfs[0].Status)
	}
}

func TestCancelledJobStaysCancelled(t *testing.T) {
	o, st, _, conn := newTestOrchestrator(t)
	_, fileIDs := seedValidatedGroup(t, st, "cdcd8888", 3)
	ctx := context.Background()

	job, err := o.CreateJob(ctx, fileIDs[1:], "", false)
	if err != nil {
		t.Fatal(err)
	}
	recvCommands(t, conn, 2)

	cancelled, err := o.CancelJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if cancelled.Status != status.JobCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	cmds := recvCommands(t, conn, 1)
	if cmds[0].Name != transport.CmdCancelJob {
		t.Errorf("broadcast command = %s, want cancel", cmds[0].Name)
	}
	if _, err := o.CancelJob(ctx, job.ID); err == nil {
		t.Error("cancelling a terminal job should fail")
	}

	// In-flight confirmations still land for bookkeeping but never revive
	// the job.
	for _, fid := range fileIDs[1:] {
		conn.Confirm(transport.Confirmation{
			JobID: job.ID, FileID: fid, Success: true, ArchivePath: "a/b.jpg",
		})
	}
	j := mustJob(t, st, job.ID)
	if j.Status != status.JobCancelled {
		t.Errorf("job status = %s, want cancelled kept", j.Status)
	}
	if j.ProcessedFiles != 2 {
		t.Errorf("processed = %d, want 2", j.ProcessedFiles)
	}
}

func TestSettledJobNotOverwrittenByCancel(t *testing.T) {
	o, st, _, conn := newTestOrchestrator(t)
	_, fileIDs := seedValidatedGroup(t, st, "dada7777", 2)
	ctx := context.Background()

	job, err := o.CreateJob(ctx, fileIDs[1:], "", false)
	if err != nil {
		t.Fatal(err)
	}
	recvCommands(t, conn, 1)
	conn.Confirm(transport.Confirmation{
		JobID: job.ID, FileID: fileIDs[1], Success: true, ArchivePath: "a/b.jpg",
	})
	if j := mustJob(t, st, job.ID); j.Status != status.JobCompleted {
		t.Fatalf("job status = %s, want completed", j.Status)
	}

	// A cancel racing the settling confirmation writes conditionally on the
	// running status it loaded; against the settled job that matches no row.
	applied, err := st.SetJobStatus(ctx, st.DB(), job.ID, status.JobRunning, status.JobCancelled, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Error("cancel write applied against a settled job")
	}

	if _, err := o.CancelJob(ctx, job.ID); err == nil {
		t.Error("cancelling a settled job should fail")
	}
	if j := mustJob(t, st, job.ID); j.Status != status.JobCompleted {
		t.Errorf("job status = %s, want completed kept", j.Status)
	}
}

func TestRedispatchStuckResendsPendingCommands(t *testing.T) {
	o, st, _, conn := newTestOrchestrator(t)
	_, fileIDs := seedValidatedGroup(t, st, "efef9999", 3)
	ctx := context.Background()

	// Create the job two hours in the past so it looks abandoned.
	past := time.Now().Add(-2 * time.Hour)
	o.now = func() time.Time { return past }
	job, err := o.CreateJob(ctx, fileIDs[1:], "", false)
	if err != nil {
		t.Fatal(err)
	}
	o.now = time.Now
	recvCommands(t, conn, 2)

	resent, err := o.RedispatchStuck(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("RedispatchStuck: %v", err)
	}
	if resent != 2 {
		t.Errorf("resent = %d, want 2", resent)
	}
	cmds := recvCommands(t, conn, 2)
	for _, cmd := range cmds {
		if cmd.JobID != job.ID || cmd.Name != transport.CmdDeleteFile {
			t.Errorf("unexpected re-dispatch %+v", cmd)
		}
	}

	// A confirmed job with no pending files is not stuck.
	for _, fid := range fileIDs[1:] {
		conn.Confirm(transport.Confirmation{
			JobID: job.ID, FileID: fid, Success: true, ArchivePath: "a/b.jpg",
		})
	}
	resent, err = o.RedispatchStuck(ctx, 30*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if resent != 0 {
		t.Errorf("resent after completion = %d, want 0", resent)
	}
}

func TestRedispatchStuckNoAgentsDoesNothing(t *testing.T) {
	st := mustOpenStore(t)
	o := New(st, transport.NewHub(), nil)

	resent, err := o.RedispatchStuck(context.Background(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if resent != 0 {
		t.Errorf("resent = %d, want 0", resent)
	}
}
