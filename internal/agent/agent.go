// Package agent executes delete commands on the host that owns the files:
// verify the file is unchanged, archive a copy, then delete and confirm.
package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/eargollo/keeper/internal/archive"
	"github.com/eargollo/keeper/internal/media"
	"github.com/eargollo/keeper/internal/transport"
)

// Failure reasons reported back to the orchestrator. These strings end up on
// cleaner_job_files.error_message for operator triage, so they stay stable.
const (
	reasonNotFound     = "File not found on disk"
	reasonHashMismatch = "Hash mismatch: file has been modified"
	reasonUploadFailed = "Failed to upload to archive"
	reasonDeleteFailed = "Failed to delete local file"
)

// Agent consumes commands from one hub connection and executes up to
// MaxConcurrency file operations at a time.
type Agent struct {
	conn          *transport.AgentConn
	store         archive.Store
	maxInFlight   int64
	uploadTimeout time.Duration

	mu        sync.Mutex
	cancelled map[int64]bool // job IDs whose remaining commands are skipped
}

// New creates an Agent bound to a hub connection.
func New(conn *transport.AgentConn, store archive.Store, maxConcurrency int, uploadTimeout time.Duration) *Agent {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if uploadTimeout <= 0 {
		uploadTimeout = time.Minute
	}
	return &Agent{
		conn:          conn,
		store:         store,
		maxInFlight:   int64(maxConcurrency),
		uploadTimeout: uploadTimeout,
		cancelled:     make(map[int64]bool),
	}
}

// Run consumes commands until ctx is cancelled or the connection closes.
// It blocks; callers run it in a goroutine.
func (a *Agent) Run(ctx context.Context) {
	sem := semaphore.NewWeighted(a.maxInFlight)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case cmd, ok := <-a.conn.Commands():
			if !ok {
				wg.Wait()
				return
			}
			switch cmd.Name {
			case transport.CmdCancelJob:
				a.markCancelled(cmd.JobID)
			case transport.CmdDeleteFile:
				if a.isCancelled(cmd.JobID) {
					continue
				}
				if err := sem.Acquire(ctx, 1); err != nil {
					wg.Wait()
					return
				}
				wg.Add(1)
				go func(cmd transport.Command) {
					defer wg.Done()
					defer sem.Release(1)
					a.conn.Confirm(a.execute(ctx, cmd))
				}(cmd)
			default:
				slog.Warn("agent: unknown command", "name", cmd.Name)
			}
		}
	}
}

func (a *Agent) markCancelled(jobID int64) {
	a.mu.Lock()
	a.cancelled[jobID] = true
	a.mu.Unlock()
	slog.Info("agent: job cancelled, skipping remaining commands", "job_id", jobID)
}

func (a *Agent) isCancelled(jobID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled[jobID]
}

// execute runs one delete command end to end and returns the confirmation.
// The pipeline: exists → hash matches → archive copy → (unless dry run)
// delete local file. Each step failing produces a per-file failure; nothing
// here aborts other files of the job.
func (a *Agent) execute(ctx context.Context, cmd transport.Command) transport.Confirmation {
	fail := func(reason string) transport.Confirmation {
		return transport.Confirmation{JobID: cmd.JobID, FileID: cmd.FileID, Success: false, Error: reason}
	}

	data, err := os.ReadFile(cmd.FilePath)
	if errors.Is(err, os.ErrNotExist) {
		return fail(reasonNotFound)
	}
	if err != nil {
		return fail(fmt.Sprintf("read file: %v", err))
	}

	// The hash check protects against archiving a file that changed since
	// it was indexed.
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != cmd.ExpectedHash {
		return fail(reasonHashMismatch)
	}

	if err := a.store.EnsureBucketExists(ctx, cmd.Category); err != nil {
		slog.Error("agent: ensure bucket", "category", cmd.Category, "error", err)
		return fail(reasonUploadFailed)
	}

	objPath := archive.ObjectPath(cmd.Category, cmd.FileID, cmd.FilePath, cmd.ExpectedHash, time.Now())
	uploadCtx, cancel := context.WithTimeout(ctx, a.uploadTimeout)
	archivePath, err := a.store.Upload(uploadCtx, objPath, data, media.ContentType(cmd.FilePath))
	cancel()
	if err != nil {
		slog.Error("agent: archive upload", "path", cmd.FilePath, "error", err)
		return fail(reasonUploadFailed)
	}

	if cmd.DryRun {
		return transport.Confirmation{
			JobID: cmd.JobID, FileID: cmd.FileID,
			Success: true, ArchivePath: archivePath, WasDryRun: true,
		}
	}

	if err := os.Remove(cmd.FilePath); err != nil {
		slog.Error("agent: delete local file", "path", cmd.FilePath, "error", err)
		return fail(reasonDeleteFailed)
	}

	slog.Info("agent: file archived and deleted",
		"path", cmd.FilePath, "archive_path", archivePath, "job_id", cmd.JobID)
	return transport.Confirmation{
		JobID: cmd.JobID, FileID: cmd.FileID,
		Success: true, ArchivePath: archivePath,
	}
}

// HashFile computes the content hash an agent compares against, exposed for
// ingest tooling and tests.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
