package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	internaldb "github.com/eargollo/keeper/internal/db"
	"github.com/eargollo/keeper/internal/status"
)

// mustOpenStore opens a temp-file SQLite database with the full schema
// applied and wraps it in a Store.
func mustOpenStore(tb testing.TB) *Store {
	tb.Helper()
	dbPath := filepath.Join(tb.TempDir(), "test.db")
	db, err := internaldb.Open(dbPath)
	if err != nil {
		tb.Fatalf("open test DB: %v", err)
	}
	if err := internaldb.RunMigrations(db); err != nil {
		db.Close()
		tb.Fatalf("run migrations: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	return New(db)
}

// seedGroup ingests n same-hash files under dir and returns the group.
// Files are named file0.jpg … file{n-1}.jpg, each size bytes.
func seedGroup(tb testing.TB, s *Store, hash, dir string, n int, size int64) *DuplicateGroup {
	tb.Helper()
	files := make([]FileInput, 0, n)
	for i := 0; i < n; i++ {
		files = append(files, FileInput{
			FilePath: fmt.Sprintf("%s/file%d.jpg", dir, i),
			FileHash: hash,
			FileSize: size,
		})
	}
	if _, err := s.IngestFiles(context.Background(), files); err != nil {
		tb.Fatalf("ingest: %v", err)
	}
	g := groupByHash(tb, s, hash)
	if g == nil {
		tb.Fatalf("no group created for hash %s", hash)
	}
	return g
}

func groupByHash(tb testing.TB, s *Store, hash string) *DuplicateGroup {
	tb.Helper()
	var id int64
	err := s.DB().QueryRow(
		`SELECT id FROM duplicate_groups WHERE content_hash = ?`, hash).Scan(&id)
	if err != nil {
		return nil
	}
	g, err := s.GetGroup(context.Background(), s.DB(), id)
	if err != nil {
		tb.Fatalf("load group: %v", err)
	}
	return g
}

// mustTransition walks a group through legal states for test setup.
func mustTransition(tb testing.TB, s *Store, g *DuplicateGroup, to status.GroupStatus) {
	tb.Helper()
	if err := s.TransitionGroup(context.Background(), s.DB(), g, to); err != nil {
		tb.Fatalf("transition to %s: %v", to, err)
	}
}

// mustCreateJob inserts a job with one job-file row per group member.
func mustCreateJob(tb testing.TB, s *Store, g *DuplicateGroup, dryRun bool, createdAt time.Time) int64 {
	tb.Helper()
	ctx := context.Background()
	jobID, err := s.CreateJob(ctx, s.DB(), "hash_duplicate", dryRun, g.FileCount, createdAt)
	if err != nil {
		tb.Fatalf("create job: %v", err)
	}
	files, err := s.GetGroupFiles(ctx, s.DB(), g.ID)
	if err != nil {
		tb.Fatalf("group files: %v", err)
	}
	for _, f := range files {
		if err := s.CreateJobFile(ctx, s.DB(), jobID, f, g.ID); err != nil {
			tb.Fatalf("create job file: %v", err)
		}
	}
	return jobID
}
