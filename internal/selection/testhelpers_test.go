package selection

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	internaldb "github.com/eargollo/keeper/internal/db"
	"github.com/eargollo/keeper/internal/status"
	"github.com/eargollo/keeper/internal/store"
)

// testFile describes one seeded group member.
type testFile struct {
	path    string
	size    int64
	takenAt *time.Time
}

func at(unix int64) *time.Time {
	t := time.Unix(unix, 0)
	return &t
}

func mustOpenStore(tb testing.TB) *store.Store {
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
	return store.New(db)
}

// seedGroup ingests the given files under one content hash and returns the
// created group.
func seedGroup(tb testing.TB, st *store.Store, hash string, files []testFile) *store.DuplicateGroup {
	tb.Helper()
	inputs := make([]store.FileInput, 0, len(files))
	for _, f := range files {
		inputs = append(inputs, store.FileInput{
			FilePath: f.path,
			FileHash: hash,
			FileSize: f.size,
			TakenAt:  f.takenAt,
		})
	}
	if _, err := st.IngestFiles(context.Background(), inputs); err != nil {
		tb.Fatalf("ingest: %v", err)
	}

	var id int64
	if err := st.DB().QueryRow(
		`SELECT id FROM duplicate_groups WHERE content_hash = ?`, hash).Scan(&id); err != nil {
		tb.Fatalf("no group for hash %s: %v", hash, err)
	}
	g, err := st.GetGroup(context.Background(), st.DB(), id)
	if err != nil {
		tb.Fatalf("load group: %v", err)
	}
	return g
}

// mustValidate walks a pending group to validated with the given kept file.
func mustValidate(tb testing.TB, st *store.Store, g *store.DuplicateGroup, keptID int64) {
	tb.Helper()
	ctx := context.Background()
	if err := st.MarkKeptFile(ctx, st.DB(), g.ID, keptID); err != nil {
		tb.Fatal(err)
	}
	g.KeptFileID = &keptID
	if err := st.TransitionGroup(ctx, st.DB(), g, status.GroupProposed); err != nil {
		tb.Fatal(err)
	}
	now := time.Now().Unix()
	g.ValidatedAt = &now
	if err := st.TransitionGroup(ctx, st.DB(), g, status.GroupValidated); err != nil {
		tb.Fatal(err)
	}
}

func allWeights() Weights {
	return Weights{PreferLargest: true, PreferOldest: true, PreferShortestPath: true}
}
