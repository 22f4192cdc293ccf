package cleaner

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/eargollo/keeper/internal/archive"
	internaldb "github.com/eargollo/keeper/internal/db"
	"github.com/eargollo/keeper/internal/status"
	"github.com/eargollo/keeper/internal/store"
	"github.com/eargollo/keeper/internal/transport"
)

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

// newTestOrchestrator wires a store, hub, and filesystem archive together and
// registers one agent connection the tests drive by hand.
func newTestOrchestrator(tb testing.TB) (*Orchestrator, *store.Store, *transport.Hub, *transport.AgentConn) {
	tb.Helper()
	st := mustOpenStore(tb)
	hub := transport.NewHub()
	arch := archive.NewFSStore(tb.TempDir())
	o := New(st, hub, arch)
	conn := hub.Register("test-agent")
	tb.Cleanup(conn.Close)
	return o, st, hub, conn
}

// seedValidatedGroup ingests n same-hash files, keeps the first one, and
// walks the group to validated. Returns the group ID and the member file IDs
// in path order.
func seedValidatedGroup(tb testing.TB, st *store.Store, hash string, n int) (int64, []int64) {
	tb.Helper()
	ctx := context.Background()

	inputs := make([]store.FileInput, n)
	for i := range inputs {
		inputs[i] = store.FileInput{
			FilePath: fmt.Sprintf("/photos/%s/img%d.jpg", hash, i),
			FileHash: hash,
			FileSize: 1000,
		}
	}
	if _, err := st.IngestFiles(ctx, inputs); err != nil {
		tb.Fatalf("ingest: %v", err)
	}

	var groupID int64
	if err := st.DB().QueryRow(
		`SELECT id FROM duplicate_groups WHERE content_hash = ?`, hash).Scan(&groupID); err != nil {
		tb.Fatalf("group lookup: %v", err)
	}

	var fileIDs []int64
	err := st.WithTx(ctx, func(tx *sql.Tx) error {
		files, err := st.GetGroupFiles(ctx, tx, groupID)
		if err != nil {
			return err
		}
		for _, f := range files {
			fileIDs = append(fileIDs, f.ID)
		}
		if err := st.MarkKeptFile(ctx, tx, groupID, fileIDs[0]); err != nil {
			return err
		}
		g, err := st.GetGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		g.KeptFileID = &fileIDs[0]
		if err := st.TransitionGroup(ctx, tx, g, status.GroupProposed); err != nil {
			return err
		}
		ts := time.Now().Unix()
		g.ValidatedAt = &ts
		return st.TransitionGroup(ctx, tx, g, status.GroupValidated)
	})
	if err != nil {
		tb.Fatalf("validate group: %v", err)
	}
	return groupID, fileIDs
}

func mustGroup(tb testing.TB, st *store.Store, id int64) *store.DuplicateGroup {
	tb.Helper()
	g, err := st.GetGroup(context.Background(), st.DB(), id)
	if err != nil {
		tb.Fatalf("get group %d: %v", id, err)
	}
	return g
}

func mustJob(tb testing.TB, st *store.Store, id int64) *store.CleanerJob {
	tb.Helper()
	j, err := st.GetJob(context.Background(), st.DB(), id)
	if err != nil {
		tb.Fatalf("get job %d: %v", id, err)
	}
	return j
}

// recvCommands pops n commands off the agent connection, failing the test if
// they do not arrive promptly.
func recvCommands(tb testing.TB, conn *transport.AgentConn, n int) []transport.Command {
	tb.Helper()
	cmds := make([]transport.Command, 0, n)
	for i := 0; i < n; i++ {
		select {
		case cmd := <-conn.Commands():
			cmds = append(cmds, cmd)
		case <-time.After(2 * time.Second):
			tb.Fatalf("timed out waiting for command %d of %d", i+1, n)
		}
	}
	return cmds
}
