package regression_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eargollo/keeper/internal/agent"
	"github.com/eargollo/keeper/internal/api"
	"github.com/eargollo/keeper/internal/archive"
	"github.com/eargollo/keeper/internal/cleaner"
	"github.com/eargollo/keeper/internal/config"
	internaldb "github.com/eargollo/keeper/internal/db"
	"github.com/eargollo/keeper/internal/review"
	"github.com/eargollo/keeper/internal/scheduler"
	"github.com/eargollo/keeper/internal/selection"
	"github.com/eargollo/keeper/internal/store"
	"github.com/eargollo/keeper/internal/transport"
)

// testServer runs the full keeper stack in-process: store, selection engine,
// review controller, cleaner orchestrator, and one bundled agent, behind an
// httptest HTTP server.
type testServer struct {
	baseURL    string
	client     *http.Client
	photosDir  string
	archiveDir string
}

func startServer(t *testing.T) *testServer {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "keeper.db")
	db, err := internaldb.Open(dbPath)
	if err != nil {
		t.Fatalf("open test DB: %v", err)
	}
	if err := internaldb.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	hub := transport.NewHub()
	archiveDir := t.TempDir()
	arch := archive.NewFSStore(archiveDir)
	orch := cleaner.New(st, hub, arch)
	engine := selection.New(st)
	reviewer := review.New(st)
	sched := scheduler.New()

	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}

	conn := hub.Register("local")
	ag := agent.New(conn, arch, 2, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	go ag.Run(ctx)
	t.Cleanup(func() {
		cancel()
		conn.Close()
	})

	srv := api.New(":0", st, engine, reviewer, orch, hub, arch, sched, cfg, "test")
	hts := httptest.NewServer(srv.Handler())
	t.Cleanup(hts.Close)

	return &testServer{
		baseURL:    hts.URL,
		client:     &http.Client{Timeout: 10 * time.Second},
		photosDir:  t.TempDir(),
		archiveDir: archiveDir,
	}
}

// get performs a GET request to path and returns the response.
func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := ts.client.Get(ts.baseURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// post performs a POST request to path with the given JSON body.
func (ts *testServer) post(t *testing.T, path string, body io.Reader) *http.Response {
	t.Helper()
	resp, err := ts.client.Post(ts.baseURL+path, "application/json", body)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

// postJSON marshals v and POSTs it to path.
func (ts *testServer) postJSON(t *testing.T, path string, v interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body for %s: %v", path, err)
	}
	return ts.post(t, path, bytes.NewReader(data))
}

// writePhoto writes content under the photos dir and returns the absolute
// path plus the content hash an import record needs.
func (ts *testServer) writePhoto(t *testing.T, relPath, content string) (string, string) {
	t.Helper()
	path := filepath.Join(ts.photosDir, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	hash, err := agent.HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return path, hash
}

// importPhotos registers the given (path, hash) pairs with the server.
func (ts *testServer) importPhotos(t *testing.T, files []map[string]interface{}) {
	t.Helper()
	resp := ts.postJSON(t, "/api/files/import", map[string]interface{}{"files": files})
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

// waitJobStatus polls the job until it reaches want or the deadline passes.
func (ts *testServer) waitJobStatus(t *testing.T, jobID int64, want string) jobResponse {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	var job jobResponse
	for time.Now().Before(deadline) {
		resp := ts.get(t, fmt.Sprintf("/api/jobs/%d", jobID))
		requireStatus(t, resp, http.StatusOK)
		decodeJSON(t, resp, &job)
		if job.Status == want {
			return job
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("job %d never reached %s (last: %s)", jobID, want, job.Status)
	return job
}

// requireStatus fails the test if the response status code != want.
func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d\nbody: %s", want, resp.StatusCode, body)
	}
}

// decodeJSON decodes the response body into v, failing the test on error.
func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
}

// Response shapes shared across the regression tests. Only the fields the
// tests assert on are declared.

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type groupResponse struct {
	ID               int64          `json:"id"`
	ContentHash      string         `json:"content_hash"`
	FileCount        int            `json:"file_count"`
	TotalSize        int64          `json:"total_size"`
	ReclaimableBytes int64          `json:"reclaimable_bytes"`
	Status           string         `json:"status"`
	KeptFileID       *int64         `json:"kept_file_id"`
	Version          int64          `json:"version"`
	Files            []fileResponse `json:"files"`
}

type fileResponse struct {
	ID          int64   `json:"id"`
	Path        string  `json:"path"`
	Size        int64   `json:"size"`
	IsDuplicate bool    `json:"is_duplicate"`
	IsDeleted   bool    `json:"is_deleted"`
	ArchivePath *string `json:"archive_path"`
}

type sessionResponse struct {
	ID              int64  `json:"id"`
	Status          string `json:"status"`
	TotalGroups     int    `json:"total_groups"`
	GroupsProposed  int    `json:"groups_proposed"`
	GroupsValidated int    `json:"groups_validated"`
	GroupsSkipped   int    `json:"groups_skipped"`
}

type actionResponse struct {
	GroupID     int64  `json:"group_id"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	NextGroupID *int64 `json:"next_group_id"`
}

type jobResponse struct {
	ID             int64  `json:"id"`
	Status         string `json:"status"`
	Category       string `json:"category"`
	DryRun         bool   `json:"dry_run"`
	TotalFiles     int    `json:"total_files"`
	ProcessedFiles int    `json:"processed_files"`
	SucceededFiles int    `json:"succeeded_files"`
	FailedFiles    int    `json:"failed_files"`
	SkippedFiles   int    `json:"skipped_files"`
}

type statusResponse struct {
	Version string `json:"version"`
	Groups  struct {
		Pending        int `json:"pending"`
		AutoSelected   int `json:"auto_selected"`
		Proposed       int `json:"proposed"`
		Validated      int `json:"validated"`
		Cleaning       int `json:"cleaning"`
		Cleaned        int `json:"cleaned"`
		CleaningFailed int `json:"cleaning_failed"`
	} `json:"groups"`
	ActiveSession *sessionResponse `json:"active_session"`
	ActiveJob     *jobResponse     `json:"active_job"`
	Agents        struct {
		Connected int `json:"connected"`
	} `json:"agents"`
}

// firstGroup fetches the only group the test seeded, with its files.
func (ts *testServer) firstGroup(t *testing.T) groupResponse {
	t.Helper()
	resp := ts.get(t, "/api/groups?status=all")
	requireStatus(t, resp, http.StatusOK)
	var list listResponse[groupResponse]
	decodeJSON(t, resp, &list)
	if len(list.Items) == 0 {
		t.Fatal("no groups found")
	}
	detail := ts.get(t, fmt.Sprintf("/api/groups/%d", list.Items[0].ID))
	requireStatus(t, detail, http.StatusOK)
	var g groupResponse
	decodeJSON(t, detail, &g)
	return g
}
