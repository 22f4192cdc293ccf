package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/eargollo/keeper/internal/cleaner"
	"github.com/eargollo/keeper/internal/store"
)

// JobsHandler handles cleaner-job API endpoints.
type JobsHandler struct {
	Store   *store.Store
	Cleaner *cleaner.Orchestrator
}

type jobItem struct {
	ID             int64   `json:"id"`
	Status         string  `json:"status"`
	Category       string  `json:"category"`
	DryRun         bool    `json:"dry_run"`
	TotalFiles     int     `json:"total_files"`
	ProcessedFiles int     `json:"processed_files"`
	SucceededFiles int     `json:"succeeded_files"`
	FailedFiles    int     `json:"failed_files"`
	SkippedFiles   int     `json:"skipped_files"`
	CreatedAt      string  `json:"created_at"`
	StartedAt      *string `json:"started_at"`
	CompletedAt    *string `json:"completed_at"`
}

type jobFileItem struct {
	ID           int64   `json:"id"`
	FileID       int64   `json:"file_id"`
	GroupID      int64   `json:"group_id"`
	Path         string  `json:"path"`
	Size         int64   `json:"size"`
	Status       string  `json:"status"`
	ArchivePath  *string `json:"archive_path,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	ProcessedAt  *string `json:"processed_at"`
}

func jobView(j *store.CleanerJob) jobItem {
	return jobItem{
		ID:             j.ID,
		Status:         string(j.Status),
		Category:       j.Category,
		DryRun:         j.DryRun,
		TotalFiles:     j.TotalFiles,
		ProcessedFiles: j.ProcessedFiles,
		SucceededFiles: j.SucceededFiles,
		FailedFiles:    j.FailedFiles,
		SkippedFiles:   j.SkippedFiles,
		CreatedAt:      fmtUnix(j.CreatedAt),
		StartedAt:      fmtUnixPtr(j.StartedAt),
		CompletedAt:    fmtUnixPtr(j.CompletedAt),
	}
}

func jobFileView(f *store.CleanerJobFile) jobFileItem {
	return jobFileItem{
		ID:           f.ID,
		FileID:       f.FileID,
		GroupID:      f.GroupID,
		Path:         f.FilePath,
		Size:         f.FileSize,
		Status:       string(f.Status),
		ArchivePath:  f.ArchivePath,
		ErrorMessage: f.ErrorMessage,
		ProcessedAt:  fmtUnixPtr(f.ProcessedAt),
	}
}

// Create handles POST /api/jobs. Fails with 503 when no agent is connected.
func (h *JobsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FileIDs  []int64 `json:"file_ids"`
		Category string  `json:"category"`
		DryRun   bool    `json:"dry_run"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid JSON body")
		return
	}
	if body.Category == "" {
		body.Category = cleaner.CategoryHashDuplicate
	}
	switch body.Category {
	case cleaner.CategoryHashDuplicate, cleaner.CategoryNearDuplicate, cleaner.CategoryManual:
	default:
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Unknown job category")
		return
	}

	job, err := h.Cleaner.CreateJob(r.Context(), body.FileIDs, body.Category, body.DryRun)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobView(job))
}

// List handles GET /api/jobs, newest first.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	db := h.Store.DB()
	total, err := h.Store.CountJobs(r.Context(), db)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jobs, err := h.Store.ListJobs(r.Context(), db, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]jobItem, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, jobView(j))
	}
	writeJSON(w, http.StatusOK, ListResponse[jobItem]{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// Get handles GET /api/jobs/{id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid job ID")
		return
	}

	job, err := h.Store.GetJob(r.Context(), h.Store.DB(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobView(job))
}

// Files handles GET /api/jobs/{id}/files.
func (h *JobsHandler) Files(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid job ID")
		return
	}

	db := h.Store.DB()
	if _, err := h.Store.GetJob(r.Context(), db, id); err != nil {
		writeDomainError(w, err)
		return
	}
	files, err := h.Store.GetJobFiles(r.Context(), db, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]jobFileItem, 0, len(files))
	for _, f := range files {
		items = append(items, jobFileView(f))
	}
	writeJSON(w, http.StatusOK, ListResponse[jobFileItem]{
		Items:  items,
		Total:  len(items),
		Limit:  len(items),
		Offset: 0,
	})
}

// Cancel handles POST /api/jobs/{id}/cancel.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid job ID")
		return
	}

	job, err := h.Cleaner.CancelJob(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobView(job))
}
