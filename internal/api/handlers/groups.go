package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/eargollo/keeper/internal/cleaner"
	"github.com/eargollo/keeper/internal/selection"
	"github.com/eargollo/keeper/internal/status"
	"github.com/eargollo/keeper/internal/store"
)

// GroupsHandler handles duplicate-group API endpoints.
type GroupsHandler struct {
	Store   *store.Store
	Engine  *selection.Engine
	Cleaner *cleaner.Orchestrator
	Weights selection.Weights
}

type groupItem struct {
	ID               int64   `json:"id"`
	ContentHash      string  `json:"content_hash"`
	FileCount        int     `json:"file_count"`
	TotalSize        int64   `json:"total_size"`
	ReclaimableBytes int64   `json:"reclaimable_bytes"`
	Status           string  `json:"status"`
	KeptFileID       *int64  `json:"kept_file_id"`
	ValidatedAt      *string `json:"validated_at"`
	LastReviewedAt   *string `json:"last_reviewed_at"`
	CreatedAt        string  `json:"created_at"`
	Version          int64   `json:"version"`
	ThumbnailURL     string  `json:"thumbnail_url"`
}

type fileItem struct {
	ID           int64   `json:"id"`
	Path         string  `json:"path"`
	Size         int64   `json:"size"`
	TakenAt      *string `json:"taken_at"`
	IsDuplicate  bool    `json:"is_duplicate"`
	IsDeleted    bool    `json:"is_deleted"`
	ArchivePath  *string `json:"archive_path,omitempty"`
	ThumbnailURL string  `json:"thumbnail_url"`
	PreviewURL   string  `json:"preview_url"`
}

func groupView(g *store.DuplicateGroup) groupItem {
	reclaimable := int64(0)
	if g.FileCount > 1 {
		reclaimable = g.TotalSize - g.TotalSize/int64(g.FileCount)
	}
	return groupItem{
		ID:               g.ID,
		ContentHash:      g.ContentHash,
		FileCount:        g.FileCount,
		TotalSize:        g.TotalSize,
		ReclaimableBytes: reclaimable,
		Status:           string(g.Status),
		KeptFileID:       g.KeptFileID,
		ValidatedAt:      fmtUnixPtr(g.ValidatedAt),
		LastReviewedAt:   fmtUnixPtr(g.LastReviewedAt),
		CreatedAt:        fmtUnix(g.CreatedAt),
		Version:          g.Version,
		ThumbnailURL:     "/api/groups/" + strconv.FormatInt(g.ID, 10) + "/thumbnail",
	}
}

func fileView(f *store.IndexedFile) fileItem {
	fid := strconv.FormatInt(f.ID, 10)
	return fileItem{
		ID:           f.ID,
		Path:         f.FilePath,
		Size:         f.FileSize,
		TakenAt:      fmtUnixPtr(f.TakenAt),
		IsDuplicate:  f.IsDuplicate,
		IsDeleted:    f.IsDeleted,
		ArchivePath:  f.ArchivePath,
		ThumbnailURL: "/api/files/" + fid + "/thumbnail",
		PreviewURL:   "/api/files/" + fid + "/preview",
	}
}

// statusFilter interprets the ?status= query parameter.
// Default (no param, or status=unresolved) covers the statuses the review
// flow works through; status=all lifts the filter.
func statusFilter(r *http.Request) ([]status.GroupStatus, bool) {
	v := r.URL.Query().Get("status")
	switch v {
	case "", "unresolved":
		return []status.GroupStatus{
			status.GroupPending, status.GroupAutoSelected, status.GroupProposed,
		}, true
	case "all":
		return nil, true
	default:
		if !status.IsValidGroupStatus(status.GroupStatus(v)) {
			return nil, false
		}
		return []status.GroupStatus{status.GroupStatus(v)}, true
	}
}

// List handles GET /api/groups.
func (h *GroupsHandler) List(w http.ResponseWriter, r *http.Request) {
	statuses, ok := statusFilter(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", "Unknown status filter")
		return
	}
	limit, offset := parsePagination(r)

	db := h.Store.DB()
	total, err := h.Store.CountGroups(r.Context(), db, statuses)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	groups, err := h.Store.ListGroups(r.Context(), db, statuses, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]groupItem, 0, len(groups))
	for _, g := range groups {
		items = append(items, groupView(g))
	}
	writeJSON(w, http.StatusOK, ListResponse[groupItem]{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// Get handles GET /api/groups/{id}, returning the group with its files.
func (h *GroupsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid group ID")
		return
	}

	db := h.Store.DB()
	g, err := h.Store.GetGroup(r.Context(), db, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	files, err := h.Store.GetGroupFiles(r.Context(), db, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	fileItems := make([]fileItem, 0, len(files))
	for _, f := range files {
		fileItems = append(fileItems, fileView(f))
	}

	type groupDetail struct {
		groupItem
		Files []fileItem `json:"files"`
	}
	writeJSON(w, http.StatusOK, groupDetail{groupItem: groupView(g), Files: fileItems})
}

// Navigation handles GET /api/groups/{id}/navigation.
func (h *GroupsHandler) Navigation(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid group ID")
		return
	}
	statuses, ok := statusFilter(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", "Unknown status filter")
		return
	}

	nav, err := h.Engine.Navigate(r.Context(), id, statuses)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nav)
}

// Pattern handles GET /api/groups/{id}/pattern.
func (h *GroupsHandler) Pattern(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid group ID")
		return
	}

	info, err := h.Engine.Pattern(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ApplyPattern handles POST /api/groups/pattern/apply.
func (h *GroupsHandler) ApplyPattern(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Directories        []string `json:"directories"`
		PreferredDirectory string   `json:"preferred_directory"`
		TieBreaker         string   `json:"tie_breaker"`
		Preview            bool     `json:"preview"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid JSON body")
		return
	}
	if len(body.Directories) == 0 || body.PreferredDirectory == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST",
			"directories and preferred_directory are required")
		return
	}
	tb, err := selection.ParseTieBreaker(body.TieBreaker)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	result, err := h.Engine.ApplyPattern(r.Context(), selection.ApplyRequest{
		Directories:        body.Directories,
		PreferredDirectory: body.PreferredDirectory,
		TieBreaker:         tb,
		Preview:            body.Preview,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// AutoSelect handles POST /api/groups/{id}/autoselect.
func (h *GroupsHandler) AutoSelect(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid group ID")
		return
	}

	res, err := h.Engine.AutoSelect(r.Context(), id, h.Weights)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if res == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Group not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AutoSelectAll handles POST /api/groups/autoselect.
func (h *GroupsHandler) AutoSelectAll(w http.ResponseWriter, r *http.Request) {
	results, err := h.Engine.AutoSelectAll(r.Context(), h.Weights)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"groups_selected": len(results),
		"selections":      results,
	})
}

// Retry handles POST /api/groups/{id}/retry: re-dispatch the group's failed
// deletions as a fresh job.
func (h *GroupsHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid group ID")
		return
	}

	var body struct {
		DryRun bool `json:"dry_run"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid JSON body")
			return
		}
	}

	job, err := h.Cleaner.RetryGroup(r.Context(), id, body.DryRun)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobView(job))
}

// Reset handles POST /api/groups/{id}/reset: back to pending with all member
// flags restored.
func (h *GroupsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid group ID")
		return
	}

	if err := h.Cleaner.ResetGroup(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	g, err := h.Store.GetGroup(r.Context(), h.Store.DB(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groupView(g))
}
