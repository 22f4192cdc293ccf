package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/eargollo/keeper/internal/review"
	"github.com/eargollo/keeper/internal/store"
)

// SessionsHandler handles review-session API endpoints.
type SessionsHandler struct {
	Store  *store.Store
	Review *review.Controller
}

type sessionItem struct {
	ID              int64   `json:"id"`
	Status          string  `json:"status"`
	TotalGroups     int     `json:"total_groups"`
	GroupsProposed  int     `json:"groups_proposed"`
	GroupsValidated int     `json:"groups_validated"`
	GroupsSkipped   int     `json:"groups_skipped"`
	CreatedAt       string  `json:"created_at"`
	ResumedAt       *string `json:"resumed_at"`
	LastActivityAt  string  `json:"last_activity_at"`
}

func sessionView(s *store.SelectionSession) sessionItem {
	return sessionItem{
		ID:              s.ID,
		Status:          string(s.Status),
		TotalGroups:     s.TotalGroups,
		GroupsProposed:  s.GroupsProposed,
		GroupsValidated: s.GroupsValidated,
		GroupsSkipped:   s.GroupsSkipped,
		CreatedAt:       fmtUnix(s.CreatedAt),
		ResumedAt:       fmtUnixPtr(s.ResumedAt),
		LastActivityAt:  fmtUnix(s.LastActivityAt),
	}
}

// Start handles POST /api/sessions. With {"resume": true} any current
// session is resumed; otherwise a fresh session snapshots the unresolved
// groups.
func (h *SessionsHandler) Start(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Resume bool `json:"resume"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid JSON body")
			return
		}
	}

	s, err := h.Review.StartOrResume(r.Context(), body.Resume)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionView(s))
}

// Current handles GET /api/sessions/current.
func (h *SessionsHandler) Current(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.GetCurrentSession(r.Context(), h.Store.DB())
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "No active session")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(s))
}

// Pause handles POST /api/sessions/{id}/pause.
func (h *SessionsHandler) Pause(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid session ID")
		return
	}

	s, err := h.Review.Pause(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(s))
}

// Progress handles GET /api/sessions/{id}/progress.
func (h *SessionsHandler) Progress(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid session ID")
		return
	}

	p, err := h.Review.GetProgress(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// sessionGroupIDs parses the {id} and {groupID} URL params.
func sessionGroupIDs(w http.ResponseWriter, r *http.Request) (sessionID, groupID int64, ok bool) {
	sessionID, ok = idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid session ID")
		return 0, 0, false
	}
	groupID, ok = idParam(r, "groupID")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid group ID")
		return 0, 0, false
	}
	return sessionID, groupID, true
}

// Propose handles POST /api/sessions/{id}/groups/{groupID}/propose.
func (h *SessionsHandler) Propose(w http.ResponseWriter, r *http.Request) {
	sessionID, groupID, ok := sessionGroupIDs(w, r)
	if !ok {
		return
	}

	var body struct {
		FileID int64 `json:"file_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.FileID == 0 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "file_id is required")
		return
	}

	res, err := h.Review.Propose(r.Context(), sessionID, groupID, body.FileID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Validate handles POST /api/sessions/{id}/groups/{groupID}/validate.
func (h *SessionsHandler) Validate(w http.ResponseWriter, r *http.Request) {
	sessionID, groupID, ok := sessionGroupIDs(w, r)
	if !ok {
		return
	}

	res, err := h.Review.Validate(r.Context(), sessionID, groupID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Skip handles POST /api/sessions/{id}/groups/{groupID}/skip.
func (h *SessionsHandler) Skip(w http.ResponseWriter, r *http.Request) {
	sessionID, groupID, ok := sessionGroupIDs(w, r)
	if !ok {
		return
	}

	res, err := h.Review.Skip(r.Context(), sessionID, groupID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Undo handles POST /api/sessions/{id}/groups/{groupID}/undo.
func (h *SessionsHandler) Undo(w http.ResponseWriter, r *http.Request) {
	sessionID, groupID, ok := sessionGroupIDs(w, r)
	if !ok {
		return
	}

	res, err := h.Review.Undo(r.Context(), sessionID, groupID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
