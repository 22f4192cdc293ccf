package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/eargollo/keeper/internal/media"
	"github.com/eargollo/keeper/internal/store"
)

// ImportHandler accepts file records from an upstream scanning pipeline.
type ImportHandler struct {
	Store *store.Store
}

type importFile struct {
	Path    string `json:"path"`
	Hash    string `json:"hash"`
	Size    int64  `json:"size"`
	TakenAt string `json:"taken_at,omitempty"` // RFC3339; read from EXIF when omitted
}

// Import handles POST /api/files/import.
// Each record carries path, content hash, and size; files sharing a hash are
// linked into duplicate groups. When taken_at is omitted the server reads it
// from the file's EXIF data, best-effort.
func (h *ImportHandler) Import(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Files []importFile `json:"files"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid JSON body")
		return
	}
	if len(body.Files) == 0 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "files is required and must be non-empty")
		return
	}

	inputs := make([]store.FileInput, 0, len(body.Files))
	for i, f := range body.Files {
		if f.Path == "" || f.Hash == "" {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "every file needs path and hash")
			return
		}
		in := store.FileInput{FilePath: f.Path, FileHash: f.Hash, FileSize: f.Size}
		if f.TakenAt != "" {
			t, err := time.Parse(time.RFC3339, f.TakenAt)
			if err != nil {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST",
					"taken_at must be RFC3339 (file "+body.Files[i].Path+")")
				return
			}
			in.TakenAt = &t
		} else if media.Detect(f.Path) == media.FileTypeImage {
			in.TakenAt = media.TakenTime(f.Path)
		}
		inputs = append(inputs, in)
	}

	stats, err := h.Store.IngestFiles(r.Context(), inputs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"files_upserted": stats.FilesUpserted,
		"groups_created": stats.GroupsCreated,
		"groups_updated": stats.GroupsUpdated,
	})
}
