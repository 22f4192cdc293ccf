package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/eargollo/keeper/internal/archive"
	"github.com/eargollo/keeper/internal/media"
	"github.com/eargollo/keeper/internal/store"
)

// FilesHandler handles file-level API endpoints.
type FilesHandler struct {
	Store   *store.Store
	Archive archive.Store
}

// fileInfoResponse is returned by GET /api/files/{id}/info.
type fileInfoResponse struct {
	ID          int64   `json:"id"`
	Path        string  `json:"path"`
	Filename    string  `json:"filename"`
	Size        int64   `json:"size"`
	Hash        string  `json:"hash"`
	TakenAt     *string `json:"taken_at"`
	MimeType    string  `json:"mime_type"`
	IsDuplicate bool    `json:"is_duplicate"`
	IsDeleted   bool    `json:"is_deleted"`
	ArchivePath *string `json:"archive_path,omitempty"`
}

// Info handles GET /api/files/{id}/info.
func (h *FilesHandler) Info(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid file ID")
		return
	}

	f, err := h.Store.GetFile(r.Context(), h.Store.DB(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, fileInfoResponse{
		ID:          f.ID,
		Path:        f.FilePath,
		Filename:    filepath.Base(f.FilePath),
		Size:        f.FileSize,
		Hash:        f.FileHash,
		TakenAt:     fmtUnixPtr(f.TakenAt),
		MimeType:    media.ContentType(f.FilePath),
		IsDuplicate: f.IsDuplicate,
		IsDeleted:   f.IsDeleted,
		ArchivePath: f.ArchivePath,
	})
}

// Thumbnail handles GET /api/files/{id}/thumbnail.
// Thumbnails are cached in the archive store so a file deleted mid-review
// can still be rendered until the cleaner removes its cached copy.
func (h *FilesHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid file ID")
		return
	}

	f, err := h.Store.GetFile(r.Context(), h.Store.DB(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.serveThumbnail(w, r, f)
}

// GroupThumbnail handles GET /api/groups/{id}/thumbnail, serving the kept
// file's thumbnail, or the first live member's when nothing is kept yet.
func (h *FilesHandler) GroupThumbnail(w http.ResponseWriter, r *http.Request) {
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

	var target *store.IndexedFile
	if g.KeptFileID != nil {
		target, err = h.Store.GetFile(r.Context(), db, *g.KeptFileID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
	} else {
		files, err := h.Store.GetGroupFiles(r.Context(), db, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		for _, f := range files {
			if !f.IsDeleted {
				target = f
				break
			}
		}
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Group has no renderable file")
		return
	}
	h.serveThumbnail(w, r, target)
}

func (h *FilesHandler) serveThumbnail(w http.ResponseWriter, r *http.Request, f *store.IndexedFile) {
	if f.ThumbnailPath != nil {
		data, err := h.Archive.Open(r.Context(), *f.ThumbnailPath)
		if err == nil {
			serveJPEG(w, data)
			return
		}
		slog.Warn("thumbnail cache miss", "file_id", f.ID, "path", *f.ThumbnailPath, "error", err)
	}

	if f.IsDeleted {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "File not found or not previewable")
		return
	}
	if media.Detect(f.FilePath) != media.FileTypeImage {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "File not found or not previewable")
		return
	}

	thumb, err := media.Thumbnail(f.FilePath, 320, 320)
	if err != nil {
		slog.Error("thumbnail generate", "file_id", f.ID, "path", f.FilePath, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "thumbnail generation failed")
		return
	}
	if thumb == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "File not found or not previewable")
		return
	}

	// Best-effort cache write; serving the bytes matters more.
	cachePath := fmt.Sprintf("thumbnails/%d.jpg", f.ID)
	if _, err := h.Archive.Upload(r.Context(), cachePath, thumb, "image/jpeg"); err != nil {
		slog.Warn("thumbnail cache write", "file_id", f.ID, "error", err)
	} else if err := h.Store.SetThumbnailPath(r.Context(), h.Store.DB(), f.ID, cachePath); err != nil {
		slog.Warn("thumbnail cache record", "file_id", f.ID, "error", err)
	}

	serveJPEG(w, thumb)
}

func serveJPEG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck
}

// Preview handles GET /api/files/{id}/preview.
// Serves the original file with the correct Content-Type for lightbox use.
// Deleted files are served from their archive copy when one exists.
func (h *FilesHandler) Preview(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid file ID")
		return
	}

	f, err := h.Store.GetFile(r.Context(), h.Store.DB(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if f.IsDeleted {
		if f.ArchivePath == nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "File not found or not previewable")
			return
		}
		data, err := h.Archive.Open(r.Context(), *f.ArchivePath)
		if err != nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "File not found or not previewable")
			return
		}
		w.Header().Set("Content-Type", media.ContentType(f.FilePath))
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.WriteHeader(http.StatusOK)
		w.Write(data) //nolint:errcheck
		return
	}

	if _, statErr := os.Stat(f.FilePath); os.IsNotExist(statErr) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "File not found or not previewable")
		return
	}

	w.Header().Set("Content-Type", media.ContentType(f.FilePath))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, f.FilePath)
}
