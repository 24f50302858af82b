package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// ArchiveHandler browses history that has been moved to object storage.
type ArchiveHandler struct {
	archives domain.ArchiveReader
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(archives domain.ArchiveReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archives: archives, logger: logger}
}

// ListArchives lists archive files, optionally of one kind.
// GET /api/history/archives?kind=fills
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseArchiveKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeEngineError(w, r, h.logger, "list archives", err)
		return
	}
	files, err := h.archives.List(r.Context(), kind)
	if err != nil {
		writeEngineError(w, r, h.logger, "list archives", err)
		return
	}
	if files == nil {
		files = []domain.ArchiveFile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// GetArchive streams one archive file as newline-delimited JSON.
// GET /api/history/archives/{path...}
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("path")
	body, err := h.archives.Open(r.Context(), key)
	if err != nil {
		writeEngineError(w, r, h.logger, "get archive", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive stream interrupted",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
