package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/clipboardpush/clipboard-push-server/internal/storage"
)

// UploadHandler issues upload slots and, for the local backend, serves the
// object bytes directly.
type UploadHandler struct {
	store  storage.Store
	logger *zap.Logger
}

func NewUploadHandler(store storage.Store, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{
		store:  store,
		logger: logger,
	}
}

type uploadAuthRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// CreateUploadSlot godoc
//
//	@Summary		Issue an upload slot
//	@Description	Mint an object key and return matching upload and download URLs
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Param			request	body		uploadAuthRequest	true	"Filename and content type"
//	@Success		200		{object}	storage.UploadSlot	"Upload slot"
//	@Failure		400		{object}	map[string]string	"Filename required"
//	@Failure		500		{object}	map[string]string	"Slot creation failed"
//	@Router			/api/file/upload_auth [post]
func (h *UploadHandler) CreateUploadSlot(w http.ResponseWriter, r *http.Request) {
	var req uploadAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Filename == "" {
		writeError(w, http.StatusBadRequest, "Filename required")
		return
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	slot, err := h.store.IssueUploadSlot(r.Context(), req.Filename, contentType)
	if err != nil {
		if errors.Is(err, storage.ErrBadKey) {
			writeError(w, http.StatusBadRequest, "Invalid filename")
			return
		}
		h.logger.Error("Failed to issue upload slot", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, slot)
}

// UploadFile godoc
//
//	@Summary		Store an object (local backend)
//	@Description	Accept the object bytes for a previously issued upload slot
//	@Tags			files
//	@Accept			octet-stream
//	@Param			key	path	string	true	"Object key"
//	@Success		200	"Stored"
//	@Failure		400	{object}	map[string]string	"Invalid file key"
//	@Failure		404	{object}	map[string]string	"Local storage not enabled"
//	@Router			/api/file/upload/{key} [put]
func (h *UploadHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	if h.store.Backend() != storage.BackendLocal {
		writeError(w, http.StatusNotFound, "Local storage not enabled")
		return
	}

	fileKey := r.PathValue("key")
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if err := h.store.Write(r.Context(), fileKey, data, contentType); err != nil {
		if errors.Is(err, storage.ErrBadKey) {
			writeError(w, http.StatusBadRequest, "Invalid file key")
			return
		}
		h.logger.Error("Local upload failed", zap.String("file_key", fileKey), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info("Local upload", zap.String("file_key", fileKey), zap.Int("bytes", len(data)))
	w.WriteHeader(http.StatusOK)
}

// DownloadFile godoc
//
//	@Summary		Fetch an object (local backend)
//	@Description	Return the stored object bytes with their original content type
//	@Tags			files
//	@Produce		octet-stream
//	@Param			key	path	string	true	"Object key"
//	@Success		200	"Object bytes"
//	@Failure		404	{object}	map[string]string	"File not found"
//	@Router			/api/file/download/{key} [get]
func (h *UploadHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	if h.store.Backend() != storage.BackendLocal {
		writeError(w, http.StatusNotFound, "Local storage not enabled")
		return
	}

	fileKey := r.PathValue("key")
	data, contentType, err := h.store.Read(r.Context(), fileKey)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "File not found")
		case errors.Is(err, storage.ErrBadKey):
			writeError(w, http.StatusBadRequest, "Invalid file key")
		default:
			h.logger.Error("Local download failed", zap.String("file_key", fileKey), zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(data)
}
