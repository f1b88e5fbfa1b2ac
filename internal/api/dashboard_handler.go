package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/clipboardpush/clipboard-push-server/internal/storage"
)

// DashboardHandler serves the storage panels of the observer dashboard.
type DashboardHandler struct {
	store  storage.Store
	logger *zap.Logger
}

func NewDashboardHandler(store storage.Store, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		store:  store,
		logger: logger,
	}
}

// StorageUsage godoc
//
//	@Summary		Storage usage
//	@Description	Count the stored objects and total bytes
//	@Tags			dashboard
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	storage.Usage	"Usage summary"
//	@Failure		500	{object}	map[string]string	"Scan failed"
//	@Router			/api/dashboard/storage/usage [get]
func (h *DashboardHandler) StorageUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.store.Usage(r.Context())
	if err != nil {
		h.logger.Error("Storage usage scan failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	usage.Backend = h.store.Backend()
	usage.UpdatedAtMS = time.Now().UnixMilli()
	writeJSON(w, http.StatusOK, usage)
}

// StorageEmpty godoc
//
//	@Summary		Empty the storage bucket
//	@Description	Delete every stored object and report the reclaimed space
//	@Tags			dashboard
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	object{result=storage.PurgeReport,usage=storage.Usage}	"Purge result and fresh usage"
//	@Failure		500	{object}	map[string]string	"Purge failed"
//	@Router			/api/dashboard/storage/empty [post]
func (h *DashboardHandler) StorageEmpty(w http.ResponseWriter, r *http.Request) {
	report, err := h.store.Empty(r.Context())
	if err != nil {
		h.logger.Error("Storage purge failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info("Storage emptied",
		zap.Int("deleted", report.DeletedObjects),
		zap.String("reclaimed", report.ReclaimedHuman))

	usage, err := h.store.Usage(r.Context())
	if err != nil {
		h.logger.Error("Post-purge usage scan failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	usage.Backend = h.store.Backend()
	usage.UpdatedAtMS = time.Now().UnixMilli()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": report,
		"usage":  usage,
	})
}
