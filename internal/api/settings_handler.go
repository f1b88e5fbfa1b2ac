package api

import (
	"encoding/json"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/clipboardpush/clipboard-push-server/internal/config"
)

// settingsMask is what secret values read back as; submitting it (or an
// empty string) for a secret keeps the stored value.
const settingsMask = "***"

// SettingsHandler reads and writes the whitelisted runtime settings. Writes
// go to the env file and take effect on restart.
type SettingsHandler struct {
	envFile string
	logger  *zap.Logger
}

func NewSettingsHandler(envFile string, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{
		envFile: envFile,
		logger:  logger,
	}
}

// GetSettings godoc
//
//	@Summary		Read runtime settings
//	@Description	Return the whitelisted settings keys with secret values masked
//	@Tags			settings
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	map[string]string	"Settings"
//	@Router			/api/settings [get]
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings := make(map[string]string, len(config.SettingKeys))
	for _, key := range config.SettingKeys {
		val := os.Getenv(key)
		if config.SecretKeys[key] && val != "" {
			val = settingsMask
		}
		settings[key] = val
	}
	writeJSON(w, http.StatusOK, settings)
}

// UpdateSettings godoc
//
//	@Summary		Update runtime settings
//	@Description	Merge submitted whitelisted keys into the env file; applied on restart
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		map[string]string	true	"Settings to update"
//	@Success		200		{object}	object{status=string,restart_required=bool}	"Saved"
//	@Failure		400		{object}	map[string]string	"Invalid body"
//	@Failure		500		{object}	map[string]string	"Write failed"
//	@Router			/api/settings [put]
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updates := make(map[string]string)
	for key, val := range req {
		if !config.IsSettingKey(key) {
			continue
		}
		if config.SecretKeys[key] && (val == "" || val == settingsMask) {
			continue
		}
		updates[key] = val
	}

	if err := config.WriteEnvUpdates(h.envFile, updates); err != nil {
		h.logger.Error("Settings write failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	h.logger.Info("Settings updated", zap.Int("keys", len(updates)))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"restart_required": true,
	})
}
