package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clipboardpush/clipboard-push-server/internal/config"
)

func newSettingsHandler(t *testing.T) (*SettingsHandler, string) {
	t.Helper()
	envFile := filepath.Join(t.TempDir(), ".env")
	return NewSettingsHandler(envFile, zap.NewNop()), envFile
}

func TestGetSettings_MasksSecrets(t *testing.T) {
	h, _ := newSettingsHandler(t)
	t.Setenv("STORAGE_BACKEND", "local")
	t.Setenv("R2_SECRET_ACCESS_KEY", "supersecret")
	t.Setenv("FCM_SERVER_KEY", "")

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	rec := httptest.NewRecorder()
	h.GetSettings(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var settings map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settings))
	assert.Equal(t, "local", settings["STORAGE_BACKEND"])
	assert.Equal(t, "***", settings["R2_SECRET_ACCESS_KEY"])
	assert.Equal(t, "", settings["FCM_SERVER_KEY"])

	// Every whitelisted key is present, nothing else.
	assert.Len(t, settings, len(config.SettingKeys))
}

func TestUpdateSettings_WritesWhitelistedKeys(t *testing.T) {
	h, envFile := newSettingsHandler(t)

	body := `{
		"STORAGE_BACKEND": "local",
		"FCM_SERVER_KEY": "new-key",
		"R2_SECRET_ACCESS_KEY": "***",
		"NOT_A_SETTING": "x"
	}`
	req := httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.UpdateSettings(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","restart_required":true}`, rec.Body.String())

	saved, err := godotenv.Read(envFile)
	require.NoError(t, err)
	assert.Equal(t, "local", saved["STORAGE_BACKEND"])
	assert.Equal(t, "new-key", saved["FCM_SERVER_KEY"])
	// Masked placeholder means "keep", so the secret is not written.
	assert.NotContains(t, saved, "R2_SECRET_ACCESS_KEY")
	assert.NotContains(t, saved, "NOT_A_SETTING")
}

func TestUpdateSettings_EmptySecretKeepsStoredValue(t *testing.T) {
	h, envFile := newSettingsHandler(t)
	require.NoError(t, config.WriteEnvUpdates(envFile, map[string]string{
		"R2_SECRET_ACCESS_KEY": "stored-secret",
	}))

	req := httptest.NewRequest(http.MethodPut, "/api/settings",
		strings.NewReader(`{"R2_SECRET_ACCESS_KEY":""}`))
	rec := httptest.NewRecorder()
	h.UpdateSettings(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	saved, err := godotenv.Read(envFile)
	require.NoError(t, err)
	assert.Equal(t, "stored-secret", saved["R2_SECRET_ACCESS_KEY"])
}

func TestUpdateSettings_MalformedBody(t *testing.T) {
	h, _ := newSettingsHandler(t)

	req := httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(`[1,2]`))
	rec := httptest.NewRecorder()
	h.UpdateSettings(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
