package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clipboardpush/clipboard-push-server/internal/storage"
)

func newLocalUploadHandler(t *testing.T) (*UploadHandler, *storage.LocalStore) {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir(), "http://localhost:5055", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewUploadHandler(store, zap.NewNop()), store
}

// fileMux routes upload/download requests so PathValue is populated.
func fileMux(h *UploadHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/file/upload_auth", h.CreateUploadSlot)
	mux.HandleFunc("PUT /api/file/upload/{key}", h.UploadFile)
	mux.HandleFunc("GET /api/file/download/{key}", h.DownloadFile)
	return mux
}

func TestCreateUploadSlot_Local(t *testing.T) {
	h, _ := newLocalUploadHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/file/upload_auth",
		strings.NewReader(`{"filename":"report.pdf","content_type":"application/pdf"}`))
	rec := httptest.NewRecorder()
	fileMux(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"upload_url":"http://localhost:5055/api/file/upload/`)
	assert.Contains(t, body, `"download_url":"http://localhost:5055/api/file/download/`)
	assert.Contains(t, body, `"expires_in":300`)
	assert.Regexp(t, `"file_key":"\d+_report\.pdf"`, body)
}

func TestCreateUploadSlot_MissingFilename(t *testing.T) {
	h, _ := newLocalUploadHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/file/upload_auth", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	fileMux(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Filename required"}`, rec.Body.String())
}

func TestCreateUploadSlot_PathyFilenameRejected(t *testing.T) {
	h, _ := newLocalUploadHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/file/upload_auth",
		strings.NewReader(`{"filename":"..\\..\\evil.bin"}`))
	rec := httptest.NewRecorder()
	fileMux(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid filename"}`, rec.Body.String())
}

func TestUploadThenDownloadRoundTrip(t *testing.T) {
	h, _ := newLocalUploadHandler(t)
	mux := fileMux(h)

	up := httptest.NewRequest(http.MethodPut, "/api/file/upload/1700000000_x.bin",
		strings.NewReader("clipboard bytes"))
	up.Header.Set("Content-Type", "application/pdf")
	upRec := httptest.NewRecorder()
	mux.ServeHTTP(upRec, up)
	require.Equal(t, http.StatusOK, upRec.Code)
	assert.Empty(t, upRec.Body.String())

	down := httptest.NewRequest(http.MethodGet, "/api/file/download/1700000000_x.bin", nil)
	downRec := httptest.NewRecorder()
	mux.ServeHTTP(downRec, down)

	require.Equal(t, http.StatusOK, downRec.Code)
	assert.Equal(t, "clipboard bytes", downRec.Body.String())
	assert.Equal(t, "application/pdf", downRec.Header().Get("Content-Type"))
}

func TestUpload_DefaultsContentType(t *testing.T) {
	h, _ := newLocalUploadHandler(t)
	mux := fileMux(h)

	up := httptest.NewRequest(http.MethodPut, "/api/file/upload/1700000000_y.bin",
		strings.NewReader("raw"))
	upRec := httptest.NewRecorder()
	mux.ServeHTTP(upRec, up)
	require.Equal(t, http.StatusOK, upRec.Code)

	down := httptest.NewRequest(http.MethodGet, "/api/file/download/1700000000_y.bin", nil)
	downRec := httptest.NewRecorder()
	mux.ServeHTTP(downRec, down)
	assert.Equal(t, "application/octet-stream", downRec.Header().Get("Content-Type"))
}

func TestDownload_MissingFile(t *testing.T) {
	h, _ := newLocalUploadHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/file/download/1700000000_ghost.bin", nil)
	rec := httptest.NewRecorder()
	fileMux(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"File not found"}`, rec.Body.String())
}

func TestUpload_TraversalKeyRejected(t *testing.T) {
	h, _ := newLocalUploadHandler(t)

	req := httptest.NewRequest(http.MethodPut, "/api/file/upload/..%5Cpasswd",
		strings.NewReader("x"))
	rec := httptest.NewRecorder()
	fileMux(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid file key"}`, rec.Body.String())
}

func TestLocalFileRoutes_DisabledOnR2Backend(t *testing.T) {
	r2, err := storage.NewR2Storage("acct", "key", "secret", "bucket", "")
	require.NoError(t, err)
	h := NewUploadHandler(r2, zap.NewNop())
	mux := fileMux(h)

	up := httptest.NewRequest(http.MethodPut, "/api/file/upload/1700000000_x.bin",
		strings.NewReader("x"))
	upRec := httptest.NewRecorder()
	mux.ServeHTTP(upRec, up)
	assert.Equal(t, http.StatusNotFound, upRec.Code)
	assert.JSONEq(t, `{"error":"Local storage not enabled"}`, upRec.Body.String())

	down := httptest.NewRequest(http.MethodGet, "/api/file/download/1700000000_x.bin", nil)
	downRec := httptest.NewRecorder()
	mux.ServeHTTP(downRec, down)
	assert.Equal(t, http.StatusNotFound, downRec.Code)
	assert.JSONEq(t, `{"error":"Local storage not enabled"}`, downRec.Body.String())
}
