package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir(), "http://localhost:5055/", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// =============================================================================
// Read / Write
// =============================================================================

func TestLocalStore_WriteReadRoundTrip(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()

	err := store.Write(ctx, "1700000000_x.bin", []byte("payload"), "application/pdf")
	require.NoError(t, err)

	data, contentType, err := store.Read(ctx, "1700000000_x.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, "application/pdf", contentType)
}

func TestLocalStore_ReadMissingObject(t *testing.T) {
	store := newLocalStore(t)

	_, _, err := store.Read(context.Background(), "1700000000_ghost.bin")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_ReadWithoutSidecarDefaultsContentType(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(store.dir, "bare.bin"), []byte("x"), 0o644))

	_, contentType, err := store.Read(ctx, "bare.bin")
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", contentType)
}

func TestLocalStore_RejectsUnsafeKeys(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()

	for _, key := range []string{"", "../escape", "a/b", `a\b`, "1700_..", "nested/../../etc"} {
		assert.ErrorIs(t, store.Write(ctx, key, []byte("x"), "text/plain"), ErrBadKey, "key %q", key)

		_, _, err := store.Read(ctx, key)
		assert.ErrorIs(t, err, ErrBadKey, "key %q", key)
	}
}

// =============================================================================
// Upload slots
// =============================================================================

func TestLocalStore_IssueUploadSlot(t *testing.T) {
	store := newLocalStore(t)

	slot, err := store.IssueUploadSlot(context.Background(), "report.pdf", "application/pdf")
	require.NoError(t, err)

	assert.Regexp(t, `^\d+_report\.pdf$`, slot.FileKey)
	assert.Equal(t, "http://localhost:5055/api/file/upload/"+slot.FileKey, slot.UploadURL)
	assert.Equal(t, "http://localhost:5055/api/file/download/"+slot.FileKey, slot.DownloadURL)
	assert.Equal(t, 300, slot.ExpiresIn)
}

func TestLocalStore_IssueUploadSlotRejectsPathyFilename(t *testing.T) {
	store := newLocalStore(t)

	_, err := store.IssueUploadSlot(context.Background(), "../sneaky.bin", "text/plain")
	assert.ErrorIs(t, err, ErrBadKey)
}

// =============================================================================
// Usage / Empty
// =============================================================================

func TestLocalStore_UsageExcludesSidecars(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "a.bin", []byte("12345"), "text/plain"))
	require.NoError(t, store.Write(ctx, "b.bin", []byte("123"), "text/plain"))

	usage, err := store.Usage(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, usage.ObjectsCount)
	assert.Equal(t, int64(8), usage.TotalBytes)
	assert.Equal(t, 2, usage.ScannedObjects)
	assert.Equal(t, "8.00 B", usage.TotalHuman)
}

func TestLocalStore_EmptyRemovesEverything(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "a.bin", []byte("12345"), "text/plain"))
	require.NoError(t, store.Write(ctx, "b.bin", []byte("678"), "text/plain"))

	report, err := store.Empty(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.DeletedObjects)
	assert.Equal(t, int64(8), report.ReclaimedBytes)

	usage, err := store.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, usage.ObjectsCount)

	entries, err := os.ReadDir(store.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "sidecars are removed along with objects")
}

// =============================================================================
// Housekeeping
// =============================================================================

func TestLocalStore_PurgeOldRemovesExpiredObjects(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "stale.bin", []byte("old"), "text/plain"))
	require.NoError(t, store.Write(ctx, "fresh.bin", []byte("new"), "text/plain"))

	// Backdate the stale object's sidecar past the retention window.
	backdated, err := json.Marshal(objectMeta{
		ContentType: "text/plain",
		CreatedAt:   time.Now().Add(-2 * time.Hour).Unix(),
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(store.dir, "stale.bin"+metaSuffix), backdated, 0o644))

	deleted := store.purgeOld(maxObjectAge)
	assert.Equal(t, 1, deleted)

	_, _, err = store.Read(ctx, "stale.bin")
	assert.ErrorIs(t, err, ErrNotFound)

	data, _, err := store.Read(ctx, "fresh.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), data)
}

func TestLocalStore_PurgeOldIgnoresCorruptSidecars(t *testing.T) {
	store := newLocalStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(store.dir, "odd.bin"+metaSuffix), []byte("not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(store.dir, "odd.bin"), []byte("x"), 0o644))

	assert.Equal(t, 0, store.purgeOld(maxObjectAge))
}

// =============================================================================
// Helpers
// =============================================================================

func TestFormatBytesHuman(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0.00 B"},
		{512, "512.00 B"},
		{2048, "2.00 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
		{3 * 1024 * 1024 * 1024, "3.00 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytesHuman(tt.in))
	}
}

func TestMakeFileKey(t *testing.T) {
	assert.Regexp(t, `^\d+_x\.bin$`, makeFileKey("x.bin"))
}
