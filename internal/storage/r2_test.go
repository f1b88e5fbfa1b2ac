package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestR2(t *testing.T) *R2Storage {
	t.Helper()
	store, err := NewR2Storage("test-account", "test-key-id", "test-secret", "clipboard-test", "")
	require.NoError(t, err)
	return store
}

func TestNewR2Storage_RequiresFullConfig(t *testing.T) {
	tests := []struct {
		name      string
		accountID string
		keyID     string
		secret    string
		bucket    string
	}{
		{"missing account", "", "k", "s", "b"},
		{"missing key id", "a", "", "s", "b"},
		{"missing secret", "a", "k", "", "b"},
		{"missing bucket", "a", "k", "s", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewR2Storage(tt.accountID, tt.keyID, tt.secret, tt.bucket, "")
			assert.Error(t, err)
		})
	}
}

func TestR2Storage_Backend(t *testing.T) {
	assert.Equal(t, BackendR2, newTestR2(t).Backend())
}

// Presigning is pure signature math, so a fake credential set is enough to
// check the URL shapes without talking to R2.
func TestR2Storage_IssueUploadSlotSignsBothURLs(t *testing.T) {
	store := newTestR2(t)

	slot, err := store.IssueUploadSlot(context.Background(), "x.bin", "application/octet-stream")
	require.NoError(t, err)

	assert.Regexp(t, `^\d+_x\.bin$`, slot.FileKey)
	assert.Equal(t, 300, slot.ExpiresIn)

	assert.Contains(t, slot.UploadURL, "test-account.r2.cloudflarestorage.com")
	assert.Contains(t, slot.UploadURL, slot.FileKey)
	assert.Contains(t, slot.UploadURL, "X-Amz-Expires=300")

	assert.Contains(t, slot.DownloadURL, slot.FileKey)
	assert.Contains(t, slot.DownloadURL, "X-Amz-Expires=3600")
}

func TestR2Storage_CustomEndpointOverridesDerived(t *testing.T) {
	store, err := NewR2Storage("test-account", "test-key-id", "test-secret", "clipboard-test",
		"https://minio.internal:9000")
	require.NoError(t, err)

	slot, err := store.IssueUploadSlot(context.Background(), "x.bin", "application/octet-stream")
	require.NoError(t, err)

	assert.Contains(t, slot.UploadURL, "minio.internal:9000")
	assert.NotContains(t, slot.UploadURL, "r2.cloudflarestorage.com")
}

func TestR2Storage_DirectIONotSupported(t *testing.T) {
	store := newTestR2(t)
	ctx := context.Background()

	_, _, err := store.Read(ctx, "1700000000_x.bin")
	assert.ErrorIs(t, err, ErrUnsupported)

	err = store.Write(ctx, "1700000000_x.bin", []byte("x"), "text/plain")
	assert.ErrorIs(t, err, ErrUnsupported)
}
