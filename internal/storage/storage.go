// Package storage provides the object store behind relay file transfers.
// Clients never stream file bytes through the signaling server on the r2
// backend; they receive presigned URLs and talk to the bucket directly. The
// local backend keeps everything on disk for single-box deployments and lets
// the HTTP layer serve the bytes itself.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backend names accepted in configuration.
const (
	BackendR2    = "r2"
	BackendLocal = "local"
)

const (
	// UploadURLTTL bounds how long an issued upload URL stays valid.
	UploadURLTTL = 300 * time.Second

	// DownloadURLTTL bounds how long an issued download URL stays valid.
	DownloadURLTTL = 3600 * time.Second
)

// ErrNotFound is returned when a file key does not resolve to an object.
var ErrNotFound = errors.New("storage: object not found")

// ErrUnsupported is returned for operations a backend cannot serve, such as
// reading bytes through the r2 presigner.
var ErrUnsupported = errors.New("storage: operation not supported by backend")

// UploadSlot carries everything a client needs to move one file through the
// store: where to PUT it, where the receiver GETs it, and for how long.
type UploadSlot struct {
	UploadURL   string `json:"upload_url"`
	DownloadURL string `json:"download_url"`
	FileKey     string `json:"file_key"`
	ExpiresIn   int    `json:"expires_in"`
}

// Usage summarizes the store for the dashboard.
type Usage struct {
	Backend        string `json:"backend,omitempty"`
	Bucket         string `json:"bucket"`
	ObjectsCount   int    `json:"objects_count"`
	TotalBytes     int64  `json:"total_bytes"`
	TotalHuman     string `json:"total_human"`
	ScannedObjects int    `json:"scanned_objects"`
	UpdatedAtMS    int64  `json:"updated_at_epoch_ms,omitempty"`
}

// PurgeReport summarizes an emptied store.
type PurgeReport struct {
	Bucket         string `json:"bucket"`
	DeletedObjects int    `json:"deleted_objects"`
	ReclaimedBytes int64  `json:"reclaimed_bytes"`
	ReclaimedHuman string `json:"reclaimed_human"`
}

// Store is the object-store surface the relay needs. Read and Write move raw
// bytes and only the local backend supports them; the r2 backend returns
// ErrUnsupported because clients exchange bytes with the bucket directly.
type Store interface {
	Backend() string
	IssueUploadSlot(ctx context.Context, filename, contentType string) (*UploadSlot, error)
	Read(ctx context.Context, fileKey string) ([]byte, string, error)
	Write(ctx context.Context, fileKey string, data []byte, contentType string) error
	Usage(ctx context.Context) (*Usage, error)
	Empty(ctx context.Context) (*PurgeReport, error)
}

// makeFileKey prefixes the filename with a timestamp so concurrent uploads of
// the same file never collide on a key.
func makeFileKey(filename string) string {
	return fmt.Sprintf("%d_%s", time.Now().Unix(), filename)
}

// formatBytesHuman renders a byte count for the dashboard.
func formatBytesHuman(n int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB", "PB"}
	size := float64(n)
	for _, unit := range units {
		if size < 1024 || unit == units[len(units)-1] {
			return fmt.Sprintf("%.2f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%d B", n)
}
