package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	metaSuffix = ".meta"

	// maxObjectAge is how long an uploaded object may sit before the
	// housekeeper reclaims it. Relay objects are transient by contract.
	maxObjectAge = time.Hour

	// cleanupInterval is how often the housekeeper sweeps.
	cleanupInterval = time.Hour
)

// ErrBadKey is returned for file keys that could escape the storage
// directory.
var ErrBadKey = errors.New("storage: invalid file key")

// objectMeta is the sidecar written next to each stored object.
type objectMeta struct {
	ContentType string `json:"content_type"`
	CreatedAt   int64  `json:"created_at"`
}

// LocalStore keeps relay objects on the local disk and serves them through
// the coordinator's own HTTP surface. Each object carries a sidecar with its
// content type and creation time; a background housekeeper purges objects
// older than maxObjectAge.
type LocalStore struct {
	dir     string
	baseURL string
	logger  *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewLocalStore creates the storage directory and starts the housekeeper.
func NewLocalStore(dir, baseURL string, logger *zap.Logger) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("local storage path not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	l := &LocalStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		done:    make(chan struct{}),
	}

	l.wg.Add(1)
	go l.housekeeper()

	return l, nil
}

// Close stops the housekeeper.
func (l *LocalStore) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	l.wg.Wait()
	return nil
}

// Backend reports the backend name.
func (l *LocalStore) Backend() string {
	return BackendLocal
}

// isSafeKey rejects keys that could resolve outside the storage directory.
func isSafeKey(key string) bool {
	return key != "" &&
		!strings.Contains(key, "/") &&
		!strings.Contains(key, `\`) &&
		!strings.Contains(key, "..")
}

// IssueUploadSlot mints an object key and points both URLs back at the
// coordinator's own upload and download handlers.
func (l *LocalStore) IssueUploadSlot(ctx context.Context, filename, contentType string) (*UploadSlot, error) {
	if !isSafeKey(filename) {
		return nil, ErrBadKey
	}
	objectKey := makeFileKey(filename)

	return &UploadSlot{
		UploadURL:   l.baseURL + "/api/file/upload/" + objectKey,
		DownloadURL: l.baseURL + "/api/file/download/" + objectKey,
		FileKey:     objectKey,
		ExpiresIn:   int(UploadURLTTL.Seconds()),
	}, nil
}

// Write stores the object bytes and a metadata sidecar.
func (l *LocalStore) Write(ctx context.Context, fileKey string, data []byte, contentType string) error {
	if !isSafeKey(fileKey) {
		return ErrBadKey
	}

	if err := os.WriteFile(filepath.Join(l.dir, fileKey), data, 0o644); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}

	meta, err := json.Marshal(objectMeta{
		ContentType: contentType,
		CreatedAt:   time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode object metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.dir, fileKey+metaSuffix), meta, 0o644); err != nil {
		return fmt.Errorf("failed to write object metadata: %w", err)
	}
	return nil
}

// Read returns the object bytes and content type. Objects written without a
// readable sidecar come back as application/octet-stream.
func (l *LocalStore) Read(ctx context.Context, fileKey string) ([]byte, string, error) {
	if !isSafeKey(fileKey) {
		return nil, "", ErrBadKey
	}

	data, err := os.ReadFile(filepath.Join(l.dir, fileKey))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read object: %w", err)
	}

	contentType := "application/octet-stream"
	if raw, err := os.ReadFile(filepath.Join(l.dir, fileKey+metaSuffix)); err == nil {
		var meta objectMeta
		if err := json.Unmarshal(raw, &meta); err == nil && meta.ContentType != "" {
			contentType = meta.ContentType
		}
	}
	return data, contentType, nil
}

// Usage totals the stored objects, excluding metadata sidecars.
func (l *LocalStore) Usage(ctx context.Context) (*Usage, error) {
	usage := &Usage{Bucket: l.dir}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan storage directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasSuffix(entry.Name(), metaSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		usage.TotalBytes += info.Size()
		usage.ObjectsCount++
	}
	usage.ScannedObjects = usage.ObjectsCount
	usage.TotalHuman = formatBytesHuman(usage.TotalBytes)
	return usage, nil
}

// Empty deletes every stored object and sidecar.
func (l *LocalStore) Empty(ctx context.Context) (*PurgeReport, error) {
	report := &PurgeReport{Bucket: l.dir}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan storage directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if err := os.Remove(filepath.Join(l.dir, entry.Name())); err != nil {
			l.logger.Warn("Failed to remove stored object", zap.String("name", entry.Name()), zap.Error(err))
			continue
		}
		if !strings.HasSuffix(entry.Name(), metaSuffix) {
			report.DeletedObjects++
			report.ReclaimedBytes += info.Size()
		}
	}
	report.ReclaimedHuman = formatBytesHuman(report.ReclaimedBytes)
	return report, nil
}

// purgeOld removes objects whose sidecar says they are older than maxAge.
// Returns the number of data objects removed.
func (l *LocalStore) purgeOld(maxAge time.Duration) int {
	matches, err := filepath.Glob(filepath.Join(l.dir, "*"+metaSuffix))
	if err != nil {
		return 0
	}

	now := time.Now().Unix()
	deleted := 0
	for _, metaPath := range matches {
		raw, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}
		var meta objectMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		if now-meta.CreatedAt <= int64(maxAge.Seconds()) {
			continue
		}

		dataPath := strings.TrimSuffix(metaPath, metaSuffix)
		if err := os.Remove(dataPath); err == nil {
			deleted++
		}
		_ = os.Remove(metaPath)
	}
	return deleted
}

func (l *LocalStore) housekeeper() {
	defer l.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if n := l.purgeOld(maxObjectAge); n > 0 {
				l.logger.Info("Purged expired uploads", zap.Int("count", n))
			}
		}
	}
}
