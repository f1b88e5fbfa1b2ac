package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// deleteBatchSize is the S3 DeleteObjects limit per request.
const deleteBatchSize = 1000

// R2Storage handles Cloudflare R2 operations using AWS SDK v2
type R2Storage struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
}

// NewR2Storage creates a new R2 storage client. An empty endpoint derives the
// canonical R2 endpoint from the account ID; a non-empty one points the client
// at any S3-compatible store.
func NewR2Storage(accountID, accessKeyID, secretAccessKey, bucket, endpoint string) (*R2Storage, error) {
	if accountID == "" || accessKeyID == "" || secretAccessKey == "" || bucket == "" {
		return nil, fmt.Errorf("R2 configuration incomplete")
	}

	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
	}

	// Create AWS credentials
	creds := credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")

	// Create S3 client configured for R2
	client := s3.New(s3.Options{
		Region:       "auto",
		Credentials:  creds,
		BaseEndpoint: aws.String(endpoint),
	})

	// Create presigner
	presigner := s3.NewPresignClient(client)

	return &R2Storage{
		client:    client,
		presigner: presigner,
		bucket:    bucket,
	}, nil
}

// Backend reports the backend name.
func (r *R2Storage) Backend() string {
	return BackendR2
}

// IssueUploadSlot mints an object key and presigns a PUT/GET pair for it. The
// sender uploads straight to the bucket; the receiver downloads the same way.
func (r *R2Storage) IssueUploadSlot(ctx context.Context, filename, contentType string) (*UploadSlot, error) {
	objectKey := makeFileKey(filename)

	uploadURL, err := r.presignPut(ctx, objectKey, contentType)
	if err != nil {
		return nil, err
	}
	downloadURL, err := r.presignGet(ctx, objectKey)
	if err != nil {
		return nil, err
	}

	return &UploadSlot{
		UploadURL:   uploadURL,
		DownloadURL: downloadURL,
		FileKey:     objectKey,
		ExpiresIn:   int(UploadURLTTL.Seconds()),
	}, nil
}

// presignPut generates a presigned URL for uploading a file
func (r *R2Storage) presignPut(ctx context.Context, objectKey, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(objectKey),
		ContentType: aws.String(contentType),
	}

	request, err := r.presigner.PresignPutObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = UploadURLTTL
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned PUT URL: %w", err)
	}

	return request.URL, nil
}

// presignGet generates a presigned URL for downloading a file
func (r *R2Storage) presignGet(ctx context.Context, objectKey string) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(objectKey),
	}

	request, err := r.presigner.PresignGetObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = DownloadURLTTL
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned GET URL: %w", err)
	}

	return request.URL, nil
}

// Read is unsupported: r2 clients fetch bytes through presigned URLs.
func (r *R2Storage) Read(ctx context.Context, fileKey string) ([]byte, string, error) {
	return nil, "", ErrUnsupported
}

// Write is unsupported: r2 clients upload bytes through presigned URLs.
func (r *R2Storage) Write(ctx context.Context, fileKey string, data []byte, contentType string) error {
	return ErrUnsupported
}

// Usage walks the bucket and totals object sizes.
func (r *R2Storage) Usage(ctx context.Context) (*Usage, error) {
	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
	})

	usage := &Usage{Bucket: r.bucket}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list bucket objects: %w", err)
		}
		usage.ScannedObjects += len(page.Contents)
		for _, obj := range page.Contents {
			usage.TotalBytes += aws.ToInt64(obj.Size)
			usage.ObjectsCount++
		}
	}
	usage.TotalHuman = formatBytesHuman(usage.TotalBytes)
	return usage, nil
}

// Empty deletes every object in the bucket in batches of 1000.
func (r *R2Storage) Empty(ctx context.Context) (*PurgeReport, error) {
	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
	})

	report := &PurgeReport{Bucket: r.bucket}
	batch := make([]types.ObjectIdentifier, 0, deleteBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := r.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(r.bucket),
			Delete: &types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		batch = batch[:0]
		if err != nil {
			return fmt.Errorf("failed to delete object batch: %w", err)
		}
		return nil
	}

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list bucket objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			batch = append(batch, types.ObjectIdentifier{Key: obj.Key})
			report.DeletedObjects++
			report.ReclaimedBytes += aws.ToInt64(obj.Size)
			if len(batch) == deleteBatchSize {
				if err := flush(); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	report.ReclaimedHuman = formatBytesHuman(report.ReclaimedBytes)
	return report, nil
}
