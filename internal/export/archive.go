package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore is the subset of the MinIO client the archive needs.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, params url.Values) (*url.URL, error)
}

// ArchiveConfig configures the MinIO connection.
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	LinkTTL   time.Duration
}

// Archived describes a stored export.
type Archived struct {
	Object      string    `json:"object"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	DownloadURL string    `json:"downloadUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Archive writes rendered exports to an S3-compatible bucket.
type Archive struct {
	store   ObjectStore
	bucket  string
	linkTTL time.Duration
	now     func() time.Time
	log     *slog.Logger
}

// NewMinioArchive dials MinIO and makes sure the bucket exists.
func NewMinioArchive(ctx context.Context, cfg ArchiveConfig, log *slog.Logger) (*Archive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	a := NewArchive(client, cfg.Bucket, cfg.LinkTTL, log)
	if err := a.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// NewArchive wraps an existing object store.
func NewArchive(store ObjectStore, bucket string, linkTTL time.Duration, log *slog.Logger) *Archive {
	if log == nil {
		log = slog.Default()
	}
	if linkTTL <= 0 {
		linkTTL = 24 * time.Hour
	}
	return &Archive{
		store:   store,
		bucket:  bucket,
		linkTTL: linkTTL,
		now:     time.Now,
		log:     log.With("component", "export_archive"),
	}
}

func (a *Archive) ensureBucket(ctx context.Context) error {
	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	a.log.Info("created export bucket", "bucket", a.bucket)
	return nil
}

// Store uploads res under boards/<id>/<timestamp>-<filename> and presigns a GET.
func (a *Archive) Store(ctx context.Context, boardID int64, res *Result) (Archived, error) {
	now := a.now().UTC()
	object := path.Join("boards", fmt.Sprint(boardID), now.Format("20060102T150405Z")+"-"+res.Filename)

	info, err := a.store.PutObject(ctx, a.bucket, object, bytes.NewReader(res.Data), int64(len(res.Data)), minio.PutObjectOptions{
		ContentType: res.MimeType,
	})
	if err != nil {
		return Archived{}, fmt.Errorf("upload export: %w", err)
	}

	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	link, err := a.store.PresignedGetObject(ctx, a.bucket, object, a.linkTTL, params)
	if err != nil {
		return Archived{}, fmt.Errorf("presign export: %w", err)
	}

	a.log.Info("archived export", "board_id", boardID, "object", object, "size", info.Size)
	return Archived{
		Object:      object,
		Filename:    res.Filename,
		Size:        int64(len(res.Data)),
		DownloadURL: link.String(),
		ExpiresAt:   now.Add(a.linkTTL),
	}, nil
}
