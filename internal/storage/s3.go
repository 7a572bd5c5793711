package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aviz85/gemini-video-playground/internal/config"
)

// ErrEmptyKey is returned when an object key resolves to nothing.
var ErrEmptyKey = errors.New("s3 storage: empty key")

// ThumbnailKey returns the object key of a video's thumbnail.
func ThumbnailKey(videoID string) string {
	return "videos/thumbnails/" + videoID + ".jpg"
}

// S3Storage stores thumbnails in an S3-compatible bucket.
type S3Storage struct {
	uploader *manager.Uploader
	bucket   string
	baseURL  string
}

// NewS3Storage configures an uploader targeting the provided object store.
func NewS3Storage(ctx context.Context, cfg config.ObjectStoreConfig) (*S3Storage, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.LeavePartsOnError = false
	})

	return newS3Storage(uploader, cfg), nil
}

func newS3Storage(uploader *manager.Uploader, cfg config.ObjectStoreConfig) *S3Storage {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if baseURL == "" && strings.TrimSpace(cfg.Endpoint) != "" {
		baseURL = strings.TrimSuffix(strings.TrimSpace(cfg.Endpoint), "/") + "/" + cfg.Bucket
	}
	return &S3Storage{
		uploader: uploader,
		bucket:   cfg.Bucket,
		baseURL:  baseURL,
	}
}

// Save uploads r under key, replacing any existing object, and returns the key.
func (s *S3Storage) Save(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", ErrEmptyKey
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("s3 storage upload %s: %w", key, err)
	}

	return key, nil
}

// PublicURL resolves a stored key to a URL clients can fetch. Keys that are
// already absolute URLs are returned unchanged.
func (s *S3Storage) PublicURL(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		return key
	}
	key = strings.TrimLeft(key, "/")
	if s.baseURL == "" {
		return key
	}
	return s.baseURL + "/" + key
}
