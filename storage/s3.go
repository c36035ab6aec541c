package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	appconfig "classplanner_go/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// maxMaterialBytes caps how much curriculum source text is pulled into a
// generation prompt.
const maxMaterialBytes = 512 * 1024

type StorageService struct {
	client *s3.Client
	bucket string
}

// NewStorageService builds an S3-backed storage service from application config.
func NewStorageService(ctx context.Context) (*StorageService, error) {
	cfg := appconfig.AppConfig

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	if cfg.AWSAccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &StorageService{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.S3BucketName,
	}, nil
}

// FetchMaterial downloads curriculum source material by reference and returns
// it as text. The reference is either a bare object key in the default bucket
// or an s3://bucket/key URI.
func (s *StorageService) FetchMaterial(ctx context.Context, ref string) (string, error) {
	bucket, key := s.resolveRef(ref)
	if key == "" {
		return "", fmt.Errorf("invalid material reference %q", ref)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch material %s: %w", key, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(out.Body, maxMaterialBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read material %s: %w", key, err)
	}
	return string(raw), nil
}

// UploadArchive stores an export (e.g. an activity-log archive) under the
// given key and returns the object's S3 URI.
func (s *StorageService) UploadArchive(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// OpenObject returns a reader over an object by key or s3://bucket/key URI.
// The caller owns closing the reader.
func (s *StorageService) OpenObject(ctx context.Context, ref string) (io.ReadCloser, error) {
	bucket, key := s.resolveRef(ref)
	if key == "" {
		return nil, fmt.Errorf("invalid object reference %q", ref)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return out.Body, nil
}

// DeleteObject removes an object by key or s3://bucket/key URI.
func (s *StorageService) DeleteObject(ctx context.Context, ref string) error {
	bucket, key := s.resolveRef(ref)
	if key == "" {
		return fmt.Errorf("invalid object reference %q", ref)
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return err
}

func (s *StorageService) resolveRef(ref string) (bucket, key string) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "s3://") {
		rest := strings.TrimPrefix(ref, "s3://")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", ""
		}
		return parts[0], parts[1]
	}
	return s.bucket, ref
}
