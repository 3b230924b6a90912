package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/groundline/groundline/internal/errdefs"
)

// S3Config configures an S3-compatible blob store.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Store stores blobs in an S3-compatible bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	now    func() time.Time
}

var _ BlobStore = (*S3Store)(nil)

// NewS3Store creates an S3-backed blob store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOptions := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: bucket, now: time.Now}, nil
}

// Put stores the blob, idempotent on docID. An existing object short-
// circuits without a rewrite; the sha256 in its metadata already pins the
// content.
func (s *S3Store) Put(ctx context.Context, docID string, data io.Reader, meta Metadata) (string, error) {
	createdAt := meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	key := ObjectKey(docID, createdAt)

	exists, err := s.exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		return s.ref(key), nil
	}

	input := &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   data,
		Metadata: map[string]string{
			"uploader-id":  meta.UploaderID,
			"filename":     meta.Filename,
			"content-type": meta.ContentType,
			"sha256":       meta.SHA256,
		},
	}
	if meta.ContentType != "" {
		input.ContentType = aws.String(meta.ContentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", storeErr("put object", err)
	}
	return s.ref(key), nil
}

// Get retrieves the blob and metadata by object ref.
func (s *S3Store) Get(ctx context.Context, objectRef string) (io.ReadCloser, Metadata, error) {
	key, err := s.key(objectRef)
	if err != nil {
		return nil, Metadata{}, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, Metadata{}, errdefs.NotFound("object " + objectRef)
		}
		return nil, Metadata{}, storeErr("get object", err)
	}
	return out.Body, Metadata{
		UploaderID:  out.Metadata["uploader-id"],
		Filename:    out.Metadata["filename"],
		ContentType: out.Metadata["content-type"],
		SHA256:      out.Metadata["sha256"],
	}, nil
}

// Delete removes the blob; S3 treats absent keys as success.
func (s *S3Store) Delete(ctx context.Context, objectRef string) error {
	key, err := s.key(objectRef)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}); err != nil {
		return storeErr("delete object", err)
	}
	return nil
}

// Close releases resources.
func (s *S3Store) Close() error { return nil }

func (s *S3Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, storeErr("head object", err)
}

func (s *S3Store) ref(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

func (s *S3Store) key(objectRef string) (string, error) {
	prefix := "s3://" + s.bucket + "/"
	if !strings.HasPrefix(objectRef, prefix) {
		return "", errdefs.InvalidInput("malformed object ref " + objectRef)
	}
	return strings.TrimPrefix(objectRef, prefix), nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) &&
		(strings.EqualFold(apiErr.ErrorCode(), "NotFound") || strings.EqualFold(apiErr.ErrorCode(), "NoSuchKey"))
}

func storeErr(op string, err error) error {
	return errdefs.Unavailable(errdefs.KindObjectStoreUnavailable,
		fmt.Errorf("s3 %s: %w", op, err)).WithStage("persist")
}
