package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"

	"github.com/clipnote/clipnote-backend/internal/config"
	"github.com/clipnote/clipnote-backend/internal/logger"
)

// ErrStorageUnavailable marks failures talking to the object store itself,
// as opposed to a missing object.
var ErrStorageUnavailable = errors.New("object storage unavailable")

// ObjectStoreService wraps the S3-compatible backing store. Uploads never
// stream through this process: clients PUT directly against presigned URLs.
type ObjectStoreService interface {
	VideoKey(ownerID, videoID uuid.UUID, ext string) string
	IssuePutURL(ctx context.Context, key, contentType string) (string, time.Time, error)
	IssueGetURL(ctx context.Context, key string) (string, time.Time, error)
	Exists(ctx context.Context, key string) (bool, int64, error)
	PutLocalFile(ctx context.Context, key, localPath, contentType string) error
	GetToLocalFile(ctx context.Context, key, localPath string) (int64, error)
	Delete(ctx context.Context, key string) error
}

type objectStoreService struct {
	client *s3.S3
	bucket string
	ttl    time.Duration
	log    *logger.Logger
}

func NewObjectStoreService(cfg *config.Config, baseLog *logger.Logger) (ObjectStoreService, error) {
	log := baseLog.With("service", "ObjectStoreService")

	awsCfg := aws.NewConfig().
		WithRegion(cfg.Storage.Region).
		WithS3ForcePathStyle(cfg.Storage.ForcePathStyle)
	if cfg.Storage.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Storage.Endpoint)
	}
	if cfg.Storage.AccessKey != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""))
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("object store session: %w", err)
	}

	log.Info("Object store configured", "bucket", cfg.Storage.Bucket, "endpoint", cfg.Storage.Endpoint)
	return &objectStoreService{
		client: s3.New(sess),
		bucket: cfg.Storage.Bucket,
		ttl:    cfg.PresignedTTL(),
		log:    log,
	}, nil
}

// VideoKey builds the canonical object key for an owner's video. The extension
// arrives already validated and lowercased.
func (s *objectStoreService) VideoKey(ownerID, videoID uuid.UUID, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	return fmt.Sprintf("videos/%s/%s.%s", ownerID, videoID, ext)
}

func (s *objectStoreService) IssuePutURL(ctx context.Context, key, contentType string) (string, time.Time, error) {
	req, _ := s.client.PutObjectRequest(&s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	req.SetContext(ctx)
	url, err := req.Presign(s.ttl)
	if err != nil {
		s.log.Error("Failed to presign PUT", "key", key, "error", err)
		return "", time.Time{}, fmt.Errorf("%w: presign put: %v", ErrStorageUnavailable, err)
	}
	return url, time.Now().Add(s.ttl), nil
}

func (s *objectStoreService) IssueGetURL(ctx context.Context, key string) (string, time.Time, error) {
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	req.SetContext(ctx)
	url, err := req.Presign(s.ttl)
	if err != nil {
		s.log.Error("Failed to presign GET", "key", key, "error", err)
		return "", time.Time{}, fmt.Errorf("%w: presign get: %v", ErrStorageUnavailable, err)
	}
	return url, time.Now().Add(s.ttl), nil
}

// Exists reports whether the object is present and, when it is, its size.
func (s *objectStoreService) Exists(ctx context.Context, key string) (bool, int64, error) {
	head, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.RequestFailure
		if errors.As(err, &aerr) && (aerr.StatusCode() == 404 || aerr.Code() == "NotFound") {
			return false, 0, nil
		}
		s.log.Error("Head object failed", "key", key, "error", err)
		return false, 0, fmt.Errorf("%w: head %s: %v", ErrStorageUnavailable, key, err)
	}
	return true, aws.Int64Value(head.ContentLength), nil
}

func (s *objectStoreService) PutLocalFile(ctx context.Context, key, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		s.log.Error("Put object failed", "key", key, "error", err)
		return fmt.Errorf("%w: put %s: %v", ErrStorageUnavailable, key, err)
	}
	return nil
}

func (s *objectStoreService) GetToLocalFile(ctx context.Context, key, localPath string) (int64, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		s.log.Error("Get object failed", "key", key, "error", err)
		return 0, fmt.Errorf("%w: get %s: %v", ErrStorageUnavailable, key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, fmt.Errorf("mkdir for %s: %w", localPath, err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", localPath, err)
	}
	defer f.Close()

	n, err := f.ReadFrom(out.Body)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", key, err)
	}
	return n, nil
}

// Delete is idempotent: deleting a missing object is not an error.
func (s *objectStoreService) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.RequestFailure
		if errors.As(err, &aerr) && aerr.StatusCode() == 404 {
			return nil
		}
		s.log.Error("Delete object failed", "key", key, "error", err)
		return fmt.Errorf("%w: delete %s: %v", ErrStorageUnavailable, key, err)
	}
	return nil
}
