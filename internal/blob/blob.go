// Package blob reads uploaded resumes from S3-compatible object storage.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"alumni/internal/config"
	"alumni/internal/errs"
)

// Store fetches objects by bucket and key.
type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// ParsePath splits "s3://bucket/key" (or "gs://bucket/key") into its parts.
// A path without a scheme is a key in defaultBucket.
func ParsePath(path, defaultBucket string) (bucket, key string, err error) {
	rest, hasScheme := strings.CutPrefix(path, "s3://")
	if !hasScheme {
		rest, hasScheme = strings.CutPrefix(path, "gs://")
	}
	if !hasScheme {
		key = strings.TrimPrefix(path, "/")
		if defaultBucket == "" || key == "" {
			return "", "", errs.Invalid("resume path %q has no bucket", path)
		}
		return defaultBucket, key, nil
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", errs.Invalid("malformed resume path %q", path)
	}
	return bucket, key, nil
}

// S3 reads objects through the AWS SDK. It works against AWS, Spaces and MinIO.
type S3 struct {
	client s3iface.S3API
}

// NewS3 wraps an SDK client.
func NewS3(client s3iface.S3API) *S3 {
	return &S3{client: client}
}

// New builds an S3 store from configuration.
func New(cfg config.App) (*S3, error) {
	if cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
		return nil, errors.New("object storage credentials not configured")
	}
	awsCfg := &aws.Config{
		Credentials: credentials.NewStaticCredentials(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Region:      aws.String(cfg.S3Region),
	}
	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create storage session: %w", err)
	}
	return NewS3(s3.New(sess)), nil
}

func (s *S3) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == s3.ErrCodeNoSuchBucket) {
			return nil, fmt.Errorf("%s/%s: %w", bucket, key, errs.ErrNotFound)
		}
		return nil, errs.Unavailable(fmt.Errorf("download %s/%s: %w", bucket, key, err))
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Memory is an in-process Store for development and tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Put stores data under bucket/key.
func (m *Memory) Put(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = bytes.Clone(data)
}

func (m *Memory) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, errs.ErrNotFound)
	}
	return bytes.Clone(data), nil
}
