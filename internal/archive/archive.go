// Package archive stores query photos in S3 for later review of misidentified dishes.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// ObjectStore is the subset of the S3 client the archiver needs.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes photos to a bucket under a date-partitioned prefix.
type S3Archiver struct {
	store  ObjectStore
	bucket string
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// NewS3Archiver creates an S3Archiver.
func NewS3Archiver(store ObjectStore, bucket, prefix string, logger *zap.Logger) *S3Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Archiver{
		store:  store,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
		logger: logger.Named("archive"),
	}
}

// Archive uploads data and returns the object key.
func (a *S3Archiver) Archive(ctx context.Context, requestID string, data []byte) (string, error) {
	contentType := http.DetectContentType(data)
	key := path.Join(a.prefix, a.now().UTC().Format("2006/01/02"), requestID+extensionFor(contentType))

	_, err := a.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{"request-id": requestID},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	a.logger.Debug("query photo archived", zap.String("bucket", a.bucket), zap.String("key", key))
	return key, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	default:
		return ".bin"
	}
}
