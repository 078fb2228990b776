package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds S3 client and bucket info
type S3Config struct {
	Client     *s3.Client
	BucketName string
	Prefix     string
}

// NewS3Config initializes the S3 client for the query photo archive
func NewS3Config(ctx context.Context, cfg *Config) (*S3Config, error) {
	if cfg.ArchiveBucket == "" {
		return nil, fmt.Errorf("ARCHIVE_BUCKET is not set")
	}

	// Credentials come from the environment or shared config
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.AWSRegion),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Config{
		Client:     s3.NewFromConfig(awsCfg),
		BucketName: cfg.ArchiveBucket,
		Prefix:     cfg.ArchivePrefix,
	}, nil
}
