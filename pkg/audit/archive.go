package audit

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArchiveConfig configures the S3 (or MinIO) target for audit archives
type ArchiveConfig struct {
	Bucket    string
	Endpoint  string // empty for AWS S3
	Region    string
	AccessKey string // empty uses the default credential chain
	SecretKey string
	PathStyle bool // required for MinIO
}

// S3Archiver writes aged audit windows to object storage before the
// retention sweep deletes them
type S3Archiver struct {
	client *s3.Client
	bucket string
}

// NewS3Archiver creates a new archiver from the given config
func NewS3Archiver(ctx context.Context, cfg ArchiveConfig) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	var awsConfig aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		// Static credentials (MinIO, or AWS with explicit keys)
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey, cfg.SecretKey, "",
			)),
		)
	} else {
		// Default credential chain (IAM roles, env vars, etc.)
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &S3Archiver{client: client, bucket: cfg.Bucket}, nil
}

// Archive uploads entries as one JSON object keyed by the window they cover.
// Key layout: audit/<from>_<to>.json with RFC3339 date stamps.
func (a *S3Archiver) Archive(ctx context.Context, entries []*Entry, from, to time.Time) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	if err := Export(&buf, entries, ExportFormatJSON); err != nil {
		return "", fmt.Errorf("failed to encode archive: %w", err)
	}

	key := fmt.Sprintf("audit/%s_%s.json",
		from.UTC().Format("2006-01-02"), to.UTC().Format("2006-01-02"))

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload audit archive %s: %w", key, err)
	}

	return key, nil
}
