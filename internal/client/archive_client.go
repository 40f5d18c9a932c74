package client

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rentscope/api/internal/config"
)

// ResultArchive keeps raw worker result payloads for replay and audits.
type ResultArchive interface {
	Store(ctx context.Context, locationID, jobID string, payload []byte) (string, error)
}

// ArchiveClient implements ResultArchive on an S3-compatible bucket.
type ArchiveClient struct {
	s3Client   *s3.Client
	bucketName string
}

// NewArchiveClient returns nil and no error when archiving is not configured.
func NewArchiveClient(ctx context.Context, cfg *config.ArchiveConfig) (*ArchiveClient, error) {
	if cfg.AccessKeyID == "" && cfg.SecretAccessKey == "" {
		return nil, nil
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.BucketName == "" {
		return nil, fmt.Errorf("archive configuration incomplete")
	}

	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &ArchiveClient{
		s3Client:   s3Client,
		bucketName: cfg.BucketName,
	}, nil
}

// ArchiveKey is where a job's raw result is stored.
func ArchiveKey(locationID, jobID string) string {
	return fmt.Sprintf("results/%s/%s.json", locationID, jobID)
}

// Store writes the payload and returns its key. A redelivered result
// overwrites the earlier copy.
func (c *ArchiveClient) Store(ctx context.Context, locationID, jobID string, payload []byte) (string, error) {
	key := ArchiveKey(locationID, jobID)
	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive result %s: %w", key, err)
	}
	return key, nil
}
