// Package preview signs short-lived URLs for artifact media so reviewers can
// load previews straight from object storage.
package preview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"review-queue/internal/config"
)

// S3Signer presigns GET requests for objects in one bucket.
type S3Signer struct {
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
}

// NewS3Signer loads AWS credentials from the default chain. It returns nil
// without error when no preview bucket is configured.
func NewS3Signer(ctx context.Context, cfg config.Config) (*S3Signer, error) {
	if cfg.PreviewBucket == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.PreviewRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3SignerFromAWS(awsCfg, cfg), nil
}

// NewS3SignerFromAWS builds a signer from an already loaded AWS config.
func NewS3SignerFromAWS(awsCfg aws.Config, cfg config.Config) *S3Signer {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PreviewEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.PreviewEndpoint)
		}
		o.UsePathStyle = cfg.PreviewPathStyle
	})
	ttl := cfg.PreviewURLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &S3Signer{
		presign: s3.NewPresignClient(client),
		bucket:  cfg.PreviewBucket,
		ttl:     ttl,
	}
}

// PreviewURL returns a presigned GET URL for mediaKey.
func (s *S3Signer) PreviewURL(ctx context.Context, mediaKey string) (string, error) {
	key := strings.TrimLeft(mediaKey, "/")
	if key == "" {
		return "", errors.New("media key is empty")
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}
