package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/deepauras/auroraflow/core"
)

// s3API is the subset of *s3.Client this store calls, narrowed so tests
// can substitute a fake without a real AWS endpoint.
type s3API interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store implements Store over the same aws-sdk-go-v2 family the
// teacher's bedrock provider uses, extended here to the S3 service
// client rather than introducing a second cloud SDK.
type S3Store struct {
	client s3API
	cfg    *Config
	logger core.Logger
}

// NewS3Store constructs an S3Store from an explicit Config, resolving AWS
// credentials the same way ai/providers/bedrock.Factory.Create does.
func NewS3Store(ctx context.Context, cfg *Config, logger core.Logger) (*S3Store, error) {
	if cfg == nil {
		cfg = LoadFromEnv()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("objectstore")
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, cfg: cfg, logger: logger}, nil
}

func (s *S3Store) objectKey(filename string) string {
	if s.cfg.KeyPrefix == "" {
		return filename
	}
	return fmt.Sprintf("%s/%s", s.cfg.KeyPrefix, filename)
}

func (s *S3Store) UploadHTML(ctx context.Context, html []byte, filename string, meta map[string]string) (*UploadResult, error) {
	key := s.objectKey(filename)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(html),
		ContentType: aws.String("text/html; charset=utf-8"),
	}
	if len(meta) > 0 {
		input.Metadata = meta
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		s.logger.Error("objectstore upload failed", map[string]interface{}{
			"bucket": s.cfg.Bucket,
			"key":    key,
			"error":  err.Error(),
		})
		return nil, fmt.Errorf("objectstore: put object %s: %w", key, err)
	}

	return &UploadResult{
		PublicURL:     s.publicURL(key),
		FilePath:      key,
		ContentLength: int64(len(html)),
		UploadTime:    time.Now().UTC(),
	}, nil
}

func (s *S3Store) publicURL(key string) string {
	if s.cfg.PublicBaseURL != "" {
		return fmt.Sprintf("%s/%s", s.cfg.PublicBaseURL, key)
	}
	if s.cfg.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.cfg.Endpoint, s.cfg.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
}
