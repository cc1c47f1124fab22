package objectstore

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Config configures an S3Store.
type Config struct {
	Bucket   string
	Region   string
	KeyPrefix string

	// PublicBaseURL, when set, is used to build public URLs instead of
	// the default virtual-hosted-style S3 URL (e.g. behind a CDN).
	PublicBaseURL string

	// Endpoint overrides the S3 endpoint for S3-compatible stores
	// (MinIO, R2, etc.).
	Endpoint string

	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// LoadFromEnv builds a Config from OBJECTSTORE_/AWS_-prefixed environment
// variables, matching the bedrock Factory's env-driven credential
// discovery.
func LoadFromEnv() *Config {
	cfg := &Config{
		Bucket:        os.Getenv("OBJECTSTORE_BUCKET"),
		Region:        os.Getenv("AWS_REGION"),
		KeyPrefix:     os.Getenv("OBJECTSTORE_KEY_PREFIX"),
		PublicBaseURL: os.Getenv("OBJECTSTORE_PUBLIC_BASE_URL"),
		Endpoint:      os.Getenv("OBJECTSTORE_ENDPOINT"),
	}
	if cfg.Region == "" {
		cfg.Region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return cfg
}

// loadAWSConfig follows ai/providers/bedrock.CreateAWSConfig's layered
// credential resolution: explicit credentials first, then the SDK's
// default chain (IAM role, env vars, shared config file).
func loadAWSConfig(ctx context.Context, cfg *Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("objectstore: load AWS config: %w", err)
	}
	return awsCfg, nil
}
