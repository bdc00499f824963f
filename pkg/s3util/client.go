// Package s3util builds S3-compatible clients (AWS S3, MinIO, Cloudflare R2)
// for tiers that live in object storage.
package s3util

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gftdcojp/tickstore/internal/config"
)

const defaultRegion = "us-east-1"

// Client wraps the AWS S3 client together with the bucket layout of one tier.
type Client struct {
	S3           *s3.Client
	Bucket       string
	Prefix       string
	StorageClass s3types.StorageClass
}

// NewClient creates a new S3-compatible client from blob tier config.
func NewClient(ctx context.Context, cfg config.BlobTierConfig) (*Client, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{
		S3:           client,
		Bucket:       cfg.Bucket,
		Prefix:       strings.Trim(cfg.Prefix, "/"),
		StorageClass: s3types.StorageClass(cfg.StorageClass),
	}, nil
}

// Key maps a catalog-relative path to its object key under the prefix.
func (c *Client) Key(rel string) string {
	return JoinKey(c.Prefix, rel)
}

// JoinKey joins a prefix and a relative path into an object key.
func JoinKey(prefix, rel string) string {
	rel = strings.TrimLeft(rel, "/")
	if prefix == "" {
		return rel
	}
	return path.Join(prefix, rel)
}

// Ping checks connectivity by performing a HeadBucket operation.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.S3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &c.Bucket,
	})
	if err != nil {
		return fmt.Errorf("head bucket %s: %w", c.Bucket, err)
	}
	return nil
}
