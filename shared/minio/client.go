package minio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds S3-compatible object storage configuration
type Config struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	Region       string
	Bucket       string
	CreateBucket bool
}

// Client writes uploaded objects to an S3-compatible store
type Client struct {
	client *minio.Client
	config *Config
	logger *slog.Logger
}

// NewClient creates a new object storage client and optionally ensures the bucket exists
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	logger.Info("Connecting to object storage",
		slog.String("endpoint", config.Endpoint),
		slog.String("bucket", config.Bucket),
		slog.Bool("use_ssl", config.UseSSL),
	)

	mc, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	client := &Client{
		client: mc,
		config: config,
		logger: logger,
	}

	if config.CreateBucket {
		if err := client.ensureBucket(ctx, config.Bucket); err != nil {
			return nil, err
		}
	}

	return client, nil
}

func (c *Client) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := c.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}

	if err := c.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.config.Region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}

	c.logger.Info("Created object storage bucket", slog.String("bucket", bucket))
	return nil
}

// Bucket returns the configured upload bucket
func (c *Client) Bucket() string {
	return c.config.Bucket
}

// Put writes data under bucket/key
func (c *Client) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	info, err := c.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		c.logger.Error("Failed to put object",
			slog.String("bucket", bucket),
			slog.String("key", key),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to put object %s/%s: %w", bucket, key, err)
	}

	if info.Size != int64(len(data)) {
		return fmt.Errorf("short write for object %s/%s: wrote %d of %d bytes", bucket, key, info.Size, len(data))
	}

	c.logger.Debug("Object stored",
		slog.String("bucket", bucket),
		slog.String("key", key),
		slog.Int64("size", info.Size),
		slog.String("etag", info.ETag),
	)

	return nil
}

// HealthCheck verifies the upload bucket is reachable
func (c *Client) HealthCheck(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.config.Bucket)
	if err != nil {
		return fmt.Errorf("object storage health check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("object storage health check failed: bucket %s does not exist", c.config.Bucket)
	}
	return nil
}

// ContentTypeForExtension maps a video file extension to its MIME type
func ContentTypeForExtension(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "mp4":
		return "video/mp4"
	case "mov":
		return "video/quicktime"
	case "mkv":
		return "video/x-matroska"
	case "webm":
		return "video/webm"
	case "avi":
		return "video/x-msvideo"
	default:
		return "application/octet-stream"
	}
}
