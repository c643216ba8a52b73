// Package s3 implements domain.BlobStore against an S3-compatible object
// store (AWS S3 or MinIO), the two input/processed buckets named in
// spec.md §6.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fairyhunter13/watermark-removal/internal/config"
)

// Store implements domain.BlobStore on top of an S3/MinIO client.
type Store struct {
	client   *s3.Client
	endpoint string
}

// New builds a Store from application configuration. A non-empty
// BlobEndpoint switches to MinIO-compatible path-style addressing.
func New(ctx context.Context, cfg config.Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.BlobRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.BlobAccessKey, cfg.BlobSecretKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("op=blob.new.load_config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.BlobEndpoint != ""
		if cfg.BlobEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BlobEndpoint)
		}
	})

	return &Store{client: client, endpoint: cfg.BlobEndpoint}, nil
}

// Put uploads body to bucket/key and returns the addressable URL.
func (s *Store) Put(ctx context.Context, bucket, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("op=blob.put bucket=%s key=%s: %w", bucket, key, err)
	}
	return s.URL(bucket, key), nil
}

// Get downloads the object at bucket/key.
func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("op=blob.get bucket=%s key=%s: %w", bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("op=blob.get.read bucket=%s key=%s: %w", bucket, key, err)
	}
	return data, nil
}

// URL returns the addressable URL for an object, path-style against the
// configured endpoint when set (MinIO), otherwise the virtual-hosted AWS
// S3 URL form.
func (s *Store) URL(bucket, key string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, key)
}
