// Package r2 provides an objstore.Store backed by a Cloudflare R2 bucket (or
// any S3-compatible endpoint) via the AWS SDK. Presigned URLs use SigV4
// query-parameter signing.
package r2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/castpipe/castpipe/pkg/objstore"
)

// Compile-time assertion that Store implements objstore.Store.
var _ objstore.Store = (*Store)(nil)

// Config holds the connection settings for an R2 bucket.
type Config struct {
	// Endpoint is the S3-compatible endpoint URL
	// (e.g. "https://<account>.r2.cloudflarestorage.com").
	Endpoint string

	// Bucket is the bucket name.
	Bucket string

	// AccessKeyID / SecretAccessKey are the SigV4 signing credentials.
	// Both must be set for presigning to work.
	AccessKeyID     string
	SecretAccessKey string

	// Region is the signing region. R2 accepts "auto".
	Region string
}

// Store is an R2-backed object store. Safe for concurrent use.
type Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	canSign   bool
}

// New creates a Store for the bucket described by cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("r2: endpoint must not be empty")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("r2: bucket must not be empty")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	canSign := cfg.AccessKeyID != "" && cfg.SecretAccessKey != ""
	if canSign {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("r2: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		// R2 does not support virtual-hosted-style bucket addressing.
		o.UsePathStyle = true
	})

	return &Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		canSign:   canSign,
	}, nil
}

// Get fetches the object stored under key.
func (s *Store) Get(ctx context.Context, key string) (*objstore.Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", objstore.ErrNotFound, key)
		}
		return nil, fmt.Errorf("r2: get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("r2: read %s: %w", key, err)
	}
	return &objstore.Object{
		Data:        data,
		ContentType: aws.ToString(out.ContentType),
	}, nil
}

// Put stores data under key with the given content type.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("r2: put %s: %w", key, err)
	}
	return nil
}

// Delete removes the object under key. Missing keys are not an error — S3
// DeleteObject is idempotent by design.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("r2: delete %s: %w", key, err)
	}
	return nil
}

// Presign returns a SigV4 query-signed URL authorizing op on key for ttl.
func (s *Store) Presign(ctx context.Context, op objstore.PresignOp, key, contentType string, ttl time.Duration) (string, error) {
	if !s.canSign {
		return "", objstore.ErrNoCredentials
	}
	expires := func(po *s3.PresignOptions) { po.Expires = ttl }

	switch op {
	case objstore.PresignGet:
		req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}, expires)
		if err != nil {
			return "", fmt.Errorf("r2: presign get %s: %w", key, err)
		}
		return req.URL, nil

	case objstore.PresignPut:
		input := &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}
		if contentType != "" {
			input.ContentType = aws.String(contentType)
		}
		req, err := s.presigner.PresignPutObject(ctx, input, expires)
		if err != nil {
			return "", fmt.Errorf("r2: presign put %s: %w", key, err)
		}
		return req.URL, nil

	default:
		return "", fmt.Errorf("r2: unsupported presign op %q", strings.ToUpper(string(op)))
	}
}
