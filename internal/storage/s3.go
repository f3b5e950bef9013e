package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Options struct {
	Region string
	// Endpoint targets an S3 compatible service such as MinIO; path style
	// addressing is used when it is set.
	Endpoint string
	// PublicBaseURL replaces the virtual-hosted URL in returned links.
	PublicBaseURL string
}

// S3Store uploads objects to S3.
type S3Store struct {
	client  putObjectAPI
	region  string
	baseURL string
}

func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if strings.TrimSpace(opts.Region) == "" {
		return nil, errors.New("storage: s3 region is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, opts), nil
}

func newS3Store(client putObjectAPI, opts S3Options) *S3Store {
	return &S3Store{client: client, region: opts.Region, baseURL: strings.TrimRight(opts.PublicBaseURL, "/")}
}

func (s *S3Store) Put(ctx context.Context, localPath, bucket, key string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("storage: open source: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("storage: stat source: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(cleanKey),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(cleanKey)),
	})
	if err != nil {
		return "", fmt.Errorf("storage: put s3://%s/%s: %w", bucket, cleanKey, err)
	}
	return s.url(bucket, cleanKey), nil
}

func (s *S3Store) url(bucket, key string) string {
	if s.baseURL != "" {
		return fmt.Sprintf("%s/%s/%s", s.baseURL, bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, s.region, key)
}

func contentType(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".mp4":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	}
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
