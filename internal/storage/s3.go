package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds the configuration for S3 storage.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
	SpoolDir        string // Optional: where unseekable bodies are buffered, os.TempDir() if empty
}

// S3Storage implements Storage on an S3 bucket.
type S3Storage struct {
	client   *s3.Client
	bucket   string
	region   string
	endpoint string
	spoolDir string
}

// NewS3Storage creates a new S3Storage instance from cfg.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	if cfg.SpoolDir != "" {
		if err := os.MkdirAll(cfg.SpoolDir, 0750); err != nil {
			return nil, fmt.Errorf("create spool directory: %w", err)
		}
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Storage{
		client:   s3.NewFromConfig(awsCfg, clientOpts...),
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		spoolDir: cfg.SpoolDir,
	}, nil
}

// Save uploads data to the bucket and returns the object URL.
// PutObject needs a seekable body of known length to sign and checksum it
// over plain HTTP, so other readers are spooled to a temporary file first.
func (s *S3Storage) Save(ctx context.Context, key string, data io.Reader) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	body, size, release, err := s.seekable(data)
	if err != nil {
		return "", err
	}
	defer release()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(k),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", fmt.Errorf("upload to S3: %w", err)
	}

	return s.url(k), nil
}

// seekable returns data as a ReadSeeker with the number of bytes left to read.
// The release func removes any spool file.
func (s *S3Storage) seekable(data io.Reader) (io.ReadSeeker, int64, func(), error) {
	if rs, ok := data.(io.ReadSeeker); ok {
		cur, err := rs.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("seek body: %w", err)
		}
		end, err := rs.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("seek body: %w", err)
		}
		if _, err := rs.Seek(cur, io.SeekStart); err != nil {
			return nil, 0, nil, fmt.Errorf("seek body: %w", err)
		}
		return rs, end - cur, func() {}, nil
	}

	f, err := os.CreateTemp(s.spoolDir, "upload-*")
	if err != nil {
		return nil, 0, nil, fmt.Errorf("create spool file: %w", err)
	}
	release := func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}

	size, err := io.Copy(f, data)
	if err != nil {
		release()
		return nil, 0, nil, fmt.Errorf("buffer upload: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		release()
		return nil, 0, nil, fmt.Errorf("rewind spool file: %w", err)
	}
	return f, size, release, nil
}

// Delete removes objects one by one. S3 reports success for missing keys.
func (s *S3Storage) Delete(ctx context.Context, keys []string) error {
	var firstErr error
	for _, key := range keys {
		k, err := cleanKey(key)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(k),
		})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete %s from S3: %w", k, err)
		}
	}
	return firstErr
}

func (s *S3Storage) url(key string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
