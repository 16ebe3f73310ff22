// Package offsite copies completed months to S3-compatible storage.
package offsite

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dukerupert/chatvault/internal/model"
	"github.com/dukerupert/chatvault/internal/month"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

func (c S3Config) complete() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Config holds offsite copy configuration. Archives are encrypted when
// Passphrase is set.
type Config struct {
	S3         S3Config
	Prefix     string
	Passphrase string
}

// Uploader sends month archives to object storage.
type Uploader struct {
	cfg    Config
	client s3Client
	logger *slog.Logger
}

// New creates an uploader. It is disabled unless the bucket and credentials are set.
func New(cfg Config, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	u := &Uploader{cfg: cfg, logger: logger}
	if cfg.S3.complete() {
		u.client = newS3Client(cfg.S3)
	}
	return u
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether uploads will be attempted.
func (u *Uploader) Enabled() bool {
	return u != nil && u.client != nil
}

// Key returns the object key used for a source month.
func (u *Uploader) Key(src model.Source, m month.Month) string {
	name := fmt.Sprintf("%s.tar.gz", m)
	if u.cfg.Passphrase != "" {
		name += ".enc"
	}
	return path.Join(strings.Trim(u.cfg.Prefix, "/"), src.Name, fmt.Sprintf("%04d", m.Year), name)
}

// Upload archives dir and stores it under Key(src, m). It returns the key.
func (u *Uploader) Upload(ctx context.Context, src model.Source, m month.Month, dir string) (string, error) {
	if !u.Enabled() {
		return "", fmt.Errorf("offsite copy not configured")
	}

	tmpDir, err := os.MkdirTemp("", "chatvault-offsite-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	archive := filepath.Join(tmpDir, "month.tar.gz")
	f, err := os.Create(archive)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	if err := writeTarGz(dir, f); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}

	payload := archive
	if u.cfg.Passphrase != "" {
		payload = archive + ".enc"
		if err := EncryptFile(archive, payload, u.cfg.Passphrase); err != nil {
			return "", fmt.Errorf("encrypt: %w", err)
		}
	}

	body, err := os.Open(payload)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer body.Close()

	stat, err := body.Stat()
	if err != nil {
		return "", fmt.Errorf("stat archive: %w", err)
	}

	key := u.Key(src, m)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.S3.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(stat.Size()),
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}

	u.logger.Info("offsite copy uploaded", "source", src.Name, "month", m.String(), "key", key, "bytes", stat.Size())
	return key, nil
}

// Download streams the stored object at key into w.
func (u *Uploader) Download(ctx context.Context, key string, w io.Writer) error {
	if !u.Enabled() {
		return fmt.Errorf("offsite copy not configured")
	}
	result, err := u.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.cfg.S3.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	if _, err := io.Copy(w, result.Body); err != nil {
		return fmt.Errorf("write download: %w", err)
	}
	return nil
}
