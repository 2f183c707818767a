// Package backup uploads point-in-time copies of the donation registry to an
// S3-compatible bucket.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"relief/model"
)

const latestObjectName = "registry-latest.json"

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in, optFns...)
	}
)

type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type S3Snapshotter struct {
	cfg    S3Config
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu     sync.Mutex
	client *s3.Client

	// latestMu serializes latest-pointer writes; latestCount is the longest
	// registry written there so far.
	latestMu    sync.Mutex
	latestCount int
}

func NewS3Snapshotter(cfg S3Config, logger *slog.Logger) *S3Snapshotter {
	return &S3Snapshotter{
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

func (s *S3Snapshotter) Enabled() bool {
	return s.cfg.Bucket != ""
}

// Snapshot writes donations as a timestamped object and overwrites the
// latest pointer unless a longer registry already went there. It is a no-op
// when no bucket is configured.
func (s *S3Snapshotter) Snapshot(ctx context.Context, donations []model.DonationRecord) error {
	if !s.Enabled() {
		return nil
	}
	if donations == nil {
		donations = []model.DonationRecord{}
	}

	body, err := sonic.ConfigStd.MarshalIndent(model.Registry{Donations: donations}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	client, err := s.getClient(ctx)
	if err != nil {
		return err
	}

	stamped := path.Join(s.cfg.Prefix, fmt.Sprintf("registry-%s-%s.json", s.now().Format("20060102T150405Z"), s.newID()))
	if err := s.put(ctx, client, stamped, body); err != nil {
		return err
	}

	s.latestMu.Lock()
	defer s.latestMu.Unlock()

	if len(donations) < s.latestCount {
		s.logger.Debug("latest snapshot is newer, skipping pointer", "key", stamped, "count", len(donations), "latestCount", s.latestCount)
		return nil
	}
	if err := s.put(ctx, client, path.Join(s.cfg.Prefix, latestObjectName), body); err != nil {
		return err
	}
	s.latestCount = len(donations)

	s.logger.Info("registry snapshot uploaded", "bucket", s.cfg.Bucket, "key", stamped, "count", len(donations))
	return nil
}

func (s *S3Snapshotter) put(ctx context.Context, client *s3.Client, key string, body []byte) error {
	_, err := putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *S3Snapshotter) getClient(ctx context.Context) (*s3.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(s.cfg.Region)}
	if s.cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.cfg.AccessKey, s.cfg.SecretKey, ""),
		))
	}

	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s.client = newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if s.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return s.client, nil
}
