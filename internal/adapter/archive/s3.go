package archive

import (
	"bytes"
	"context"
	"fmt"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
)

// S3Config holds the bucket and endpoint of the archive. Credentials come
// from the default AWS chain (env, shared config, instance role).
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional; MinIO or another S3-compatible store
	PathStyle bool
}

// S3Sink writes archive records as JSON objects into one bucket.
type S3Sink struct {
	client *s3.Client
	bucket string
}

// NewS3Sink loads the default AWS config and builds the sink.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("op=archive.s3: bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("op=archive.s3: %w", err)
	}
	return NewS3SinkFromConfig(awsCfg, cfg), nil
}

// NewS3SinkFromConfig builds the sink from an already loaded aws.Config.
func NewS3SinkFromConfig(awsCfg aws.Config, cfg S3Config, optFns ...func(*s3.Options)) *S3Sink {
	client := s3.NewFromConfig(awsCfg, append([]func(*s3.Options){func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}}, optFns...)...)
	return &S3Sink{client: client, bucket: cfg.Bucket}
}

// Archive puts rec under its category-prefixed key. Re-archiving the same
// result overwrites the object.
func (s *S3Sink) Archive(ctx context.Context, rec domain.ArchiveRecord) error {
	ctx, span := otel.Tracer("archive.s3").Start(ctx, "S3Sink.Archive")
	defer span.End()
	key := Key(rec)
	span.SetAttributes(attribute.String("s3.bucket", s.bucket), attribute.String("s3.key", key))
	b, err := encode(rec)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"category":      rec.Category,
			"instrument-id": rec.InstrumentID,
		},
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=archive.put %s: %w", key, err)
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (s *S3Sink) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}
