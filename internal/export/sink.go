package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/debemdeboas/the-calendar/internal/config"
)

// Sink persists exported files.
type Sink interface {
	Put(ctx context.Context, f File) error
}

// WriteAll puts files one after another and stops at the first failure.
func WriteAll(ctx context.Context, sink Sink, files []File) error {
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sink.Put(ctx, f); err != nil {
			return fmt.Errorf("error writing %s (%d of %d): %w", f.Filename, i+1, len(files), err)
		}
	}
	exportLogger.Info().Int("count", len(files)).Msg("Export written")
	return nil
}

// NewSink builds the sink selected by the export configuration.
func NewSink(ctx context.Context, cfg config.ExportConfig) (Sink, error) {
	switch cfg.Sink {
	case config.SinkDir:
		return NewDirSink(cfg.Dir), nil
	case config.SinkS3:
		return NewS3Sink(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown export sink %q", cfg.Sink)
	}
}

type DirSink struct { // implements Sink
	dir string
}

func NewDirSink(dir string) *DirSink {
	return &DirSink{dir: dir}
}

func (s *DirSink) Put(_ context.Context, f File) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("error creating export directory: %w", err)
	}
	name := filepath.Join(s.dir, filepath.Base(f.Filename))
	if err := os.WriteFile(name, f.Content, 0o644); err != nil {
		return fmt.Errorf("error writing file: %w", err)
	}
	exportLogger.Debug().Str("path", name).Msg("File exported")
	return nil
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Sink struct { // implements Sink
	client putObjectAPI
	bucket string
	prefix string
}

func NewS3Sink(ctx context.Context, cfg config.S3Config) (*S3Sink, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing S3 client: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Sink{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Sink) key(filename string) string {
	return path.Join(s.prefix, path.Base(filename))
}

func (s *S3Sink) Put(ctx context.Context, f File) error {
	key := s.key(f.Filename)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(f.Content),
		ContentLength: aws.Int64(int64(len(f.Content))),
		ContentType:   aws.String(config.CTypeMarkdown),
	})
	if err != nil {
		return fmt.Errorf("error uploading %s: %w", key, err)
	}
	exportLogger.Debug().Str("bucket", s.bucket).Str("key", key).Msg("File uploaded")
	return nil
}
