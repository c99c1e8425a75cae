package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func endpointOption(endpoint string) func(*s3.Options) {
	return func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	}
}

type s3Backend struct {
	client *s3.Client
	bucket string
}

func (a *Archive) s3(ctx context.Context, bucket string) (*s3Backend, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.s3Client == nil {
		var loadOpts []func(*config.LoadOptions) error
		if a.s3Region != "" {
			loadOpts = append(loadOpts, config.WithRegion(a.s3Region))
		}
		cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		a.s3Client = s3.NewFromConfig(cfg, a.s3Opts...)
	}
	return &s3Backend{client: a.s3Client, bucket: bucket}, nil
}

func (b *s3Backend) open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNoObjects, key)
		}
		return nil, fmt.Errorf("getting object: %w", err)
	}
	return out.Body, nil
}

func (b *s3Backend) list(ctx context.Context, prefix string) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// s3Sink spools output to a temporary file and uploads it in one PutObject
// on Commit, so a failed export never leaves a partial object.
type s3Sink struct {
	ctx  context.Context
	b    *s3Backend
	key  string
	f    *os.File
	done bool
}

func (b *s3Backend) create(ctx context.Context, key string) (*s3Sink, error) {
	f, err := os.CreateTemp("", "chessbook-s3-*")
	if err != nil {
		return nil, fmt.Errorf("creating spool file: %w", err)
	}
	return &s3Sink{ctx: ctx, b: b, key: key, f: f}, nil
}

func (s *s3Sink) Write(p []byte) (int, error) {
	if s.done {
		return 0, ErrFinished
	}
	return s.f.Write(p)
}

func (s *s3Sink) Commit() error {
	if s.done {
		return ErrFinished
	}
	s.done = true
	defer s.discard()

	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding spool file: %w", err)
	}
	_, err := s.b.client.PutObject(s.ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.b.bucket),
		Key:    aws.String(s.key),
		Body:   s.f,
	})
	if err != nil {
		return fmt.Errorf("putting object: %w", err)
	}
	return nil
}

func (s *s3Sink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.discard()
}

func (s *s3Sink) discard() error {
	s.f.Close()
	return os.Remove(s.f.Name())
}
