// Package s3 resolves FILE references stored in Amazon S3 through the AWS
// SDK for Go v2.
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/vecsql/files"
	"github.com/hupe1980/vecsql/schema"
)

// Client is the subset of the S3 API the resolver uses. *s3.Client
// implements it.
type Client interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// DefaultParallelThreshold is the object size above which Open downloads
// ranges concurrently instead of streaming a single GET.
const DefaultParallelThreshold = 16 << 20

// Options configure a Resolver.
type Options struct {
	// Bucket is used for references without a bucket.
	Bucket string
	// Prefix is prepended to every object path.
	Prefix string
	// ParallelThreshold overrides DefaultParallelThreshold. Negative
	// disables parallel downloads.
	ParallelThreshold int64
	// PartSize and Concurrency tune the parallel downloader. Zero keeps the
	// SDK defaults.
	PartSize    int64
	Concurrency int
}

// Resolver implements files.Resolver for S3.
type Resolver struct {
	client     Client
	downloader *manager.Downloader
	opts       Options
}

// New wraps client.
func New(client Client, opts Options) *Resolver {
	if opts.ParallelThreshold == 0 {
		opts.ParallelThreshold = DefaultParallelThreshold
	}
	return &Resolver{
		client: client,
		downloader: manager.NewDownloader(client, func(d *manager.Downloader) {
			if opts.PartSize > 0 {
				d.PartSize = opts.PartSize
			}
			if opts.Concurrency > 0 {
				d.Concurrency = opts.Concurrency
			}
		}),
		opts: opts,
	}
}

// NewFromDefaultConfig loads the shared AWS configuration (environment,
// profile, instance role) and creates a Resolver on it.
func NewFromDefaultConfig(ctx context.Context, opts Options, optFns ...func(*config.LoadOptions) error) (*Resolver, error) {
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, err
	}
	return New(s3.NewFromConfig(cfg), opts), nil
}

func (r *Resolver) locate(ref schema.FileRef) (bucket, key string) {
	bucket = ref.Bucket
	if bucket == "" {
		bucket = r.opts.Bucket
	}
	return bucket, strings.TrimPrefix(path.Join(r.opts.Prefix, ref.Path), "/")
}

// Open heads the object and then either streams it or, for large objects,
// downloads it with concurrent range requests.
func (r *Resolver) Open(ctx context.Context, ref schema.FileRef) (io.ReadCloser, error) {
	if !ref.IsExternal() {
		return nil, files.ErrNotExternal
	}
	bucket, key := r.locate(ref)

	head, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapError(err)
	}
	size := aws.ToInt64(head.ContentLength)

	if r.opts.ParallelThreshold > 0 && size > r.opts.ParallelThreshold {
		buf := manager.NewWriteAtBuffer(make([]byte, 0, size))
		if _, err := r.downloader.Download(ctx, buf, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			return nil, mapError(err)
		}
		return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
	}

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapError(err)
	}
	return out.Body, nil
}

func mapError(err error) error {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return files.ErrNotFound
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return files.ErrNotFound
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return files.ErrNotFound
	}
	return err
}
