// Package minio resolves FILE references stored in MinIO or another
// S3-compatible server through minio-go.
package minio

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/hupe1980/vecsql/files"
	"github.com/hupe1980/vecsql/schema"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Resolver implements files.Resolver for MinIO.
type Resolver struct {
	client *minio.Client
	bucket string
	prefix string
}

// Options configure a Resolver created by Dial.
type Options struct {
	AccessKey string
	SecretKey string
	Secure    bool
	// Bucket is used for references without a bucket.
	Bucket string
	// Prefix is prepended to every object path.
	Prefix string
}

// Dial creates a client for endpoint and wraps it in a Resolver.
func Dial(endpoint string, opts Options) (*Resolver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, err
	}
	return New(client, opts.Bucket, opts.Prefix), nil
}

// New wraps an existing client. bucket is the default for references
// without one; prefix is prepended to every path.
func New(client *minio.Client, bucket, prefix string) *Resolver {
	return &Resolver{client: client, bucket: bucket, prefix: prefix}
}

func (r *Resolver) locate(ref schema.FileRef) (bucket, key string) {
	bucket = ref.Bucket
	if bucket == "" {
		bucket = r.bucket
	}
	return bucket, strings.TrimPrefix(path.Join(r.prefix, ref.Path), "/")
}

// Open stats the object to report a missing key as files.ErrNotFound and
// then streams it.
func (r *Resolver) Open(ctx context.Context, ref schema.FileRef) (io.ReadCloser, error) {
	if !ref.IsExternal() {
		return nil, files.ErrNotExternal
	}
	bucket, key := r.locate(ref)

	if _, err := r.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		return nil, mapError(err)
	}

	obj, err := r.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err)
	}
	return obj, nil
}

func mapError(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return files.ErrNotFound
	}
	return err
}
