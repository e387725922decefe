package s3

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/vecsql/files"
	"github.com/hupe1980/vecsql/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockS3Client struct {
	mock.Mock
}

func (m *MockS3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.HeadObjectOutput)
	return out, args.Error(1)
}

func (m *MockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.GetObjectOutput)
	return out, args.Error(1)
}

func keyIs(bucket, key string) func(any) bool {
	return func(v any) bool {
		switch in := v.(type) {
		case *s3.HeadObjectInput:
			return *in.Bucket == bucket && *in.Key == key
		case *s3.GetObjectInput:
			return *in.Bucket == bucket && *in.Key == key
		}
		return false
	}
}

func read(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestResolver_Open(t *testing.T) {
	ctx := context.Background()

	t.Run("NotFound", func(t *testing.T) {
		client := new(MockS3Client)
		r := New(client, Options{Bucket: "default", Prefix: "prefix"})

		client.On("HeadObject", mock.Anything, mock.MatchedBy(keyIs("default", "prefix/foo"))).
			Return(nil, &types.NotFound{}).Once()

		_, err := r.Open(ctx, schema.FileRef{Path: "foo"})
		assert.ErrorIs(t, err, files.ErrNotFound)
		client.AssertExpectations(t)
	})

	t.Run("Stream", func(t *testing.T) {
		client := new(MockS3Client)
		r := New(client, Options{Prefix: "prefix"})

		client.On("HeadObject", mock.Anything, mock.MatchedBy(keyIs("docs", "prefix/bar"))).
			Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(5)}, nil).Once()
		client.On("GetObject", mock.Anything, mock.MatchedBy(keyIs("docs", "prefix/bar"))).
			Return(&s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("hello"))}, nil).Once()

		rc, err := r.Open(ctx, schema.FileRef{Bucket: "docs", Path: "bar"})
		require.NoError(t, err)
		assert.Equal(t, "hello", read(t, rc))
		client.AssertExpectations(t)
	})

	t.Run("Parallel", func(t *testing.T) {
		client := new(MockS3Client)
		r := New(client, Options{ParallelThreshold: 4, Concurrency: 1})

		body := "large object"
		client.On("HeadObject", mock.Anything, mock.MatchedBy(keyIs("docs", "big"))).
			Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(body)))}, nil).Once()
		client.On("GetObject", mock.Anything, mock.MatchedBy(keyIs("docs", "big"))).
			Return(&s3.GetObjectOutput{
				Body:          io.NopCloser(strings.NewReader(body)),
				ContentLength: aws.Int64(int64(len(body))),
				ContentRange:  aws.String(fmt.Sprintf("bytes 0-%d/%d", len(body)-1, len(body))),
			}, nil).Once()

		rc, err := r.Open(ctx, schema.FileRef{Bucket: "docs", Path: "big"})
		require.NoError(t, err)
		assert.Equal(t, body, read(t, rc))
		client.AssertExpectations(t)
	})

	t.Run("Inline", func(t *testing.T) {
		r := New(new(MockS3Client), Options{})
		_, err := r.Open(ctx, schema.FileRef{Metadata: []byte(`{"a":1}`)})
		assert.ErrorIs(t, err, files.ErrNotExternal)
	})
}

func TestMapError(t *testing.T) {
	assert.ErrorIs(t, mapError(&types.NoSuchKey{}), files.ErrNotFound)
	assert.ErrorIs(t, mapError(&types.NoSuchBucket{}), files.ErrNotFound)
	assert.ErrorIs(t, mapError(fmt.Errorf("wrapped: %w", &types.NotFound{})), files.ErrNotFound)

	other := fmt.Errorf("access denied")
	assert.Equal(t, other, mapError(other))
}
