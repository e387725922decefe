// Package files resolves the content behind FILE column values.
//
// A FILE value either carries inline metadata or points at an object in an
// external store. Resolvers fetch external content for read_file(). The
// engine never writes through a resolver.
package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hupe1980/vecsql/schema"
)

// ErrNotFound is returned when the referenced object does not exist.
//
// It matches os.ErrNotExist with errors.Is.
var ErrNotFound = fmt.Errorf("file not found: %w", os.ErrNotExist)

// ErrNotExternal is returned when Open is called with an inline reference.
var ErrNotExternal = errors.New("file reference has no external path")

// Resolver opens the content of external FILE references.
// Implementations must be safe for concurrent use.
type Resolver interface {
	Open(ctx context.Context, ref schema.FileRef) (io.ReadCloser, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, ref schema.FileRef) (io.ReadCloser, error)

func (f ResolverFunc) Open(ctx context.Context, ref schema.FileRef) (io.ReadCloser, error) {
	return f(ctx, ref)
}

type objectKey struct {
	endpoint, bucket, path string
}

func keyOf(ref schema.FileRef) objectKey {
	return objectKey{endpoint: ref.Endpoint, bucket: ref.Bucket, path: ref.Path}
}

// MemoryResolver serves objects held in memory.
type MemoryResolver struct {
	mu      sync.RWMutex
	objects map[objectKey][]byte
}

// NewMemoryResolver creates an empty MemoryResolver.
func NewMemoryResolver() *MemoryResolver {
	return &MemoryResolver{objects: make(map[objectKey][]byte)}
}

// Put stores a copy of data under ref's endpoint, bucket and path.
func (m *MemoryResolver) Put(ref schema.FileRef, data []byte) error {
	if !ref.IsExternal() {
		return ErrNotExternal
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[keyOf(ref)] = bytes.Clone(data)
	return nil
}

// Delete removes the object behind ref.
func (m *MemoryResolver) Delete(ref schema.FileRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, keyOf(ref))
}

func (m *MemoryResolver) Open(ctx context.Context, ref schema.FileRef) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ref.IsExternal() {
		return nil, ErrNotExternal
	}

	m.mu.RLock()
	data, ok := m.objects[keyOf(ref)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Router dispatches to a resolver by endpoint. References without an
// endpoint, or with an unregistered one, go to the fallback.
type Router struct {
	mu        sync.RWMutex
	endpoints map[string]Resolver
	fallback  Resolver
}

// NewRouter creates a Router. fallback may be nil.
func NewRouter(fallback Resolver) *Router {
	return &Router{endpoints: make(map[string]Resolver), fallback: fallback}
}

// Handle registers r for endpoint.
func (r *Router) Handle(endpoint string, res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[endpoint] = res
}

func (r *Router) Open(ctx context.Context, ref schema.FileRef) (io.ReadCloser, error) {
	r.mu.RLock()
	res, ok := r.endpoints[ref.Endpoint]
	r.mu.RUnlock()
	if !ok {
		res = r.fallback
	}
	if res == nil {
		return nil, fmt.Errorf("%w: no resolver for endpoint %q", ErrNotFound, ref.Endpoint)
	}
	return res.Open(ctx, ref)
}
