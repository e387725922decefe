package vector

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/vecsql/schema"
)

// ErrInvalidK is returned for a non-positive k.
var ErrInvalidK = errors.New("k must be positive")

// Defaults for graph parameters left zero.
const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEf             = 64
)

// Options configures an index.
type Options struct {
	Metric         Metric
	Dim            int
	M              int
	EfConstruction int
	Ef             int
	// Seed makes HNSW level assignment reproducible. Zero picks a fixed
	// default.
	Seed int64
}

func (o *Options) setDefaults() {
	if o.Metric == "" {
		o.Metric = MetricL2
	}
	if o.M == 0 {
		o.M = DefaultM
	}
	if o.EfConstruction == 0 {
		o.EfConstruction = DefaultEfConstruction
	}
	if o.Ef == 0 {
		o.Ef = DefaultEf
	}
	if o.Seed == 0 {
		o.Seed = 42
	}
}

// Query is a nearest-neighbor request.
type Query struct {
	Vector []float32
	K      int
	// Namespace restricts the search to vectors upserted with the same key.
	Namespace string
	// Filter, when set, drops rows before they are ranked. It may be called
	// from several goroutines at once.
	Filter func(schema.RowID) bool
}

// Index is a nearest-neighbor index over row vectors. Implementations are
// safe for concurrent use.
type Index interface {
	// Upsert inserts or replaces the vector of a row.
	Upsert(id schema.RowID, namespace string, vec []float32) error
	// Delete removes a row. Unknown rows are ignored.
	Delete(id schema.RowID)
	// TopK returns at most q.K rows ordered by descending score.
	TopK(ctx context.Context, q Query) ([]Result, error)
	// Len returns the number of live vectors.
	Len() int
	Options() Options
}

// New creates an index of the given kind.
func New(kind schema.IndexKind, opts Options) (Index, error) {
	if opts.Dim <= 0 {
		return nil, fmt.Errorf("vector index dimension must be positive, got %d", opts.Dim)
	}
	if _, err := ParseMetric(string(opts.Metric)); err != nil {
		return nil, err
	}
	opts.setDefaults()

	switch kind {
	case schema.IndexFlat:
		return NewFlat(opts), nil
	case schema.IndexHNSW:
		return NewHNSW(opts), nil
	default:
		return nil, fmt.Errorf("%q is not a vector index method", kind)
	}
}

func checkQuery(q Query, dim int) error {
	if q.K <= 0 {
		return ErrInvalidK
	}
	return checkDim(q.Vector, dim)
}

func checkDim(vec []float32, dim int) error {
	if len(vec) != dim {
		return &schema.DimensionError{Expected: dim, Actual: len(vec)}
	}
	return nil
}
