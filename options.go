package vecsql

import (
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/hupe1980/vecsql/codec"
	"github.com/hupe1980/vecsql/exec"
	"github.com/hupe1980/vecsql/files"
	"github.com/hupe1980/vecsql/kv"
	"github.com/hupe1980/vecsql/kv/badger"
	"github.com/hupe1980/vecsql/storage"
)

type options struct {
	// path is the badger data directory. Empty selects the in-memory
	// backend.
	path    string
	badger  []func(*badger.Options)
	backend kv.Backend

	Compression storage.Compression `validate:"lte=2"`
	Retry       kv.RetryPolicy
	Exec        exec.Config
	codec       codec.Codec

	files            files.Resolver
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures Open.
type Option func(*options)

// WithPath stores data in a badger database at path. Without it the
// database lives in memory and is lost on Close.
//
// Example:
//
//	db, _ := vecsql.Open(ctx, vecsql.WithPath("./data"), vecsql.WithBadger(func(o *badger.Options) {
//	    o.SyncWrites = false
//	    o.GCInterval = time.Minute
//	}))
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithBadger adjusts the badger options derived from badger.DefaultOptions.
// It has no effect without WithPath.
func WithBadger(fn func(*badger.Options)) Option {
	return func(o *options) {
		o.badger = append(o.badger, fn)
	}
}

// WithBackend runs the database on an already opened backend. The database
// takes ownership and closes it on Close. It overrides WithPath.
func WithBackend(b kv.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithCompression compresses row values. Values that do not shrink are
// stored as-is.
func WithCompression(c storage.Compression) Option {
	return func(o *options) {
		o.Compression = c
	}
}

// WithRetryPolicy bounds the retries of id counter updates after write
// conflicts.
func WithRetryPolicy(p kv.RetryPolicy) Option {
	return func(o *options) {
		o.Retry = p
	}
}

// WithCodec configures the codec used for persisted table definitions.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithHNSWDefaults sets the graph parameters CREATE INDEX ... USING hnsw
// falls back to when WITH leaves them out.
func WithHNSWDefaults(m, efConstruction, ef int) Option {
	return func(o *options) {
		o.Exec.HNSW = exec.HNSWDefaults{M: m, EfConstruction: efConstruction, Ef: ef}
	}
}

// WithBatchSize sets the number of rows per batch of a result stream.
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.Exec.BatchSize = n
	}
}

// WithFileResolver enables read_file() for external FILE references.
func WithFileResolver(r files.Resolver) Option {
	return func(o *options) {
		o.files = r
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &vecsql.BasicMetricsCollector{}
//	db, _ := vecsql.Open(ctx, vecsql.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
//	fmt.Printf("Commits: %d, Conflicts: %d\n", stats.CommitCount, stats.ConflictCount)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the given level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

var validate = validator.New()

func applyOptions(optFns []Option) (options, error) {
	o := options{
		Retry: kv.DefaultRetryPolicy,
		Exec: exec.Config{
			BatchSize: exec.DefaultBatchSize,
			HNSW:      exec.HNSWDefaults{M: 16, EfConstruction: 200, Ef: 64},
		},
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if err := validate.Struct(o); err != nil {
		return o, fmt.Errorf("vecsql: invalid options: %w", err)
	}
	return o, nil
}

func (o *options) badgerOptions() badger.Options {
	bo := badger.DefaultOptions(o.path)
	bo.Logger = o.logger.Logger
	for _, fn := range o.badger {
		fn(&bo)
	}
	return bo
}

func (o *options) storageConfig() storage.Config {
	return storage.Config{Compression: o.Compression, Retry: o.Retry, Codec: o.codec}
}
