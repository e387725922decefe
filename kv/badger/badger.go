// Package badger implements a persistent kv.Backend on top of
// github.com/dgraph-io/badger/v4.
//
// Badger's optimistic transactions provide the snapshot isolation and
// conflict detection the kv contract requires; badger.ErrConflict is
// reported as kv.ErrConflict. All groups share one keyspace behind the
// one-byte group tag produced by kv.EncodeKey.
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/go-playground/validator/v10"
	"github.com/hupe1980/vecsql/kv"
	"golang.org/x/time/rate"
)

// Compression selects the block compression of the LSM tables.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
	CompressionZSTD   Compression = "zstd"
)

func (c Compression) badger() options.CompressionType {
	switch c {
	case CompressionSnappy:
		return options.Snappy
	case CompressionZSTD:
		return options.ZSTD
	default:
		return options.None
	}
}

// Options configures a Store.
type Options struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string `validate:"required_without=InMemory"`

	// InMemory keeps everything in memory. Useful for tests.
	InMemory bool

	// Compression applied to LSM table blocks.
	Compression Compression `validate:"omitempty,oneof=none snappy zstd"`

	// ValueThreshold routes values larger than this many bytes to the value
	// log instead of the LSM tree. Embeddings and FILE payloads usually land
	// there.
	ValueThreshold int64 `validate:"gte=0,lte=1048576"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// NumCompactors is the number of background compaction goroutines.
	// 0 disables compaction. Badger rejects exactly 1.
	NumCompactors int `validate:"gte=0,ne=1"`

	// GCInterval is the period of the value-log GC loop. 0 disables GC.
	GCInterval time.Duration `validate:"gte=0"`

	// GCDiscardRatio is passed to RunValueLogGC.
	GCDiscardRatio float64 `validate:"gte=0,lt=1"`

	// GCRate caps value-log GC runs per second.
	GCRate float64 `validate:"gte=0"`

	// Logger receives badger's internal log output. Nil discards it.
	Logger *slog.Logger
}

// DefaultOptions returns production defaults for the given data directory.
func DefaultOptions(path string) Options {
	return Options{
		Path:           path,
		Compression:    CompressionZSTD,
		ValueThreshold: 1 << 10,
		SyncWrites:     true,
		NumCompactors:  4,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
		GCRate:         1,
	}
}

var validate = validator.New()

// Compile time check to ensure Store satisfies the kv.Backend interface.
var _ kv.Backend = (*Store)(nil)

// Store is a badger-backed kv.Backend.
type Store struct {
	db     *badger.DB
	opts   Options
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Open opens or creates a Store.
func Open(opts Options) (*Store, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("badger: invalid options: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	bopts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithCompression(opts.Compression.badger()).
		WithSyncWrites(opts.SyncWrites).
		WithNumCompactors(opts.NumCompactors).
		WithLogger(&slogAdapter{logger: logger})
	if opts.InMemory {
		bopts = bopts.WithDir("").WithValueDir("")
	}
	if opts.ValueThreshold > 0 {
		bopts = bopts.WithValueThreshold(opts.ValueThreshold)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %q: %w", opts.Path, err)
	}

	s := &Store{
		db:     db,
		opts:   opts,
		logger: logger,
	}

	if opts.GCInterval > 0 && !opts.InMemory {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.wg.Add(1)
		go s.gcLoop(ctx)
	}

	logger.Info("badger store opened",
		"path", opts.Path,
		"in_memory", opts.InMemory,
		"compression", string(opts.Compression),
		"sync_writes", opts.SyncWrites,
		"compactors", opts.NumCompactors,
	)

	return s, nil
}

// gcLoop runs value-log GC every GCInterval, throttled by a rate limiter so
// a burst of ticks never triggers back-to-back rewrites.
func (s *Store) gcLoop(ctx context.Context) {
	defer s.wg.Done()

	limit := rate.Inf
	if s.opts.GCRate > 0 {
		limit = rate.Limit(s.opts.GCRate)
	}
	limiter := rate.NewLimiter(limit, 1)

	ticker := time.NewTicker(s.opts.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rewrites := 0
		for {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			if err := s.db.RunValueLogGC(s.opts.GCDiscardRatio); err != nil {
				if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
					s.logger.Warn("value log gc failed", "error", err)
				}
				break
			}
			rewrites++
		}
		if rewrites > 0 {
			s.logger.Info("value log gc completed", "rewrites", rewrites)
		}
	}
}

// Begin starts a badger transaction.
func (s *Store) Begin(ctx context.Context, update bool) (kv.Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.db.IsClosed() {
		return nil, kv.ErrClosed
	}
	return &txn{txn: s.db.NewTransaction(update), update: update}, nil
}

// Close stops the GC loop and closes the database.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// scanChunk is the number of entries read per iterator lifetime. Badger
// allows a single open iterator per update transaction, so Scan never keeps
// one open while yielding.
const scanChunk = 256

type txn struct {
	txn    *badger.Txn
	update bool
	done   bool
}

func (t *txn) Get(group kv.Group, key []byte) ([]byte, error) {
	if t.done {
		return nil, kv.ErrClosed
	}

	item, err := t.txn.Get(kv.EncodeKey(group, key))
	if err != nil {
		return nil, mapError(err)
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, mapError(err)
	}
	return v, nil
}

func (t *txn) Put(group kv.Group, key, value []byte) error {
	if t.done {
		return kv.ErrClosed
	}
	if !t.update {
		return kv.ErrReadOnly
	}
	// Badger keeps the slices until commit.
	return mapError(t.txn.Set(kv.EncodeKey(group, key), bytes.Clone(value)))
}

func (t *txn) Delete(group kv.Group, key []byte) error {
	if t.done {
		return kv.ErrClosed
	}
	if !t.update {
		return kv.ErrReadOnly
	}
	return mapError(t.txn.Delete(kv.EncodeKey(group, key)))
}

func (t *txn) Scan(group kv.Group, prefix []byte) iter.Seq2[kv.Entry, error] {
	return func(yield func(kv.Entry, error) bool) {
		if t.done {
			yield(kv.Entry{}, kv.ErrClosed)
			return
		}

		full := kv.EncodeKey(group, prefix)
		seek := full

		for {
			chunk, next, err := t.readChunk(full, seek)
			if err != nil {
				yield(kv.Entry{}, err)
				return
			}
			for _, e := range chunk {
				if !yield(e, nil) {
					return
				}
			}
			if next == nil {
				return
			}
			seek = next
		}
	}
}

// readChunk reads up to scanChunk entries starting at seek. next is the key
// to resume from, or nil when the prefix is exhausted.
func (t *txn) readChunk(prefix, seek []byte) ([]kv.Entry, []byte, error) {
	it := t.txn.NewIterator(badger.IteratorOptions{
		PrefetchValues: true,
		PrefetchSize:   scanChunk,
		Prefix:         prefix,
	})
	defer it.Close()

	entries := make([]kv.Entry, 0, scanChunk)
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		if len(entries) == scanChunk {
			return entries, it.Item().KeyCopy(nil), nil
		}
		item := it.Item()
		v, err := item.ValueCopy(nil)
		if err != nil {
			return nil, nil, mapError(err)
		}
		entries = append(entries, kv.Entry{Key: item.KeyCopy(nil)[1:], Value: v})
	}
	return entries, nil, nil
}

func (t *txn) Commit() error {
	if t.done {
		return kv.ErrClosed
	}
	t.done = true
	if !t.update {
		t.txn.Discard()
		return nil
	}
	return mapError(t.txn.Commit())
}

func (t *txn) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.txn.Discard()
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: %w", kv.ErrConflict, err)
	case errors.Is(err, badger.ErrKeyNotFound):
		return kv.ErrKeyNotFound
	case errors.Is(err, badger.ErrDBClosed):
		return fmt.Errorf("%w: %w", kv.ErrClosed, err)
	default:
		return err
	}
}

// slogAdapter forwards badger's printf-style logger to slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Errorf(format string, args ...any) {
	a.logger.Error(trim(fmt.Sprintf(format, args...)), "component", "badger")
}

func (a *slogAdapter) Warningf(format string, args ...any) {
	a.logger.Warn(trim(fmt.Sprintf(format, args...)), "component", "badger")
}

func (a *slogAdapter) Infof(format string, args ...any) {
	a.logger.Info(trim(fmt.Sprintf(format, args...)), "component", "badger")
}

func (a *slogAdapter) Debugf(format string, args ...any) {
	a.logger.Debug(trim(fmt.Sprintf(format, args...)), "component", "badger")
}

func trim(s string) string {
	return strings.TrimRight(s, "\n")
}
