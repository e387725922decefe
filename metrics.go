package vecsql

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/hupe1980/vecsql/exec"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordStatement is called after each statement. For queries duration
	// covers planning only, since rows are produced lazily.
	RecordStatement(typ exec.StatementType, duration time.Duration, err error)

	// RecordCommit is called after each commit attempt.
	RecordCommit(duration time.Duration, err error)

	// RecordConflict is called when a commit loses a write conflict.
	RecordConflict()

	// RecordVectorSearch is called when a query is answered through the
	// named vector index.
	RecordVectorSearch(index string)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordStatement(exec.StatementType, time.Duration, error) {}
func (NoopMetricsCollector) RecordCommit(time.Duration, error)                        {}
func (NoopMetricsCollector) RecordConflict()                                          {}
func (NoopMetricsCollector) RecordVectorSearch(string)                                {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	StatementCount      atomic.Int64
	StatementErrors     atomic.Int64
	StatementTotalNanos atomic.Int64
	QueryCount          atomic.Int64
	DMLCount            atomic.Int64
	DDLCount            atomic.Int64
	CommitCount         atomic.Int64
	CommitErrors        atomic.Int64
	CommitTotalNanos    atomic.Int64
	ConflictCount       atomic.Int64
	VectorSearchCount   atomic.Int64
}

// RecordStatement implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStatement(typ exec.StatementType, duration time.Duration, err error) {
	b.StatementCount.Add(1)
	b.StatementTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.StatementErrors.Add(1)
		return
	}
	switch typ {
	case exec.TypeQuery:
		b.QueryCount.Add(1)
	case exec.TypeDML:
		b.DMLCount.Add(1)
	case exec.TypeDDL:
		b.DDLCount.Add(1)
	}
}

// RecordCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCommit(duration time.Duration, err error) {
	b.CommitCount.Add(1)
	b.CommitTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CommitErrors.Add(1)
	}
}

// RecordConflict implements MetricsCollector.
func (b *BasicMetricsCollector) RecordConflict() {
	b.ConflictCount.Add(1)
}

// RecordVectorSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordVectorSearch(string) {
	b.VectorSearchCount.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		StatementCount:    b.StatementCount.Load(),
		StatementErrors:   b.StatementErrors.Load(),
		StatementAvgNanos: avg(b.StatementTotalNanos.Load(), b.StatementCount.Load()),
		QueryCount:        b.QueryCount.Load(),
		DMLCount:          b.DMLCount.Load(),
		DDLCount:          b.DDLCount.Load(),
		CommitCount:       b.CommitCount.Load(),
		CommitErrors:      b.CommitErrors.Load(),
		CommitAvgNanos:    avg(b.CommitTotalNanos.Load(), b.CommitCount.Load()),
		ConflictCount:     b.ConflictCount.Load(),
		VectorSearchCount: b.VectorSearchCount.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	StatementCount    int64
	StatementErrors   int64
	StatementAvgNanos int64
	QueryCount        int64
	DMLCount          int64
	DDLCount          int64
	CommitCount       int64
	CommitErrors      int64
	CommitAvgNanos    int64
	ConflictCount     int64
	VectorSearchCount int64
}

const vectorScanPrefix = "vector scan using "

// vectorIndexOf returns the index a query was planned on, if any.
func vectorIndexOf(resp *exec.Response) (string, bool) {
	if resp == nil || resp.Type != exec.TypeQuery {
		return "", false
	}
	return strings.CutPrefix(resp.Access, vectorScanPrefix)
}
