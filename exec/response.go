package exec

import (
	"context"
	"iter"
	"sync"

	"github.com/hupe1980/vecsql/schema"
)

// StatementType classifies a statement for the caller, which decides from
// it whether to expect rows.
type StatementType uint8

const (
	TypeDDL StatementType = iota + 1
	TypeDML
	TypeQuery
	TypeTransaction
)

func (t StatementType) String() string {
	switch t {
	case TypeDDL:
		return "DDL"
	case TypeDML:
		return "DML"
	case TypeQuery:
		return "Query"
	case TypeTransaction:
		return "Transaction"
	default:
		return "Unknown"
	}
}

// Column describes one output column.
type Column struct {
	Name string
	Type schema.DataType
}

// Batch is a group of rows flowing between operators. IDs is set by
// operators that read table rows and parallels Rows.
type Batch struct {
	Rows []schema.Row
	IDs  []schema.RowID
}

// Len returns the number of rows.
func (b *Batch) Len() int { return len(b.Rows) }

// Response is the result of a statement. Query responses produce their rows
// lazily through Stream; DDL and DML responses have already run and carry
// an empty stream.
type Response struct {
	Type         StatementType
	Tag          string
	Columns      []Column
	RowsAffected int64
	// Access names the access path of a query, e.g. "table scan" or
	// "vector scan using docs_embedding".
	Access string
	Stream *Stream
}

// Rows iterates the response's rows and closes the stream when iteration
// ends or the loop breaks.
func (r *Response) Rows(ctx context.Context) iter.Seq2[schema.Row, error] {
	return func(yield func(schema.Row, error) bool) {
		defer r.Stream.Close()
		for {
			b, err := r.Stream.Next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if b == nil {
				return
			}
			for _, row := range b.Rows {
				if !yield(row, nil) {
					return
				}
			}
		}
	}
}

// Collect reads every remaining row and closes the stream.
func (r *Response) Collect(ctx context.Context) ([]schema.Row, error) {
	var out []schema.Row
	for row, err := range r.Rows(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, row)
	}
	return out, nil
}

// Stream is a pull-based sequence of batches. Closing it releases the
// operator tree and runs release hooks; it is safe to close more than once.
type Stream struct {
	tag     string
	op      Operator
	mu      sync.Mutex
	closed  bool
	err     error
	onClose []func(err error)
}

func newStream(tag string, op Operator) *Stream {
	return &Stream{tag: tag, op: op}
}

// EmptyStream returns a stream without rows.
func EmptyStream() *Stream { return &Stream{} }

// Next returns the next batch, or nil once the stream is exhausted. The
// stream closes itself on exhaustion and on error.
func (s *Stream) Next(ctx context.Context) (*Batch, error) {
	s.mu.Lock()
	closed, op := s.closed, s.op
	s.mu.Unlock()
	if closed || op == nil {
		return nil, s.err
	}

	if err := ctx.Err(); err != nil {
		s.fail(err)
		return nil, s.err
	}

	b, err := op.Next(ctx)
	if err != nil {
		s.fail(wrap(s.tag, PhaseExecuting, err))
		return nil, s.err
	}
	if b == nil {
		_ = s.Close()
	}
	return b, nil
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	_ = s.Close()
}

// OnClose registers fn to run once when the stream closes. fn receives the
// error that ended the stream, if any. It runs immediately when the stream
// is already closed.
func (s *Stream) OnClose(fn func(err error)) {
	s.mu.Lock()
	if s.closed {
		err := s.err
		s.mu.Unlock()
		fn(err)
		return
	}
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

// Err returns the error that ended the stream.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the operator tree and runs the OnClose hooks.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	op, hooks, cause := s.op, s.onClose, s.err
	s.onClose = nil
	s.mu.Unlock()

	var err error
	if op != nil {
		err = op.Close()
	}
	if cause == nil {
		cause = err
	}
	for _, fn := range hooks {
		fn(cause)
	}
	return err
}
