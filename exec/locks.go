package exec

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/vecsql/schema"
	"golang.org/x/sync/semaphore"
)

// AdvisoryLocks is the registry of application-defined locks of a database.
// Locks are keyed by an INT8 the application picks and mean nothing to the
// engine. A lock has at most one LockHolder at a time and is reentrant for
// it: every Lock needs a matching Unlock.
type AdvisoryLocks struct {
	mu    sync.Mutex
	locks map[int64]*advisoryLock
}

type advisoryLock struct {
	sem    *semaphore.Weighted
	holder *LockHolder
	depth  int
	// refs counts the holder and the waiters; the entry is dropped at zero.
	refs int
}

// NewAdvisoryLocks returns an empty registry.
func NewAdvisoryLocks() *AdvisoryLocks {
	return &AdvisoryLocks{locks: map[int64]*advisoryLock{}}
}

// Holder returns a new lock owner, typically one per session.
func (l *AdvisoryLocks) Holder() *LockHolder {
	return &LockHolder{locks: l, held: map[int64]struct{}{}}
}

// Len returns the number of locks that are held or waited for.
func (l *AdvisoryLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// entry returns the lock for key, creating it. The caller holds mu.
func (l *AdvisoryLocks) entry(key int64) *advisoryLock {
	al, ok := l.locks[key]
	if !ok {
		al = &advisoryLock{sem: semaphore.NewWeighted(1)}
		l.locks[key] = al
	}
	return al
}

// forget drops an unused entry. The caller holds mu.
func (l *AdvisoryLocks) forget(key int64, al *advisoryLock) {
	if al.refs == 0 && l.locks[key] == al {
		delete(l.locks, key)
	}
}

// LockHolder owns advisory locks. It is not safe for concurrent use.
type LockHolder struct {
	locks *AdvisoryLocks
	held  map[int64]struct{} // guarded by locks.mu
}

// Lock blocks until the holder owns key or ctx is done.
func (h *LockHolder) Lock(ctx context.Context, key int64) error {
	l := h.locks
	l.mu.Lock()
	al := l.entry(key)
	if al.holder == h {
		al.depth++
		l.mu.Unlock()
		return nil
	}
	al.refs++
	l.mu.Unlock()

	if err := al.sem.Acquire(ctx, 1); err != nil {
		l.mu.Lock()
		al.refs--
		l.forget(key, al)
		l.mu.Unlock()
		return err
	}

	l.mu.Lock()
	al.holder, al.depth = h, 1
	h.held[key] = struct{}{}
	l.mu.Unlock()
	return nil
}

// TryLock takes key if it is free or already owned by h.
func (h *LockHolder) TryLock(key int64) bool {
	l := h.locks
	l.mu.Lock()
	defer l.mu.Unlock()

	al := l.entry(key)
	if al.holder == h {
		al.depth++
		return true
	}
	if !al.sem.TryAcquire(1) {
		l.forget(key, al)
		return false
	}
	al.refs++
	al.holder, al.depth = h, 1
	h.held[key] = struct{}{}
	return true
}

// Unlock releases one acquisition of key. It reports false when h does not
// own key.
func (h *LockHolder) Unlock(key int64) bool {
	l := h.locks
	l.mu.Lock()
	defer l.mu.Unlock()

	al, ok := l.locks[key]
	if !ok || al.holder != h {
		return false
	}
	if al.depth--; al.depth == 0 {
		h.release(key, al)
	}
	return true
}

// UnlockAll releases every lock h owns and returns how many there were.
func (h *LockHolder) UnlockAll() int {
	l := h.locks
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(h.held)
	for key := range h.held {
		h.release(key, l.locks[key])
	}
	return n
}

// release hands the lock to the next waiter. The caller holds locks.mu.
func (h *LockHolder) release(key int64, al *advisoryLock) {
	delete(h.held, key)
	al.holder, al.depth = nil, 0
	al.refs--
	al.sem.Release(1)
	h.locks.forget(key, al)
}

func lockKey(name string, v schema.Value) (int64, error) {
	if v.IsNull() {
		return 0, fmt.Errorf("%w: %s(NULL)", ErrParameter, name)
	}
	c, err := schema.Coerce(schema.Int8, v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return c.I, nil
}

func (ec *evalContext) lockHolder(name string) (*LockHolder, error) {
	if ec.locks == nil {
		return nil, fmt.Errorf("%w: %s without a lock holder", ErrUnsupported, name)
	}
	return ec.locks, nil
}

// advisoryFuncs are the pg_advisory_* functions. They act on the lock
// holder of the statement and are never folded into constants.
var advisoryFuncs = []Function{
	{
		Name: "pg_advisory_lock", MinArgs: 1, MaxArgs: 1, Volatile: true,
		Result: fixed(schema.Bool),
		Hint:   fixedHint(schema.Int8),
		Call: func(ec *evalContext, args []schema.Value) (schema.Value, error) {
			h, err := ec.lockHolder("pg_advisory_lock")
			if err != nil {
				return schema.Null, err
			}
			key, err := lockKey("pg_advisory_lock", args[0])
			if err != nil {
				return schema.Null, err
			}
			if err := h.Lock(ec.ctx, key); err != nil {
				return schema.Null, err
			}
			return schema.NewBool(true), nil
		},
	},
	{
		Name: "pg_try_advisory_lock", MinArgs: 1, MaxArgs: 1, Volatile: true,
		Result: fixed(schema.Bool),
		Hint:   fixedHint(schema.Int8),
		Call: func(ec *evalContext, args []schema.Value) (schema.Value, error) {
			h, err := ec.lockHolder("pg_try_advisory_lock")
			if err != nil {
				return schema.Null, err
			}
			key, err := lockKey("pg_try_advisory_lock", args[0])
			if err != nil {
				return schema.Null, err
			}
			return schema.NewBool(h.TryLock(key)), nil
		},
	},
	{
		Name: "pg_advisory_unlock", MinArgs: 1, MaxArgs: 1, Volatile: true,
		Result: fixed(schema.Bool),
		Hint:   fixedHint(schema.Int8),
		Call: func(ec *evalContext, args []schema.Value) (schema.Value, error) {
			h, err := ec.lockHolder("pg_advisory_unlock")
			if err != nil {
				return schema.Null, err
			}
			key, err := lockKey("pg_advisory_unlock", args[0])
			if err != nil {
				return schema.Null, err
			}
			return schema.NewBool(h.Unlock(key)), nil
		},
	},
	{
		Name: "pg_advisory_unlock_all", MinArgs: 0, MaxArgs: 0, Volatile: true,
		Result: fixed(schema.Bool),
		Call: func(ec *evalContext, _ []schema.Value) (schema.Value, error) {
			h, err := ec.lockHolder("pg_advisory_unlock_all")
			if err != nil {
				return schema.Null, err
			}
			h.UnlockAll()
			return schema.NewBool(true), nil
		},
	},
}
