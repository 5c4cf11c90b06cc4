// Package stm implements the optimistic software transactional memory
// engine that sits between the filesystem adapter and an abstract
// store.Store. It batches reads and writes into a read-set, write-set
// and conflict-set, commits them as a single compare/success/failure
// multi-op, and exposes a bounded, backing-off retry wrapper for
// conflicting transactions.
//
// Grounded on original_source/fuse-etcd-v2/stm.py's STM class: the
// same three maps (rset/wset/conflicts), the same get/put/delete/
// prefetch/commit shape, and the same retried_transaction wrapper,
// translated into Go's explicit-error idiom in place of exceptions.
package stm

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/markgoddard/ffs/store"
	"github.com/markgoddard/ffs/util"
)

type readEntry struct {
	value  []byte
	exists bool
}

type writeEntry struct {
	value  []byte
	delete bool
}

// STM represents one transactional attempt against a store.Store. It
// is not safe for concurrent use: callers must confine a single STM
// instance to one goroutine for the lifetime of one transaction
// attempt, exactly as RunWithRetry does.
type STM struct {
	store store.Store

	rset      map[string]readEntry
	wset      map[string]writeEntry
	conflicts map[string]store.Version
}

// New returns an STM bound to st with empty read/write/conflict sets.
func New(st store.Store) *STM {
	return &STM{
		store:     st,
		rset:      map[string]readEntry{},
		wset:      map[string]writeEntry{},
		conflicts: map[string]store.Version{},
	}
}

// Get returns the value currently associated with key and whether it
// exists. A buffered read or pending write is served from the
// read-set without touching the store. Every first observation of a
// key — present or absent — records a conflict-set entry, closing the
// phantom-read gap the source implementation leaves open (O1): an
// absent key is guarded by a version-zero compare at commit time, so
// a concurrent create between this read and the commit attempt is
// caught.
func (s *STM) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	k := string(key)
	if e, ok := s.rset[k]; ok {
		return e.value, e.exists, nil
	}

	kv, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}

	s.rset[k] = readEntry{value: kv.Value, exists: kv.Exists()}
	s.conflicts[k] = kv.Version
	return kv.Value, kv.Exists(), nil
}

// Put buffers value as the intended content of key. Subsequent Get
// calls within this transaction observe the pending write.
func (s *STM) Put(key, value []byte) {
	k := string(key)
	s.wset[k] = writeEntry{value: value}
	s.rset[k] = readEntry{value: value, exists: true}
}

// Delete buffers a deletion of key. Subsequent Get calls within this
// transaction observe the key as absent.
func (s *STM) Delete(key []byte) {
	k := string(key)
	s.wset[k] = writeEntry{delete: true}
	s.rset[k] = readEntry{exists: false}
}

// Prefetch populates the read-set (and conflict-set) for every key in
// keys that has not already been observed, so that a subsequent
// transaction body finds them already buffered. Keys already present
// in the read-set are left untouched.
func (s *STM) Prefetch(ctx context.Context, keys [][]byte) error {
	for _, key := range keys {
		if _, ok := s.rset[string(key)]; ok {
			continue
		}
		if _, _, err := s.Get(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Reset discards all buffered reads, writes and conflicts, returning
// the STM to its initial state.
func (s *STM) Reset() {
	s.rset = map[string]readEntry{}
	s.wset = map[string]writeEntry{}
	s.conflicts = map[string]store.Version{}
}

// inTransaction reports whether this STM holds buffered conflicts or
// writes from a prior, unreset attempt.
func (s *STM) inTransaction() bool {
	return len(s.conflicts) > 0 || len(s.wset) > 0
}

// Transaction runs body under a scoped transaction: body observes and
// buffers reads/writes through s, and on a normal return the buffer is
// committed. On any error — from body or from Commit's conflict
// detection — the STM is reset before the error is returned, so the
// next attempt (by RunWithRetry, or by a caller retrying manually)
// starts from a clean slate. Opening a Transaction on an STM that
// still holds buffered state from a prior attempt is a programming
// error and returns AlreadyInTransaction without touching the store.
func (s *STM) Transaction(ctx context.Context, body func(*STM) error) error {
	if s.inTransaction() {
		return AlreadyInTransaction
	}

	if err := body(s); err != nil {
		s.Reset()
		return err
	}

	if err := s.Commit(ctx); err != nil {
		s.Reset()
		return err
	}
	return nil
}

// Commit builds the compare/success/failure multi-op from the current
// read-set, write-set and conflict-set and issues it as a single
// atomic request against the store.
//
// If every compare holds, the write-set is applied durably and Commit
// returns nil. If any compare fails, the whole attempt is discarded:
// the write-set and conflict-set are cleared, the read-set and
// conflict-set are repopulated from the store's freshly read values,
// and Commit returns Conflict. Any other error from the store (for
// example a deadline expiring mid-transaction) is returned as-is and
// is not a Conflict — callers must not retry it.
func (s *STM) Commit(ctx context.Context) error {
	req := store.TxnRequest{
		Compare: s.compareOps(),
		Success: s.successOps(),
		Failure: s.failureOps(),
	}

	res, err := s.store.Txn(ctx, req)
	if err != nil {
		return err
	}

	if res.Succeeded {
		return nil
	}

	s.wset = map[string]writeEntry{}
	s.conflicts = map[string]store.Version{}
	s.rset = map[string]readEntry{}
	for _, kv := range res.Reads {
		k := string(kv.Key)
		s.rset[k] = readEntry{value: kv.Value, exists: kv.Exists()}
		s.conflicts[k] = kv.Version
	}
	return Conflict
}

func (s *STM) compareOps() []store.CompareOp {
	keys := sortedKeys(s.conflicts)
	ops := make([]store.CompareOp, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, store.CompareOp{Key: []byte(k), Version: s.conflicts[k]})
	}
	return ops
}

func (s *STM) successOps() []store.WriteOp {
	keys := sortedKeys(s.wset)
	ops := make([]store.WriteOp, 0, len(keys))
	for _, k := range keys {
		e := s.wset[k]
		ops = append(ops, store.WriteOp{Key: []byte(k), Value: e.value, Delete: e.delete})
	}
	return ops
}

func (s *STM) failureOps() []store.KV {
	keys := sortedKeys(s.rset)
	ops := make([]store.KV, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, store.KV{Key: []byte(k)})
	}
	return ops
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RetryOptions bounds the retry wrapper's behavior.
type RetryOptions struct {
	// MaxRetries is the maximum number of attempts. Defaults to 10
	// when zero.
	MaxRetries int

	// Backoff is the base delay slept between a conflicting attempt
	// and the next one. Zero disables the sleep.
	Backoff time.Duration

	// BackoffMax, if non-zero, turns Backoff into the base of an
	// exponential-with-jitter delay (util.DefaultBackoff) that grows
	// per attempt up to this cap. Zero keeps the delay flat at
	// Backoff, matching the source implementation's constant
	// inter-retry sleep.
	BackoffMax time.Duration

	// OnConflict, if set, is called once for every commit attempt
	// that loses its version compare, whether or not a retry follows.
	// Intended for metrics instrumentation.
	OnConflict func()

	// OnRetry, if set, is called once for every attempt that is about
	// to be retried (i.e. not the final, exhausting conflict).
	// Intended for metrics instrumentation.
	OnRetry func()
}

func (o RetryOptions) maxRetries() int {
	if o.MaxRetries <= 0 {
		return 10
	}
	return o.MaxRetries
}

// RunWithRetry runs body against a fresh STM up to opts.MaxRetries
// times. Each attempt runs a scoped Transaction that prefetches
// prefetchKeys, then runs body, and commits on normal return. A non-Conflict
// error from body or Commit propagates immediately without retry. A
// Conflict sleeps opts.Backoff (honoring ctx cancellation) and retries
// with a brand new STM; on exhaustion the last Conflict is returned.
func RunWithRetry(ctx context.Context, st store.Store, opts RetryOptions, prefetchKeys [][]byte, body func(*STM) error) error {
	maxRetries := opts.maxRetries()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		s := New(st)
		err := s.Transaction(ctx, func(s *STM) error {
			if len(prefetchKeys) > 0 {
				if err := s.Prefetch(ctx, prefetchKeys); err != nil {
					return err
				}
			}
			return body(s)
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, Conflict) {
			return err
		}

		if opts.OnConflict != nil {
			opts.OnConflict()
		}

		lastErr = err
		if attempt == maxRetries-1 {
			break
		}
		if opts.OnRetry != nil {
			opts.OnRetry()
		}
		if opts.Backoff > 0 {
			delay := opts.Backoff
			if opts.BackoffMax > 0 {
				delay = util.DefaultBackoff(float64(opts.Backoff), float64(opts.BackoffMax), attempt)
			}
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
