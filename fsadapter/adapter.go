package fsadapter

import (
	"context"
	"sync"
	"time"

	"github.com/markgoddard/ffs/keycodec"
	"github.com/markgoddard/ffs/meta"
	"github.com/markgoddard/ffs/metrics"
	"github.com/markgoddard/ffs/stm"
	"github.com/markgoddard/ffs/store"
)

const handleTableSize = 1024

// Opt modifies an Adapter's configuration at construction time.
// Grounded on the teacher's storage/inmem functional-options pattern
// (storage/inmem/opts.go).
type Opt func(*Adapter)

// WithMaxRetries bounds how many times a conflicting transaction is
// retried before the conflict is surfaced as a StoreError. Defaults to
// 10, matching spec.md's STM retry wrapper default.
func WithMaxRetries(n int) Opt {
	return func(a *Adapter) { a.retry.MaxRetries = n }
}

// WithBackoff sets the delay between a conflicting attempt and the
// next retry. Defaults to zero (no delay).
func WithBackoff(d time.Duration) Opt {
	return func(a *Adapter) { a.retry.Backoff = d }
}

// WithExponentialBackoff sets a base/max pair that turns the flat
// inter-retry delay into an exponential-with-jitter one (base doubling
// per attempt, capped at max), grounded on the teacher's util.Backoff.
func WithExponentialBackoff(base, max time.Duration) Opt {
	return func(a *Adapter) {
		a.retry.Backoff = base
		a.retry.BackoffMax = max
	}
}

// WithOpTimeout bounds how long any single adapter operation's
// transaction may run before its context is canceled. Defaults to 30
// seconds (O4).
func WithOpTimeout(d time.Duration) Opt {
	return func(a *Adapter) { a.opTimeout = d }
}

// WithDefaultOwner sets the uid/gid newly created entries are stamped
// with. Defaults to 0/0.
func WithDefaultOwner(uid, gid uint32) Opt {
	return func(a *Adapter) { a.defaultUID, a.defaultGID = uid, gid }
}

// WithMetrics attaches a set of Prometheus collectors that every
// transactional operation reports its commit latency, retries and
// conflicts to. Omitted by default (nil), in which case no metrics
// are recorded.
func WithMetrics(m *metrics.PrometheusCollectors) Opt {
	return func(a *Adapter) { a.metrics = m }
}

// Adapter translates POSIX filesystem operations into STM
// transactions (or, for entry creation, a single idempotent multi-op)
// against a store.Store, using keycodec for key derivation and meta
// for attribute records.
type Adapter struct {
	store store.Store
	retry stm.RetryOptions

	opTimeout  time.Duration
	defaultUID uint32
	defaultGID uint32

	metrics *metrics.PrometheusCollectors
	handles handleTable
}

// New returns an Adapter over st, applying opts in order.
func New(st store.Store, opts ...Opt) *Adapter {
	a := &Adapter{
		store:     st,
		opTimeout: 30 * time.Second,
		handles:   newHandleTable(handleTableSize),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Init ensures the root directory's metadata record exists. It is
// idempotent: calling it against an already-initialized store is a
// no-op.
func (a *Adapter) Init(ctx context.Context) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	rec := meta.NewDir(0o777, a.defaultUID, a.defaultGID)
	_, err := a.ensureFile(ctx, "/", rec, nil)
	return err
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.opTimeout)
}

// runWithRetry runs body under the STM retry wrapper, bounded by the
// adapter's configured op timeout, and translates a surviving conflict
// into a StoreError.
func (a *Adapter) runWithRetry(ctx context.Context, path string, prefetch [][]byte, body func(*stm.STM) error) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	opts := a.retry
	if a.metrics != nil {
		opts.OnConflict = func() { a.metrics.Conflicts.Inc() }
		opts.OnRetry = func() { a.metrics.Retries.Inc() }
	}

	start := time.Now()
	err := stm.RunWithRetry(ctx, a.store, opts, prefetch, body)
	if a.metrics != nil {
		a.metrics.CommitLatency.Observe(time.Since(start).Seconds())
	}

	if err == nil {
		return nil
	}
	if fsErr, ok := err.(*Error); ok {
		return fsErr
	}
	return newErr(StoreError, path, err)
}

// ensureFile performs the reference implementation's idempotent
// create: it writes the metadata record (and, for non-directories, a
// data payload) only if the metadata key does not already exist,
// atomically, in one multi-op. It reports whether this call was the
// one that created the entry.
func (a *Adapter) ensureFile(ctx context.Context, path string, rec meta.Record, data []byte) (bool, error) {
	if err := keycodec.ValidatePath(path); err != nil {
		return false, newErr(NameTooLong, path, err)
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	metaKey := keycodec.MetaKey(path)
	encoded, err := meta.Encode(rec)
	if err != nil {
		return false, newErr(Corrupt, path, err)
	}

	compare := []store.CompareOp{{Key: metaKey, Version: 0}}
	success := []store.WriteOp{{Key: metaKey, Value: encoded}}
	if !rec.IsDir() {
		dataKey := keycodec.DataKey(path)
		compare = append(compare, store.CompareOp{Key: dataKey, Version: 0})
		success = append(success, store.WriteOp{Key: dataKey, Value: data})
	}

	res, err := a.store.Txn(ctx, store.TxnRequest{Compare: compare, Success: success})
	if err != nil {
		return false, newErr(StoreError, path, err)
	}
	return res.Succeeded, nil
}

// Handle reports the path and flags a previously opened fd was
// registered with, mirroring the reference implementation's
// assert path == file.path sanity check at the top of read/write.
func (a *Adapter) Handle(fh int) (path string, flags int, ok bool) {
	h, ok := a.handles.get(fh)
	if !ok {
		return "", 0, false
	}
	return h.path, h.flags, true
}

// handle is one entry in the open-file table: the path and open flags
// an fd was opened with.
type handle struct {
	path  string
	flags int
}

// handleTable is a fixed-capacity slot allocator for open file
// handles, mirroring the reference implementation's fixed-size fds
// list (and its ENFILE-style exhaustion once every slot is taken).
type handleTable struct {
	mu    sync.Mutex
	slots []*handle
}

func newHandleTable(size int) handleTable {
	return handleTable{slots: make([]*handle, size)}
}

func (t *handleTable) open(path string, flags int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.slots {
		if s == nil {
			t.slots[i] = &handle{path: path, flags: flags}
			return i, nil
		}
	}
	return 0, newErr(HandleExhausted, path, nil)
}

func (t *handleTable) close(fh int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fh >= 0 && fh < len(t.slots) {
		t.slots[fh] = nil
	}
}

func (t *handleTable) get(fh int) (*handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fh < 0 || fh >= len(t.slots) || t.slots[fh] == nil {
		return nil, false
	}
	return t.slots[fh], true
}
