// Package store defines the contract the STM engine (package stm) and
// the filesystem adapter (package fsadapter) need from the underlying
// key-value store: point gets with a version witness, prefix scans,
// and an atomic compare/success/failure multi-op. This is the
// "downstream collaborator" spec.md treats as external; package
// store/badger gives it a real, embedded implementation and
// store/memstore a lightweight one for tests.
package store

import "context"

// Version is a monotonically increasing witness returned alongside a
// key's value. A Version of zero means the key did not exist at the
// time it was observed.
type Version uint64

// KV is a single key/value observation, carrying the version the
// store assigned it (or zero, if the key was absent).
type KV struct {
	Key     []byte
	Value   []byte
	Version Version
}

// Exists reports whether the observation represents a key that was
// actually present (as opposed to a miss with a zero version).
func (kv KV) Exists() bool {
	return kv.Version != 0
}

// CompareOp asserts that the store's current version of Key equals
// Version at the instant the multi-op is evaluated.
type CompareOp struct {
	Key     []byte
	Version Version
}

// WriteOp is one put or delete applied when a multi-op's compares all
// hold.
type WriteOp struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// TxnRequest is one atomic multi-op: a list of version compares, a
// success branch (applied if every compare holds) and a failure
// branch (a batch of reads, run instead if any compare fails).
type TxnRequest struct {
	Compare []CompareOp
	Success []WriteOp
	Failure []KV // only Key is populated; used to request refresh reads
}

// TxnResult reports whether the compares held. When they did not,
// Reads carries the refreshed values/versions for every key named in
// the request's failure branch, in the same order.
type TxnResult struct {
	Succeeded bool
	Reads     []KV
}

// Store is the contract spec.md §6 calls the "downstream collaborator":
// point get, prefix scan, and one atomic compare/success/failure
// multi-op.
type Store interface {
	// Get fetches a single key. A missing key yields a zero Version
	// and nil Value, not an error.
	Get(ctx context.Context, key []byte) (KV, error)

	// GetPrefix returns every key/value pair whose key starts with
	// prefix. Order is unspecified.
	GetPrefix(ctx context.Context, prefix []byte) ([]KV, error)

	// Txn evaluates one atomic compare/success/failure multi-op.
	Txn(ctx context.Context, req TxnRequest) (TxnResult, error)

	// Close releases any resources held by the store.
	Close() error
}
