// Package memstore provides a process-local, in-memory store.Store
// implementation. It mirrors the role the teacher's storage/inmem
// package plays alongside storage/disk: a lightweight stand-in for
// the real engine, used so the STM engine and filesystem adapter can
// be tested without spinning up badger.
package memstore

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/markgoddard/ffs/store"
)

type entry struct {
	value   []byte
	version store.Version
}

// Store is a concurrency-safe, in-memory store.Store.
type Store struct {
	mu      sync.Mutex
	data    map[string]entry
	nextVer store.Version
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{data: map[string]entry{}}
}

func (s *Store) Close() error { return nil }

func (s *Store) lookupLocked(key []byte) store.KV {
	e, ok := s.data[string(key)]
	if !ok {
		return store.KV{Key: key}
	}
	return store.KV{Key: key, Value: append([]byte(nil), e.value...), Version: e.version}
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, key []byte) (store.KV, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(key), nil
}

// GetPrefix implements store.Store.
func (s *Store) GetPrefix(_ context.Context, prefix []byte) ([]store.KV, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.KV
	for k, e := range s.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			out = append(out, store.KV{Key: []byte(k), Value: append([]byte(nil), e.value...), Version: e.version})
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out, nil
}

// Txn implements store.Store with the same "all compares must hold or
// nothing is applied" semantics as the badger-backed store.
func (s *Store) Txn(ctx context.Context, req store.TxnRequest) (store.TxnResult, error) {
	if err := ctx.Err(); err != nil {
		return store.TxnResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range req.Compare {
		if s.lookupLocked(c.Key).Version != c.Version {
			reads := make([]store.KV, 0, len(req.Failure))
			for _, w := range req.Failure {
				reads = append(reads, s.lookupLocked(w.Key))
			}
			return store.TxnResult{Succeeded: false, Reads: reads}, nil
		}
	}

	for _, w := range req.Success {
		if w.Delete {
			delete(s.data, string(w.Key))
			continue
		}
		s.nextVer++
		s.data[string(w.Key)] = entry{value: append([]byte(nil), w.Value...), version: s.nextVer}
	}
	return store.TxnResult{Succeeded: true}, nil
}
