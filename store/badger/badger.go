// Package badger implements the store.Store contract on top of
// github.com/dgraph-io/badger/v4, an embedded ordered key-value
// engine. Badger assigns every committed key a monotonically
// increasing commit version (Item.Version()); that version is used
// directly as the store.Version witness the STM engine compares at
// commit time, so no separate version table is required.
//
// Grounded on the teacher's storage/disk package (disk.go, txn.go),
// which wraps the same engine (badger/v3 there) behind the policy
// storage Store interface; this package plays the equivalent role for
// the filesystem's flat meta/data key schema.
package badger

import (
	"context"
	"errors"
	"fmt"

	bdg "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/markgoddard/ffs/store"
)

// Options configures the on-disk store.
type Options struct {
	// Dir is the directory badger persists its log and value files
	// under. It is created if it does not exist.
	Dir string

	// Logger receives badger's internal diagnostic output. If nil,
	// badger logging is disabled.
	Logger logrus.FieldLogger
}

// Store is a store.Store backed by an embedded badger database.
type Store struct {
	db *bdg.DB
}

// Open opens (creating if necessary) a badger database at opts.Dir.
func Open(opts Options) (*Store, error) {
	bopts := bdg.DefaultOptions(opts.Dir)
	if opts.Logger == nil {
		bopts = bopts.WithLogger(nil)
	} else {
		bopts = bopts.WithLogger(badgerLogger{opts.Logger})
	}
	db, err := bdg.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %s: %w", opts.Dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, key []byte) (store.KV, error) {
	var out store.KV
	err := s.db.View(func(txn *bdg.Txn) error {
		kv, err := getOne(txn, key)
		out = kv
		return err
	})
	if err != nil {
		return store.KV{}, err
	}
	return out, nil
}

func getOne(txn *bdg.Txn, key []byte) (store.KV, error) {
	item, err := txn.Get(key)
	if err == bdg.ErrKeyNotFound {
		return store.KV{Key: key}, nil
	}
	if err != nil {
		return store.KV{}, fmt.Errorf("badger: get %s: %w", key, err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return store.KV{}, fmt.Errorf("badger: read value of %s: %w", key, err)
	}
	return store.KV{Key: key, Value: val, Version: store.Version(item.Version())}, nil
}

// GetPrefix implements store.Store.
func (s *Store) GetPrefix(_ context.Context, prefix []byte) ([]store.KV, error) {
	var out []store.KV
	err := s.db.View(func(txn *bdg.Txn) error {
		it := txn.NewIterator(bdg.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("badger: read value of %s: %w", key, err)
			}
			out = append(out, store.KV{Key: key, Value: val, Version: store.Version(item.Version())})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Txn implements store.Store. It runs the whole compare/success/
// failure multi-op as a single read-write badger transaction: every
// compare is checked by re-reading the key's current version inside
// that transaction, and the success writes are only applied, and the
// transaction only committed, if every compare held. Otherwise the
// transaction is discarded (no write is ever visible) and the
// requested failure reads are served fresh. A commit that loses
// badger's own snapshot-isolation conflict check (a concurrent writer
// our manual compares didn't see in the read/commit window) is treated
// the same way: Succeeded: false with fresh failure reads, not an
// opaque error, so the caller's conflict retry applies here too.
func (s *Store) Txn(ctx context.Context, req store.TxnRequest) (store.TxnResult, error) {
	if err := ctx.Err(); err != nil {
		return store.TxnResult{}, err
	}

	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	for _, c := range req.Compare {
		cur, err := getOne(txn, c.Key)
		if err != nil {
			return store.TxnResult{}, err
		}
		if cur.Version != c.Version {
			reads, err := s.readFailure(ctx, req.Failure)
			if err != nil {
				return store.TxnResult{}, err
			}
			return store.TxnResult{Succeeded: false, Reads: reads}, nil
		}
	}

	for _, w := range req.Success {
		var err error
		if w.Delete {
			err = txn.Delete(w.Key)
			if err == bdg.ErrKeyNotFound {
				err = nil
			}
		} else {
			err = txn.Set(w.Key, w.Value)
		}
		if err != nil {
			return store.TxnResult{}, fmt.Errorf("badger: apply write to %s: %w", w.Key, err)
		}
	}

	if err := txn.Commit(); err != nil {
		if errors.Is(err, bdg.ErrConflict) {
			// Badger's own SSI conflict detection caught a concurrent
			// writer our manual version compares missed in the
			// read/commit window. Fold this into the same
			// Succeeded: false branch our compares take, so the STM
			// layer sees it as an ordinary conflict and retries,
			// rather than an opaque store error.
			reads, rerr := s.readFailure(ctx, req.Failure)
			if rerr != nil {
				return store.TxnResult{}, rerr
			}
			return store.TxnResult{Succeeded: false, Reads: reads}, nil
		}
		return store.TxnResult{}, fmt.Errorf("badger: commit: %w", err)
	}
	return store.TxnResult{Succeeded: true}, nil
}

func (s *Store) readFailure(ctx context.Context, want []store.KV) ([]store.KV, error) {
	out := make([]store.KV, 0, len(want))
	err := s.db.View(func(txn *bdg.Txn) error {
		for _, w := range want {
			if err := ctx.Err(); err != nil {
				return err
			}
			kv, err := getOne(txn, w.Key)
			if err != nil {
				return err
			}
			out = append(out, kv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type badgerLogger struct {
	logrus.FieldLogger
}

func (l badgerLogger) Warningf(f string, args ...interface{}) { l.Warnf(f, args...) }
