package stm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/markgoddard/ffs/store"
	"github.com/markgoddard/ffs/store/memstore"
)

func TestGetPutRoundTrip(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	err := RunWithRetry(ctx, st, RetryOptions{}, nil, func(s *STM) error {
		s.Put([]byte("meta/a"), []byte("v1"))
		return nil
	})
	if err != nil {
		t.Fatalf("RunWithRetry: %v", err)
	}

	err = RunWithRetry(ctx, st, RetryOptions{}, nil, func(s *STM) error {
		val, ok, gerr := s.Get(ctx, []byte("meta/a"))
		if gerr != nil {
			return gerr
		}
		if !ok || string(val) != "v1" {
			t.Errorf("expected v1, got %q (ok=%v)", val, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunWithRetry: %v", err)
	}
}

func TestBodyErrorLeavesNoWrite(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := RunWithRetry(ctx, st, RetryOptions{}, nil, func(s *STM) error {
		s.Put([]byte("meta/a"), []byte("v1"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom to propagate, got %v", err)
	}

	kv, gerr := st.Get(ctx, []byte("meta/a"))
	if gerr != nil {
		t.Fatalf("Get: %v", gerr)
	}
	if kv.Exists() {
		t.Fatalf("expected no write to have been applied, got %+v", kv)
	}
}

func TestPhantomCreateConflict(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	key := []byte("meta/new")

	s := New(st)
	_, ok, err := s.Get(ctx, key)
	if err != nil || ok {
		t.Fatalf("expected key to be absent, got ok=%v err=%v", ok, err)
	}

	// Simulate a concurrent create of the same key landing between
	// this read and the commit.
	if res, terr := st.Txn(ctx, txnCreate(key, "other")); terr != nil || !res.Succeeded {
		t.Fatalf("concurrent create failed: %+v %v", res, terr)
	}

	s.Put(key, []byte("mine"))
	if err := s.Commit(ctx); !errors.Is(err, Conflict) {
		t.Fatalf("expected Conflict from phantom-create guard, got %v", err)
	}

	kv, gerr := st.Get(ctx, key)
	if gerr != nil {
		t.Fatalf("Get: %v", gerr)
	}
	if string(kv.Value) != "other" {
		t.Fatalf("expected concurrent writer's value to survive, got %q", kv.Value)
	}
}

func TestRunWithRetryConvergesUnderContention(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	key := []byte("counter")

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = RunWithRetry(ctx, st, RetryOptions{MaxRetries: 50}, [][]byte{key}, func(s *STM) error {
				val, ok, err := s.Get(ctx, key)
				n := 0
				if ok {
					n = int(val[0])
				}
				n++
				s.Put(key, []byte{byte(n)})
				return err
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d: %v", i, err)
		}
	}

	kv, err := st.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if int(kv.Value[0]) != writers {
		t.Fatalf("expected counter %d, got %d", writers, kv.Value[0])
	}
}

func TestRunWithRetryExhaustionPropagatesConflict(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	key := []byte("meta/x")

	s := New(st)
	if _, _, err := s.Get(ctx, key); err != nil {
		t.Fatalf("Get: %v", err)
	}
	s.Put(key, []byte("mine"))

	// Force every commit attempt this STM makes to lose the race by
	// rewriting the key just before each Commit call.
	err := func() error {
		for attempt := 0; attempt < 3; attempt++ {
			if res, terr := st.Txn(ctx, txnCreate(key, "interloper")); terr != nil || !res.Succeeded {
				t.Fatalf("interloper write failed: %+v %v", res, terr)
			}
			if cerr := s.Commit(ctx); !errors.Is(cerr, Conflict) {
				return cerr
			}
			s.Put(key, []byte("mine"))
		}
		return Conflict
	}()
	if !errors.Is(err, Conflict) {
		t.Fatalf("expected sustained contention to keep surfacing Conflict, got %v", err)
	}
}

func TestAlreadyInTransactionOnReentry(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	s := New(st)
	s.Put([]byte("meta/a"), []byte("v1"))

	err := s.Transaction(ctx, func(inner *STM) error {
		return nil
	})
	if !errors.Is(err, AlreadyInTransaction) {
		t.Fatalf("expected AlreadyInTransaction, got %v", err)
	}
}

// txnCreate builds a blind unconditional write, used to simulate a
// writer racing outside of the STM under test.
func txnCreate(key []byte, value string) store.TxnRequest {
	return store.TxnRequest{Success: []store.WriteOp{{Key: key, Value: []byte(value)}}}
}
