package memstore

import (
	"context"
	"testing"

	"github.com/markgoddard/ffs/store"
)

func TestGetMissing(t *testing.T) {
	s := New()
	kv, err := s.Get(context.Background(), []byte("meta/x"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if kv.Exists() {
		t.Errorf("expected missing key to report absent")
	}
}

func TestTxnCompareFailureReturnsFreshReads(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := []byte("meta/a")

	if res, err := s.Txn(ctx, store.TxnRequest{
		Success: []store.WriteOp{{Key: key, Value: []byte("v1")}},
	}); err != nil || !res.Succeeded {
		t.Fatalf("seed write failed: %+v %v", res, err)
	}

	res, err := s.Txn(ctx, store.TxnRequest{
		Compare: []store.CompareOp{{Key: key, Version: 0}},
		Success: []store.WriteOp{{Key: key, Value: []byte("v2")}},
		Failure: []store.KV{{Key: key}},
	})
	if err != nil {
		t.Fatalf("Txn: %v", err)
	}
	if res.Succeeded {
		t.Fatalf("expected compare against stale version 0 to fail")
	}
	if len(res.Reads) != 1 || string(res.Reads[0].Value) != "v1" {
		t.Fatalf("expected refreshed read of v1, got %+v", res.Reads)
	}
}

func TestGetPrefixOrderedByKey(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, k := range []string{"meta/b", "meta/a", "meta/c"} {
		if res, err := s.Txn(ctx, store.TxnRequest{
			Success: []store.WriteOp{{Key: []byte(k), Value: []byte("x")}},
		}); err != nil || !res.Succeeded {
			t.Fatalf("seed %s: %v %v", k, res, err)
		}
	}
	kvs, err := s.GetPrefix(ctx, []byte("meta/"))
	if err != nil {
		t.Fatalf("GetPrefix: %v", err)
	}
	want := []string{"meta/a", "meta/b", "meta/c"}
	if len(kvs) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(kvs))
	}
	for i, kv := range kvs {
		if string(kv.Key) != want[i] {
			t.Errorf("key %d = %q, want %q", i, kv.Key, want[i])
		}
	}
}
