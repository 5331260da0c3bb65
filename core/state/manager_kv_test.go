package state

import (
	"testing"

	"github.com/holiman/uint256"

	"tinybank/storage"
	"tinybank/storage/trie"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	return NewManager(tr)
}

func TestKVRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	key := TokenBalanceKey([]byte{0x01, 0x02})

	var missing uint256.Int
	ok, err := mgr.KVGet(key, &missing)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be absent")
	}

	if err := mgr.KVPut(key, uint256.NewInt(42)); err != nil {
		t.Fatalf("put: %v", err)
	}
	var got uint256.Int
	ok, err = mgr.KVGet(key, &got)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Uint64() != 42 {
		t.Fatalf("unexpected value %s", got.Dec())
	}

	if err := mgr.KVDelete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, err = mgr.KVGet(key, nil)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be removed")
	}
}

func TestKVRejectsEmptyKey(t *testing.T) {
	mgr := newTestManager(t)
	if err := mgr.KVPut(nil, uint64(1)); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
	if _, err := mgr.KVGet([]byte{}, nil); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
}

func TestNonceDefaultsToZero(t *testing.T) {
	mgr := newTestManager(t)
	addr := []byte{0xaa}
	nonce, err := mgr.Nonce(addr)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	if nonce != 0 {
		t.Fatalf("expected zero nonce, got %d", nonce)
	}
	if err := mgr.SetNonce(addr, 7); err != nil {
		t.Fatalf("set nonce: %v", err)
	}
	if nonce, _ = mgr.Nonce(addr); nonce != 7 {
		t.Fatalf("expected nonce 7, got %d", nonce)
	}
}
