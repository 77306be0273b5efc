package state

import (
	"math/big"
	"testing"

	"tipledger/storage"
)

type sampleRecord struct {
	Name   string
	Amount *big.Int
	Height uint64
}

func TestManagerStagesUntilCommit(t *testing.T) {
	db := storage.NewMemDB()
	manager := NewManager(db)

	record := sampleRecord{Name: "first", Amount: big.NewInt(42), Height: 7}
	if err := manager.KVPut([]byte("record/1"), &record); err != nil {
		t.Fatalf("put: %v", err)
	}
	if db.Len() != 0 {
		t.Fatalf("staged write leaked into database")
	}

	var staged sampleRecord
	ok, err := manager.KVGet([]byte("record/1"), &staged)
	if err != nil || !ok {
		t.Fatalf("expected staged record to be readable: ok=%v err=%v", ok, err)
	}
	if staged.Amount.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("unexpected staged amount %s", staged.Amount)
	}

	if err := manager.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if db.Len() != 1 {
		t.Fatalf("expected one committed key, got %d", db.Len())
	}
	if manager.Pending() != 0 {
		t.Fatalf("expected staged set to be cleared after commit")
	}

	reopened := NewManager(db)
	var loaded sampleRecord
	ok, err = reopened.KVGet([]byte("record/1"), &loaded)
	if err != nil || !ok {
		t.Fatalf("expected committed record: ok=%v err=%v", ok, err)
	}
	if loaded.Name != "first" || loaded.Height != 7 {
		t.Fatalf("unexpected record %+v", loaded)
	}
}

func TestManagerDiscardLeavesDatabaseUntouched(t *testing.T) {
	db := storage.NewMemDB()
	manager := NewManager(db)
	if err := manager.KVPut([]byte("counter"), uint32(1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := manager.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	before := db.Snapshot()

	if err := manager.KVPut([]byte("counter"), uint32(2)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := manager.KVPut([]byte("other"), "value"); err != nil {
		t.Fatalf("put: %v", err)
	}
	manager.Discard()

	after := db.Snapshot()
	if len(before) != len(after) {
		t.Fatalf("discard changed key count: %d -> %d", len(before), len(after))
	}
	for k, v := range before {
		if string(after[k]) != string(v) {
			t.Fatalf("discard changed value for %x", k)
		}
	}
	value, err := manager.KVGetUint32([]byte("counter"), 0)
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if value != 1 {
		t.Fatalf("expected committed counter 1, got %d", value)
	}
}

func TestManagerUint32Fallback(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	value, err := manager.KVGetUint32([]byte("missing"), 9)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != 9 {
		t.Fatalf("expected fallback 9, got %d", value)
	}
	ok, err := manager.KVHas([]byte("missing"))
	if err != nil || ok {
		t.Fatalf("expected missing key: ok=%v err=%v", ok, err)
	}
}

func TestManagerDeleteIsStaged(t *testing.T) {
	db := storage.NewMemDB()
	manager := NewManager(db)
	if err := manager.KVPut([]byte("k"), "v"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := manager.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := manager.KVDelete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := manager.KVHas([]byte("k")); ok {
		t.Fatalf("staged delete should hide key")
	}
	if db.Len() != 1 {
		t.Fatalf("delete applied before commit")
	}
	if err := manager.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if db.Len() != 0 {
		t.Fatalf("expected key removed after commit")
	}
}

func TestManagerRejectsEmptyKey(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	if err := manager.KVPut(nil, "v"); err == nil {
		t.Fatalf("expected empty key error")
	}
	if _, err := manager.KVGet(nil, nil); err == nil {
		t.Fatalf("expected empty key error")
	}
}
