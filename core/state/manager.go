package state

import (
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"tipledger/storage"
)

// Manager provides typed key/value access to ledger state. Writes are staged in
// memory and only reach the backing database when Commit applies them as one
// atomic batch; Discard drops them. Reads observe staged writes first so a call
// sees its own mutations before they are committed.
type Manager struct {
	db storage.Database

	mu      sync.RWMutex
	pending map[string]stagedWrite
	order   []string
}

type stagedWrite struct {
	value   []byte
	deleted bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, pending: make(map[string]stagedWrite)}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) read(hashed []byte) ([]byte, bool, error) {
	m.mu.RLock()
	staged, ok := m.pending[string(hashed)]
	m.mu.RUnlock()
	if ok {
		if staged.deleted {
			return nil, false, nil
		}
		return staged.value, true, nil
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (m *Manager) stage(hashed []byte, w stagedWrite) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(hashed)
	if _, exists := m.pending[key]; !exists {
		m.order = append(m.order, key)
	}
	m.pending[key] = w
}

// KVPut RLP-encodes value and stages it under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("kv: encode %q: %w", key, err)
	}
	m.stage(kvKey(key), stagedWrite{value: encoded})
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := m.read(kvKey(key))
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode %q: %w", key, err)
	}
	return true, nil
}

// KVHas reports whether key exists without decoding its value.
func (m *Manager) KVHas(key []byte) (bool, error) {
	return m.KVGet(key, nil)
}

// KVGetUint32 returns the integer stored under key, or fallback when absent.
func (m *Manager) KVGetUint32(key []byte, fallback uint32) (uint32, error) {
	var value uint32
	ok, err := m.KVGet(key, &value)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback, nil
	}
	return value, nil
}

// KVDelete stages the removal of key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.stage(kvKey(key), stagedWrite{deleted: true})
	return nil
}

// Pending returns the number of staged writes awaiting Commit.
func (m *Manager) Pending() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}

// Commit applies every staged write in a single batch. Nothing is applied if
// the batch fails; the staged set is kept so the caller can Discard it.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}
	batch := m.db.NewBatch()
	for _, key := range m.order {
		w := m.pending[key]
		if w.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), w.value)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("kv: commit %d writes: %w", len(m.order), err)
	}
	m.pending = make(map[string]stagedWrite)
	m.order = m.order[:0]
	return nil
}

// Discard drops every staged write.
func (m *Manager) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = make(map[string]stagedWrite)
	m.order = m.order[:0]
}
