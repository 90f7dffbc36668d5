package state

import (
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"peleon/storage"
)

// Manager provides namespaced, RLP-encoded key-value access to contract state.
//
// Writes are staged in an in-memory overlay and only reach the backing database
// on Commit. Revert drops every staged write, which gives each host call
// all-or-nothing semantics: a call that fails leaves no partial state behind.
//
// Manager is not safe for concurrent use; the host runtime serializes calls.
type Manager struct {
	db        storage.Database
	namespace []byte
	overlay   map[string]overlayEntry
	order     []string
}

type overlayEntry struct {
	value   []byte
	deleted bool
}

// NewManager creates a state manager whose keys are isolated under namespace.
// Two managers sharing a database but using different namespaces never see
// each other's keys.
func NewManager(db storage.Database, namespace string) *Manager {
	ns := strings.TrimSpace(namespace)
	return &Manager{
		db:        db,
		namespace: []byte(ns + "/"),
		overlay:   make(map[string]overlayEntry),
	}
}

// Namespace returns the namespace the manager was created with.
func (m *Manager) Namespace() string {
	return strings.TrimSuffix(string(m.namespace), "/")
}

func (m *Manager) kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(m.namespace, key)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 together with the manager namespace.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.stage(m.kvKey(key), overlayEntry{value: encoded})
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state. Staged writes are visible before Commit.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := m.read(m.kvKey(key))
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVHas reports whether a value exists for key.
func (m *Manager) KVHas(key []byte) (bool, error) {
	return m.KVGet(key, nil)
}

// KVDelete stages the removal of key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.stage(m.kvKey(key), overlayEntry{deleted: true})
	return nil
}

func (m *Manager) stage(hashed []byte, entry overlayEntry) {
	k := string(hashed)
	if _, exists := m.overlay[k]; !exists {
		m.order = append(m.order, k)
	}
	m.overlay[k] = entry
}

func (m *Manager) read(hashed []byte) ([]byte, bool, error) {
	if entry, ok := m.overlay[string(hashed)]; ok {
		if entry.deleted {
			return nil, false, nil
		}
		return entry.value, true, nil
	}
	if m.db == nil {
		return nil, false, errors.New("state: database not configured")
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	return data, true, nil
}

// Pending returns the number of staged writes awaiting Commit.
func (m *Manager) Pending() int {
	return len(m.order)
}

// Commit flushes staged writes to the database in a single batch.
func (m *Manager) Commit() error {
	if len(m.order) == 0 {
		return nil
	}
	if m.db == nil {
		return errors.New("state: database not configured")
	}
	batch := m.db.NewBatch()
	for _, k := range m.order {
		entry := m.overlay[k]
		if entry.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), entry.value)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.reset()
	return nil
}

// Revert discards every staged write.
func (m *Manager) Revert() {
	m.reset()
}

func (m *Manager) reset() {
	m.overlay = make(map[string]overlayEntry)
	m.order = nil
}
