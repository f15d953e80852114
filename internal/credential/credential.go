// Package credential persists the bearer credential between runs.
//
// A Store is a dumb, durable box: it performs no validation and knows
// nothing about roles or expiry. Absence of a stored value is the canonical
// logged-out signal.
package credential

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
)

// Credential is an opaque bearer token.
type Credential string

// IsZero reports whether the credential is empty.
func (c Credential) IsZero() bool {
	return c == ""
}

// Fingerprint returns a short, stable digest safe to put in logs.
func (c Credential) Fingerprint() string {
	if c.IsZero() {
		return "none"
	}
	sum := blake3.Sum256([]byte(c))
	return hex.EncodeToString(sum[:6])
}

// String redacts the credential so it never leaks through %v.
func (c Credential) String() string {
	return fmt.Sprintf("credential(%s)", c.Fingerprint())
}

// Store is the persistence contract for the bearer credential.
type Store interface {
	// Get returns the stored credential and whether one is present.
	Get(ctx context.Context) (Credential, bool, error)

	// Set replaces the stored credential.
	Set(ctx context.Context, c Credential) error

	// Clear removes the stored credential. Clearing an empty store is a no-op.
	Clear(ctx context.Context) error
}

// Watcher is implemented by stores that can report changes made by other
// processes.
type Watcher interface {
	// Watch emits a value whenever the underlying storage changes. The
	// channel is closed when ctx is done.
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// MemoryStore keeps the credential in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	value Credential
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get returns the stored credential.
func (m *MemoryStore) Get(ctx context.Context) (Credential, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.value, !m.value.IsZero(), nil
}

// Set replaces the stored credential.
func (m *MemoryStore) Set(ctx context.Context, c Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = c
	return nil
}

// Clear removes the stored credential.
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = ""
	return nil
}

var _ Store = (*MemoryStore)(nil)
