package statestore

import (
	"context"
	"strconv"
	"sync"

	"github.com/c360/agentruntime/errors"
)

// MemoryStore keeps snapshots in process memory. It honors the full CAS
// contract and is the default store for tests and ephemeral runtimes.
type MemoryStore struct {
	mu       sync.Mutex
	data     []byte
	revision uint64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Read returns the current snapshot
func (s *MemoryStore) Read(_ context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.revision == 0 {
		return nil, errors.ErrStateNotFound
	}
	data := make([]byte, len(s.data))
	copy(data, s.data)
	return &Snapshot{Data: data, Token: formatToken(s.revision)}, nil
}

// Write persists data under the CAS contract
func (s *MemoryStore) Write(_ context.Context, data []byte, expectedToken string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := ""
	if s.revision > 0 {
		current = formatToken(s.revision)
	}
	if expectedToken != current {
		return "", errors.WrapTransient(errors.ErrTokenMismatch, "MemoryStore", "Write", "token comparison")
	}

	s.data = make([]byte, len(data))
	copy(s.data, data)
	s.revision++
	return formatToken(s.revision), nil
}

func formatToken(revision uint64) string {
	return strconv.FormatUint(revision, 10)
}
