package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/c360/agentruntime/errors"
)

// fileEnvelope is the on-disk format: the snapshot plus its revision
type fileEnvelope struct {
	Revision uint64          `json:"revision"`
	State    json.RawMessage `json:"state"`
}

// FileStore persists snapshots as a single flat file. Writes go through a
// temp file and rename so a crash never leaves a torn snapshot. The process
// mutex serializes writers within this process; the CAS token guards against
// stale writes on top of that.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by the given snapshot path. The parent
// directory must exist.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("snapshot path must not be empty"),
			"FileStore", "NewFileStore", "path validation")
	}
	return &FileStore{path: path}, nil
}

// Read returns the current snapshot from disk
func (s *FileStore) Read(_ context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.readEnvelope()
	if err != nil {
		return nil, err
	}
	return &Snapshot{Data: env.State, Token: formatToken(env.Revision)}, nil
}

// Write persists data under the CAS contract
func (s *FileStore) Write(_ context.Context, data []byte, expectedToken string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var revision uint64
	env, err := s.readEnvelope()
	switch {
	case err == nil:
		revision = env.Revision
	case errors.Is(err, errors.ErrStateNotFound):
		revision = 0
	default:
		return "", err
	}

	current := ""
	if revision > 0 {
		current = formatToken(revision)
	}
	if expectedToken != current {
		return "", errors.WrapTransient(errors.ErrTokenMismatch, "FileStore", "Write", "token comparison")
	}

	next := fileEnvelope{Revision: revision + 1, State: data}
	raw, err := json.Marshal(next)
	if err != nil {
		return "", errors.WrapInvalid(err, "FileStore", "Write", "snapshot encoding")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".snapshot-*")
	if err != nil {
		return "", errors.WrapTransient(err, "FileStore", "Write", "temp file creation")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", errors.WrapTransient(err, "FileStore", "Write", "snapshot write")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", errors.WrapTransient(err, "FileStore", "Write", "snapshot close")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return "", errors.WrapTransient(err, "FileStore", "Write", "snapshot rename")
	}

	return formatToken(next.Revision), nil
}

func (s *FileStore) readEnvelope() (*fileEnvelope, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrStateNotFound
		}
		return nil, errors.WrapTransient(err, "FileStore", "readEnvelope", "snapshot read")
	}

	var env fileEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.WrapFatal(err, "FileStore", "readEnvelope", "snapshot decoding")
	}
	if env.Revision == 0 {
		return nil, errors.WrapFatal(
			fmt.Errorf("snapshot file %s has revision 0", s.path),
			"FileStore", "readEnvelope", "snapshot validation")
	}
	return &env, nil
}
