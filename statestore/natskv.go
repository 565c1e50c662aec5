package statestore

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/agentruntime/errors"
)

// NATSKVStore persists snapshots in a NATS JetStream key-value bucket. The
// KV entry revision is the version token, so the CAS contract maps directly
// onto jetstream's Create/Update semantics.
type NATSKVStore struct {
	kv      jetstream.KeyValue
	key     string
	timeout time.Duration
}

// NATSKVOption configures a NATSKVStore
type NATSKVOption func(*NATSKVStore)

// WithTimeout bounds each KV operation. Defaults to 5s.
func WithTimeout(d time.Duration) NATSKVOption {
	return func(s *NATSKVStore) {
		s.timeout = d
	}
}

// NewNATSKVStore creates a store over an existing KV bucket
func NewNATSKVStore(kv jetstream.KeyValue, key string, opts ...NATSKVOption) *NATSKVStore {
	s := &NATSKVStore{
		kv:      kv,
		key:     key,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureBucket creates the registry bucket if it does not exist and returns
// its KV handle. History depth 1 keeps the bucket a pure snapshot.
func EnsureBucket(ctx context.Context, js jetstream.JetStream, bucket string) (jetstream.KeyValue, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSKVStore", "EnsureBucket", "bucket creation")
	}
	return kv, nil
}

// Read returns the current snapshot from the bucket
func (s *NATSKVStore) Read(ctx context.Context) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	entry, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, errors.ErrStateNotFound
		}
		return nil, errors.WrapTransient(err, "NATSKVStore", "Read", "kv get")
	}

	return &Snapshot{
		Data:  entry.Value(),
		Token: formatToken(entry.Revision()),
	}, nil
}

// Write persists data under the CAS contract
func (s *NATSKVStore) Write(ctx context.Context, data []byte, expectedToken string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if expectedToken == "" {
		rev, err := s.kv.Create(ctx, s.key, data)
		if err != nil {
			if isKVConflict(err) {
				return "", errors.WrapTransient(errors.ErrTokenMismatch, "NATSKVStore", "Write", "kv create")
			}
			return "", errors.WrapTransient(err, "NATSKVStore", "Write", "kv create")
		}
		return formatToken(rev), nil
	}

	expected, err := strconv.ParseUint(expectedToken, 10, 64)
	if err != nil {
		return "", errors.WrapInvalid(err, "NATSKVStore", "Write", "token parsing")
	}

	rev, err := s.kv.Update(ctx, s.key, data, expected)
	if err != nil {
		if isKVConflict(err) {
			return "", errors.WrapTransient(errors.ErrTokenMismatch, "NATSKVStore", "Write", "kv update")
		}
		return "", errors.WrapTransient(err, "NATSKVStore", "Write", "kv update")
	}
	return formatToken(rev), nil
}

// isKVConflict detects revision conflicts from jetstream. The sentinel
// covers create races; update races surface as a wrong-last-sequence API
// error, matched by message.
func isKVConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") ||
		strings.Contains(msg, "wrong last msg ID")
}
