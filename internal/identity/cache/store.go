package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kumbh-rakshak/kr-backend/internal/identity/domain"
)

// Logical keys for the session cache. These mirror the keys the
// mobile shell historically kept in device storage.
const (
	KeyUserType      = "userType"      // scalar role, last confirmed
	KeyUserData      = "userData"      // serialized IdentityRecord
	KeyVolunteerData = "volunteerData" // volunteer copy, present only for volunteer sessions
)

// schemaVersion is bumped whenever the serialized shape of a cache
// entry changes. Entries with any other version are rejected, never
// trusted.
const schemaVersion = 1

// envelope wraps every cached value so stale shapes from older app
// versions can be detected on read.
type envelope struct {
	SchemaVersion int             `json:"schemaVersion"`
	Payload       json.RawMessage `json:"payload"`
}

// Store is the durable local cache adapter: a key/value mirror of the
// identity record for offline use. Operations are atomic per key but
// not transactional across keys; the reconciler treats partial
// multi-key writes as recoverable. Entries have no TTL — staleness is
// handled by role re-verification, not eviction.
type Store struct {
	client *redis.Client
	prefix string
}

// NewStore creates a Store. prefix namespaces all keys
// (e.g. "kr:session:").
func NewStore(client *redis.Client, prefix string) *Store {
	return &Store{
		client: client,
		prefix: prefix,
	}
}

func (s *Store) key(name string) string {
	return s.prefix + name
}

// Write stores value under the logical key. The value is marshaled
// into a versioned envelope.
func (s *Store) Write(ctx context.Context, name string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache payload: %w", err)
	}

	data, err := json.Marshal(envelope{
		SchemaVersion: schemaVersion,
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cache envelope: %w", err)
	}

	if err := s.client.Set(ctx, s.key(name), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write cache key %s: %w", name, err)
	}

	return nil
}

// Read loads the logical key into out. It returns (false, nil) when
// the key is absent and domain.ErrCacheSchema when the entry carries
// an unknown schema version.
func (s *Store) Read(ctx context.Context, name string, out interface{}) (bool, error) {
	data, err := s.client.Get(ctx, s.key(name)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cache key %s: %w", name, err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache envelope for %s: %w", name, err)
	}
	if env.SchemaVersion != schemaVersion {
		return false, fmt.Errorf("cache key %s has version %d: %w", name, env.SchemaVersion, domain.ErrCacheSchema)
	}

	if err := json.Unmarshal(env.Payload, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache payload for %s: %w", name, err)
	}

	return true, nil
}

// DeleteMany removes the given logical keys in a single pipeline.
// Missing keys are not an error.
func (s *Store) DeleteMany(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, name := range names {
		pipe.Del(ctx, s.key(name))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}

	return nil
}
