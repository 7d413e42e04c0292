package valkey

import (
	"context"

	"github.com/valkey-io/valkey-go"

	"github.com/samirrijal/souq/internal/core/ports"
)

// Store implements ports.KeyValueStore with plain Valkey strings that never
// expire.
type Store struct {
	client valkey.Client
}

// NewStore wraps an existing client.
func NewStore(client valkey.Client) *Store {
	return &Store{client: client}
}

// Get returns ports.ErrKeyNotFound when the key does not exist.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, ports.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Do(ctx, s.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Build()).Error()
}

func (s *Store) Remove(ctx context.Context, key string) error {
	return s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error()
}

// Ping reports whether the server answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}
