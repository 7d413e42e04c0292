package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/samirrijal/souq/internal/core/ports"
)

// document is the stored shape of one key. The value is kept as an opaque
// string so the record layout matches every other backend.
type document struct {
	Value     string    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// Store implements ports.KeyValueStore with one Firestore document per key.
type Store struct {
	client     *firestore.Client
	collection string
}

// NewClient creates a Firestore client using application default credentials.
func NewClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return client, nil
}

// NewStore stores keys as documents under collection.
func NewStore(client *firestore.Client, collection string) *Store {
	return &Store{client: client, collection: collection}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	snap, err := s.client.Collection(s.collection).Doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ports.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	var doc document
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return []byte(doc.Value), nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.client.Collection(s.collection).Doc(key).Set(ctx, document{
		Value:     string(value),
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Remove deletes the document. Deleting a missing document is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.client.Collection(s.collection).Doc(key).Delete(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
