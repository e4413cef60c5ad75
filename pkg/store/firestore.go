package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps one document per key in a collection.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

type entryDoc struct {
	Value     string    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// NewFirestoreStore connects to the given project. An empty or "(default)"
// database selects the default database.
func NewFirestoreStore(ctx context.Context, projectID, database, collection string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &FirestoreStore{client: client, collection: collection}, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) Get(ctx context.Context, key string) (string, error) {
	snapshot, err := s.client.Collection(s.collection).Doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return "", ErrNotFound
	} else if err != nil {
		return "", fmt.Errorf("failed to get %s from Firestore: %w", key, err)
	}

	var doc entryDoc
	if err := snapshot.DataTo(&doc); err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return doc.Value, nil
}

func (s *FirestoreStore) Set(ctx context.Context, key, value string) error {
	doc := entryDoc{Value: value, UpdatedAt: time.Now()}
	if _, err := s.client.Collection(s.collection).Doc(key).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to store %s in Firestore: %w", key, err)
	}
	return nil
}

func (s *FirestoreStore) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		// deleting a missing document is not an error
		if _, err := s.client.Collection(s.collection).Doc(key).Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete %s from Firestore: %w", key, err)
		}
	}
	return nil
}
