package store

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// ValkeyStore keeps entries as plain string keys below a common prefix.
type ValkeyStore struct {
	client valkey.Client
	prefix string
	ttl    time.Duration
}

// NewValkeyStore stores keys as prefix+key. A zero ttl keeps entries forever.
func NewValkeyStore(client valkey.Client, prefix string, ttl time.Duration) *ValkeyStore {
	return &ValkeyStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *ValkeyStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Do(ctx, s.client.B().Get().Key(s.prefix+key).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return "", ErrNotFound
	} else if err != nil {
		return "", fmt.Errorf("getting %s from Valkey: %w", key, err)
	}
	return value, nil
}

func (s *ValkeyStore) Set(ctx context.Context, key, value string) error {
	var err error
	if s.ttl > 0 {
		err = s.client.Do(ctx, s.client.B().Set().Key(s.prefix+key).Value(value).Ex(s.ttl).Build()).Error()
	} else {
		err = s.client.Do(ctx, s.client.B().Set().Key(s.prefix+key).Value(value).Build()).Error()
	}
	if err != nil {
		return fmt.Errorf("storing %s in Valkey: %w", key, err)
	}
	return nil
}

func (s *ValkeyStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = s.prefix + key
	}
	if err := s.client.Do(ctx, s.client.B().Del().Key(prefixed...).Build()).Error(); err != nil {
		return fmt.Errorf("deleting from Valkey: %w", err)
	}
	return nil
}
