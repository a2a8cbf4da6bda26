package selection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps drafts in Redis with a sliding TTL. Every save re-arms the
// expiry, so a draft only dies after ttl of inactivity.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{client: client, ttl: ttl}
}

func (s *Store) Save(ctx context.Context, d *Draft) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, draftKey(d.ID), payload, s.ttl).Err()
}

func (s *Store) Get(ctx context.Context, draftID string) (*Draft, error) {
	payload, err := s.client.Get(ctx, draftKey(draftID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var d Draft
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) Delete(ctx context.Context, draftID string) error {
	return s.client.Del(ctx, draftKey(draftID)).Err()
}

func (s *Store) Ready(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func draftKey(id string) string {
	return fmt.Sprintf("draft:%s", id)
}
