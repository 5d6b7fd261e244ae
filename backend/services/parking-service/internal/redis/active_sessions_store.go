package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"parkwise/backend/services/parking-service/internal/models"
)

// Store caches each payer's active session. Postgres stays authoritative;
// a miss or a stale entry only costs a database read.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore returns redis-backed store.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) key(payerID string) string {
	return fmt.Sprintf("parking:sessions:active:%s", payerID)
}

// Save caches session under its payer.
func (s *Store) Save(ctx context.Context, session *models.ParkingSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(session.PayerID), data, s.ttl).Err()
}

// Get returns the cached session. A miss is reported as redis.Nil.
func (s *Store) Get(ctx context.Context, payerID string) (*models.ParkingSession, error) {
	result, err := s.client.Get(ctx, s.key(payerID)).Result()
	if err != nil {
		return nil, err
	}
	var session models.ParkingSession
	if err := json.Unmarshal([]byte(result), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Delete removes the payer's cached session.
func (s *Store) Delete(ctx context.Context, payerID string) error {
	return s.client.Del(ctx, s.key(payerID)).Err()
}
