package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	telemetry "nexusgrid/internal/telemetry/domain"
)

const defaultTTL = 10 * time.Minute

// ErrNoReading means the device has not reported within the cache TTL.
var ErrNoReading = errors.New("latest store: no reading")

// LatestStore caches the most recent reading per device for the live API.
// Entries expire so a silent device reads as offline instead of stale.
type LatestStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLatestStore constructs a redis-backed latest-reading cache.
func NewLatestStore(client *redis.Client, ttl time.Duration) (*LatestStore, error) {
	if client == nil {
		return nil, errors.New("latest store: nil client")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &LatestStore{client: client, ttl: ttl}, nil
}

func (s *LatestStore) key(deviceID string) string {
	return fmt.Sprintf("telemetry:latest:%s", deviceID)
}

// Save caches the reading as the device's latest.
func (s *LatestStore) Save(ctx context.Context, reading telemetry.Reading) error {
	if s == nil || s.client == nil {
		return errors.New("latest store: nil client")
	}
	data, err := json.Marshal(reading)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(reading.DeviceID), data, s.ttl).Err()
}

// Get returns the device's latest cached reading.
func (s *LatestStore) Get(ctx context.Context, deviceID string) (*telemetry.Reading, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("latest store: nil client")
	}
	result, err := s.client.Get(ctx, s.key(deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoReading
	}
	if err != nil {
		return nil, err
	}
	var reading telemetry.Reading
	if err := json.Unmarshal([]byte(result), &reading); err != nil {
		return nil, err
	}
	return &reading, nil
}
