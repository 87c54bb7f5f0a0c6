package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	telemetry "nexusgrid/internal/telemetry/domain"
)

// ReadingStore is an in-memory reading repository. Used by tests and
// single-node deployments without Postgres.
type ReadingStore struct {
	mu       sync.RWMutex
	byDevice map[string][]telemetry.Reading
	seen     map[string]struct{}
}

// NewReadingStore constructs an empty store.
func NewReadingStore() *ReadingStore {
	return &ReadingStore{
		byDevice: make(map[string][]telemetry.Reading),
		seen:     make(map[string]struct{}),
	}
}

func dedupeKey(deviceID string, ts time.Time) string {
	return deviceID + "|" + ts.UTC().Format(time.RFC3339Nano)
}

// Append stores one reading, dropping duplicates on (device id, timestamp).
func (s *ReadingStore) Append(_ context.Context, reading telemetry.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dedupeKey(reading.DeviceID, reading.Timestamp)
	if _, ok := s.seen[key]; ok {
		return nil
	}
	s.seen[key] = struct{}{}
	s.byDevice[reading.DeviceID] = append(s.byDevice[reading.DeviceID], reading)
	return nil
}

// QueryRange returns readings over [start, end) sorted by timestamp.
func (s *ReadingStore) QueryRange(_ context.Context, deviceID string, start, end time.Time) ([]telemetry.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []telemetry.Reading
	for _, reading := range s.byDevice[deviceID] {
		if reading.Timestamp.Before(start) || !reading.Timestamp.Before(end) {
			continue
		}
		result = append(result, reading)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// QueryRecent returns readings newer than now minus the window.
func (s *ReadingStore) QueryRecent(ctx context.Context, deviceID string, window time.Duration) ([]telemetry.Reading, error) {
	end := time.Now().UTC()
	return s.QueryRange(ctx, deviceID, end.Add(-window), end)
}

// Count reports the number of stored readings for a device.
func (s *ReadingStore) Count(deviceID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byDevice[deviceID])
}
