package memory

import (
	"context"
	"sync"

	devices "nexusgrid/internal/devices/domain"
)

// ConfigStore is an in-memory config provider for tests and single-node
// deployments seeded from a file.
type ConfigStore struct {
	mu      sync.RWMutex
	configs map[string]devices.Config
}

// NewConfigStore constructs an empty store.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{configs: make(map[string]devices.Config)}
}

// Put stores or replaces a device configuration.
func (s *ConfigStore) Put(config devices.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[config.Device.ID] = config
}

// GetConfig loads a device configuration.
func (s *ConfigStore) GetConfig(_ context.Context, deviceID string) (*devices.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	config, ok := s.configs[deviceID]
	if !ok {
		return nil, devices.ErrNotFound
	}
	copied := config
	return &copied, nil
}
