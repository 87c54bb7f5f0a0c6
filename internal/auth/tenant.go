package auth

import (
	"context"
	"errors"

	devices "nexusgrid/internal/devices/domain"
)

var (
	// ErrTenantMismatch indicates resource belongs to a different tenant.
	ErrTenantMismatch = errors.New("tenant mismatch")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("resource not found")
)

// DeviceTenantChecker validates device tenant ownership.
type DeviceTenantChecker interface {
	EnsureDeviceTenant(ctx context.Context, tenantID, deviceID string) error
}

// DeviceChecker checks device ownership using the config provider.
type DeviceChecker struct {
	configs devices.ConfigProvider
}

// NewDeviceChecker constructs a DeviceChecker.
func NewDeviceChecker(configs devices.ConfigProvider) *DeviceChecker {
	if configs == nil {
		return nil
	}
	return &DeviceChecker{configs: configs}
}

// EnsureDeviceTenant verifies the device belongs to the tenant.
func (c *DeviceChecker) EnsureDeviceTenant(ctx context.Context, tenantID, deviceID string) error {
	if c == nil || c.configs == nil {
		return nil
	}
	if tenantID == "" || deviceID == "" {
		return nil
	}
	config, err := c.configs.GetConfig(ctx, deviceID)
	if err != nil {
		if errors.Is(err, devices.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if config.Device.TenantID != tenantID {
		return ErrTenantMismatch
	}
	return nil
}
