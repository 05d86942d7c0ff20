package device

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/sync-engine/internal/domain"
	"github.com/kursadbilgin/sync-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	registerTimeout = 10 * time.Second
	userAgent       = "sync-engine/1.0"
)

// CapabilityProbe recomputes feature flags fresh on every descriptor build.
type CapabilityProbe func(ctx context.Context) domain.Capabilities

// Identity manages the stable per-installation device id and its capability
// descriptor.
type Identity struct {
	settings    repository.SettingsRepository
	devices     repository.DeviceRepository
	client      *resty.Client
	probe       CapabilityProbe
	logger      *zap.Logger
	baseURL     string
	displayName string
	now         func() time.Time
	newSuffix   func() string
}

func NewIdentity(
	settings repository.SettingsRepository,
	devices repository.DeviceRepository,
	client *resty.Client,
	baseURL string,
	displayName string,
	probe CapabilityProbe,
	logger *zap.Logger,
) (*Identity, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings repository is required")
	}
	if devices == nil {
		return nil, fmt.Errorf("device repository is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if probe == nil {
		probe = func(ctx context.Context) domain.Capabilities {
			return domain.Capabilities{BackgroundSync: true, DurableStorage: true}
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Identity{
		settings:    settings,
		devices:     devices,
		client:      client,
		probe:       probe,
		logger:      logger,
		baseURL:     strings.TrimRight(baseURL, "/"),
		displayName: displayName,
		now:         time.Now,
		newSuffix:   func() string { return uuid.NewString()[:8] },
	}, nil
}

// GetOrCreateDeviceID returns the persisted device id, generating and
// persisting one exactly once when absent. The id is never regenerated
// while a persisted value exists.
func (i *Identity) GetOrCreateDeviceID(ctx context.Context) (string, error) {
	id, err := i.settings.Get(ctx, repository.SettingDeviceID)
	if err == nil && strings.TrimSpace(id) != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	id = fmt.Sprintf("dev-%d-%s", i.now().UnixMilli(), i.newSuffix())
	if err := i.settings.Set(ctx, repository.SettingDeviceID, id); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}

	i.logger.Info("generated new device id", zap.String("deviceId", id))
	return id, nil
}

// BuildCapabilityDescriptor recomputes feature flags fresh. When a persisted
// record exists it is returned with the fresh flags without being written
// back, so server-known metadata is never clobbered by local recomputation.
// Only the very first call persists a new record.
func (i *Identity) BuildCapabilityDescriptor(ctx context.Context) (*domain.Device, error) {
	id, err := i.GetOrCreateDeviceID(ctx)
	if err != nil {
		return nil, err
	}

	caps := i.probe(ctx)

	existing, err := i.devices.GetByID(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to load device record: %w", err)
	}

	if existing != nil {
		existing.Capabilities = caps
		existing.IsCurrentDevice = true
		return existing, nil
	}

	device := &domain.Device{
		ID:              id,
		UserAgent:       userAgent,
		Platform:        runtime.GOOS,
		Type:            detectDeviceType(),
		DisplayName:     i.resolveDisplayName(),
		Capabilities:    caps,
		LastActive:      i.now(),
		IsCurrentDevice: true,
	}
	if err := i.devices.Put(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to persist device record: %w", err)
	}

	return device, nil
}

// RegisterWithServer announces the device to the API. Fire and forget:
// failure is logged and not retried here. The next full sync cycle's device
// activity call implicitly re-attempts registration.
func (i *Identity) RegisterWithServer(ctx context.Context, device *domain.Device) {
	if device == nil {
		return
	}
	if err := device.Validate(); err != nil {
		i.logger.Warn("skipping registration of invalid device", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()

	resp, err := i.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(device).
		Post(i.baseURL + "/api/devices/register")
	if err != nil {
		i.logger.Warn("device registration failed", zap.Error(err))
		return
	}
	if resp.IsError() {
		i.logger.Warn("device registration rejected",
			zap.Int("status", resp.StatusCode()),
		)
		return
	}

	i.logger.Info("device registered", zap.String("deviceId", device.ID))
}

func (i *Identity) resolveDisplayName() string {
	if name := strings.TrimSpace(i.displayName); name != "" {
		return name
	}
	return fmt.Sprintf("%s device", runtime.GOOS)
}

func detectDeviceType() domain.DeviceType {
	switch runtime.GOOS {
	case "android", "ios":
		return domain.DeviceTypeMobile
	case "linux", "darwin", "windows":
		return domain.DeviceTypeDesktop
	}
	return domain.DeviceTypeUnknown
}
