package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeviceType is a coarse form-factor classification.
type DeviceType string

const (
	DeviceTypeDesktop DeviceType = "DESKTOP"
	DeviceTypeMobile  DeviceType = "MOBILE"
	DeviceTypeTablet  DeviceType = "TABLET"
	DeviceTypeUnknown DeviceType = "UNKNOWN"
)

func (t DeviceType) String() string { return string(t) }

func (t DeviceType) IsValid() bool {
	switch t {
	case DeviceTypeDesktop, DeviceTypeMobile, DeviceTypeTablet, DeviceTypeUnknown:
		return true
	}
	return false
}

func ParseDeviceTypeFromString(s string) (DeviceType, error) {
	t := DeviceType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid device type %q", ErrValidation, s)
	}
	return t, nil
}

// Capabilities are the feature flags recomputed fresh on every descriptor
// build. They never clobber server-known metadata about the device.
type Capabilities struct {
	PushNotifications bool `json:"pushNotifications"`
	BackgroundSync    bool `json:"backgroundSync"`
	DurableStorage    bool `json:"durableStorage"`
}

// Device identifies one installation of the worker. The ID is assigned once
// and never regenerated while a persisted value exists.
type Device struct {
	ID              string       `json:"id"`
	UserAgent       string       `json:"userAgent"`
	Platform        string       `json:"platform"`
	Type            DeviceType   `json:"type"`
	DisplayName     string       `json:"displayName"`
	Capabilities    Capabilities `json:"capabilities"`
	LastActive      time.Time    `json:"lastActive"`
	LastSync        *time.Time   `json:"lastSync,omitempty"`
	IsCurrentDevice bool         `json:"isCurrentDevice"`
}

func (d *Device) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: device id is required", ErrValidation)
	}
	if !d.Type.IsValid() {
		return fmt.Errorf("%w: invalid device type %q", ErrValidation, d.Type)
	}
	return nil
}
