package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// NotificationKind tags an OS notification payload.
type NotificationKind string

const (
	NotificationSync       NotificationKind = "sync"
	NotificationReminder   NotificationKind = "reminder"
	NotificationDeviceSync NotificationKind = "device_sync"
)

func (k NotificationKind) String() string { return string(k) }

func (k NotificationKind) IsValid() bool {
	switch k {
	case NotificationSync, NotificationReminder, NotificationDeviceSync:
		return true
	}
	return false
}

// NotificationPayload is the wire contract for a displayed notification.
type NotificationPayload struct {
	Kind   NotificationKind `json:"type"`
	Title  string           `json:"title"`
	Body   string           `json:"body"`
	ItemID string           `json:"itemId,omitempty"`
	Tag    string           `json:"tag,omitempty"`
	Data   json.RawMessage  `json:"data,omitempty"`
}

// DefaultNotification is what unknown or unparseable payloads fall back to,
// so a malformed push never crashes the handler.
func DefaultNotification() NotificationPayload {
	return NotificationPayload{
		Kind:  NotificationSync,
		Title: "Notes",
		Body:  "You have new updates",
		Tag:   "default",
	}
}

// ParseNotificationPayload decodes raw payload bytes, substituting the
// default notification when the payload is missing, malformed, or of an
// unknown kind.
func ParseNotificationPayload(raw []byte) NotificationPayload {
	if len(raw) == 0 {
		return DefaultNotification()
	}

	var payload NotificationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return DefaultNotification()
	}
	if !payload.Kind.IsValid() || strings.TrimSpace(payload.Title) == "" {
		return DefaultNotification()
	}
	return payload
}

// NotificationEntry is one row of the local notification history log.
type NotificationEntry struct {
	ID        int64            `json:"id"`
	Kind      NotificationKind `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	ItemID    string           `json:"itemId,omitempty"`
	Tag       string           `json:"tag,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
