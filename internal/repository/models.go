package repository

import (
	"encoding/json"
	"time"

	"github.com/kursadbilgin/sync-engine/internal/domain"
)

// QueuedRequestModel is the persistence model for the request_queue table.
// Seq is the monotonic enqueue order; flush replays rows ordered by it.
type QueuedRequestModel struct {
	Seq        int64  `gorm:"primaryKey;autoIncrement"`
	ID         string `gorm:"type:varchar(64);uniqueIndex;not null"`
	URL        string `gorm:"type:text;not null"`
	Method     string `gorm:"type:varchar(10);not null"`
	Headers    string `gorm:"type:text;not null"`
	Body       []byte `gorm:"type:blob"`
	EnqueuedAt time.Time
	Attempts   int `gorm:"not null;default:0"`
}

func (QueuedRequestModel) TableName() string {
	return "request_queue"
}

// DeviceModel is the persistence model for the devices table.
type DeviceModel struct {
	ID                string            `gorm:"type:varchar(64);primaryKey"`
	UserAgent         string            `gorm:"type:varchar(255)"`
	Platform          string            `gorm:"type:varchar(64)"`
	Type              domain.DeviceType `gorm:"type:varchar(10);not null"`
	DisplayName       string            `gorm:"type:varchar(255)"`
	PushNotifications bool              `gorm:"not null;default:false"`
	BackgroundSync    bool              `gorm:"not null;default:false"`
	DurableStorage    bool              `gorm:"not null;default:false"`
	LastActive        time.Time         `gorm:"index"`
	LastSync          *time.Time
	IsCurrentDevice   bool `gorm:"not null;default:false"`
}

func (DeviceModel) TableName() string {
	return "devices"
}

// ScheduledReminderModel is the persistence model for scheduled_reminders.
// ItemID is the primary key: one live reminder per item, last write wins.
type ScheduledReminderModel struct {
	ItemID      string    `gorm:"type:varchar(64);primaryKey"`
	DueAt       time.Time `gorm:"not null"`
	Title       string    `gorm:"type:varchar(255)"`
	Body        string    `gorm:"type:text"`
	Payload     string    `gorm:"type:text"`
	ScheduledAt time.Time
}

func (ScheduledReminderModel) TableName() string {
	return "scheduled_reminders"
}

// ActionRecordModel is the persistence model for the actions table.
type ActionRecordModel struct {
	ID         int64             `gorm:"primaryKey;autoIncrement"`
	ActionType domain.ActionType `gorm:"type:varchar(10);not null"`
	ItemID     string            `gorm:"type:varchar(64);not null"`
	ReminderID string            `gorm:"type:varchar(64)"`
	Timestamp  time.Time         `gorm:"index"`
	Payload    string            `gorm:"type:text"`
	Synced     bool              `gorm:"not null;default:false;index"`
}

func (ActionRecordModel) TableName() string {
	return "actions"
}

// NotificationEntryModel is the persistence model for the notifications log.
type NotificationEntryModel struct {
	ID        int64                   `gorm:"primaryKey;autoIncrement"`
	Kind      domain.NotificationKind `gorm:"type:varchar(20);not null"`
	Title     string                  `gorm:"type:varchar(255)"`
	Body      string                  `gorm:"type:text"`
	ItemID    string                  `gorm:"type:varchar(64)"`
	Tag       string                  `gorm:"type:varchar(64)"`
	Timestamp time.Time               `gorm:"index"`
}

func (NotificationEntryModel) TableName() string {
	return "notifications"
}

// SettingModel is the keyed scalar store (deviceId, lastSyncTime).
type SettingModel struct {
	Key       string `gorm:"type:varchar(64);primaryKey"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (SettingModel) TableName() string {
	return "settings"
}

func queuedRequestModelFromDomain(r *domain.QueuedRequest) *QueuedRequestModel {
	if r == nil {
		return nil
	}

	headers, err := json.Marshal(r.Headers)
	if err != nil {
		headers = []byte("[]")
	}

	return &QueuedRequestModel{
		ID:         r.ID,
		URL:        r.URL,
		Method:     r.Method,
		Headers:    string(headers),
		Body:       r.Body,
		EnqueuedAt: r.EnqueuedAt,
		Attempts:   r.Attempts,
	}
}

func queuedRequestModelToDomain(m *QueuedRequestModel) *domain.QueuedRequest {
	if m == nil {
		return nil
	}

	var headers []domain.Header
	if err := json.Unmarshal([]byte(m.Headers), &headers); err != nil {
		headers = nil
	}

	return &domain.QueuedRequest{
		ID:         m.ID,
		URL:        m.URL,
		Method:     m.Method,
		Headers:    headers,
		Body:       m.Body,
		EnqueuedAt: m.EnqueuedAt,
		Attempts:   m.Attempts,
	}
}

func deviceModelFromDomain(d *domain.Device) *DeviceModel {
	if d == nil {
		return nil
	}

	return &DeviceModel{
		ID:                d.ID,
		UserAgent:         d.UserAgent,
		Platform:          d.Platform,
		Type:              d.Type,
		DisplayName:       d.DisplayName,
		PushNotifications: d.Capabilities.PushNotifications,
		BackgroundSync:    d.Capabilities.BackgroundSync,
		DurableStorage:    d.Capabilities.DurableStorage,
		LastActive:        d.LastActive,
		LastSync:          d.LastSync,
		IsCurrentDevice:   d.IsCurrentDevice,
	}
}

func deviceModelToDomain(m *DeviceModel) *domain.Device {
	if m == nil {
		return nil
	}

	return &domain.Device{
		ID:          m.ID,
		UserAgent:   m.UserAgent,
		Platform:    m.Platform,
		Type:        m.Type,
		DisplayName: m.DisplayName,
		Capabilities: domain.Capabilities{
			PushNotifications: m.PushNotifications,
			BackgroundSync:    m.BackgroundSync,
			DurableStorage:    m.DurableStorage,
		},
		LastActive:      m.LastActive,
		LastSync:        m.LastSync,
		IsCurrentDevice: m.IsCurrentDevice,
	}
}

func reminderModelFromDomain(r *domain.ScheduledReminder) *ScheduledReminderModel {
	if r == nil {
		return nil
	}

	return &ScheduledReminderModel{
		ItemID:      r.ItemID,
		DueAt:       r.DueAt,
		Title:       r.Title,
		Body:        r.Body,
		Payload:     string(r.Payload),
		ScheduledAt: r.ScheduledAt,
	}
}

func reminderModelToDomain(m *ScheduledReminderModel) *domain.ScheduledReminder {
	if m == nil {
		return nil
	}

	var payload json.RawMessage
	if m.Payload != "" {
		payload = json.RawMessage(m.Payload)
	}

	return &domain.ScheduledReminder{
		ItemID:      m.ItemID,
		DueAt:       m.DueAt,
		Title:       m.Title,
		Body:        m.Body,
		Payload:     payload,
		ScheduledAt: m.ScheduledAt,
	}
}

func actionModelFromDomain(a *domain.ActionRecord) *ActionRecordModel {
	if a == nil {
		return nil
	}

	return &ActionRecordModel{
		ID:         a.ID,
		ActionType: a.ActionType,
		ItemID:     a.ItemID,
		ReminderID: a.ReminderID,
		Timestamp:  a.Timestamp,
		Payload:    string(a.Payload),
		Synced:     a.Synced,
	}
}

func actionModelToDomain(m *ActionRecordModel) *domain.ActionRecord {
	if m == nil {
		return nil
	}

	var payload json.RawMessage
	if m.Payload != "" {
		payload = json.RawMessage(m.Payload)
	}

	return &domain.ActionRecord{
		ID:         m.ID,
		ActionType: m.ActionType,
		ItemID:     m.ItemID,
		ReminderID: m.ReminderID,
		Timestamp:  m.Timestamp,
		Payload:    payload,
		Synced:     m.Synced,
	}
}

func notificationEntryModelFromDomain(n *domain.NotificationEntry) *NotificationEntryModel {
	if n == nil {
		return nil
	}

	return &NotificationEntryModel{
		ID:        n.ID,
		Kind:      n.Kind,
		Title:     n.Title,
		Body:      n.Body,
		ItemID:    n.ItemID,
		Tag:       n.Tag,
		Timestamp: n.Timestamp,
	}
}

func notificationEntryModelToDomain(m *NotificationEntryModel) *domain.NotificationEntry {
	if m == nil {
		return nil
	}

	return &domain.NotificationEntry{
		ID:        m.ID,
		Kind:      m.Kind,
		Title:     m.Title,
		Body:      m.Body,
		ItemID:    m.ItemID,
		Tag:       m.Tag,
		Timestamp: m.Timestamp,
	}
}
