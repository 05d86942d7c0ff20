package channel

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kursadbilgin/sync-engine/internal/domain"
)

// Page to worker message types.
const (
	MsgSkipWaiting      = "SKIP_WAITING"
	MsgSyncRequest      = "SYNC_REQUEST"
	MsgRegisterDevice   = "REGISTER_DEVICE"
	MsgUpdateSyncStatus = "UPDATE_SYNC_STATUS"
	MsgScheduleReminder = "SCHEDULE_REMINDER"
	MsgCancelReminder   = "CANCEL_REMINDER"
	MsgGetAuthToken     = "GET_AUTH_TOKEN"
	MsgAuthTokenReply   = "AUTH_TOKEN_REPLY"
)

// Worker to page message types (broadcast to all connected pages).
const (
	MsgActivated           = "SW_ACTIVATED"
	MsgNetworkStatusChange = "NETWORK_STATUS_CHANGE"
	MsgSyncCompleted       = "SYNC_COMPLETED"
	MsgSyncStatusUpdate    = "SYNC_STATUS_UPDATE"
	MsgReminderDone        = "REMINDER_DONE"
	MsgReminderSnooze      = "REMINDER_SNOOZE"
	MsgReminderDismissed   = "REMINDER_DISMISSED"
	MsgShowNotification    = "SHOW_NOTIFICATION"
	MsgFocusItem           = "FOCUS_ITEM"
	MsgForceReload         = "FORCE_RELOAD"
)

var inboundTypes = map[string]struct{}{
	MsgSkipWaiting:      {},
	MsgSyncRequest:      {},
	MsgRegisterDevice:   {},
	MsgUpdateSyncStatus: {},
	MsgScheduleReminder: {},
	MsgCancelReminder:   {},
	MsgGetAuthToken:     {},
	MsgAuthTokenReply:   {},
}

// Envelope is the wire frame for every cross-context message. Type is the
// union discriminator; Payload is the kind-specific body.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// DecodeInbound validates a page-sent envelope. An unknown type is a
// validation error, statically distinguishable from a JSON parse failure.
func DecodeInbound(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}

	env.Type = strings.ToUpper(strings.TrimSpace(env.Type))
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: message type is required", domain.ErrValidation)
	}
	if _, ok := inboundTypes[env.Type]; !ok {
		return Envelope{}, fmt.Errorf("%w: unknown message type %q", domain.ErrValidation, env.Type)
	}

	return env, nil
}

// NewEnvelope builds an outbound envelope, encoding the payload.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	env := Envelope{Type: msgType}
	if payload == nil {
		return env, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
	}
	env.Payload = raw
	return env, nil
}

// ScheduleReminderPayload arms or replaces a reminder for an item.
type ScheduleReminderPayload struct {
	ItemID        string          `json:"itemId"`
	DueAtEpochMs  int64           `json:"dueAt"`
	Title         string          `json:"title"`
	Body          string          `json:"body,omitempty"`
	ReminderExtra json.RawMessage `json:"payload,omitempty"`
}

func (p *ScheduleReminderPayload) Validate() error {
	if strings.TrimSpace(p.ItemID) == "" {
		return fmt.Errorf("%w: item id is required", domain.ErrValidation)
	}
	if p.DueAtEpochMs <= 0 {
		return fmt.Errorf("%w: due time is required", domain.ErrValidation)
	}
	return nil
}

// CancelReminderPayload removes a persisted reminder for an item.
type CancelReminderPayload struct {
	ItemID string `json:"itemId"`
}

func (p *CancelReminderPayload) Validate() error {
	if strings.TrimSpace(p.ItemID) == "" {
		return fmt.Errorf("%w: item id is required", domain.ErrValidation)
	}
	return nil
}

// AuthTokenReplyPayload answers a GET_AUTH_TOKEN request.
type AuthTokenReplyPayload struct {
	Token string `json:"token"`
}

// SyncStatusPayload reports page-side sync state to be rebroadcast.
type SyncStatusPayload struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// NetworkStatusPayload announces connectivity transitions.
type NetworkStatusPayload struct {
	Online bool `json:"online"`
}

// SyncCompletedPayload carries the result of one sync cycle.
type SyncCompletedPayload struct {
	Report     domain.FlushReport `json:"report"`
	LastSyncAt string             `json:"lastSyncAt"`
}

// ReminderActionPayload routes a notification interaction to a page.
type ReminderActionPayload struct {
	ItemID     string `json:"itemId"`
	ReminderID string `json:"reminderId,omitempty"`
}

// FocusItemPayload asks a page to navigate to an item.
type FocusItemPayload struct {
	ItemID string `json:"itemId"`
}

// DecodePayload unmarshals an envelope payload into a typed struct.
func DecodePayload(env Envelope, out any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: %s payload is required", domain.ErrValidation, env.Type)
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("malformed %s payload: %w", env.Type, err)
	}
	return nil
}
