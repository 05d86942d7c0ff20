package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ScheduledReminder is a persisted due-time plus payload for a notification
// that has not fired yet. Keyed by item: a later schedule call for the same
// item replaces the earlier one. The row is destroyed on fire or cancel.
type ScheduledReminder struct {
	ItemID      string          `json:"itemId"`
	DueAt       time.Time       `json:"dueAt"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ScheduledAt time.Time       `json:"scheduledAt"`
}

func (r *ScheduledReminder) Validate() error {
	if strings.TrimSpace(r.ItemID) == "" {
		return fmt.Errorf("%w: item id is required", ErrValidation)
	}
	if r.DueAt.IsZero() {
		return fmt.Errorf("%w: due time is required", ErrValidation)
	}
	return nil
}

// ActionType classifies a buffered reminder interaction.
type ActionType string

const (
	ActionDone   ActionType = "DONE"
	ActionSnooze ActionType = "SNOOZE"
)

func (a ActionType) String() string { return string(a) }

func (a ActionType) IsValid() bool {
	switch a {
	case ActionDone, ActionSnooze:
		return true
	}
	return false
}

func ParseActionTypeFromString(s string) (ActionType, error) {
	a := ActionType(strings.ToUpper(strings.TrimSpace(s)))
	if !a.IsValid() {
		return "", fmt.Errorf("%w: invalid action type %q", ErrValidation, s)
	}
	return a, nil
}

// ActionRecord buffers a reminder interaction that no connected page could
// receive. Synced flips false to true exactly once, by the background flush.
type ActionRecord struct {
	ID         int64           `json:"id"`
	ActionType ActionType      `json:"actionType"`
	ItemID     string          `json:"itemId"`
	ReminderID string          `json:"reminderId"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Synced     bool            `json:"synced"`
}

func (a *ActionRecord) Validate() error {
	if !a.ActionType.IsValid() {
		return fmt.Errorf("%w: invalid action type %q", ErrValidation, a.ActionType)
	}
	if strings.TrimSpace(a.ItemID) == "" {
		return fmt.Errorf("%w: item id is required", ErrValidation)
	}
	return nil
}
