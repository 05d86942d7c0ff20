package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/sync-engine/internal/channel"
	"github.com/kursadbilgin/sync-engine/internal/domain"
	"github.com/kursadbilgin/sync-engine/internal/observability"
	"github.com/kursadbilgin/sync-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	deliveryPage = "page"
	deliveryLog  = "log"
)

// PageChannel is the slice of the cross-context hub the scheduler needs.
type PageChannel interface {
	Broadcast(ctx context.Context, env channel.Envelope)
	SendToAny(ctx context.Context, env channel.Envelope) error
	HasPages() bool
}

// Scheduler persists reminders and fires them at their due time. One live
// reminder per item: a later schedule call for the same item replaces the
// earlier one. Records survive process restarts; in-process timers do not,
// so RearmOnWake rebuilds them from the durable rows.
type Scheduler struct {
	reminders     repository.ReminderRepository
	actions       repository.ActionRepository
	notifications repository.NotificationRepository
	pages         PageChannel
	metrics       *observability.Metrics
	logger        *zap.Logger
	now           func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewScheduler(
	reminders repository.ReminderRepository,
	actions repository.ActionRepository,
	notifications repository.NotificationRepository,
	pages PageChannel,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Scheduler, error) {
	if reminders == nil {
		return nil, fmt.Errorf("reminder repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		reminders:     reminders,
		actions:       actions,
		notifications: notifications,
		pages:         pages,
		metrics:       metrics,
		logger:        logger,
		now:           time.Now,
		timers:        map[string]*time.Timer{},
	}, nil
}

// Schedule arms a reminder for an item. A due time at or before now fires
// immediately and persists nothing.
func (s *Scheduler) Schedule(ctx context.Context, itemID string, dueAt time.Time, title string, body string, extra json.RawMessage) error {
	if strings.TrimSpace(itemID) == "" {
		return fmt.Errorf("%w: item id is required", domain.ErrValidation)
	}

	now := s.now()
	reminder := domain.ScheduledReminder{
		ItemID:      itemID,
		DueAt:       dueAt,
		Title:       title,
		Body:        body,
		Payload:     extra,
		ScheduledAt: now,
	}

	if !dueAt.After(now) {
		s.deliver(ctx, &reminder)
		return nil
	}

	if err := s.reminders.Upsert(ctx, &reminder); err != nil {
		if errors.Is(err, domain.ErrStorageUnavailable) {
			// No durable row means no restart survival; better to fire
			// now than to lose the reminder entirely.
			s.logger.Warn("storage unavailable, degrading reminder to immediate fire",
				zap.String("itemId", itemID),
			)
			s.deliver(ctx, &reminder)
			return nil
		}
		return fmt.Errorf("failed to persist reminder: %w", err)
	}

	s.arm(itemID, dueAt.Sub(now))
	s.logger.Info("reminder scheduled",
		zap.String("itemId", itemID),
		zap.Time("dueAt", dueAt),
	)

	return nil
}

// Cancel removes an item's persisted reminder. The in-process timer is
// best-effort stopped; a reminder that already fired is unaffected.
func (s *Scheduler) Cancel(ctx context.Context, itemID string) error {
	if strings.TrimSpace(itemID) == "" {
		return fmt.Errorf("%w: item id is required", domain.ErrValidation)
	}

	s.disarm(itemID)

	if err := s.reminders.Delete(ctx, itemID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to remove reminder: %w", err)
	}

	s.logger.Info("reminder cancelled", zap.String("itemId", itemID))
	return nil
}

// RearmOnWake rebuilds timers from the durable rows after a restart.
// Overdue reminders fire right away; future ones get a fresh timer.
func (s *Scheduler) RearmOnWake(ctx context.Context) error {
	now := s.now()

	due, err := s.reminders.ListDue(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list due reminders: %w", err)
	}
	for i := range due {
		s.fire(ctx, due[i].ItemID)
	}
	fired := len(due)

	rows, err := s.reminders.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list persisted reminders: %w", err)
	}
	rearmed := 0
	for i := range rows {
		row := rows[i]
		if !row.DueAt.After(now) {
			continue
		}
		s.arm(row.ItemID, row.DueAt.Sub(now))
		rearmed++
	}

	if fired > 0 || rearmed > 0 {
		s.logger.Info("reminders restored on wake",
			zap.Int("fired", fired),
			zap.Int("rearmed", rearmed),
		)
	}

	return nil
}

// HandleAction routes a notification interaction. With a live page the
// action is posted there and the item focused; with none, done/snooze are
// buffered durably for the next sync cycle.
func (s *Scheduler) HandleAction(ctx context.Context, action domain.ActionType, itemID string, reminderID string) error {
	if !action.IsValid() {
		return fmt.Errorf("%w: invalid action type %q", domain.ErrValidation, action)
	}
	if strings.TrimSpace(itemID) == "" {
		return fmt.Errorf("%w: item id is required", domain.ErrValidation)
	}

	if s.pages != nil && s.pages.HasPages() {
		msgType := channel.MsgReminderDone
		if action == domain.ActionSnooze {
			msgType = channel.MsgReminderSnooze
		}

		env, err := channel.NewEnvelope(msgType, channel.ReminderActionPayload{
			ItemID:     itemID,
			ReminderID: reminderID,
		})
		if err != nil {
			return fmt.Errorf("failed to build action message: %w", err)
		}
		if err := s.pages.SendToAny(ctx, env); err == nil {
			if focus, err := channel.NewEnvelope(channel.MsgFocusItem, channel.FocusItemPayload{ItemID: itemID}); err == nil {
				_ = s.pages.SendToAny(ctx, focus)
			}
			return nil
		}
		// Page went away between the check and the send; fall through to
		// the durable buffer.
	}

	if s.actions == nil {
		return fmt.Errorf("%w: no action buffer configured", domain.ErrStorageUnavailable)
	}
	record := &domain.ActionRecord{
		ActionType: action,
		ItemID:     itemID,
		ReminderID: reminderID,
		Timestamp:  s.now(),
	}
	if err := s.actions.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to buffer reminder action: %w", err)
	}

	s.logger.Info("reminder action buffered for next sync",
		zap.String("action", action.String()),
		zap.String("itemId", itemID),
	)
	return nil
}

// Close stops all armed timers. Durable rows are untouched.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for itemID, timer := range s.timers {
		timer.Stop()
		delete(s.timers, itemID)
	}
}

func (s *Scheduler) arm(itemID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[itemID]; ok {
		existing.Stop()
	}
	s.timers[itemID] = time.AfterFunc(delay, func() {
		s.fire(context.Background(), itemID)
	})
}

func (s *Scheduler) disarm(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[itemID]; ok {
		timer.Stop()
		delete(s.timers, itemID)
	}
}

// fire delivers a persisted reminder. An absent row means the reminder was
// cancelled or replaced after this timer was armed, so firing is skipped.
func (s *Scheduler) fire(ctx context.Context, itemID string) {
	s.disarm(itemID)

	row, err := s.reminders.Get(ctx, itemID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("failed to load reminder for firing",
				zap.String("itemId", itemID),
				zap.Error(err),
			)
		}
		return
	}

	// A superseded timer's callback can still land here after the item was
	// rescheduled for later: Stop cannot halt a callback already running.
	// The row is the source of truth, so a future due time means re-arm,
	// not deliver.
	now := s.now()
	if row.DueAt.After(now) {
		s.arm(row.ItemID, row.DueAt.Sub(now))
		return
	}

	s.deliver(ctx, row)

	if err := s.reminders.Delete(ctx, itemID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Error("failed to remove fired reminder",
			zap.String("itemId", itemID),
			zap.Error(err),
		)
	}
}

func (s *Scheduler) deliver(ctx context.Context, reminder *domain.ScheduledReminder) {
	payload := domain.NotificationPayload{
		Kind:   domain.NotificationReminder,
		Title:  reminder.Title,
		Body:   reminder.Body,
		ItemID: reminder.ItemID,
		Tag:    reminder.ItemID,
		Data:   reminder.Payload,
	}
	if strings.TrimSpace(payload.Title) == "" {
		// A titleless reminder may still carry the full notification
		// contract in its extra payload. Garbage falls back to the default.
		payload = domain.ParseNotificationPayload(reminder.Payload)
		payload.ItemID = reminder.ItemID
	}

	delivery := deliveryLog
	if s.pages != nil && s.pages.HasPages() {
		env, err := channel.NewEnvelope(channel.MsgShowNotification, payload)
		if err != nil {
			s.logger.Error("failed to build notification message", zap.Error(err))
		} else {
			s.pages.Broadcast(ctx, env)
			delivery = deliveryPage
		}
	}

	if s.notifications != nil {
		entry := &domain.NotificationEntry{
			Kind:      payload.Kind,
			Title:     payload.Title,
			Body:      payload.Body,
			ItemID:    payload.ItemID,
			Tag:       payload.Tag,
			Timestamp: s.now(),
		}
		if err := s.notifications.Record(ctx, entry); err != nil {
			s.logger.Warn("failed to record notification history", zap.Error(err))
		}
	}

	if s.metrics != nil {
		s.metrics.IncReminderFired(delivery)
	}
	s.logger.Info("reminder fired",
		zap.String("itemId", reminder.ItemID),
		zap.String("delivery", delivery),
	)
}
