package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/sync-engine/internal/channel"
	"github.com/kursadbilgin/sync-engine/internal/domain"
	"go.uber.org/zap"
)

// ChannelHub is the slice of the page hub the worker wires handlers into.
type ChannelHub interface {
	HandleFunc(msgType string, handler channel.Handler)
	Broadcast(ctx context.Context, env channel.Envelope)
}

// CycleTrigger kicks a sync cycle on page request.
type CycleTrigger interface {
	RunCycle(ctx context.Context, reason string) error
}

// ReminderScheduler manages per-item reminders.
type ReminderScheduler interface {
	Schedule(ctx context.Context, itemID string, dueAt time.Time, title string, body string, extra json.RawMessage) error
	Cancel(ctx context.Context, itemID string) error
}

// Registrar builds and announces the device descriptor.
type Registrar interface {
	BuildCapabilityDescriptor(ctx context.Context) (*domain.Device, error)
	RegisterWithServer(ctx context.Context, device *domain.Device)
}

// Worker routes page messages to the owning component. Every handler
// returns its error to the hub, which logs it; nothing escapes far enough
// to stop future messages from being handled.
type Worker struct {
	hub         ChannelHub
	coordinator CycleTrigger
	scheduler   ReminderScheduler
	registrar   Registrar
	logger      *zap.Logger
}

func NewWorker(
	hub ChannelHub,
	coordinator CycleTrigger,
	scheduler ReminderScheduler,
	registrar Registrar,
	logger *zap.Logger,
) (*Worker, error) {
	if hub == nil {
		return nil, fmt.Errorf("channel hub is required")
	}
	if coordinator == nil {
		return nil, fmt.Errorf("cycle trigger is required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("reminder scheduler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Worker{
		hub:         hub,
		coordinator: coordinator,
		scheduler:   scheduler,
		registrar:   registrar,
		logger:      logger,
	}, nil
}

// RegisterHandlers wires all page-to-worker message kinds.
func (w *Worker) RegisterHandlers() {
	w.hub.HandleFunc(channel.MsgSyncRequest, w.handleSyncRequest)
	w.hub.HandleFunc(channel.MsgScheduleReminder, w.handleScheduleReminder)
	w.hub.HandleFunc(channel.MsgCancelReminder, w.handleCancelReminder)
	w.hub.HandleFunc(channel.MsgRegisterDevice, w.handleRegisterDevice)
	w.hub.HandleFunc(channel.MsgUpdateSyncStatus, w.handleUpdateSyncStatus)
	w.hub.HandleFunc(channel.MsgSkipWaiting, w.handleSkipWaiting)
}

func (w *Worker) handleSyncRequest(ctx context.Context, env channel.Envelope) error {
	return w.coordinator.RunCycle(ctx, "page-request")
}

func (w *Worker) handleScheduleReminder(ctx context.Context, env channel.Envelope) error {
	var payload channel.ScheduleReminderPayload
	if err := channel.DecodePayload(env, &payload); err != nil {
		return err
	}
	if err := payload.Validate(); err != nil {
		return err
	}

	return w.scheduler.Schedule(ctx,
		payload.ItemID,
		time.UnixMilli(payload.DueAtEpochMs),
		payload.Title,
		payload.Body,
		payload.ReminderExtra,
	)
}

func (w *Worker) handleCancelReminder(ctx context.Context, env channel.Envelope) error {
	var payload channel.CancelReminderPayload
	if err := channel.DecodePayload(env, &payload); err != nil {
		return err
	}
	if err := payload.Validate(); err != nil {
		return err
	}

	return w.scheduler.Cancel(ctx, payload.ItemID)
}

func (w *Worker) handleRegisterDevice(ctx context.Context, env channel.Envelope) error {
	if w.registrar == nil {
		return nil
	}

	device, err := w.registrar.BuildCapabilityDescriptor(ctx)
	if err != nil {
		return err
	}
	w.registrar.RegisterWithServer(ctx, device)
	return nil
}

// handleUpdateSyncStatus rebroadcasts one page's sync state to the rest.
func (w *Worker) handleUpdateSyncStatus(ctx context.Context, env channel.Envelope) error {
	var payload channel.SyncStatusPayload
	if err := channel.DecodePayload(env, &payload); err != nil {
		return err
	}

	out, err := channel.NewEnvelope(channel.MsgSyncStatusUpdate, payload)
	if err != nil {
		return err
	}
	w.hub.Broadcast(ctx, out)
	return nil
}

// handleSkipWaiting tells every page to pick up the new worker version.
func (w *Worker) handleSkipWaiting(ctx context.Context, env channel.Envelope) error {
	out, err := channel.NewEnvelope(channel.MsgForceReload, nil)
	if err != nil {
		return err
	}
	w.hub.Broadcast(ctx, out)

	w.logger.Info("skip waiting requested, pages told to reload")
	return nil
}
