package interceptor

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sync-engine/internal/domain"
	"github.com/kursadbilgin/sync-engine/internal/repository"
)

const defaultHistoryLimit = 50

// ReminderActionHandler processes a done or snooze interaction with a
// delivered reminder, forwarding it to a page or buffering it for sync.
type ReminderActionHandler interface {
	HandleAction(ctx context.Context, action domain.ActionType, itemID string, reminderID string) error
}

// NetworkStatus reports the worker's last probed view of connectivity.
type NetworkStatus interface {
	Online() bool
}

// QueueDepth counts requests still waiting for replay.
type QueueDepth interface {
	Depth(ctx context.Context) (int64, error)
}

// LocalDeps bundles the worker-owned state the local routes expose.
type LocalDeps struct {
	Notifications repository.NotificationRepository
	Devices       repository.DeviceRepository
	Actions       ReminderActionHandler
	Network       NetworkStatus
	Queue         QueueDepth
	Settings      repository.SettingsRepository
}

// RegisterLocalRoutes exposes worker-owned state to the UI without a network
// round trip: notification history, the known-device list, sync status, and
// the reminder action endpoint backing notification buttons.
func RegisterLocalRoutes(app fiber.Router, deps LocalDeps) {
	app.Get("/local/notifications", notificationHistoryHandler(deps.Notifications))
	app.Get("/local/devices", deviceListHandler(deps.Devices))
	app.Get("/local/status", statusHandler(deps))
	app.Post("/local/reminder-actions", reminderActionHandler(deps.Actions))
}

func notificationHistoryHandler(notifications repository.NotificationRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", defaultHistoryLimit)
		if limit < 1 || limit > 500 {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 500")
		}

		entries, err := notifications.ListRecent(c.Context(), limit)
		if err != nil {
			return toHTTPError(err)
		}
		if entries == nil {
			entries = []domain.NotificationEntry{}
		}

		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"data": entries,
		})
	}
}

func deviceListHandler(devices repository.DeviceRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list, err := devices.ListByLastActive(c.Context())
		if err != nil {
			return toHTTPError(err)
		}
		if list == nil {
			list = []domain.Device{}
		}

		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"data": list,
		})
	}
}

func statusHandler(deps LocalDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		depth, err := deps.Queue.Depth(c.Context())
		if err != nil {
			return toHTTPError(err)
		}

		lastSync, err := deps.Settings.Get(c.Context(), repository.SettingLastSyncTime)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return toHTTPError(err)
		}

		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"online":       deps.Network.Online(),
			"queueDepth":   depth,
			"lastSyncTime": lastSync,
		})
	}
}

type reminderActionRequest struct {
	Action     string `json:"action"`
	ItemID     string `json:"itemId"`
	ReminderID string `json:"reminderId"`
}

func reminderActionHandler(actions ReminderActionHandler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req reminderActionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		action, err := domain.ParseActionTypeFromString(req.Action)
		if err != nil {
			return toHTTPError(err)
		}

		if err := actions.HandleAction(c.Context(), action, req.ItemID, req.ReminderID); err != nil {
			return toHTTPError(err)
		}

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"status": "accepted",
		})
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrStorageUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
