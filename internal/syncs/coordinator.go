package syncs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/sync-engine/internal/channel"
	"github.com/kursadbilgin/sync-engine/internal/domain"
	"github.com/kursadbilgin/sync-engine/internal/observability"
	"github.com/kursadbilgin/sync-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultCycleInterval = 5 * time.Minute
	serverCallTimeout    = 10 * time.Second
)

const (
	cycleCompleted = "completed"
	cycleSkipped   = "skipped"
	cycleCoalesced = "coalesced"
)

// TokenSource asks a connected page for an auth token.
type TokenSource interface {
	RequestToken(ctx context.Context) (string, error)
}

// Broadcaster fans a message out to every connected page.
type Broadcaster interface {
	Broadcast(ctx context.Context, env channel.Envelope)
}

// Flusher replays the offline queue.
type Flusher interface {
	Flush(ctx context.Context, token string) (*domain.FlushReport, error)
}

// DeviceIDSource resolves the stable installation id.
type DeviceIDSource interface {
	GetOrCreateDeviceID(ctx context.Context) (string, error)
}

// Coordinator runs full sync cycles: token, queue flush, server sync and
// activity calls, reminder-action upload, lastSyncTime, completion
// broadcast. Only one cycle runs at a time; overlapping triggers coalesce.
type Coordinator struct {
	tokens      TokenSource
	broadcaster Broadcaster
	flusher     Flusher
	deviceIDs   DeviceIDSource
	actions     repository.ActionRepository
	devices     repository.DeviceRepository
	settings    repository.SettingsRepository
	client      *resty.Client
	metrics     *observability.Metrics
	logger      *zap.Logger
	baseURL     string
	interval    time.Duration
	now         func() time.Time

	inFlight atomic.Bool
}

func NewCoordinator(
	tokens TokenSource,
	broadcaster Broadcaster,
	flusher Flusher,
	deviceIDs DeviceIDSource,
	actions repository.ActionRepository,
	devices repository.DeviceRepository,
	settings repository.SettingsRepository,
	client *resty.Client,
	baseURL string,
	interval time.Duration,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Coordinator, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if flusher == nil {
		return nil, fmt.Errorf("flusher is required")
	}
	if settings == nil {
		return nil, fmt.Errorf("settings repository is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if interval <= 0 {
		interval = defaultCycleInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Coordinator{
		tokens:      tokens,
		broadcaster: broadcaster,
		flusher:     flusher,
		deviceIDs:   deviceIDs,
		actions:     actions,
		devices:     devices,
		settings:    settings,
		client:      client,
		metrics:     metrics,
		logger:      logger,
		baseURL:     baseURL,
		interval:    interval,
		now:         time.Now,
	}, nil
}

// Start runs one immediate cycle, then cycles on the configured interval
// until the context is cancelled.
func (c *Coordinator) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := c.RunCycle(ctx, "startup"); err != nil && ctx.Err() == nil {
		c.logger.Error("initial sync cycle failed", zap.Error(err))
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.RunCycle(ctx, "periodic"); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("sync cycle failed", zap.Error(err))
			}
		}
	}
}

// RunCycle executes one coordinated sync round. A trigger arriving while a
// cycle is in flight is coalesced, not queued.
func (c *Coordinator) RunCycle(ctx context.Context, reason string) error {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.logger.Debug("sync cycle already in flight, coalescing trigger",
			zap.String("reason", reason),
		)
		if c.metrics != nil {
			c.metrics.IncSyncCycle(cycleCoalesced)
		}
		return nil
	}
	defer c.inFlight.Store(false)

	token, err := c.tokens.RequestToken(ctx)
	if err != nil {
		// No live page can authenticate writes. Benign: the next
		// trigger retries with whatever pages are connected then.
		if !errors.Is(err, domain.ErrAuthUnavailable) {
			c.logger.Warn("token request failed", zap.Error(err))
		} else {
			c.logger.Debug("no page could supply a token, skipping cycle",
				zap.String("reason", reason),
			)
		}
		if c.metrics != nil {
			c.metrics.IncSyncCycle(cycleSkipped)
		}
		return nil
	}

	c.logger.Info("sync cycle started", zap.String("reason", reason))

	report, err := c.flusher.Flush(ctx, token)
	if err != nil {
		c.logger.Error("queue flush failed", zap.Error(err))
		report = &domain.FlushReport{}
	}

	c.callSyncEndpoints(ctx, token)
	c.uploadReminderActions(ctx, token)

	lastSyncAt := c.now().UTC().Format(time.RFC3339)
	if err := c.settings.Set(ctx, repository.SettingLastSyncTime, lastSyncAt); err != nil {
		c.logger.Error("failed to persist last sync time", zap.Error(err))
	}

	c.broadcastCompletion(ctx, report, lastSyncAt)

	if c.metrics != nil {
		c.metrics.IncSyncCycle(cycleCompleted)
	}
	c.logger.Info("sync cycle completed",
		zap.String("reason", reason),
		zap.Int("replayed", report.Replayed),
		zap.Int("failed", report.Failed),
		zap.Int("remaining", report.Remaining),
	)

	return nil
}

// callSyncEndpoints hits the server trigger-sync and device-activity
// endpoints. Failures are logged, never fatal to the cycle.
func (c *Coordinator) callSyncEndpoints(ctx context.Context, token string) {
	ctx, cancel := context.WithTimeout(ctx, serverCallTimeout)
	defer cancel()

	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		Post(c.baseURL + "/api/sync/trigger")
	if err != nil {
		c.logger.Warn("server sync trigger failed", zap.Error(err))
	} else if resp.IsError() {
		c.logger.Warn("server sync trigger rejected", zap.Int("status", resp.StatusCode()))
	}

	if c.deviceIDs == nil {
		return
	}
	deviceID, err := c.deviceIDs.GetOrCreateDeviceID(ctx)
	if err != nil {
		c.logger.Warn("failed to resolve device id for activity call", zap.Error(err))
		return
	}

	resp, err = c.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(map[string]string{"deviceId": deviceID}).
		Post(c.baseURL + "/api/devices/activity")
	if err != nil {
		c.logger.Warn("device activity call failed", zap.Error(err))
	} else if resp.IsError() {
		c.logger.Warn("device activity call rejected", zap.Int("status", resp.StatusCode()))
	}

	if c.devices != nil {
		now := c.now()
		if err := c.devices.TouchActivity(ctx, deviceID, now); err != nil && !errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn("failed to record local device activity", zap.Error(err))
		}
		if err := c.devices.SetLastSync(ctx, deviceID, now); err != nil && !errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn("failed to record local last sync", zap.Error(err))
		}
	}
}

// uploadReminderActions pushes locally buffered notification interactions
// to the server, then flips them synced. The synced flag never reverts.
func (c *Coordinator) uploadReminderActions(ctx context.Context, token string) {
	if c.actions == nil {
		return
	}

	unsynced, err := c.actions.ListUnsynced(ctx)
	if err != nil {
		c.logger.Warn("failed to list unsynced reminder actions", zap.Error(err))
		return
	}
	if len(unsynced) == 0 {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, serverCallTimeout)
	defer cancel()

	resp, err := c.client.R().
		SetContext(callCtx).
		SetAuthToken(token).
		SetBody(map[string]any{"actions": unsynced}).
		Post(c.baseURL + "/api/reminder-actions")
	if err != nil {
		c.logger.Warn("reminder action upload failed", zap.Error(err))
		return
	}
	if resp.IsError() {
		c.logger.Warn("reminder action upload rejected", zap.Int("status", resp.StatusCode()))
		return
	}

	ids := make([]int64, 0, len(unsynced))
	for _, action := range unsynced {
		ids = append(ids, action.ID)
	}
	if err := c.actions.MarkSynced(ctx, ids); err != nil {
		c.logger.Error("failed to mark reminder actions synced", zap.Error(err))
		return
	}

	c.logger.Info("reminder actions uploaded", zap.Int("count", len(ids)))
}

func (c *Coordinator) broadcastCompletion(ctx context.Context, report *domain.FlushReport, lastSyncAt string) {
	if c.broadcaster == nil {
		return
	}

	env, err := channel.NewEnvelope(channel.MsgSyncCompleted, channel.SyncCompletedPayload{
		Report:     *report,
		LastSyncAt: lastSyncAt,
	})
	if err != nil {
		c.logger.Error("failed to build sync completion message", zap.Error(err))
		return
	}
	c.broadcaster.Broadcast(ctx, env)
}
