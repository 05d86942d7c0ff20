package syncs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/sync-engine/internal/channel"
	"go.uber.org/zap"
)

const (
	defaultProbeInterval = 30 * time.Second
	probeTimeout         = 5 * time.Second
)

// CycleTrigger kicks a sync cycle; a reconnect is one of its triggers.
type CycleTrigger interface {
	RunCycle(ctx context.Context, reason string) error
}

// NetworkMonitor probes the API health endpoint and tracks connectivity.
// Transitions are broadcast to pages; an offline-to-online transition also
// triggers a sync cycle so queued writes replay promptly.
type NetworkMonitor struct {
	client      *resty.Client
	broadcaster Broadcaster
	trigger     CycleTrigger
	logger      *zap.Logger
	baseURL     string
	interval    time.Duration

	online bool
	primed bool
}

func NewNetworkMonitor(
	client *resty.Client,
	broadcaster Broadcaster,
	trigger CycleTrigger,
	baseURL string,
	interval time.Duration,
	logger *zap.Logger,
) (*NetworkMonitor, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NetworkMonitor{
		client:      client,
		broadcaster: broadcaster,
		trigger:     trigger,
		logger:      logger,
		baseURL:     baseURL,
		interval:    interval,
	}, nil
}

// Start probes immediately, then on the configured interval until the
// context is cancelled.
func (m *NetworkMonitor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	m.Probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe checks reachability once and handles any state transition.
func (m *NetworkMonitor) Probe(ctx context.Context) {
	online := m.probeOnce(ctx)

	// First probe only seeds the state; there is no transition to report.
	if !m.primed {
		m.primed = true
		m.online = online
		m.logger.Info("network state seeded", zap.Bool("online", online))
		return
	}

	if online == m.online {
		return
	}
	wasOnline := m.online
	m.online = online

	m.logger.Info("network state changed",
		zap.Bool("online", online),
	)

	if m.broadcaster != nil {
		env, err := channel.NewEnvelope(channel.MsgNetworkStatusChange, channel.NetworkStatusPayload{
			Online: online,
		})
		if err != nil {
			m.logger.Error("failed to build network status message", zap.Error(err))
		} else {
			m.broadcaster.Broadcast(ctx, env)
		}
	}

	if !wasOnline && online && m.trigger != nil {
		if err := m.trigger.RunCycle(ctx, "reconnect"); err != nil {
			m.logger.Error("reconnect sync cycle failed", zap.Error(err))
		}
	}
}

// Online reports the last probed state.
func (m *NetworkMonitor) Online() bool {
	return m.primed && m.online
}

func (m *NetworkMonitor) probeOnce(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	resp, err := m.client.R().SetContext(ctx).Get(m.baseURL + "/api/health")
	if err != nil {
		return false
	}
	return !resp.IsError()
}
