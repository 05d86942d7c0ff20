package queue

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/sync-engine/internal/domain"
	"github.com/kursadbilgin/sync-engine/internal/observability"
	"github.com/kursadbilgin/sync-engine/internal/ratelimit"
	"github.com/kursadbilgin/sync-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultReplayTimeout = 10 * time.Second

const (
	replayOutcomeReplayed = "replayed"
	replayOutcomeFailed   = "failed"
)

// OfflineQueue captures failed mutating requests and replays them in capture
// order. A row is deleted only after its replay got a confirmed 2xx; any
// other outcome leaves the row in place for a later pass.
type OfflineQueue struct {
	repo    repository.QueueRepository
	client  *resty.Client
	limiter ratelimit.RateLimiter
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewOfflineQueue(
	repo repository.QueueRepository,
	client *resty.Client,
	limiter ratelimit.RateLimiter,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*OfflineQueue, error) {
	if repo == nil {
		return nil, fmt.Errorf("queue repository is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultReplayTimeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OfflineQueue{
		repo:    repo,
		client:  client,
		limiter: limiter,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Enqueue durably captures one failed mutating request. The snapshot keeps
// the full method, url, ordered headers and body so the replay is
// byte-faithful.
func (q *OfflineQueue) Enqueue(ctx context.Context, r *domain.QueuedRequest) error {
	if r == nil {
		return fmt.Errorf("%w: request is required", domain.ErrValidation)
	}
	if strings.TrimSpace(r.ID) == "" {
		r.ID = uuid.NewString()
	}
	if r.EnqueuedAt.IsZero() {
		r.EnqueuedAt = q.now()
	}
	if err := r.Validate(); err != nil {
		return err
	}

	if err := q.repo.Enqueue(ctx, r); err != nil {
		return fmt.Errorf("failed to enqueue request: %w", err)
	}

	q.logger.Info("captured request for later replay",
		zap.String("requestId", r.ID),
		zap.String("method", r.Method),
		zap.String("url", r.URL),
	)
	q.publishDepth(ctx)

	return nil
}

// Depth returns the number of queued rows awaiting replay.
func (q *OfflineQueue) Depth(ctx context.Context) (int64, error) {
	return q.repo.Count(ctx)
}

// Flush replays every queued row in capture order. Each row is attempted in
// isolation: a failure increments the row's attempt counter and moves on, so
// one poisoned request cannot wedge the rest of the queue. The pass itself
// only errors when the queue cannot be read at all.
func (q *OfflineQueue) Flush(ctx context.Context, token string) (*domain.FlushReport, error) {
	started := q.now()

	rows, err := q.repo.ListInOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued requests: %w", err)
	}
	if len(rows) == 0 {
		return &domain.FlushReport{}, nil
	}

	report := &domain.FlushReport{Attempted: len(rows)}

	for i := range rows {
		row := rows[i]

		if ctx.Err() != nil {
			report.Attempted = report.Replayed + report.Failed
			break
		}

		if q.limiter != nil {
			if err := q.limiter.Wait(ctx, row.Host()); err != nil {
				q.logger.Warn("replay pacing interrupted", zap.Error(err))
				report.Attempted = report.Replayed + report.Failed
				break
			}
		}

		if err := q.replay(ctx, &row, token); err != nil {
			report.Failed++
			if q.metrics != nil {
				q.metrics.IncReplay(replayOutcomeFailed)
			}
			q.logger.Warn("replay failed, keeping queued row",
				zap.String("requestId", row.ID),
				zap.String("url", row.URL),
				zap.Int("attempts", row.Attempts+1),
				zap.Bool("transient", IsTransient(err)),
				zap.Error(err),
			)
			if err := q.repo.IncrementAttempts(ctx, row.ID); err != nil {
				q.logger.Error("failed to record replay attempt",
					zap.String("requestId", row.ID),
					zap.Error(err),
				)
			}
			continue
		}

		// Confirmed 2xx: only now is the durable copy released.
		if err := q.repo.Delete(ctx, row.ID); err != nil {
			q.logger.Error("replayed but failed to delete queued row",
				zap.String("requestId", row.ID),
				zap.Error(err),
			)
			report.Failed++
			continue
		}

		report.Replayed++
		if q.metrics != nil {
			q.metrics.IncReplay(replayOutcomeReplayed)
		}
	}

	remaining, err := q.repo.Count(ctx)
	if err != nil {
		q.logger.Warn("failed to count remaining queued rows", zap.Error(err))
	} else {
		report.Remaining = int(remaining)
		if q.metrics != nil {
			q.metrics.SetQueueDepth(int(remaining))
		}
	}

	if q.metrics != nil {
		q.metrics.ObserveFlushDuration(q.now().Sub(started))
	}
	q.logger.Info("flush pass finished",
		zap.Int("attempted", report.Attempted),
		zap.Int("replayed", report.Replayed),
		zap.Int("failed", report.Failed),
		zap.Int("remaining", report.Remaining),
	)

	return report, nil
}

func (q *OfflineQueue) replay(ctx context.Context, row *domain.QueuedRequest, token string) error {
	req := q.client.R().SetContext(ctx)

	// Headers are applied in capture order; the auth header is refreshed
	// because the captured token may have expired while offline.
	for _, h := range row.Headers {
		if strings.EqualFold(h.Name, "Authorization") {
			continue
		}
		req.SetHeader(h.Name, h.Value)
	}
	if token != "" {
		req.SetHeader("Authorization", "Bearer "+token)
	}
	if len(row.Body) > 0 {
		req.SetBody(row.Body)
	}

	resp, err := req.Execute(strings.ToUpper(row.Method), row.URL)
	if err != nil {
		return &ReplayError{
			Message:   "replay request failed",
			Transient: ctx.Err() == nil,
			Cause:     err,
		}
	}

	statusCode := resp.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return &ReplayError{
		StatusCode: statusCode,
		Message:    fmt.Sprintf("replay returned status %d", statusCode),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func (q *OfflineQueue) publishDepth(ctx context.Context) {
	if q.metrics == nil {
		return
	}
	depth, err := q.repo.Count(ctx)
	if err != nil {
		q.logger.Warn("failed to count queued rows", zap.Error(err))
		return
	}
	q.metrics.SetQueueDepth(int(depth))
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}
