package interceptor

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sync-engine/internal/domain"
	"github.com/kursadbilgin/sync-engine/internal/infra/redis"
	"github.com/kursadbilgin/sync-engine/internal/observability"
	"github.com/kursadbilgin/sync-engine/internal/queue"
	"go.uber.org/zap"
)

const (
	forwardTimeout = 15 * time.Second
	refreshTimeout = 10 * time.Second
)

// GET requests on these prefixes always go straight to network, bypassing
// the cache, so auth/bootstrap failures are never masked by stale data.
var passthroughPrefixes = []string{
	"/api/auth/",
	"/api/health",
	"/api/bootstrap",
}

// Interceptor is the local API proxy. Every page request is classified
// before it reaches the network: passthrough, cache-first GET, or
// network-first mutation with offline capture.
type Interceptor struct {
	client  *resty.Client
	cache   *redis.ResponseCache
	queue   *queue.OfflineQueue
	metrics *observability.Metrics
	logger  *zap.Logger
	baseURL string

	// onMutationApplied runs after a mutation got a 2xx from the API, so
	// peers can be told a change occurred. Best effort.
	onMutationApplied func(ctx context.Context)
}

func NewInterceptor(
	client *resty.Client,
	cache *redis.ResponseCache,
	offlineQueue *queue.OfflineQueue,
	baseURL string,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Interceptor, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if offlineQueue == nil {
		return nil, fmt.Errorf("offline queue is required")
	}
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Interceptor{
		client:  client,
		cache:   cache,
		queue:   offlineQueue,
		metrics: metrics,
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// SetMutationAppliedHook installs the peer-notification side effect fired
// after a successful mutation.
func (i *Interceptor) SetMutationAppliedHook(hook func(ctx context.Context)) {
	i.onMutationApplied = hook
}

func RegisterRoutes(app fiber.Router, i *Interceptor) {
	app.All("/api/*", i.Handle)
}

// Handle classifies one request and serves it.
func (i *Interceptor) Handle(c *fiber.Ctx) error {
	method := strings.ToUpper(c.Method())

	switch {
	case method == http.MethodGet && isPassthroughPath(c.Path()):
		return i.passthrough(c)
	case method == http.MethodGet:
		return i.serveCacheFirst(c)
	case domain.IsQueueableMethod(method):
		return i.serveMutation(c)
	default:
		return i.passthrough(c)
	}
}

func isPassthroughPath(path string) bool {
	for _, prefix := range passthroughPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (i *Interceptor) passthrough(c *fiber.Ctx) error {
	resp, err := i.forward(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, "upstream unreachable")
	}
	return writeUpstream(c, resp)
}

func (i *Interceptor) serveCacheFirst(c *fiber.Ctx) error {
	key := cacheKeyFor(c)

	if i.cache != nil {
		cached, hit, err := i.cache.Get(c.Context(), key)
		if err != nil {
			i.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
		}
		if hit {
			if i.metrics != nil {
				i.metrics.IncCacheLookup("hit")
			}
			i.refreshInBackground(c, key)
			c.Set(fiber.HeaderContentType, cached.ContentType)
			return c.Status(cached.StatusCode).Send(cached.Body)
		}
		if i.metrics != nil {
			i.metrics.IncCacheLookup("miss")
		}
	}

	resp, err := i.forward(c)
	if err != nil {
		i.logger.Warn("GET failed with no cached copy",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   "offline",
			"message": "upstream unreachable and no cached response available",
		})
	}

	i.storeCached(c.Context(), key, resp)
	return writeUpstream(c, resp)
}

// refreshInBackground re-fetches a cache-served GET so the next read sees
// fresh data. The page already got its response; failures only log.
func (i *Interceptor) refreshInBackground(c *fiber.Ctx, key string) {
	url := i.baseURL + c.Path() + querySuffix(c)
	headers := captureHeaders(c)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		req := i.client.R().SetContext(ctx)
		applyHeaders(req, headers)

		resp, err := req.Get(url)
		if err != nil {
			i.logger.Debug("background refresh failed", zap.String("key", key), zap.Error(err))
			return
		}
		i.storeCached(ctx, key, resp)
	}()
}

func (i *Interceptor) serveMutation(c *fiber.Ctx) error {
	resp, err := i.forward(c)
	if err != nil {
		return i.enqueueAndAccept(c, err)
	}

	if resp.StatusCode() >= http.StatusOK && resp.StatusCode() < http.StatusMultipleChoices {
		if hook := i.onMutationApplied; hook != nil {
			go hook(context.Background())
		}
	}
	return writeUpstream(c, resp)
}

// enqueueAndAccept durably captures an unreachable mutation and answers 202
// so the page can treat the write as optimistically applied.
func (i *Interceptor) enqueueAndAccept(c *fiber.Ctx, cause error) error {
	req := &domain.QueuedRequest{
		URL:     i.baseURL + c.Path() + querySuffix(c),
		Method:  strings.ToUpper(c.Method()),
		Headers: captureHeaders(c),
	}
	if body := c.Body(); len(body) > 0 {
		req.Body = append([]byte(nil), body...)
	}

	if err := i.queue.Enqueue(c.Context(), req); err != nil {
		i.logger.Error("failed to capture mutation for later replay",
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Error(err),
		)
		return fiber.NewError(fiber.StatusServiceUnavailable, "upstream unreachable and capture failed")
	}

	i.logger.Info("mutation accepted for later sync",
		zap.String("requestId", req.ID),
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Error(cause),
	)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":    "accepted",
		"queued":    true,
		"requestId": req.ID,
		"message":   "accepted for later sync",
	})
}

func (i *Interceptor) forward(c *fiber.Ctx) (*resty.Response, error) {
	ctx, cancel := context.WithTimeout(c.Context(), forwardTimeout)
	defer cancel()

	req := i.client.R().SetContext(ctx)
	applyHeaders(req, captureHeaders(c))
	if body := c.Body(); len(body) > 0 {
		req.SetBody(body)
	}

	return req.Execute(strings.ToUpper(c.Method()), i.baseURL+c.Path()+querySuffix(c))
}

func (i *Interceptor) storeCached(ctx context.Context, key string, resp *resty.Response) {
	if i.cache == nil || resp == nil {
		return
	}
	statusCode := resp.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return
	}

	err := i.cache.Put(ctx, key, redis.CachedResponse{
		StatusCode:  statusCode,
		ContentType: resp.Header().Get(fiber.HeaderContentType),
		Body:        resp.Body(),
		StoredAt:    time.Now(),
	})
	if err != nil {
		i.logger.Warn("failed to cache response", zap.String("key", key), zap.Error(err))
	}
}

func writeUpstream(c *fiber.Ctx, resp *resty.Response) error {
	if ct := resp.Header().Get(fiber.HeaderContentType); ct != "" {
		c.Set(fiber.HeaderContentType, ct)
	}
	return c.Status(resp.StatusCode()).Send(resp.Body())
}

func cacheKeyFor(c *fiber.Ctx) string {
	return c.Path() + querySuffix(c)
}

func querySuffix(c *fiber.Ctx) string {
	if q := string(c.Request().URI().QueryString()); q != "" {
		return "?" + q
	}
	return ""
}

// captureHeaders snapshots request headers in wire order, dropping the
// hop-by-hop ones that must not be replayed against the API.
func captureHeaders(c *fiber.Ctx) []domain.Header {
	var headers []domain.Header
	c.Request().Header.VisitAll(func(key, value []byte) {
		name := string(key)
		switch strings.ToLower(name) {
		case "host", "connection", "content-length", "accept-encoding":
			return
		}
		headers = append(headers, domain.Header{Name: name, Value: string(value)})
	})
	return headers
}

func applyHeaders(req *resty.Request, headers []domain.Header) {
	for _, h := range headers {
		req.SetHeader(h.Name, h.Value)
	}
}
