package interceptor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sync-engine/internal/domain"
	infraredis "github.com/kursadbilgin/sync-engine/internal/infra/redis"
	"github.com/kursadbilgin/sync-engine/internal/queue"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type recordingQueueRepo struct {
	rows []domain.QueuedRequest
}

func (f *recordingQueueRepo) Enqueue(ctx context.Context, r *domain.QueuedRequest) error {
	f.rows = append(f.rows, *r)
	return nil
}

func (f *recordingQueueRepo) ListInOrder(ctx context.Context) ([]domain.QueuedRequest, error) {
	return f.rows, nil
}

func (f *recordingQueueRepo) Get(ctx context.Context, id string) (*domain.QueuedRequest, error) {
	return nil, domain.ErrNotFound
}

func (f *recordingQueueRepo) Delete(ctx context.Context, id string) error { return nil }

func (f *recordingQueueRepo) IncrementAttempts(ctx context.Context, id string) error { return nil }

func (f *recordingQueueRepo) Count(ctx context.Context) (int64, error) {
	return int64(len(f.rows)), nil
}

type testProxy struct {
	app  *fiber.App
	repo *recordingQueueRepo
	i    *Interceptor
}

func newTestProxy(t *testing.T, upstreamURL string, withCache bool) *testProxy {
	t.Helper()

	repo := &recordingQueueRepo{}
	offlineQueue, err := queue.NewOfflineQueue(repo, resty.New(), nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOfflineQueue() error = %v", err)
	}

	var cache *infraredis.ResponseCache
	if withCache {
		mr := miniredis.RunT(t)
		client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })

		cache, err = infraredis.NewResponseCache(client, time.Minute)
		if err != nil {
			t.Fatalf("NewResponseCache() error = %v", err)
		}
	}

	i, err := NewInterceptor(resty.New(), cache, offlineQueue, upstreamURL, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewInterceptor() error = %v", err)
	}

	app := NewApp(nil, zap.NewNop())
	RegisterRoutes(app, i)

	return &testProxy{app: app, repo: repo, i: i}
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set("Authorization", "Bearer page-token")

	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

func TestMutationPassesThroughOnSuccess(t *testing.T) {
	t.Parallel()

	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"note-1"}`))
	}))
	defer upstream.Close()

	proxy := newTestProxy(t, upstream.URL, false)

	hookFired := make(chan struct{}, 1)
	proxy.i.SetMutationAppliedHook(func(ctx context.Context) {
		hookFired <- struct{}{}
	})

	resp, body := performRequest(t, proxy.app, http.MethodPost, "/api/items", `{"title":"milk"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(body))
	}
	if string(gotBody) != `{"title":"milk"}` {
		t.Errorf("upstream body = %s, want forwarded verbatim", gotBody)
	}
	if len(proxy.repo.rows) != 0 {
		t.Errorf("queued rows = %d, want 0 on success", len(proxy.repo.rows))
	}

	select {
	case <-hookFired:
	case <-time.After(2 * time.Second):
		t.Error("expected the peer-notification hook to fire after a 2xx mutation")
	}
}

func TestMutationEnqueuedWhenUpstreamUnreachable(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close() // connection refused from here on

	proxy := newTestProxy(t, upstream.URL, false)

	resp, body := performRequest(t, proxy.app, http.MethodPatch, "/api/items/42", `{"label":"x"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}

	var accepted map[string]any
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if accepted["queued"] != true {
		t.Errorf("body = %s, want queued=true", body)
	}

	if len(proxy.repo.rows) != 1 {
		t.Fatalf("queued rows = %d, want 1", len(proxy.repo.rows))
	}
	row := proxy.repo.rows[0]
	if row.Method != http.MethodPatch {
		t.Errorf("method = %q, want PATCH", row.Method)
	}
	if row.URL != upstream.URL+"/api/items/42" {
		t.Errorf("url = %q, want full upstream url", row.URL)
	}
	if string(row.Body) != `{"label":"x"}` {
		t.Errorf("body = %s, want captured verbatim", row.Body)
	}

	var sawAuth bool
	for _, h := range row.Headers {
		if h.Name == "Authorization" {
			sawAuth = true
		}
	}
	if !sawAuth {
		t.Error("expected the auth header to be captured with the request")
	}
}

func TestGetServedFromCacheWhenUpstreamDies(t *testing.T) {
	t.Parallel()

	var upstreamCalls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalls.Add(1)
		w.Header().Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		_, _ = w.Write([]byte(`{"items":[1,2,3]}`))
	}))

	proxy := newTestProxy(t, upstream.URL, true)

	resp, body := performRequest(t, proxy.app, http.MethodGet, "/api/items", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first GET status = %d, want 200", resp.StatusCode)
	}
	if string(body) != `{"items":[1,2,3]}` {
		t.Fatalf("first GET body = %s", body)
	}

	upstream.Close()

	resp, body = performRequest(t, proxy.app, http.MethodGet, "/api/items", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cached GET status = %d, want 200", resp.StatusCode)
	}
	if string(body) != `{"items":[1,2,3]}` {
		t.Errorf("cached GET body = %s, want last-known response", body)
	}
}

func TestGetWithoutCacheReturnsUnavailable(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close()

	proxy := newTestProxy(t, upstream.URL, true)

	resp, body := performRequest(t, proxy.app, http.MethodGet, "/api/items", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
	}
	if len(proxy.repo.rows) != 0 {
		t.Errorf("queued rows = %d, GET must never be queued", len(proxy.repo.rows))
	}
}

func TestAuthGetBypassesCache(t *testing.T) {
	t.Parallel()

	var upstreamCalls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalls.Add(1)
		w.Header().Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		_, _ = w.Write([]byte(`{"session":"fresh"}`))
	}))
	defer upstream.Close()

	proxy := newTestProxy(t, upstream.URL, true)

	for i := 0; i < 2; i++ {
		resp, _ := performRequest(t, proxy.app, http.MethodGet, "/api/auth/session", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
	}

	if got := upstreamCalls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2 (auth endpoints must never be cached)", got)
	}
}

func TestHealthRoutes(t *testing.T) {
	t.Parallel()

	app := NewApp(nil, zap.NewNop())
	app.Get("/livez", LivezHandler())

	resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("livez status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
}
