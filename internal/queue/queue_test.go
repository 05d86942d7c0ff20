package queue

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/sync-engine/internal/domain"
	"go.uber.org/zap"
)

type fakeQueueRepo struct {
	rows     []domain.QueuedRequest
	attempts map[string]int
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{attempts: map[string]int{}}
}

func (f *fakeQueueRepo) Enqueue(ctx context.Context, r *domain.QueuedRequest) error {
	f.rows = append(f.rows, *r)
	return nil
}

func (f *fakeQueueRepo) ListInOrder(ctx context.Context) ([]domain.QueuedRequest, error) {
	out := make([]domain.QueuedRequest, len(f.rows))
	copy(out, f.rows)
	return out, nil
}

func (f *fakeQueueRepo) Get(ctx context.Context, id string) (*domain.QueuedRequest, error) {
	for i := range f.rows {
		if f.rows[i].ID == id {
			row := f.rows[i]
			return &row, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeQueueRepo) Delete(ctx context.Context, id string) error {
	for i := range f.rows {
		if f.rows[i].ID == id {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeQueueRepo) IncrementAttempts(ctx context.Context, id string) error {
	f.attempts[id]++
	return nil
}

func (f *fakeQueueRepo) Count(ctx context.Context) (int64, error) {
	return int64(len(f.rows)), nil
}

func newTestQueue(t *testing.T, repo *fakeQueueRepo) *OfflineQueue {
	t.Helper()

	q, err := NewOfflineQueue(repo, resty.New(), nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOfflineQueue() error = %v", err)
	}
	return q
}

func TestEnqueueAssignsIdentityAndTimestamp(t *testing.T) {
	t.Parallel()

	repo := newFakeQueueRepo()
	q := newTestQueue(t, repo)
	q.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	req := &domain.QueuedRequest{
		URL:    "http://api.example.test/api/notes",
		Method: http.MethodPost,
		Body:   []byte(`{"title":"milk"}`),
	}
	if err := q.Enqueue(context.Background(), req); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if len(repo.rows) != 1 {
		t.Fatalf("persisted rows = %d, want 1", len(repo.rows))
	}
	row := repo.rows[0]
	if row.ID == "" {
		t.Error("expected an id to be assigned")
	}
	if !row.EnqueuedAt.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("enqueuedAt = %v, want injected clock value", row.EnqueuedAt)
	}
}

func TestEnqueueRejectsNonQueueableMethod(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, newFakeQueueRepo())

	err := q.Enqueue(context.Background(), &domain.QueuedRequest{
		URL:    "http://api.example.test/api/notes",
		Method: http.MethodGet,
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Enqueue(GET) error = %v, want ErrValidation", err)
	}
}

func TestFlushReplaysInOrderAndDeletesOnSuccess(t *testing.T) {
	t.Parallel()

	var gotPaths []string
	var gotAuth []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := newFakeQueueRepo()
	repo.rows = []domain.QueuedRequest{
		{ID: "q-1", URL: server.URL + "/api/notes", Method: http.MethodPost,
			Headers: []domain.Header{{Name: "Authorization", Value: "Bearer stale"}}},
		{ID: "q-2", URL: server.URL + "/api/tasks/7", Method: http.MethodPatch},
		{ID: "q-3", URL: server.URL + "/api/tasks/9", Method: http.MethodDelete},
	}

	q := newTestQueue(t, repo)
	report, err := q.Flush(context.Background(), "fresh-token")
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	wantPaths := []string{"/api/notes", "/api/tasks/7", "/api/tasks/9"}
	if len(gotPaths) != len(wantPaths) {
		t.Fatalf("replayed %d requests, want %d", len(gotPaths), len(wantPaths))
	}
	for i, want := range wantPaths {
		if gotPaths[i] != want {
			t.Errorf("replay[%d] path = %q, want %q (capture order must hold)", i, gotPaths[i], want)
		}
	}
	for i, auth := range gotAuth {
		if auth != "Bearer fresh-token" {
			t.Errorf("replay[%d] auth = %q, want refreshed bearer token", i, auth)
		}
	}

	if report.Replayed != 3 || report.Failed != 0 || report.Remaining != 0 {
		t.Errorf("report = %+v, want 3 replayed, queue drained", report)
	}
	if len(repo.rows) != 0 {
		t.Errorf("rows remaining = %d, want 0", len(repo.rows))
	}
}

func TestFlushKeepsRowOnFailureAndContinues(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/notes" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := newFakeQueueRepo()
	repo.rows = []domain.QueuedRequest{
		{ID: "q-1", URL: server.URL + "/api/notes", Method: http.MethodPost},
		{ID: "q-2", URL: server.URL + "/api/tasks/7", Method: http.MethodPut},
	}

	q := newTestQueue(t, repo)
	report, err := q.Flush(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if report.Replayed != 1 || report.Failed != 1 || report.Remaining != 1 {
		t.Errorf("report = %+v, want one replayed, one kept", report)
	}
	if len(repo.rows) != 1 || repo.rows[0].ID != "q-1" {
		t.Fatalf("remaining rows = %+v, want only the failed q-1", repo.rows)
	}
	if repo.attempts["q-1"] != 1 {
		t.Errorf("attempts[q-1] = %d, want 1", repo.attempts["q-1"])
	}
}

func TestFlushNon2xxIsNotSuccess(t *testing.T) {
	t.Parallel()

	// Redirect and client-error statuses must not delete the row either;
	// only a confirmed 2xx does.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	repo := newFakeQueueRepo()
	repo.rows = []domain.QueuedRequest{
		{ID: "q-1", URL: server.URL + "/api/notes/gone", Method: http.MethodDelete},
	}

	q := newTestQueue(t, repo)
	report, err := q.Flush(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if report.Failed != 1 || len(repo.rows) != 1 {
		t.Errorf("report = %+v rows = %d, want the row kept", report, len(repo.rows))
	}
}

func TestFlushEmptyQueueIsNoOp(t *testing.T) {
	t.Parallel()

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		io.Copy(io.Discard, r.Body)
	}))
	defer server.Close()

	q := newTestQueue(t, newFakeQueueRepo())
	report, err := q.Flush(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if calls != 0 {
		t.Errorf("network calls = %d, want 0 for empty queue", calls)
	}
	if report.Attempted != 0 || report.Replayed != 0 {
		t.Errorf("report = %+v, want empty", report)
	}
}

func TestReplayErrorTaxonomy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "server error", err: &ReplayError{StatusCode: 503, Transient: true}, want: true},
		{name: "client error", err: &ReplayError{StatusCode: 400, Transient: false}, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}
