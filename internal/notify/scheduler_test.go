package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/sync-engine/internal/channel"
	"github.com/kursadbilgin/sync-engine/internal/domain"
	"go.uber.org/zap"
)

type memReminderRepo struct {
	mu   sync.Mutex
	rows map[string]domain.ScheduledReminder
}

func newMemReminderRepo() *memReminderRepo {
	return &memReminderRepo{rows: map[string]domain.ScheduledReminder{}}
}

func (m *memReminderRepo) Upsert(ctx context.Context, r *domain.ScheduledReminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[r.ItemID] = *r
	return nil
}

func (m *memReminderRepo) Get(ctx context.Context, itemID string) (*domain.ScheduledReminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[itemID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &row, nil
}

func (m *memReminderRepo) Delete(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[itemID]; !ok {
		return domain.ErrNotFound
	}
	delete(m.rows, itemID)
	return nil
}

func (m *memReminderRepo) ListAll(ctx context.Context) ([]domain.ScheduledReminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ScheduledReminder, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, row)
	}
	return out, nil
}

func (m *memReminderRepo) ListDue(ctx context.Context, before time.Time) ([]domain.ScheduledReminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ScheduledReminder
	for _, row := range m.rows {
		if !row.DueAt.After(before) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memReminderRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type recordingPages struct {
	mu        sync.Mutex
	connected bool
	broadcast []channel.Envelope
	direct    []channel.Envelope
}

func (p *recordingPages) Broadcast(ctx context.Context, env channel.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcast = append(p.broadcast, env)
}

func (p *recordingPages) SendToAny(ctx context.Context, env channel.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return domain.ErrNotFound
	}
	p.direct = append(p.direct, env)
	return nil
}

func (p *recordingPages) HasPages() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *recordingPages) broadcastByType(msgType string) []channel.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []channel.Envelope
	for _, env := range p.broadcast {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

type recordingActionRepo struct {
	mu      sync.Mutex
	created []domain.ActionRecord
}

func (r *recordingActionRepo) Create(ctx context.Context, a *domain.ActionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, *a)
	return nil
}

func (r *recordingActionRepo) ListUnsynced(ctx context.Context) ([]domain.ActionRecord, error) {
	return nil, nil
}

func (r *recordingActionRepo) MarkSynced(ctx context.Context, ids []int64) error { return nil }

type schedulerFixture struct {
	scheduler *Scheduler
	reminders *memReminderRepo
	actions   *recordingActionRepo
	pages     *recordingPages
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()

	fixture := &schedulerFixture{
		reminders: newMemReminderRepo(),
		actions:   &recordingActionRepo{},
		pages:     &recordingPages{connected: true},
	}

	scheduler, err := NewScheduler(fixture.reminders, fixture.actions, nil, fixture.pages, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	t.Cleanup(scheduler.Close)
	fixture.scheduler = scheduler

	return fixture
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSchedulePastDueFiresImmediatelyWithoutPersisting(t *testing.T) {
	t.Parallel()

	fixture := newSchedulerFixture(t)

	err := fixture.scheduler.Schedule(context.Background(), "item-1", time.Now().Add(-time.Second), "Overdue", "do it", nil)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	fired := fixture.pages.broadcastByType(channel.MsgShowNotification)
	if len(fired) != 1 {
		t.Fatalf("notifications = %d, want immediate fire", len(fired))
	}
	if fixture.reminders.count() != 0 {
		t.Errorf("persisted rows = %d, past-due reminders must not persist", fixture.reminders.count())
	}
}

func TestScheduleLastWriteWins(t *testing.T) {
	t.Parallel()

	fixture := newSchedulerFixture(t)
	ctx := context.Background()

	if err := fixture.scheduler.Schedule(ctx, "item-7", time.Now().Add(300*time.Millisecond), "T", "", nil); err != nil {
		t.Fatalf("first Schedule() error = %v", err)
	}
	if err := fixture.scheduler.Schedule(ctx, "item-7", time.Now().Add(80*time.Millisecond), "T2", "", nil); err != nil {
		t.Fatalf("second Schedule() error = %v", err)
	}

	if fixture.reminders.count() != 1 {
		t.Fatalf("persisted rows = %d, want exactly one per item", fixture.reminders.count())
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(fixture.pages.broadcastByType(channel.MsgShowNotification)) > 0
	}, "reminder never fired")

	// Give the superseded first timer a chance to misfire, then check.
	time.Sleep(400 * time.Millisecond)

	fired := fixture.pages.broadcastByType(channel.MsgShowNotification)
	if len(fired) != 1 {
		t.Fatalf("fires = %d, want exactly one after replacement", len(fired))
	}
	var payload domain.NotificationPayload
	if err := channel.DecodePayload(fired[0], &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Title != "T2" {
		t.Errorf("fired title = %q, want the most recently scheduled T2", payload.Title)
	}
	if fixture.reminders.count() != 0 {
		t.Errorf("persisted rows = %d, fired reminder must be removed", fixture.reminders.count())
	}
}

func TestStaleTimerDoesNotFireRescheduledReminderEarly(t *testing.T) {
	t.Parallel()

	fixture := newSchedulerFixture(t)
	ctx := context.Background()

	if err := fixture.scheduler.Schedule(ctx, "item-7", time.Now().Add(time.Minute), "Later", "", nil); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	// A timer armed before the reschedule can have its callback already
	// running when Stop is called. Invoking fire directly stands in for
	// that stale callback.
	fixture.scheduler.fire(ctx, "item-7")

	if fired := fixture.pages.broadcastByType(channel.MsgShowNotification); len(fired) != 0 {
		t.Fatalf("fires = %d, a reminder due in a minute must not deliver now", len(fired))
	}
	if fixture.reminders.count() != 1 {
		t.Fatalf("persisted rows = %d, the future reminder must survive a stale fire", fixture.reminders.count())
	}

	fixture.scheduler.mu.Lock()
	_, armed := fixture.scheduler.timers["item-7"]
	fixture.scheduler.mu.Unlock()
	if !armed {
		t.Error("no timer armed for item-7 after stale fire, reminder would never deliver")
	}
}

func TestDeliverUsesPayloadContractWhenTitleEmpty(t *testing.T) {
	t.Parallel()

	fixture := newSchedulerFixture(t)
	extra := json.RawMessage(`{"type":"reminder","title":"Water plants","body":"kitchen"}`)

	err := fixture.scheduler.Schedule(context.Background(), "item-5", time.Now().Add(-time.Second), "", "", extra)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	fired := fixture.pages.broadcastByType(channel.MsgShowNotification)
	if len(fired) != 1 {
		t.Fatalf("notifications = %d, want immediate fire", len(fired))
	}
	var payload domain.NotificationPayload
	if err := channel.DecodePayload(fired[0], &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Title != "Water plants" || payload.Kind != domain.NotificationReminder {
		t.Errorf("payload = %+v, want the contract carried in the extra payload", payload)
	}
	if payload.ItemID != "item-5" {
		t.Errorf("payload item = %q, want item-5", payload.ItemID)
	}
}

func TestDeliverFallsBackToDefaultOnGarbagePayload(t *testing.T) {
	t.Parallel()

	fixture := newSchedulerFixture(t)

	err := fixture.scheduler.Schedule(context.Background(), "item-6", time.Now().Add(-time.Second), "", "", json.RawMessage(`{broken`))
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	fired := fixture.pages.broadcastByType(channel.MsgShowNotification)
	if len(fired) != 1 {
		t.Fatalf("notifications = %d, want immediate fire", len(fired))
	}
	var payload domain.NotificationPayload
	if err := channel.DecodePayload(fired[0], &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	want := domain.DefaultNotification()
	if payload.Title != want.Title || payload.Kind != want.Kind {
		t.Errorf("payload = %+v, want the default notification", payload)
	}
}

func TestCancelRemovesRowAndStopsTimer(t *testing.T) {
	t.Parallel()

	fixture := newSchedulerFixture(t)
	ctx := context.Background()

	if err := fixture.scheduler.Schedule(ctx, "item-3", time.Now().Add(80*time.Millisecond), "Soon", "", nil); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if err := fixture.scheduler.Cancel(ctx, "item-3"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	if fixture.reminders.count() != 0 {
		t.Fatalf("persisted rows = %d, want 0 after cancel", fixture.reminders.count())
	}

	time.Sleep(200 * time.Millisecond)
	if fired := fixture.pages.broadcastByType(channel.MsgShowNotification); len(fired) != 0 {
		t.Errorf("fires after cancel = %d, want 0", len(fired))
	}

	// Cancelling again is a no-op.
	if err := fixture.scheduler.Cancel(ctx, "item-3"); err != nil {
		t.Errorf("repeat Cancel() error = %v", err)
	}
}

func TestRearmOnWake(t *testing.T) {
	t.Parallel()

	fixture := newSchedulerFixture(t)
	ctx := context.Background()

	overdue := domain.ScheduledReminder{
		ItemID: "item-past", DueAt: time.Now().Add(-time.Minute), Title: "Missed",
	}
	future := domain.ScheduledReminder{
		ItemID: "item-future", DueAt: time.Now().Add(100 * time.Millisecond), Title: "Soon",
	}
	if err := fixture.reminders.Upsert(ctx, &overdue); err != nil {
		t.Fatalf("seed overdue: %v", err)
	}
	if err := fixture.reminders.Upsert(ctx, &future); err != nil {
		t.Fatalf("seed future: %v", err)
	}

	if err := fixture.scheduler.RearmOnWake(ctx); err != nil {
		t.Fatalf("RearmOnWake() error = %v", err)
	}

	// The overdue reminder fires synchronously on wake.
	if fired := fixture.pages.broadcastByType(channel.MsgShowNotification); len(fired) != 1 {
		t.Fatalf("fires after wake = %d, want the overdue one", len(fired))
	}

	// The future reminder fires from its rebuilt timer.
	waitFor(t, 2*time.Second, func() bool {
		return len(fixture.pages.broadcastByType(channel.MsgShowNotification)) == 2
	}, "re-armed future reminder never fired")

	if fixture.reminders.count() != 0 {
		t.Errorf("persisted rows = %d, want 0 after both fired", fixture.reminders.count())
	}
}

func TestHandleActionRoutesToPage(t *testing.T) {
	t.Parallel()

	fixture := newSchedulerFixture(t)

	err := fixture.scheduler.HandleAction(context.Background(), domain.ActionDone, "item-9", "rem-1")
	if err != nil {
		t.Fatalf("HandleAction() error = %v", err)
	}

	fixture.pages.mu.Lock()
	direct := append([]channel.Envelope(nil), fixture.pages.direct...)
	fixture.pages.mu.Unlock()

	if len(direct) != 2 {
		t.Fatalf("direct messages = %d, want action + focus", len(direct))
	}
	if direct[0].Type != channel.MsgReminderDone {
		t.Errorf("first message = %q, want REMINDER_DONE", direct[0].Type)
	}
	if direct[1].Type != channel.MsgFocusItem {
		t.Errorf("second message = %q, want FOCUS_ITEM", direct[1].Type)
	}
	if len(fixture.actions.created) != 0 {
		t.Errorf("buffered actions = %d, want 0 with a live page", len(fixture.actions.created))
	}
}

func TestHandleActionBuffersWithoutPages(t *testing.T) {
	t.Parallel()

	fixture := newSchedulerFixture(t)
	fixture.pages.connected = false

	err := fixture.scheduler.HandleAction(context.Background(), domain.ActionSnooze, "item-9", "rem-1")
	if err != nil {
		t.Fatalf("HandleAction() error = %v", err)
	}

	if len(fixture.actions.created) != 1 {
		t.Fatalf("buffered actions = %d, want 1", len(fixture.actions.created))
	}
	record := fixture.actions.created[0]
	if record.ActionType != domain.ActionSnooze || record.ItemID != "item-9" {
		t.Errorf("buffered record = %+v", record)
	}
	if record.Synced {
		t.Error("buffered record must start unsynced")
	}
}
