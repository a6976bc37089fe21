package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightloom/notifyd/internal/channel"
	"github.com/brightloom/notifyd/internal/model"
	"github.com/brightloom/notifyd/internal/store"
	"github.com/brightloom/notifyd/internal/webhook"
)

func testLogger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

// fakeStore implements store.Store in memory for dispatcher tests.
type fakeStore struct {
	mu            sync.Mutex
	notifications map[uuid.UUID]*model.Notification
	byIdempotency map[string]uuid.UUID
	templates     map[string]*model.MessageTemplate
	insertErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		notifications: make(map[uuid.UUID]*model.Notification),
		byIdempotency: make(map[string]uuid.UUID),
		templates:     make(map[string]*model.MessageTemplate),
	}
}

func (s *fakeStore) InsertNotification(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	if n.IdempotencyKey != "" {
		if _, exists := s.byIdempotency[n.IdempotencyKey]; exists {
			return store.ErrDuplicateIdempotencyKey
		}
		s.byIdempotency[n.IdempotencyKey] = n.ID
	}
	cp := *n
	s.notifications[n.ID] = &cp
	return nil
}

func (s *fakeStore) FindByID(_ context.Context, id uuid.UUID) (*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *fakeStore) FindByIdempotencyKey(_ context.Context, key string) (*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byIdempotency[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s.notifications[id]
	return &cp, nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id uuid.UUID, status model.Status, errorCode, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return store.ErrNotFound
	}
	n.Status, n.ErrorCode, n.ErrorMessage = status, errorCode, errorMessage
	return nil
}

func (s *fakeStore) SetProviderMessageID(_ context.Context, id uuid.UUID, pmid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[id].ProviderMessageID = pmid
	return nil
}

func (s *fakeStore) ScheduleRetry(_ context.Context, id uuid.UUID, newRetryCount int, nextRetryAt time.Time, errorCode, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.notifications[id]
	n.RetryCount = newRetryCount
	n.NextRetryAt = &nextRetryAt
	n.ErrorCode, n.ErrorMessage = errorCode, errorMessage
	n.Status = model.StatusPending
	return nil
}

func (s *fakeStore) ForceRetry(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.notifications[id]
	n.Status = model.StatusPending
	n.RetryCount = 0
	return nil
}

func (s *fakeStore) LeaseDueRetries(_ context.Context, _ time.Time, _ int) ([]*model.Notification, error) {
	return nil, nil
}
func (s *fakeStore) ReclaimExpiredLeases(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}
func (s *fakeStore) ExpireOverdue(_ context.Context, _ time.Time) ([]*model.Notification, error) {
	return nil, nil
}
func (s *fakeStore) List(_ context.Context, _ store.Filter, _, _ int) (store.Page, error) {
	return store.Page{}, nil
}
func (s *fakeStore) FindClientByAPIKeyHash(_ context.Context, _ string) (*model.ApiClient, error) {
	return nil, store.ErrNotFound
}
func (s *fakeStore) TouchClientLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

func (s *fakeStore) FindActiveTemplate(_ context.Context, code string, ch model.Channel) (*model.MessageTemplate, error) {
	tpl, ok := s.templates[code+"|"+string(ch)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return tpl, nil
}

func (s *fakeStore) FindChannelConfig(_ context.Context, ch model.Channel) (*model.ChannelConfig, error) {
	return &model.ChannelConfig{Channel: ch, Enabled: true}, nil
}
func (s *fakeStore) IncrementDailySentCount(_ context.Context, _ model.Channel) error { return nil }
func (s *fakeStore) InsertAuditRecord(_ context.Context, _ *model.AuditRecord) error  { return nil }
func (s *fakeStore) Health(_ context.Context) error                                  { return nil }

// get is a test-only, lock-protected accessor used by assertions that run
// concurrently with the dispatcher's worker pool.
func (s *fakeStore) get(id uuid.UUID) *model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil
	}
	cp := *n
	return &cp
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notifications)
}

// fakeAdapter is a minimal channel.Adapter used to drive the router
// without touching the real network-backed adapters.
type fakeAdapter struct {
	name    model.Channel
	enabled bool
	err     *channel.SendError
	pmid    string
}

func (a *fakeAdapter) Name() model.Channel              { return a.name }
func (a *fakeAdapter) IsConfigured() bool                { return true }
func (a *fakeAdapter) IsEnabled(_ context.Context) bool  { return a.enabled }
func (a *fakeAdapter) HealthCheck(_ context.Context) bool { return a.enabled }
func (a *fakeAdapter) Send(_ context.Context, _, _, _ string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return a.pmid, nil
}

func testClient() *model.ApiClient {
	return &model.ApiClient{ID: uuid.New(), Name: "acme", Active: true}
}

func newDispatcherWithAdapters(st store.Store, adapters ...channel.Adapter) *Dispatcher {
	router := channel.NewRouter(testLogger(), st, adapters...)
	notifier := webhook.New("secret", time.Second, testLogger())
	pool := NewPool(2, 10, testLogger())
	return New(st, router, notifier, pool, testLogger())
}

func TestSubmit_ValidationError(t *testing.T) {
	st := newFakeStore()
	d := newDispatcherWithAdapters(st, &fakeAdapter{name: model.ChannelEmail, enabled: true, pmid: "p1"})

	_, err := d.Submit(context.Background(), Request{Channel: "BOGUS", Recipient: "x", Message: "hi"}, testClient(), "1.2.3.4")
	verr, ok := err.(*ValidationError)
	if !ok || verr.Code != "INVALID_CHANNEL" {
		t.Fatalf("expected INVALID_CHANNEL, got %v", err)
	}
}

func TestSubmit_ChannelNotAllowed(t *testing.T) {
	st := newFakeStore()
	d := newDispatcherWithAdapters(st, &fakeAdapter{name: model.ChannelEmail, enabled: true, pmid: "p1"})

	client := testClient()
	client.AllowedChannels = []model.Channel{model.ChannelSMS}

	_, err := d.Submit(context.Background(), Request{Channel: model.ChannelEmail, Recipient: "a@b.com", Subject: "s", Message: "hi"}, client, "1.2.3.4")
	verr, ok := err.(*ValidationError)
	if !ok || verr.Code != "CHANNEL_NOT_ALLOWED" {
		t.Fatalf("expected CHANNEL_NOT_ALLOWED, got %v", err)
	}
}

func TestSubmit_MissingSubjectForEmail(t *testing.T) {
	st := newFakeStore()
	d := newDispatcherWithAdapters(st, &fakeAdapter{name: model.ChannelEmail, enabled: true, pmid: "p1"})

	_, err := d.Submit(context.Background(), Request{Channel: model.ChannelEmail, Recipient: "a@b.com", Message: "hi"}, testClient(), "1.2.3.4")
	verr, ok := err.(*ValidationError)
	if !ok || verr.Code != "MISSING_SUBJECT" {
		t.Fatalf("expected MISSING_SUBJECT, got %v", err)
	}
}

func TestSubmit_IdempotencyReturnsExisting(t *testing.T) {
	st := newFakeStore()
	d := newDispatcherWithAdapters(st, &fakeAdapter{name: model.ChannelEmail, enabled: true, pmid: "p1"})

	client := testClient()
	req := Request{Channel: model.ChannelEmail, Recipient: "a@b.com", Subject: "s", Message: "hi", IdempotencyKey: "once"}

	first, err := d.Submit(context.Background(), req, client, "1.2.3.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := d.Submit(context.Background(), req, client, "1.2.3.4")
	if err != nil {
		t.Fatalf("unexpected error on duplicate submit: %v", err)
	}
	if second.NotificationID != first.NotificationID {
		t.Fatalf("expected idempotent resubmission to return the same notification id")
	}
	if st.count() != 1 {
		t.Fatalf("expected exactly one stored notification, got %d", st.count())
	}
}

func TestSubmit_SuccessPersistsPendingRow(t *testing.T) {
	st := newFakeStore()
	d := newDispatcherWithAdapters(st, &fakeAdapter{name: model.ChannelEmail, enabled: true, pmid: "p1"})

	resp, err := d.Submit(context.Background(), Request{Channel: model.ChannelEmail, Recipient: "a@b.com", Subject: "s", Message: "hi"}, testClient(), "1.2.3.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != model.StatusPending {
		t.Fatalf("expected PENDING at submit time, got %s", resp.Status)
	}
	if st.get(resp.NotificationID) == nil {
		t.Fatal("expected the notification to be persisted")
	}
}

func TestDeliver_SuccessMarksSent(t *testing.T) {
	st := newFakeStore()
	d := newDispatcherWithAdapters(st, &fakeAdapter{name: model.ChannelEmail, enabled: true, pmid: "provider-1"})

	id := uuid.New()
	st.notifications[id] = &model.Notification{ID: id, Channel: model.ChannelEmail, Recipient: "a@b.com", Status: model.StatusPending, MaxRetries: model.DefaultMaxRetries}

	d.Deliver(context.Background(), id)

	got := st.notifications[id]
	if got.Status != model.StatusSent {
		t.Fatalf("expected SENT, got %s", got.Status)
	}
	if got.ProviderMessageID != "provider-1" {
		t.Fatalf("provider message id = %q", got.ProviderMessageID)
	}
}

func TestDeliver_RetryableSchedulesRetry(t *testing.T) {
	st := newFakeStore()
	d := newDispatcherWithAdapters(st, &fakeAdapter{name: model.ChannelEmail, enabled: true, err: channel.NewSendError("SMTP_TIMEOUT", "timed out", true)})

	id := uuid.New()
	st.notifications[id] = &model.Notification{ID: id, Channel: model.ChannelEmail, Recipient: "a@b.com", Status: model.StatusPending, RetryCount: 0, MaxRetries: model.DefaultMaxRetries}

	d.Deliver(context.Background(), id)

	got := st.notifications[id]
	if got.Status != model.StatusPending {
		t.Fatalf("expected to remain PENDING for a scheduled retry, got %s", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", got.RetryCount)
	}
	if got.NextRetryAt == nil || got.NextRetryAt.Sub(time.Now().UTC()) < 30*time.Second {
		t.Fatalf("expected next_retry_at roughly 1 minute out, got %v", got.NextRetryAt)
	}
}

// TestDeliver_LeasedRetrySchedulesRetry seeds the row the way a real
// scheduler lease leaves it — already SENDING, not PENDING — since
// LeaseDueRetries flips the row's status in the same query that selects
// it. A retryable failure on that row must still reach ScheduleRetry.
func TestDeliver_LeasedRetrySchedulesRetry(t *testing.T) {
	st := newFakeStore()
	d := newDispatcherWithAdapters(st, &fakeAdapter{name: model.ChannelEmail, enabled: true, err: channel.NewSendError("SMTP_TIMEOUT", "timed out", true)})

	id := uuid.New()
	st.notifications[id] = &model.Notification{ID: id, Channel: model.ChannelEmail, Recipient: "a@b.com", Status: model.StatusSending, RetryCount: 1, MaxRetries: model.DefaultMaxRetries}

	d.Deliver(context.Background(), id)

	got := st.notifications[id]
	if got.Status != model.StatusPending {
		t.Fatalf("expected a scheduled retry to reset status to PENDING, got %s", got.Status)
	}
	if got.RetryCount != 2 {
		t.Fatalf("retry count = %d, want 2", got.RetryCount)
	}
}

func TestDeliver_TerminalAfterMaxRetriesFails(t *testing.T) {
	st := newFakeStore()
	d := newDispatcherWithAdapters(st, &fakeAdapter{name: model.ChannelEmail, enabled: true, err: channel.NewSendError("SMTP_TIMEOUT", "timed out", true)})

	id := uuid.New()
	st.notifications[id] = &model.Notification{ID: id, Channel: model.ChannelEmail, Recipient: "a@b.com", Status: model.StatusPending, RetryCount: model.DefaultMaxRetries - 1, MaxRetries: model.DefaultMaxRetries}

	d.Deliver(context.Background(), id)

	got := st.notifications[id]
	if got.Status != model.StatusFailed {
		t.Fatalf("expected FAILED once retries are exhausted, got %s", got.Status)
	}
}

func TestDeliver_TerminalErrorFailsImmediately(t *testing.T) {
	st := newFakeStore()
	d := newDispatcherWithAdapters(st, &fakeAdapter{name: model.ChannelEmail, enabled: true, err: channel.NewSendError("INVALID_RECIPIENT", "bad address", false)})

	id := uuid.New()
	st.notifications[id] = &model.Notification{ID: id, Channel: model.ChannelEmail, Recipient: "bad", Status: model.StatusPending, MaxRetries: model.DefaultMaxRetries}

	d.Deliver(context.Background(), id)

	got := st.notifications[id]
	if got.Status != model.StatusFailed {
		t.Fatalf("expected immediate FAILED for a terminal error, got %s", got.Status)
	}
}

func TestDeliver_SkipsTerminalNotification(t *testing.T) {
	st := newFakeStore()
	d := newDispatcherWithAdapters(st, &fakeAdapter{name: model.ChannelEmail, enabled: true, pmid: "p1"})

	id := uuid.New()
	st.notifications[id] = &model.Notification{ID: id, Channel: model.ChannelEmail, Status: model.StatusSent}

	d.Deliver(context.Background(), id)

	if st.notifications[id].Status != model.StatusSent {
		t.Fatal("expected a terminal notification to be left untouched")
	}
}
