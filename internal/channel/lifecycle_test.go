package channel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"notification-engine/internal/domain"
	"notification-engine/internal/provider"
)

type fakeNotificationRepo struct {
	deliveredID   string
	deliveredAt   time.Time
	retryID       string
	retryNext     time.Time
	failureID     string
	inactiveID    string
	releasedID    string
	markErr       error
	transitionHit bool
}

func (f *fakeNotificationRepo) GetOrCreate(ctx context.Context, n *domain.Notification) (bool, error) {
	return false, errors.New("not implemented")
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeNotificationRepo) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.Notification, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeNotificationRepo) Claim(ctx context.Context, id string, now, staleBefore time.Time) (bool, error) {
	return true, nil
}

func (f *fakeNotificationRepo) ReleaseClaim(ctx context.Context, id string) error {
	f.releasedID = id
	return nil
}

func (f *fakeNotificationRepo) MarkDelivered(ctx context.Context, id string, attemptedAt time.Time) (bool, error) {
	if f.markErr != nil {
		return false, f.markErr
	}
	f.deliveredID = id
	f.deliveredAt = attemptedAt
	f.transitionHit = true
	return true, nil
}

func (f *fakeNotificationRepo) MarkRetry(ctx context.Context, id string, attemptedAt, nextDelivery time.Time) (bool, error) {
	if f.markErr != nil {
		return false, f.markErr
	}
	f.retryID = id
	f.retryNext = nextDelivery
	f.transitionHit = true
	return true, nil
}

func (f *fakeNotificationRepo) MarkDeliveryFailure(ctx context.Context, id string, attemptedAt time.Time) (bool, error) {
	if f.markErr != nil {
		return false, f.markErr
	}
	f.failureID = id
	f.transitionHit = true
	return true, nil
}

func (f *fakeNotificationRepo) MarkInactiveDevice(ctx context.Context, id string) (bool, error) {
	f.inactiveID = id
	return true, nil
}

func (f *fakeNotificationRepo) MarkAsyncQueued(ctx context.Context, id string) (bool, error) {
	return true, nil
}

type fakeTargetRepo struct {
	deactivatedID string
	deactivateErr error
}

func (f *fakeTargetRepo) GetTargetByChannel(ctx context.Context, channel domain.Channel) (*domain.NotificationTarget, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTargetRepo) EnsureTarget(ctx context.Context, t *domain.NotificationTarget) error {
	return errors.New("not implemented")
}

func (f *fakeTargetRepo) ActiveRecords(ctx context.Context, userID string, channel domain.Channel) ([]domain.TargetUserRecord, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTargetRepo) Deactivate(ctx context.Context, recordID string) error {
	if f.deactivateErr != nil {
		return f.deactivateErr
	}
	f.deactivatedID = recordID
	return nil
}

func (f *fakeTargetRepo) ResetEmailRecord(ctx context.Context, userID, email, description string) (*domain.TargetUserRecord, error) {
	return nil, errors.New("not implemented")
}

type fakeAttemptRepo struct {
	attempts []domain.DeliveryAttempt
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakeAttemptRepo) GetByNotificationID(ctx context.Context, notificationID string) ([]domain.DeliveryAttempt, error) {
	return f.attempts, nil
}

func newTestLifecycle(t *testing.T, notifications *fakeNotificationRepo, targets *fakeTargetRepo, attempts *fakeAttemptRepo) *Lifecycle {
	t.Helper()

	lc, err := NewLifecycle(notifications, targets, attempts, nil)
	if err != nil {
		t.Fatalf("NewLifecycle() error = %v", err)
	}
	lc.now = func() time.Time {
		return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	}
	return lc
}

func testNotification() *domain.Notification {
	return &domain.Notification{
		ID:                 "11111111-1111-1111-1111-111111111111",
		TargetUserRecordID: "22222222-2222-2222-2222-222222222222",
		TargetUserRecord: &domain.TargetUserRecord{
			ID:           "22222222-2222-2222-2222-222222222222",
			UserID:       "user-1",
			TargetUserID: "person@example.com",
			Active:       true,
		},
		Title:             "Weekly digest",
		Body:              "<p>Hello</p>",
		Status:            domain.StatusScheduled,
		ScheduledDelivery: time.Date(2026, 3, 15, 11, 0, 0, 0, time.UTC),
		RetryTimeInterval: 60,
		MaxRetries:        3,
	}
}

func TestLifecycleDelivered(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{}
	attempts := &fakeAttemptRepo{}
	lc := newTestLifecycle(t, notifications, &fakeTargetRepo{}, attempts)

	n := testNotification()
	msg, err := lc.Resolve(context.Background(), domain.ChannelEmail, n, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if notifications.deliveredID != n.ID {
		t.Errorf("MarkDelivered called with id %q, want %q", notifications.deliveredID, n.ID)
	}
	if n.Status != domain.StatusDelivered {
		t.Errorf("status = %v, want %v", n.Status, domain.StatusDelivered)
	}
	if n.AttemptedDelivery == nil {
		t.Error("attempted delivery not set")
	}
	if !strings.Contains(msg, "delivered") {
		t.Errorf("message = %q, want delivery confirmation", msg)
	}
	if len(attempts.attempts) != 1 || attempts.attempts[0].Outcome != OutcomeDelivered {
		t.Errorf("attempts = %+v, want one DELIVERED row", attempts.attempts)
	}
	if got := attempts.attempts[0].AttemptNumber; got != 1 {
		t.Errorf("attempt number = %d, want 1", got)
	}
}

func TestLifecycleRetrySchedule(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{}
	attempts := &fakeAttemptRepo{}
	lc := newTestLifecycle(t, notifications, &fakeTargetRepo{}, attempts)

	n := testNotification()
	n.RetryAttempts = 1

	sendErr := &provider.ProviderError{StatusCode: 503, Message: "upstream unavailable", Transient: true}
	msg, err := lc.Resolve(context.Background(), domain.ChannelPush, n, sendErr)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	wantNext := time.Date(2026, 3, 15, 13, 0, 0, 0, time.UTC)
	if !notifications.retryNext.Equal(wantNext) {
		t.Errorf("next delivery = %v, want %v", notifications.retryNext, wantNext)
	}
	if n.Status != domain.StatusRetry {
		t.Errorf("status = %v, want %v", n.Status, domain.StatusRetry)
	}
	if n.RetryAttempts != 2 {
		t.Errorf("retry attempts = %d, want 2", n.RetryAttempts)
	}
	if !strings.Contains(msg, "retry 2/3") {
		t.Errorf("message = %q, want retry counter", msg)
	}
	if len(attempts.attempts) != 1 || attempts.attempts[0].AttemptNumber != 2 {
		t.Errorf("attempts = %+v, want one row for attempt 2", attempts.attempts)
	}
}

func TestLifecycleRetryIntervalOverride(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{}
	lc := newTestLifecycle(t, notifications, &fakeTargetRepo{}, &fakeAttemptRepo{})

	n := testNotification()
	sendErr := &provider.ProviderError{
		Message:           "connection reset",
		Transient:         true,
		RetryAfterMinutes: 90,
	}
	if _, err := lc.Resolve(context.Background(), domain.ChannelEmail, n, sendErr); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	wantNext := time.Date(2026, 3, 15, 13, 30, 0, 0, time.UTC)
	if !notifications.retryNext.Equal(wantNext) {
		t.Errorf("next delivery = %v, want override %v", notifications.retryNext, wantNext)
	}
}

func TestLifecycleRetriesExhausted(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{}
	attempts := &fakeAttemptRepo{}
	lc := newTestLifecycle(t, notifications, &fakeTargetRepo{}, attempts)

	n := testNotification()
	n.MaxRetries = 2
	n.RetryAttempts = 2

	sendErr := errors.New("smtp timeout")
	msg, err := lc.Resolve(context.Background(), domain.ChannelEmail, n, sendErr)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if notifications.failureID != n.ID {
		t.Errorf("MarkDeliveryFailure called with id %q, want %q", notifications.failureID, n.ID)
	}
	if notifications.retryID != "" {
		t.Error("MarkRetry should not be called once retries are exhausted")
	}
	if n.Status != domain.StatusDeliveryFailure {
		t.Errorf("status = %v, want %v", n.Status, domain.StatusDeliveryFailure)
	}
	if !strings.Contains(msg, "permanently") {
		t.Errorf("message = %q, want permanent failure wording", msg)
	}
	if len(attempts.attempts) != 1 || attempts.attempts[0].Outcome != OutcomeDeliveryFailure {
		t.Errorf("attempts = %+v, want one DELIVERY_FAILURE row", attempts.attempts)
	}
}

func TestLifecycleTargetGone(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{}
	targets := &fakeTargetRepo{}
	lc := newTestLifecycle(t, notifications, targets, &fakeAttemptRepo{})

	n := testNotification()
	sendErr := &provider.ProviderError{Message: "DeviceNotRegistered", TargetGone: true}

	msg, err := lc.Resolve(context.Background(), domain.ChannelPush, n, sendErr)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if targets.deactivatedID != n.TargetUserRecordID {
		t.Errorf("Deactivate called with %q, want %q", targets.deactivatedID, n.TargetUserRecordID)
	}
	if notifications.releasedID != n.ID {
		t.Errorf("ReleaseClaim called with %q, want %q", notifications.releasedID, n.ID)
	}
	if notifications.transitionHit {
		t.Error("no status transition should run for an unreachable target")
	}
	if n.Status != domain.StatusScheduled {
		t.Errorf("status = %v, want unchanged %v", n.Status, domain.StatusScheduled)
	}
	if !strings.Contains(msg, "unreachable") {
		t.Errorf("message = %q, want unreachable wording", msg)
	}
}

func TestLifecycleTargetGoneQueued(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{}
	targets := &fakeTargetRepo{}
	attempts := &fakeAttemptRepo{}
	lc := newTestLifecycle(t, notifications, targets, attempts)

	n := testNotification()
	n.Status = domain.StatusAsyncQueued
	sendErr := &provider.ProviderError{Message: "invalid recipient", TargetGone: true}

	msg, err := lc.Resolve(context.Background(), domain.ChannelEmail, n, sendErr)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if targets.deactivatedID != n.TargetUserRecordID {
		t.Errorf("Deactivate called with %q, want %q", targets.deactivatedID, n.TargetUserRecordID)
	}
	if notifications.inactiveID != n.ID {
		t.Errorf("MarkInactiveDevice called with %q, want %q", notifications.inactiveID, n.ID)
	}
	if n.Status != domain.StatusInactiveDevice {
		t.Errorf("status = %v, want %v", n.Status, domain.StatusInactiveDevice)
	}
	if notifications.releasedID != "" {
		t.Error("queued rows close out directly, no claim release expected")
	}
	if len(attempts.attempts) != 1 || attempts.attempts[0].Outcome != OutcomeTargetGone {
		t.Errorf("attempts = %+v, want one TARGET_GONE row", attempts.attempts)
	}
	if !strings.Contains(msg, "unreachable") {
		t.Errorf("message = %q, want unreachable wording", msg)
	}
}

func TestLifecycleTransitionErrorPropagates(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{markErr: errors.New("connection refused")}
	lc := newTestLifecycle(t, notifications, &fakeTargetRepo{}, &fakeAttemptRepo{})

	if _, err := lc.Resolve(context.Background(), domain.ChannelEmail, testNotification(), nil); err == nil {
		t.Fatal("Resolve() should surface the transition write failure")
	}
}
