package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"notification-engine/internal/domain"
	"notification-engine/internal/queue"
)

var errNotImplemented = errors.New("not implemented")

type stubNotificationRepo struct {
	mu sync.Mutex

	created    []domain.Notification
	duplicates bool

	due             []domain.Notification
	listStaleBefore time.Time
	byID            map[string]*domain.Notification
	claimDeny       map[string]bool
	claimed         []string
	released        []string
	inactive        []string
	queued          []string
	delivered       []string
	markQueued      func(id string) (bool, error)
}

func (f *stubNotificationRepo) GetOrCreate(ctx context.Context, n *domain.Notification) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.duplicates {
		return false, nil
	}
	f.created = append(f.created, *n)
	return true, nil
}

func (f *stubNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *n
	return &clone, nil
}

func (f *stubNotificationRepo) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listStaleBefore = staleBefore
	return f.due, nil
}

func (f *stubNotificationRepo) Claim(ctx context.Context, id string, now, staleBefore time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimDeny[id] {
		return false, nil
	}
	f.claimed = append(f.claimed, id)
	return true, nil
}

func (f *stubNotificationRepo) ReleaseClaim(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, id)
	return nil
}

func (f *stubNotificationRepo) MarkDelivered(ctx context.Context, id string, attemptedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, id)
	return true, nil
}

func (f *stubNotificationRepo) MarkRetry(ctx context.Context, id string, attemptedAt, nextDelivery time.Time) (bool, error) {
	return false, errNotImplemented
}

func (f *stubNotificationRepo) MarkDeliveryFailure(ctx context.Context, id string, attemptedAt time.Time) (bool, error) {
	return false, errNotImplemented
}

func (f *stubNotificationRepo) MarkInactiveDevice(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inactive = append(f.inactive, id)
	return true, nil
}

func (f *stubNotificationRepo) MarkAsyncQueued(ctx context.Context, id string) (bool, error) {
	if f.markQueued != nil {
		return f.markQueued(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, id)
	return true, nil
}

type stubTargetRepo struct {
	records       []domain.TargetUserRecord
	recordsByUser map[string][]domain.TargetUserRecord
	recordsErr    error
	deactivated   []string
	ensured       []domain.NotificationTarget
	resetCalls    []string
	resetRecord   *domain.TargetUserRecord
	resetErr      error
}

func (f *stubTargetRepo) GetTargetByChannel(ctx context.Context, channel domain.Channel) (*domain.NotificationTarget, error) {
	return nil, errNotImplemented
}

func (f *stubTargetRepo) EnsureTarget(ctx context.Context, t *domain.NotificationTarget) error {
	f.ensured = append(f.ensured, *t)
	return nil
}

func (f *stubTargetRepo) ActiveRecords(ctx context.Context, userID string, channel domain.Channel) ([]domain.TargetUserRecord, error) {
	if f.recordsErr != nil {
		return nil, f.recordsErr
	}
	if f.recordsByUser != nil {
		return f.recordsByUser[userID], nil
	}
	return f.records, nil
}

func (f *stubTargetRepo) Deactivate(ctx context.Context, recordID string) error {
	f.deactivated = append(f.deactivated, recordID)
	return nil
}

func (f *stubTargetRepo) ResetEmailRecord(ctx context.Context, userID, email, description string) (*domain.TargetUserRecord, error) {
	f.resetCalls = append(f.resetCalls, userID)
	if f.resetErr != nil {
		return nil, f.resetErr
	}
	if f.resetRecord != nil {
		return f.resetRecord, nil
	}
	return &domain.TargetUserRecord{
		ID:           "record-" + userID,
		UserID:       userID,
		TargetUserID: email,
		Active:       true,
	}, nil
}

type stubOptOutRepo struct {
	optedOut map[string]bool
	setCalls []struct {
		UserID string
		Active bool
	}
	cascaded int64
}

func (f *stubOptOutRepo) Find(ctx context.Context, userID string) (*domain.OptOut, error) {
	if !f.optedOut[userID] {
		return nil, domain.ErrNotFound
	}
	return &domain.OptOut{ID: "oo-" + userID, UserID: userID, Active: true}, nil
}

func (f *stubOptOutRepo) IsOptedOut(ctx context.Context, userID string) (bool, error) {
	return f.optedOut[userID], nil
}

func (f *stubOptOutRepo) SetActive(ctx context.Context, userID string, active bool) (*domain.OptOut, int64, error) {
	f.setCalls = append(f.setCalls, struct {
		UserID string
		Active bool
	}{userID, active})
	return &domain.OptOut{ID: "oo-" + userID, UserID: userID, Active: active}, f.cascaded, nil
}

type stubHandler struct {
	mu      sync.Mutex
	sent    []string
	sendErr error
	status  domain.Status
}

func (f *stubHandler) Send(ctx context.Context, n *domain.Notification) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, n.ID)
	status := f.status
	if status == "" {
		status = domain.StatusDelivered
	}
	n.Status = status
	return "delivered", nil
}

type stubPublisher struct {
	mu         sync.Mutex
	published  []queue.DispatchMessage
	queues     []string
	publishErr error
}

func (f *stubPublisher) Publish(ctx context.Context, queueName string, msg queue.DispatchMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	f.queues = append(f.queues, queueName)
	return nil
}

func (f *stubPublisher) Close() error { return nil }

func emailRecord(id, userID string) domain.TargetUserRecord {
	return domain.TargetUserRecord{
		ID:           id,
		UserID:       userID,
		TargetID:     "target-email",
		Target:       &domain.NotificationTarget{ID: "target-email", Name: "Email", ChannelKey: domain.ChannelEmail},
		TargetUserID: userID + "@example.com",
		Active:       true,
	}
}

func dueNotification(id string, record domain.TargetUserRecord) domain.Notification {
	recordCopy := record
	return domain.Notification{
		ID:                 id,
		TargetUserRecordID: record.ID,
		TargetUserRecord:   &recordCopy,
		Title:              "Weekly digest",
		Body:               "<p>Hello</p>",
		Status:             domain.StatusScheduled,
		ScheduledDelivery:  time.Date(2026, 3, 15, 11, 0, 0, 0, time.UTC),
		RetryTimeInterval:  60,
		MaxRetries:         3,
	}
}
