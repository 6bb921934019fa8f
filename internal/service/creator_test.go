package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"notification-engine/internal/domain"
	"notification-engine/internal/mailbody"
)

func newTestCreator(t *testing.T, notifications *stubNotificationRepo, targets *stubTargetRepo, optouts *stubOptOutRepo) *Creator {
	t.Helper()

	renderer, err := mailbody.NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}

	c, err := NewCreator(notifications, targets, optouts, renderer, nil)
	if err != nil {
		t.Fatalf("NewCreator() error = %v", err)
	}
	c.now = func() time.Time {
		return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	}
	return c
}

func TestCreatorFanOut(t *testing.T) {
	t.Parallel()

	notifications := &stubNotificationRepo{}
	targets := &stubTargetRepo{records: []domain.TargetUserRecord{
		emailRecord("record-1", "user-1"),
		emailRecord("record-2", "user-1"),
	}}
	c := newTestCreator(t, notifications, targets, &stubOptOutRepo{})

	created, err := c.CreateEmail(context.Background(), CreateParams{
		UserID: "user-1",
		Title:  "Weekly digest",
		Body:   "<p>Hello</p>",
	})
	if err != nil {
		t.Fatalf("CreateEmail() error = %v", err)
	}

	if len(created) != 2 {
		t.Fatalf("created %d notifications, want 2", len(created))
	}
	for _, n := range created {
		if n.Status != domain.StatusScheduled {
			t.Errorf("status = %v, want %v", n.Status, domain.StatusScheduled)
		}
		if n.RetryTimeInterval != 1440 {
			t.Errorf("retry interval = %d, want email default 1440", n.RetryTimeInterval)
		}
		if n.MaxRetries != 3 {
			t.Errorf("max retries = %d, want 3", n.MaxRetries)
		}
		wantScheduled := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
		if !n.ScheduledDelivery.Equal(wantScheduled) {
			t.Errorf("scheduled delivery = %v, want now %v", n.ScheduledDelivery, wantScheduled)
		}
	}
	if len(notifications.created) != 2 {
		t.Errorf("repo received %d rows, want 2", len(notifications.created))
	}
}

func TestCreatorPushDefaults(t *testing.T) {
	t.Parallel()

	record := emailRecord("record-1", "user-1")
	record.Target = &domain.NotificationTarget{ID: "target-push", Name: "Expo", ChannelKey: domain.ChannelPush}
	notifications := &stubNotificationRepo{}
	targets := &stubTargetRepo{records: []domain.TargetUserRecord{record}}
	c := newTestCreator(t, notifications, targets, &stubOptOutRepo{})

	scheduled := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	created, err := c.CreatePush(context.Background(), CreateParams{
		UserID:            "user-1",
		Title:             "Reminder",
		Body:              "Visit due tomorrow",
		ScheduledDelivery: &scheduled,
	})
	if err != nil {
		t.Fatalf("CreatePush() error = %v", err)
	}

	if created[0].RetryTimeInterval != 60 {
		t.Errorf("retry interval = %d, want push default 60", created[0].RetryTimeInterval)
	}
	if !created[0].ScheduledDelivery.Equal(scheduled) {
		t.Errorf("scheduled delivery = %v, want %v", created[0].ScheduledDelivery, scheduled)
	}
}

func TestCreatorOptedOutUser(t *testing.T) {
	t.Parallel()

	notifications := &stubNotificationRepo{}
	targets := &stubTargetRepo{records: []domain.TargetUserRecord{emailRecord("record-1", "user-1")}}
	optouts := &stubOptOutRepo{optedOut: map[string]bool{"user-1": true}}
	c := newTestCreator(t, notifications, targets, optouts)

	_, err := c.CreateEmail(context.Background(), CreateParams{UserID: "user-1", Title: "T", Body: "B"})
	if !errors.Is(err, domain.ErrUserOptedOut) {
		t.Fatalf("error = %v, want ErrUserOptedOut", err)
	}
	if len(notifications.created) != 0 {
		t.Error("no rows should be written for an opted-out user")
	}
}

func TestCreatorNoTargetRecords(t *testing.T) {
	t.Parallel()

	c := newTestCreator(t, &stubNotificationRepo{}, &stubTargetRepo{}, &stubOptOutRepo{})

	_, err := c.CreateSMS(context.Background(), CreateParams{UserID: "user-1", Title: "T", Body: "B"})
	if !errors.Is(err, domain.ErrNoTargetRecords) {
		t.Fatalf("error = %v, want ErrNoTargetRecords", err)
	}
}

func TestCreatorAllDuplicates(t *testing.T) {
	t.Parallel()

	notifications := &stubNotificationRepo{duplicates: true}
	targets := &stubTargetRepo{records: []domain.TargetUserRecord{emailRecord("record-1", "user-1")}}
	c := newTestCreator(t, notifications, targets, &stubOptOutRepo{})

	_, err := c.CreateEmail(context.Background(), CreateParams{UserID: "user-1", Title: "T", Body: "B"})
	if !errors.Is(err, domain.ErrNotificationsNotCreated) {
		t.Fatalf("error = %v, want ErrNotificationsNotCreated", err)
	}
}

func TestCreatorQuietAbsorbsExpectedFailures(t *testing.T) {
	t.Parallel()

	optouts := &stubOptOutRepo{optedOut: map[string]bool{"user-1": true}}
	c := newTestCreator(t, &stubNotificationRepo{}, &stubTargetRepo{}, optouts)

	count, err := c.CreateQuiet(context.Background(), domain.ChannelEmail, CreateParams{UserID: "user-1", Title: "T", Body: "B"})
	if err != nil {
		t.Fatalf("CreateQuiet() error = %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestCreatorEmailTemplate(t *testing.T) {
	t.Parallel()

	notifications := &stubNotificationRepo{}
	targets := &stubTargetRepo{records: []domain.TargetUserRecord{emailRecord("record-1", "user-1")}}
	c := newTestCreator(t, notifications, targets, &stubOptOutRepo{})

	created, err := c.CreateEmail(context.Background(), CreateParams{
		UserID:   "user-1",
		Title:    "Weekly digest",
		Template: "default.html",
		TemplateContext: map[string]any{
			"title": "Weekly digest",
			"body":  "Three new items are waiting for you.",
		},
	})
	if err != nil {
		t.Fatalf("CreateEmail() error = %v", err)
	}

	if !strings.Contains(created[0].Body, "Three new items") {
		t.Errorf("body should be rendered from the template, got %q", created[0].Body)
	}
}

func TestCreatorEmailRequiresBodyOrTemplate(t *testing.T) {
	t.Parallel()

	c := newTestCreator(t, &stubNotificationRepo{}, &stubTargetRepo{}, &stubOptOutRepo{})

	_, err := c.CreateEmail(context.Background(), CreateParams{UserID: "user-1", Title: "T"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestCreatorBlast(t *testing.T) {
	t.Parallel()

	notifications := &stubNotificationRepo{}
	targets := &stubTargetRepo{recordsByUser: map[string][]domain.TargetUserRecord{
		"user-1": {emailRecord("record-1", "user-1")},
		"user-3": {emailRecord("record-3", "user-3")},
	}}
	optouts := &stubOptOutRepo{optedOut: map[string]bool{"user-2": true}}
	c := newTestCreator(t, notifications, targets, optouts)

	summary, err := c.Blast(context.Background(), domain.ChannelEmail, []string{"user-1", "user-2", "user-3", "user-4"}, CreateParams{
		Title: "Maintenance window",
		Body:  "<p>Saturday 02:00 UTC</p>",
	})
	if err != nil {
		t.Fatalf("Blast() error = %v", err)
	}

	if summary.Requested != 4 {
		t.Errorf("requested = %d, want 4", summary.Requested)
	}
	if summary.Created != 2 {
		t.Errorf("created = %d, want 2", summary.Created)
	}
	if summary.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", summary.Skipped)
	}
}

func TestCreatorRejectsEmptyUser(t *testing.T) {
	t.Parallel()

	c := newTestCreator(t, &stubNotificationRepo{}, &stubTargetRepo{}, &stubOptOutRepo{})

	_, err := c.Create(context.Background(), domain.ChannelSMS, CreateParams{Title: "T", Body: "B"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}
