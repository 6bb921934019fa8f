// Package service implements the application flows: notification creation,
// the dispatch pass, asynchronous delivery workers, opt-out management, and
// the email target backfill.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notification-engine/internal/domain"
	"notification-engine/internal/mailbody"
	"notification-engine/internal/observability"
	"notification-engine/internal/repository"
)

// channelDefaults are applied when a creation request leaves retry tuning
// unset. Email backs off a full day between attempts; push and sms retry
// within the hour.
var channelDefaults = map[domain.Channel]struct {
	retryIntervalMinutes int
	maxRetries           int
}{
	domain.ChannelEmail: {retryIntervalMinutes: 1440, maxRetries: 3},
	domain.ChannelPush:  {retryIntervalMinutes: 60, maxRetries: 3},
	domain.ChannelSMS:   {retryIntervalMinutes: 60, maxRetries: 3},
}

// CreateParams describes one notification creation request. A request fans
// out to every active target record the user holds for the channel.
type CreateParams struct {
	UserID            string
	Title             string
	Body              string
	Extra             domain.Extra
	ScheduledDelivery *time.Time
	RetryTimeInterval int
	MaxRetries        int

	// Email only: when Body is empty, Template plus TemplateContext are
	// rendered into the HTML body.
	Template        string
	TemplateContext map[string]any
}

// BlastSummary reports the outcome of a multi-user creation sweep.
type BlastSummary struct {
	Requested int `json:"requested"`
	Created   int `json:"created"`
	Skipped   int `json:"skipped"`
}

// Creator builds and persists notifications. Opted-out users are rejected
// before any row is written; duplicates of existing rows are absorbed by the
// idempotent insert.
type Creator struct {
	notifications repository.NotificationRepository
	targets       repository.TargetRepository
	optouts       repository.OptOutRepository
	renderer      *mailbody.Renderer
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

func NewCreator(
	notifications repository.NotificationRepository,
	targets repository.TargetRepository,
	optouts repository.OptOutRepository,
	renderer *mailbody.Renderer,
	logger *zap.Logger,
) (*Creator, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if targets == nil {
		return nil, fmt.Errorf("target repository is required")
	}
	if optouts == nil {
		return nil, fmt.Errorf("opt-out repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Creator{
		notifications: notifications,
		targets:       targets,
		optouts:       optouts,
		renderer:      renderer,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (c *Creator) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

// Create persists one notification per active target record the user holds
// for the channel and returns the rows actually created. Requests for
// opted-out users fail with ErrUserOptedOut before anything is written; a
// request whose rows all exist already fails with ErrNotificationsNotCreated.
func (c *Creator) Create(ctx context.Context, channel domain.Channel, params CreateParams) ([]domain.Notification, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !channel.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownChannel, channel)
	}

	userID := strings.TrimSpace(params.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	if channel == domain.ChannelEmail {
		body, err := c.resolveEmailBody(params)
		if err != nil {
			return nil, err
		}
		params.Body = body
	}

	optedOut, err := c.optouts.IsOptedOut(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check opt-out for user %q: %w", userID, err)
	}
	if optedOut {
		return nil, fmt.Errorf("%w: user %q", domain.ErrUserOptedOut, userID)
	}

	records, err := c.targets.ActiveRecords(ctx, userID, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to load target records for user %q: %w", userID, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: user %q, channel %q", domain.ErrNoTargetRecords, userID, channel.Key())
	}

	scheduled := c.now().UTC()
	if params.ScheduledDelivery != nil {
		scheduled = params.ScheduledDelivery.UTC()
	}

	defaults := channelDefaults[channel]
	interval := params.RetryTimeInterval
	if interval <= 0 {
		interval = defaults.retryIntervalMinutes
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaults.maxRetries
	}

	created := make([]domain.Notification, 0, len(records))
	for i := range records {
		record := records[i]
		n := &domain.Notification{
			ID:                 uuid.NewString(),
			TargetUserRecordID: record.ID,
			Title:              strings.TrimSpace(params.Title),
			Body:               params.Body,
			Extra:              params.Extra,
			Status:             domain.StatusScheduled,
			ScheduledDelivery:  scheduled,
			RetryTimeInterval:  interval,
			MaxRetries:         maxRetries,
		}

		inserted, err := c.notifications.GetOrCreate(ctx, n)
		if err != nil {
			return nil, err
		}
		if !inserted {
			c.logger.Debug("notification already exists, skipping",
				zap.String("userId", userID),
				zap.String("targetUserRecordId", record.ID),
				zap.String("channel", channel.Key()),
			)
			continue
		}

		n.TargetUserRecord = &record
		created = append(created, *n)
		c.metrics.IncNotificationCreated(channel.Key())
	}

	if len(created) == 0 {
		return nil, fmt.Errorf("%w: user %q, channel %q", domain.ErrNotificationsNotCreated, userID, channel.Key())
	}

	c.logger.Info("notifications created",
		zap.String("userId", userID),
		zap.String("channel", channel.Key()),
		zap.Int("count", len(created)),
		zap.Time("scheduledDelivery", scheduled),
	)

	return created, nil
}

func (c *Creator) CreateEmail(ctx context.Context, params CreateParams) ([]domain.Notification, error) {
	return c.Create(ctx, domain.ChannelEmail, params)
}

func (c *Creator) CreatePush(ctx context.Context, params CreateParams) ([]domain.Notification, error) {
	return c.Create(ctx, domain.ChannelPush, params)
}

func (c *Creator) CreateSMS(ctx context.Context, params CreateParams) ([]domain.Notification, error) {
	return c.Create(ctx, domain.ChannelSMS, params)
}

// CreateQuiet is the bulk-flow variant of Create: expected per-user outcomes
// (opted out, no records, everything duplicate) are logged and absorbed
// instead of failing the sweep.
func (c *Creator) CreateQuiet(ctx context.Context, channel domain.Channel, params CreateParams) (int, error) {
	created, err := c.Create(ctx, channel, params)
	if err != nil {
		if domain.IsExpectedCreateFailure(err) {
			c.logger.Debug("skipping user during bulk create",
				zap.String("userId", params.UserID),
				zap.String("channel", channel.Key()),
				zap.String("reason", err.Error()),
			)
			return 0, nil
		}
		return 0, err
	}
	return len(created), nil
}

// Blast runs CreateQuiet for a list of users and reports how many produced
// notifications. The first infrastructure error aborts the sweep.
func (c *Creator) Blast(ctx context.Context, channel domain.Channel, userIDs []string, params CreateParams) (*BlastSummary, error) {
	if len(userIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one user id is required", domain.ErrValidation)
	}

	summary := &BlastSummary{Requested: len(userIDs)}
	for _, userID := range userIDs {
		perUser := params
		perUser.UserID = userID

		count, err := c.CreateQuiet(ctx, channel, perUser)
		if err != nil {
			return nil, fmt.Errorf("blast aborted at user %q: %w", userID, err)
		}
		if count > 0 {
			summary.Created += count
		} else {
			summary.Skipped++
		}
	}

	c.logger.Info("blast completed",
		zap.String("channel", channel.Key()),
		zap.Int("requested", summary.Requested),
		zap.Int("created", summary.Created),
		zap.Int("skipped", summary.Skipped),
	)

	return summary, nil
}

func (c *Creator) resolveEmailBody(params CreateParams) (string, error) {
	if strings.TrimSpace(params.Body) != "" {
		return params.Body, nil
	}
	if strings.TrimSpace(params.Template) == "" {
		return "", fmt.Errorf("%w: email body or template is required", domain.ErrValidation)
	}
	if c.renderer == nil {
		return "", fmt.Errorf("%w: no email template renderer configured", domain.ErrValidation)
	}

	templateContext := params.TemplateContext
	if templateContext == nil {
		templateContext = map[string]any{"title": params.Title}
	}

	body, err := c.renderer.Render(params.Template, templateContext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return body, nil
}
