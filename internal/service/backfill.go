package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notification-engine/internal/domain"
	"notification-engine/internal/repository"
)

// EmailEntry is one user-to-address pair consumed by the backfill.
type EmailEntry struct {
	UserID string
	Email  string
}

// BackfillSummary reports the outcome of one backfill run.
type BackfillSummary struct {
	Processed int
	Failed    int
}

// BackfillService seeds email target user records from an external user
// listing. Each user ends with exactly one active email record pointing at
// the listed address; previous addresses are deactivated.
type BackfillService struct {
	targets repository.TargetRepository
	logger  *zap.Logger
}

func NewBackfillService(targets repository.TargetRepository, logger *zap.Logger) (*BackfillService, error) {
	if targets == nil {
		return nil, fmt.Errorf("target repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BackfillService{targets: targets, logger: logger}, nil
}

// ResetEmail repoints one user's active email record at the given address.
func (s *BackfillService) ResetEmail(ctx context.Context, userID, email string) (*domain.TargetUserRecord, error) {
	userID = strings.TrimSpace(userID)
	email = strings.TrimSpace(email)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: a valid email address is required", domain.ErrValidation)
	}

	if err := s.ensureEmailTarget(ctx); err != nil {
		return nil, err
	}

	record, err := s.targets.ResetEmailRecord(ctx, userID, email, "primary email")
	if err != nil {
		return nil, fmt.Errorf("failed to reset email record for user %q: %w", userID, err)
	}

	return record, nil
}

// Run resets the email record for every listed entry. Bad entries are logged
// and counted, not fatal, so one malformed row cannot stall the rest of the
// listing.
func (s *BackfillService) Run(ctx context.Context, entries []EmailEntry) (*BackfillSummary, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: at least one entry is required", domain.ErrValidation)
	}

	summary := &BackfillSummary{}
	for _, entry := range entries {
		if _, err := s.ResetEmail(ctx, entry.UserID, entry.Email); err != nil {
			s.logger.Warn("backfill entry failed",
				zap.String("userId", entry.UserID),
				zap.Error(err),
			)
			summary.Failed++
			continue
		}
		summary.Processed++
	}

	s.logger.Info("email backfill completed",
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
	)

	return summary, nil
}

func (s *BackfillService) ensureEmailTarget(ctx context.Context) error {
	target := &domain.NotificationTarget{
		ID:         uuid.NewString(),
		Name:       "Email",
		ChannelKey: domain.ChannelEmail,
	}
	if err := s.targets.EnsureTarget(ctx, target); err != nil {
		return fmt.Errorf("failed to ensure email target: %w", err)
	}
	return nil
}
