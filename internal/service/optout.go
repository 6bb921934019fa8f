package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"notification-engine/internal/domain"
	"notification-engine/internal/observability"
	"notification-engine/internal/repository"
)

// OptOutService manages the per-user delivery kill switch. Activating an
// opt-out also retires the user's still-pending notifications so nothing
// already scheduled leaks out afterwards.
type OptOutService struct {
	optouts repository.OptOutRepository
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewOptOutService(optouts repository.OptOutRepository, logger *zap.Logger) (*OptOutService, error) {
	if optouts == nil {
		return nil, fmt.Errorf("opt-out repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OptOutService{optouts: optouts, logger: logger}, nil
}

func (s *OptOutService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Status reports whether a user currently has an active opt-out. Users
// without an opt-out row have never opted out.
func (s *OptOutService) Status(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	optedOut, err := s.optouts.IsOptedOut(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}
	return optedOut, nil
}

// Set flips a user's opt-out flag. When activating, pending notifications for
// the user move to OPTED_OUT and the cascaded count is returned.
func (s *OptOutService) Set(ctx context.Context, userID string, active bool) (*domain.OptOut, int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, 0, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	optout, cascaded, err := s.optouts.SetActive(ctx, userID, active)
	if err != nil {
		return nil, 0, err
	}

	if active {
		s.metrics.AddOptOutCascaded(cascaded)
		s.logger.Info("user opted out",
			zap.String("userId", userID),
			zap.Int64("cascadedNotifications", cascaded),
		)
	} else {
		s.logger.Info("user opted back in", zap.String("userId", userID))
	}

	return optout, cascaded, nil
}
