package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"notification-engine/internal/domain"
)

type OptOutManager interface {
	Status(ctx context.Context, userID string) (bool, error)
	Set(ctx context.Context, userID string, active bool) (*domain.OptOut, int64, error)
}

type EmailTargetManager interface {
	ResetEmail(ctx context.Context, userID, email string) (*domain.TargetUserRecord, error)
}

// UserHandler exposes the per-user surfaces: the opt-out switch and the email
// target record reset.
type UserHandler struct {
	optouts OptOutManager
	targets EmailTargetManager
}

func NewUserHandler(optouts OptOutManager, targets EmailTargetManager) (*UserHandler, error) {
	if optouts == nil {
		return nil, fmt.Errorf("opt-out manager is required")
	}
	if targets == nil {
		return nil, fmt.Errorf("email target manager is required")
	}
	return &UserHandler{optouts: optouts, targets: targets}, nil
}

func RegisterUserRoutes(router fiber.Router, optouts OptOutManager, targets EmailTargetManager) error {
	h, err := NewUserHandler(optouts, targets)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/users/:userId/opt-out", h.GetOptOut)
	v1.Put("/users/:userId/opt-out", h.SetOptOut)
	v1.Put("/users/:userId/email-target", h.ResetEmailTarget)

	return nil
}

type setOptOutRequest struct {
	Active *bool `json:"active"`
}

type optOutResponse struct {
	UserID                string `json:"userId"`
	Active                bool   `json:"active"`
	CascadedNotifications *int64 `json:"cascadedNotifications,omitempty"`
}

type resetEmailRequest struct {
	Email string `json:"email"`
}

type emailTargetResponse struct {
	RecordID  string    `json:"recordId"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (h *UserHandler) GetOptOut(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))

	optedOut, err := h.optouts.Status(c.Context(), userID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(optOutResponse{
		UserID: userID,
		Active: optedOut,
	})
}

func (h *UserHandler) SetOptOut(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))

	var req setOptOutRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Active == nil {
		return toHTTPError(fmt.Errorf("%w: active is required", domain.ErrValidation))
	}

	optout, cascaded, err := h.optouts.Set(c.Context(), userID, *req.Active)
	if err != nil {
		return toHTTPError(err)
	}

	resp := optOutResponse{
		UserID: optout.UserID,
		Active: optout.Active,
	}
	if optout.Active {
		resp.CascadedNotifications = &cascaded
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *UserHandler) ResetEmailTarget(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))

	var req resetEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	record, err := h.targets.ResetEmail(c.Context(), userID, req.Email)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(emailTargetResponse{
		RecordID:  record.ID,
		UserID:    record.UserID,
		Email:     record.TargetUserID,
		Active:    record.Active,
		UpdatedAt: record.UpdatedAt,
	})
}
