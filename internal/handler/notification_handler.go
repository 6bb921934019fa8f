package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"notification-engine/internal/domain"
	"notification-engine/internal/service"
)

type NotificationCreator interface {
	Create(ctx context.Context, channel domain.Channel, params service.CreateParams) ([]domain.Notification, error)
	Blast(ctx context.Context, channel domain.Channel, userIDs []string, params service.CreateParams) (*service.BlastSummary, error)
}

type NotificationReader interface {
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
}

type AttemptReader interface {
	GetByNotificationID(ctx context.Context, notificationID string) ([]domain.DeliveryAttempt, error)
}

type NotificationHandler struct {
	creator  NotificationCreator
	reader   NotificationReader
	attempts AttemptReader
}

func NewNotificationHandler(creator NotificationCreator, reader NotificationReader, attempts AttemptReader) (*NotificationHandler, error) {
	if creator == nil {
		return nil, fmt.Errorf("notification creator is required")
	}
	if reader == nil {
		return nil, fmt.Errorf("notification reader is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt reader is required")
	}
	return &NotificationHandler{creator: creator, reader: reader, attempts: attempts}, nil
}

func RegisterNotificationRoutes(router fiber.Router, creator NotificationCreator, reader NotificationReader, attempts AttemptReader) error {
	h, err := NewNotificationHandler(creator, reader, attempts)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications/:channel", h.CreateNotification)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Post("/blasts", h.CreateBlast)

	return nil
}

type createNotificationRequest struct {
	UserID            string         `json:"userId"`
	Title             string         `json:"title"`
	Body              string         `json:"body"`
	Extra             map[string]any `json:"extra,omitempty"`
	ScheduledDelivery *time.Time     `json:"scheduledDelivery,omitempty"`
	RetryTimeInterval int            `json:"retryTimeInterval,omitempty"`
	MaxRetries        int            `json:"maxRetries,omitempty"`
	Template          string         `json:"template,omitempty"`
	TemplateContext   map[string]any `json:"templateContext,omitempty"`
}

type createBlastRequest struct {
	Channel string   `json:"channel"`
	UserIDs []string `json:"userIds"`
	createNotificationRequest
}

type notificationResponse struct {
	ID                 string         `json:"id"`
	TargetUserRecordID string         `json:"targetUserRecordId"`
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Extra              map[string]any `json:"extra,omitempty"`
	Status             string         `json:"status"`
	ScheduledDelivery  time.Time      `json:"scheduledDelivery"`
	AttemptedDelivery  *time.Time     `json:"attemptedDelivery,omitempty"`
	RetryTimeInterval  int            `json:"retryTimeInterval"`
	RetryAttempts      int            `json:"retryAttempts"`
	MaxRetries         int            `json:"maxRetries"`
	CreatedAt          time.Time      `json:"createdAt,omitempty"`
	UpdatedAt          time.Time      `json:"updatedAt,omitempty"`
}

type createNotificationResponse struct {
	Count         int                    `json:"count"`
	Notifications []notificationResponse `json:"notifications"`
}

type attemptResponse struct {
	AttemptNumber int       `json:"attemptNumber"`
	Outcome       string    `json:"outcome"`
	Message       string    `json:"message"`
	Error         *string   `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type getNotificationResponse struct {
	notificationResponse
	Attempts []attemptResponse `json:"attempts"`
}

func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	channel, err := domain.ParseChannelFromString(c.Params("channel"))
	if err != nil {
		return toHTTPError(err)
	}

	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	created, err := h.creator.Create(c.Context(), channel, requestToParams(req))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(createNotificationResponse{
		Count:         len(created),
		Notifications: toNotificationResponses(created),
	})
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return toHTTPError(fmt.Errorf("%w: notification id is required", domain.ErrValidation))
	}

	notification, err := h.reader.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	attempts, err := h.attempts.GetByNotificationID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	resp := getNotificationResponse{
		notificationResponse: toNotificationResponse(notification),
		Attempts:             make([]attemptResponse, 0, len(attempts)),
	}
	for _, attempt := range attempts {
		resp.Attempts = append(resp.Attempts, attemptResponse{
			AttemptNumber: attempt.AttemptNumber,
			Outcome:       attempt.Outcome,
			Message:       attempt.Message,
			Error:         attempt.Error,
			CreatedAt:     attempt.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *NotificationHandler) CreateBlast(c *fiber.Ctx) error {
	var req createBlastRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return toHTTPError(err)
	}
	if len(req.UserIDs) == 0 {
		return toHTTPError(fmt.Errorf("%w: userIds is required", domain.ErrValidation))
	}

	summary, err := h.creator.Blast(c.Context(), channel, req.UserIDs, requestToParams(req.createNotificationRequest))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(summary)
}

func requestToParams(req createNotificationRequest) service.CreateParams {
	return service.CreateParams{
		UserID:            strings.TrimSpace(req.UserID),
		Title:             req.Title,
		Body:              req.Body,
		Extra:             req.Extra,
		ScheduledDelivery: req.ScheduledDelivery,
		RetryTimeInterval: req.RetryTimeInterval,
		MaxRetries:        req.MaxRetries,
		Template:          req.Template,
		TemplateContext:   req.TemplateContext,
	}
}

func toNotificationResponses(notifications []domain.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for i := range notifications {
		responses = append(responses, toNotificationResponse(&notifications[i]))
	}
	return responses
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:                 n.ID,
		TargetUserRecordID: n.TargetUserRecordID,
		Title:              n.Title,
		Body:               n.Body,
		Extra:              n.Extra,
		Status:             string(n.Status),
		ScheduledDelivery:  n.ScheduledDelivery,
		AttemptedDelivery:  n.AttemptedDelivery,
		RetryTimeInterval:  n.RetryTimeInterval,
		RetryAttempts:      n.RetryAttempts,
		MaxRetries:         n.MaxRetries,
		CreatedAt:          n.CreatedAt,
		UpdatedAt:          n.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrUnknownChannel):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotificationsNotCreated):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUserOptedOut):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNoTargetRecords):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	default:
		return err
	}
}
