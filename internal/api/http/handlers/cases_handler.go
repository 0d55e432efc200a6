package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/case-timeline-service/internal/api/dto"
	"github.com/spec-kit/case-timeline-service/internal/auth"
	"github.com/spec-kit/case-timeline-service/internal/domain"
	"github.com/spec-kit/case-timeline-service/internal/service"
	apperrors "github.com/spec-kit/case-timeline-service/pkg/util"
)

// CasesHandler exposes the case write path.
type CasesHandler struct {
	cases  *service.CaseService
	access *service.EscalationService
}

// NewCasesHandler constructs handler.
func NewCasesHandler(cases *service.CaseService, access *service.EscalationService) *CasesHandler {
	return &CasesHandler{cases: cases, access: access}
}

func (h *CasesHandler) authorize(c *fiber.Ctx) (*domain.User, error) {
	user, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	if _, err := h.access.CaseForUser(c.UserContext(), user, c.Params("id")); err != nil {
		return nil, err
	}
	return user, nil
}

// RecordSubmission POST /cases/:id/submission.
func (h *CasesHandler) RecordSubmission(c *fiber.Ctx) error {
	user, err := h.authorize(c)
	if err != nil {
		return err
	}
	event, err := h.cases.RecordSubmission(c.UserContext(), domain.UserActor(user.ID), c.Params("id"))
	if err != nil {
		return err
	}
	entry := service.TimelineEntry{TimelineEvent: *event, EventLabel: event.EventType.Label(), StageLabel: event.Stage.Label()}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.TimelineEvent(entry)})
}

// ChangeStatus PATCH /cases/:id/status.
func (h *CasesHandler) ChangeStatus(c *fiber.Ctx) error {
	user, err := h.authorize(c)
	if err != nil {
		return err
	}
	var req dto.ChangeStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Status == "" {
		return apperrors.NewValidationError("status required", nil)
	}
	updated, err := h.cases.ChangeStatus(c.UserContext(), domain.UserActor(user.ID), c.Params("id"), req.Status, strings.TrimSpace(req.Note))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Case(updated)})
}

// Assign PUT /cases/:id/assignee.
func (h *CasesHandler) Assign(c *fiber.Ctx) error {
	user, err := h.authorize(c)
	if err != nil {
		return err
	}
	var req dto.AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.AssigneeID == "" {
		return apperrors.NewValidationError("assignee_id required", nil)
	}
	updated, err := h.cases.Reassign(c.UserContext(), domain.UserActor(user.ID), c.Params("id"), req.AssigneeID, strings.TrimSpace(req.Reason))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Case(updated)})
}

// Unassign DELETE /cases/:id/assignee.
func (h *CasesHandler) Unassign(c *fiber.Ctx) error {
	user, err := h.authorize(c)
	if err != nil {
		return err
	}
	updated, err := h.cases.Unassign(c.UserContext(), domain.UserActor(user.ID), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Case(updated)})
}

// ChangePriority PATCH /cases/:id/priority.
func (h *CasesHandler) ChangePriority(c *fiber.Ctx) error {
	user, err := h.authorize(c)
	if err != nil {
		return err
	}
	var req dto.ChangePriorityRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	priority, ok := domain.ParsePriority(req.Priority)
	if !ok {
		return apperrors.NewValidationError("unknown priority", map[string]any{"priority": req.Priority})
	}
	updated, err := h.cases.ChangePriority(c.UserContext(), domain.UserActor(user.ID), c.Params("id"), priority)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Case(updated)})
}
