package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/case-timeline-service/internal/api/dto"
	"github.com/spec-kit/case-timeline-service/internal/auth"
	"github.com/spec-kit/case-timeline-service/internal/service"
	apperrors "github.com/spec-kit/case-timeline-service/pkg/util"
)

// EscalationsHandler manages escalation endpoints.
type EscalationsHandler struct {
	service *service.EscalationService
}

// NewEscalationsHandler constructs handler.
func NewEscalationsHandler(escalations *service.EscalationService) *EscalationsHandler {
	return &EscalationsHandler{service: escalations}
}

// ListForCase GET /cases/:id/escalations.
func (h *EscalationsHandler) ListForCase(c *fiber.Ctx) error {
	user, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	list, err := h.service.ListForCase(c.UserContext(), user, c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.EscalationResponse, 0, len(list))
	for i := range list {
		items = append(items, dto.Escalation(&list[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Resolve POST /escalations/:id/resolve.
func (h *EscalationsHandler) Resolve(c *fiber.Ctx) error {
	user, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.ResolveEscalationRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	resolved, err := h.service.Resolve(c.UserContext(), user, c.Params("id"), req.Note)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Escalation(resolved)})
}

// RunScan POST /escalations/scan.
func (h *EscalationsHandler) RunScan(c *fiber.Ctx) error {
	user, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	result, err := h.service.RunScan(c.UserContext(), user)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ScanResult(result)})
}
