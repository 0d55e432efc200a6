package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/case-timeline-service/internal/api/dto"
	"github.com/spec-kit/case-timeline-service/internal/auth"
	"github.com/spec-kit/case-timeline-service/internal/service"
	apperrors "github.com/spec-kit/case-timeline-service/pkg/util"
)

// TimelineHandler serves case timelines and duration summaries.
type TimelineHandler struct {
	timeline *service.TimelineService
	access   *service.EscalationService
}

// NewTimelineHandler constructs handler.
func NewTimelineHandler(timeline *service.TimelineService, access *service.EscalationService) *TimelineHandler {
	return &TimelineHandler{timeline: timeline, access: access}
}

// GetTimeline GET /cases/:id/timeline.
func (h *TimelineHandler) GetTimeline(c *fiber.Ctx) error {
	user, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	caseID := c.Params("id")
	if _, err := h.access.CaseForUser(c.UserContext(), user, caseID); err != nil {
		return err
	}

	entries, err := h.timeline.GetTimeline(c.UserContext(), caseID, c.QueryBool("include_internal", false))
	if err != nil {
		return err
	}
	items := make([]dto.TimelineEventResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, dto.TimelineEvent(entry))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetDurationSummary GET /cases/:id/duration-summary.
func (h *TimelineHandler) GetDurationSummary(c *fiber.Ctx) error {
	user, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	caseID := c.Params("id")
	if _, err := h.access.CaseForUser(c.UserContext(), user, caseID); err != nil {
		return err
	}

	summary, err := h.timeline.GetDurationSummary(c.UserContext(), caseID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": summary})
}
