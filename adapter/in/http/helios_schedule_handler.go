package http

import (
	"time"

	"helios_server/core/service/schedule"
	"helios_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

const maxPlanDays = 28

// ScheduleHandler exposes planner reads and reflow.
type ScheduleHandler struct {
	scheduleService *schedule.Service
	horizonDays     int
	loc             *time.Location
}

// NewScheduleHandler creates a new schedule handler.
func NewScheduleHandler(scheduleService *schedule.Service, horizonDays int, loc *time.Location) *ScheduleHandler {
	if horizonDays <= 0 {
		horizonDays = 7
	}
	if loc == nil {
		loc = time.UTC
	}
	return &ScheduleHandler{
		scheduleService: scheduleService,
		horizonDays:     horizonDays,
		loc:             loc,
	}
}

// Register registers schedule routes.
func (h *ScheduleHandler) Register(router fiber.Router) {
	sched := router.Group("/schedule")
	sched.Get("/today", h.Today)
	sched.Get("/plan", h.Plan)
	sched.Post("/reflow", h.Reflow)
}

// Today returns the current day's blocks drawn from both calendars.
func (h *ScheduleHandler) Today(c *fiber.Ctx) error {
	day, err := h.scheduleService.Today(c.Context(), time.Now())
	if err != nil {
		return err
	}
	return c.JSON(day)
}

// Plan computes a block plan. With apply=true the plan is written to the
// suggestions calendar; respect_existing leaves prior generated events alone.
func (h *ScheduleHandler) Plan(c *fiber.Ctx) error {
	days := c.QueryInt("days", h.horizonDays)
	if days < 1 || days > maxPlanDays {
		return apperr.InvalidInput("days", "must be between 1 and 28")
	}

	start := time.Now().In(h.loc)
	if raw := c.Query("start"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, h.loc)
		if err != nil {
			return apperr.InvalidInput("start", "must be YYYY-MM-DD")
		}
		start = parsed
	}

	plan, err := h.scheduleService.Plan(c.Context(), start, days)
	if err != nil {
		return err
	}

	if !c.QueryBool("apply", false) {
		return c.JSON(plan)
	}

	created, err := h.scheduleService.Apply(c.Context(), plan, c.QueryBool("respect_existing", false))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"plan":           plan,
		"applied":        true,
		"events_created": created,
	})
}

// ReflowRequest tunes a reflow invocation.
type ReflowRequest struct {
	MinChunkMinutes   int  `json:"min_chunk_minutes,omitempty"`
	PerTaskCapMinutes int  `json:"per_task_cap_minutes,omitempty"`
	DryRun            bool `json:"dry_run,omitempty"`
}

// Reflow shortens the in-progress generated block and pulls the next tasks
// forward into the freed time.
func (h *ScheduleHandler) Reflow(c *fiber.Ctx) error {
	var req ReflowRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperr.BadRequest("invalid request body")
		}
	}

	result, err := h.scheduleService.Reflow(c.Context(), time.Now(), schedule.ReflowOptions{
		MinChunkMinutes:   req.MinChunkMinutes,
		PerTaskCapMinutes: req.PerTaskCapMinutes,
		DryRun:            req.DryRun,
	})
	if err != nil {
		return err
	}
	return c.JSON(result)
}
