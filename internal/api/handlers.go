package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	gerrors "github.com/p-blackswan/guide-engine/internal/errors"
	"github.com/p-blackswan/guide-engine/internal/feed"
	"github.com/p-blackswan/guide-engine/internal/guidance"
	"github.com/p-blackswan/guide-engine/internal/progress"
	"github.com/p-blackswan/guide-engine/internal/registry"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	registry *registry.Registry
	guidance *guidance.Engine
	feed     *feed.Feed
	logger   zerolog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(reg *registry.Registry, eng *guidance.Engine, fd *feed.Feed, logger zerolog.Logger) *Handlers {
	return &Handlers{
		registry: reg,
		guidance: eng,
		feed:     fd,
		logger:   logger.With().Str("component", "handlers").Logger(),
	}
}

// RecordAction handles POST /api/v1/actions.
func (h *Handlers) RecordAction(c *fiber.Ctx) error {
	var req ActionRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	if err := h.registry.UpdateProgress(c.UserContext(), req.Action, req.Result, req.Context); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Guidance handles POST /api/v1/guidance. It always answers 200.
func (h *Handlers) Guidance(c *fiber.Ctx) error {
	var req GuidanceRequest
	if len(c.Body()) == 0 {
		return c.JSON(h.guidance.ProvideGuidance(c.UserContext(), nil))
	}
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warn().Err(err).Msg("unreadable guidance request")
		return c.JSON(guidance.Fallback())
	}
	return c.JSON(h.guidance.ProvideGuidance(c.UserContext(), req.Context))
}

// ListProjects handles GET /api/v1/projects.
func (h *Handlers) ListProjects(c *fiber.Ctx) error {
	names := h.registry.Names()
	return c.JSON(ProjectListResponse{Projects: names, Total: len(names)})
}

// GetProject handles GET /api/v1/projects/:name.
func (h *Handlers) GetProject(c *fiber.Ctx) error {
	name := c.Params("name")
	rec, ok := h.registry.Get(name)
	if !ok {
		return problemResponse(c, fiber.StatusNotFound,
			"project_not_found", "Not Found",
			"Project not found: "+name)
	}
	return c.JSON(ProjectResponse{Project: rec.Snapshot(), Analysis: rec.Analyze()})
}

// StageCheck handles POST /api/v1/projects/:name/stage-check.
func (h *Handlers) StageCheck(c *fiber.Ctx) error {
	name := c.Params("name")
	var req StageCheckRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	rec, ok := h.registry.Get(name)
	if !ok {
		return problemResponse(c, fiber.StatusNotFound,
			"project_not_found", "Not Found",
			"Project not found: "+name)
	}

	stage := progress.Stage(req.Stage)
	if stage == "" {
		stage = rec.Stage()
	}
	missing := rec.MissingFiles(stage, req.Files)
	if missing == nil {
		missing = []string{}
	}
	return c.JSON(StageCheckResponse{
		Project:      name,
		Stage:        stage,
		Complete:     rec.IsStageComplete(stage, req.Files),
		MissingFiles: missing,
	})
}

// Updates handles GET /updates. The body is a bare array, oldest first.
func (h *Handlers) Updates(c *fiber.Ctx) error {
	return c.JSON(h.feed.List())
}

func errorResponse(c *fiber.Ctx, err error) error {
	switch {
	case gerrors.Is(err, gerrors.ErrInvalidPayload):
		return problemResponse(c, fiber.StatusBadRequest, "invalid_payload", "Bad Request", err.Error())
	case gerrors.Is(err, gerrors.ErrInvalidStage):
		return problemResponse(c, fiber.StatusUnprocessableEntity, "invalid_stage", "Unprocessable Entity", err.Error())
	case gerrors.Is(err, gerrors.ErrTransitionDenied):
		return problemResponse(c, fiber.StatusConflict, "transition_denied", "Conflict", err.Error())
	case gerrors.Is(err, gerrors.ErrNotFound):
		return problemResponse(c, fiber.StatusNotFound, "not_found", "Not Found", err.Error())
	default:
		return err
	}
}

func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}
