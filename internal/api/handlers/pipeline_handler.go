package handlers

import (
	"context"
	"sync"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papertrend/backend/internal/pipeline"
	"github.com/papertrend/backend/pkg/logger"
)

// PipelineHandler starts pipeline runs and reports their outcome. Only
// one run may be active at a time; progress streams over the websocket
// handler.
type PipelineHandler struct {
	pipeline *pipeline.Pipeline

	mu      sync.Mutex
	running bool
	last    *pipeline.Result
}

func NewPipelineHandler(p *pipeline.Pipeline) *PipelineHandler {
	return &PipelineHandler{pipeline: p}
}

func (h *PipelineHandler) RunPipeline(c *fiber.Ctx) error {
	var req pipeline.Params

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.StartYear == 0 || req.EndYear == 0 || req.StartYear > req.EndYear {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "start_year and end_year must form a valid window",
		})
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "A pipeline run is already in progress",
		})
	}
	h.running = true
	h.mu.Unlock()

	go func() {
		result := h.pipeline.Run(context.Background(), req)

		h.mu.Lock()
		h.running = false
		h.last = result
		h.mu.Unlock()
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":     "started",
		"start_year": req.StartYear,
		"end_year":   req.EndYear,
	})
}

func (h *PipelineHandler) GetStatus(c *fiber.Ctx) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	resp := fiber.Map{"running": h.running}
	if h.last != nil {
		resp["last_run"] = h.last
	}
	return c.JSON(resp)
}
