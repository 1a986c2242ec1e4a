package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lumenview/wallet-backend/internal/repository"
)

// HealthHandler handles the health check endpoint
type HealthHandler struct {
	repo repository.TimeSeriesRepository
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(repo repository.TimeSeriesRepository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// Check handles GET /health
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	cacheStatus := "ok"
	status := fiber.StatusOK
	if err := h.repo.Ping(c.Context()); err != nil {
		cacheStatus = "unreachable"
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(fiber.Map{
		"status":  "ok",
		"service": "wallet-backend",
		"cache":   cacheStatus,
	})
}
