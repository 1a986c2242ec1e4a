package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/lumenview/wallet-backend/internal/services"
)

// PriceHandler handles token price endpoints
type PriceHandler struct {
	priceCache services.PriceCacheService
	logger     *zap.SugaredLogger
}

// NewPriceHandler creates a new price handler
func NewPriceHandler(priceCache services.PriceCacheService, logger *zap.SugaredLogger) *PriceHandler {
	return &PriceHandler{
		priceCache: priceCache,
		logger:     logger,
	}
}

// GetTokenPrice handles GET /api/v1/token-prices?token=<id>
//
// The token query parameter is either "XLM" (also accepted as "native")
// or "CODE:ISSUER". A token with no available price yields 404; engine
// errors never reach the client.
func (h *PriceHandler) GetTokenPrice(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "token query parameter is required",
		})
	}

	data := h.priceCache.GetPrice(c.Context(), token)
	if data == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"data":  nil,
			"error": "price not available",
		})
	}

	return c.JSON(fiber.Map{
		"data": data,
	})
}

// SyncTokenPrices handles POST /api/v1/token-prices/sync (admin endpoint)
//
// Triggers one full update pass. The scheduler runs the same pass
// periodically; this endpoint exists for manual recovery. Concurrent
// passes are the caller's responsibility to avoid.
func (h *PriceHandler) SyncTokenPrices(c *fiber.Ctx) error {
	if err := h.priceCache.UpdatePrices(c.Context()); err != nil {
		h.logger.Errorf("Failed to sync token prices: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to sync token prices",
		})
	}

	return c.JSON(fiber.Map{
		"message": "token prices synced successfully",
	})
}
