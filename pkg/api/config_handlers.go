package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/open-teleop/rover-controller/pkg/config"
	customlog "github.com/open-teleop/rover-controller/pkg/log"
	"github.com/open-teleop/rover-controller/services"
)

// ConfigHandler holds dependencies for configuration API endpoints.
type ConfigHandler struct {
	configService services.ArbiterConfigService
	logger        customlog.Logger
}

// NewConfigHandler creates a new handler for configuration endpoints.
func NewConfigHandler(configService services.ArbiterConfigService, logger customlog.Logger) *ConfigHandler {
	if configService == nil {
		panic("ConfigService cannot be nil in NewConfigHandler")
	}
	if logger == nil {
		panic("Logger cannot be nil in NewConfigHandler")
	}
	return &ConfigHandler{
		configService: configService,
		logger:        logger,
	}
}

// RegisterConfigRoutes registers the configuration API endpoints with the Fiber app.
func RegisterConfigRoutes(app fiber.Router, configService services.ArbiterConfigService, logger customlog.Logger) {
	h := NewConfigHandler(configService, logger)

	apiGroup := app.Group("/api/v1/config")
	apiGroup.Get("/arbiter", h.handleGetArbiterConfig)
	apiGroup.Put("/arbiter", h.handleUpdateArbiterConfig)

	logger.Infof("Registered arbiter configuration API endpoints under /api/v1/config")
}

// handleGetArbiterConfig returns the active configuration as YAML.
func (h *ConfigHandler) handleGetArbiterConfig(c *fiber.Ctx) error {
	yamlData, err := h.configService.GetCurrentConfigYAML()
	if err != nil {
		if errors.Is(err, services.ErrNoConfig) {
			return c.Status(http.StatusNotFound).JSON(fiber.Map{
				"error": "Arbiter configuration not found or not yet set.",
			})
		}
		h.logger.Errorf("Failed to get current arbiter config YAML: %v", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to retrieve configuration: %v", err),
		})
	}

	c.Set(fiber.HeaderContentType, "application/x-yaml")
	return c.Send(yamlData)
}

// handleUpdateArbiterConfig validates and applies a YAML document.
func (h *ConfigHandler) handleUpdateArbiterConfig(c *fiber.Ctx) error {
	switch c.Get(fiber.HeaderContentType) {
	case "application/x-yaml", "application/yaml", "text/yaml":
	default:
		h.logger.Warnf("Received PUT request with unexpected Content-Type: %s", c.Get(fiber.HeaderContentType))
	}

	newConfigYAML := c.Body()
	if len(newConfigYAML) == 0 {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Request body cannot be empty.",
		})
	}

	if err := h.configService.UpdateConfig(newConfigYAML); err != nil {
		if errors.Is(err, config.ErrInvalidConfig) {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("Configuration update failed: %v", err),
			})
		}
		h.logger.Errorf("Failed to update arbiter configuration: %v", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Internal server error during configuration update: %v", err),
		})
	}

	cfg := h.configService.GetCurrentConfig()
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"message":   "Arbiter configuration updated. Loop rates apply after restart.",
		"config_id": cfg.ConfigID,
	})
}
