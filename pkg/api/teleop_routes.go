package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/open-teleop/rover-controller/domain/teleop"
	customlog "github.com/open-teleop/rover-controller/pkg/log"
)

// RegisterTeleopRoutes exposes operator input and status under /api/teleop.
func RegisterTeleopRoutes(app fiber.Router, svc *teleop.TeleopService, logger customlog.Logger) {
	group := app.Group("/api/teleop")
	group.Get("/status", svc.StatusHandler)
	group.Post("/buttons", svc.ButtonsHandler)
	group.Post("/speed", svc.SpeedHandler)
	group.Post("/threshold", svc.ThresholdHandler)
	group.Post("/override", svc.OverrideHandler)
	group.Post("/stop", svc.StopHandler)

	logger.Infof("Registered teleop API endpoints under /api/teleop")
}
