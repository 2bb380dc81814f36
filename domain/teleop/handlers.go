package teleop

import (
	"github.com/gofiber/fiber/v2"
)

type speedRequest struct {
	Speed *float64 `json:"speed"`
}

type thresholdRequest struct {
	ThresholdM *float64 `json:"threshold_m"`
}

type overrideRequest struct {
	Enabled *bool `json:"enabled"`
}

// StatusHandler returns the current arbiter status
func (s *TeleopService) StatusHandler(c *fiber.Ctx) error {
	return c.JSON(s.Status())
}

// ButtonsHandler replaces the manual pad state
func (s *TeleopService) ButtonsHandler(c *fiber.Ctx) error {
	var b ButtonState
	if err := c.BodyParser(&b); err != nil {
		return badRequest(c, err.Error())
	}
	s.SetButtons(b)
	return c.JSON(fiber.Map{"status": "ok", "buttons": b})
}

// SpeedHandler sets the speed slider
func (s *TeleopService) SpeedHandler(c *fiber.Ctx) error {
	var req speedRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if req.Speed == nil {
		return badRequest(c, "missing field: speed")
	}
	s.SetSpeed(*req.Speed)
	return c.JSON(fiber.Map{"status": "ok", "speed": s.Status().Speed})
}

// ThresholdHandler changes the hazard threshold
func (s *TeleopService) ThresholdHandler(c *fiber.Ctx) error {
	var req thresholdRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if req.ThresholdM == nil {
		return badRequest(c, "missing field: threshold_m")
	}
	if err := s.SetThreshold(*req.ThresholdM); err != nil {
		return badRequest(c, err.Error())
	}
	return c.JSON(fiber.Map{"status": "ok", "threshold_m": *req.ThresholdM})
}

// OverrideHandler toggles the interlock override
func (s *TeleopService) OverrideHandler(c *fiber.Ctx) error {
	var req overrideRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if req.Enabled == nil {
		return badRequest(c, "missing field: enabled")
	}
	s.SetOverride(*req.Enabled)
	return c.JSON(fiber.Map{"status": "ok", "mode": s.CurrentEffectiveMode()})
}

// StopHandler performs an operator stop
func (s *TeleopService) StopHandler(c *fiber.Ctx) error {
	s.Stop()
	return c.JSON(fiber.Map{"status": "stopped"})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
	})
}
