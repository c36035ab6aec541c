package controllers

import (
	"classplanner_go/services"

	"github.com/gofiber/fiber/v2"
)

// HealthController serves the unauthenticated health endpoint.
type HealthController struct {
	health *services.HealthService
}

func NewHealthController(health *services.HealthService) *HealthController {
	if health == nil {
		health = services.NewHealthService("", "")
	}
	return &HealthController{health: health}
}

// GetHealthStatus probes the dependencies and reports the aggregate. The HTTP
// status mirrors the overall state so load balancers can act on it directly.
func (hc *HealthController) GetHealthStatus(c *fiber.Ctx) error {
	report := hc.health.GetHealthReport()
	return c.Status(hc.health.HTTPStatusForOverall(report.Status)).JSON(report)
}
