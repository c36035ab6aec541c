package controllers

import (
	"strconv"

	"classplanner_go/services"
	"classplanner_go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// parseIDParam reads a positive integer route parameter.
func parseIDParam(c *fiber.Ctx, name string) (uint, error) {
	raw := c.Params(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
	}
	return uint(id), nil
}

// pageParams reads page/limit query parameters with sane bounds.
func pageParams(c *fiber.Ctx, defaultLimit, maxLimit int) (page, limit, offset int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	limit, _ = strconv.Atoi(c.Query("limit", strconv.Itoa(defaultLimit)))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > maxLimit {
		limit = defaultLimit
	}
	return page, limit, (page - 1) * limit
}

// respondServiceError translates typed service errors into HTTP statuses.
// Unexpected errors are logged and surfaced as a bare 500.
func respondServiceError(c *fiber.Ctx, err error) error {
	if ve, ok := services.IsValidation(err); ok {
		return utils.Fail(c, fiber.StatusBadRequest, "Validation failed", ve.Messages...)
	}
	if services.IsNotFound(err) {
		return utils.Fail(c, fiber.StatusNotFound, err.Error())
	}
	if services.IsAuthorization(err) {
		return utils.Fail(c, fiber.StatusForbidden, err.Error())
	}
	if services.IsConflict(err) {
		return utils.Fail(c, fiber.StatusConflict, err.Error())
	}
	if services.IsAIGeneration(err) {
		return utils.Fail(c, fiber.StatusBadGateway, err.Error())
	}

	logrus.WithError(err).WithFields(logrus.Fields{
		"method": c.Method(),
		"path":   c.Path(),
	}).Error("Unhandled service error")
	return utils.Fail(c, fiber.StatusInternalServerError, "Internal server error")
}
