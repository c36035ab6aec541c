package controllers

import (
	"time"

	"classplanner_go/middleware"
	"classplanner_go/models"
	"classplanner_go/services"
	"classplanner_go/utils"

	"github.com/gofiber/fiber/v2"
)

// UnitController handles curriculum unit CRUD and sequence reordering.
type UnitController struct {
	sequencer *services.UnitSequencer
	schedules *services.ScheduleService
}

func NewUnitController(sequencer *services.UnitSequencer, schedules *services.ScheduleService) *UnitController {
	return &UnitController{sequencer: sequencer, schedules: schedules}
}

type CreateUnitRequest struct {
	ScheduleID      uint             `json:"schedule_id" validate:"required"`
	Title           string           `json:"title" validate:"required,max=255"`
	Description     string           `json:"description"`
	StartDate       time.Time        `json:"start_date" validate:"required"`
	EndDate         time.Time        `json:"end_date" validate:"required"`
	EstimatedWeeks  int              `json:"estimated_weeks" validate:"omitempty,min=1"`
	DifficultyLevel int              `json:"difficulty_level" validate:"omitempty,min=1,max=5"`
	UnitType        string           `json:"unit_type"`
	Topics          []models.Topic   `json:"topics"`
	SubUnits        []models.SubUnit `json:"sub_units"`
}

type UpdateUnitRequest struct {
	Title           *string          `json:"title"`
	Description     *string          `json:"description"`
	StartDate       *time.Time       `json:"start_date"`
	EndDate         *time.Time       `json:"end_date"`
	EstimatedWeeks  *int             `json:"estimated_weeks"`
	DifficultyLevel *int             `json:"difficulty_level"`
	UnitType        *string          `json:"unit_type"`
	Status          *string          `json:"status"`
	Topics          []models.Topic   `json:"topics"`
	SubUnits        []models.SubUnit `json:"sub_units"`
}

type ReorderUnitsRequest struct {
	ExpectedVersion uint                   `json:"expected_version"`
	Items           []services.ReorderItem `json:"items" validate:"required,min=1"`
}

// CreateUnit appends a unit to a schedule's sequence
func (uc *UnitController) CreateUnit(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}

	var req CreateUnitRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if msgs := utils.ValidateStruct(req); len(msgs) > 0 {
		return utils.Fail(c, fiber.StatusBadRequest, "Validation failed", msgs...)
	}

	unit, err := uc.sequencer.CreateUnit(user.ID, services.CreateUnitInput{
		ScheduleID:      req.ScheduleID,
		Title:           req.Title,
		Description:     req.Description,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		EstimatedWeeks:  req.EstimatedWeeks,
		DifficultyLevel: req.DifficultyLevel,
		UnitType:        req.UnitType,
		Topics:          req.Topics,
		SubUnits:        req.SubUnits,
	})
	if err != nil {
		return respondServiceError(c, err)
	}

	middleware.LogActivity(c, "CREATE", "curriculum-units", unit.ID, fiber.Map{"title": unit.Title})

	return utils.Created(c, utils.ToUnitDTO(*unit))
}

// GetUnit returns one unit
func (uc *UnitController) GetUnit(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	unit, err := uc.sequencer.GetUnit(id)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, utils.ToUnitDTO(*unit))
}

// GetUnitsBySchedule lists a schedule's live units in sequence order
func (uc *UnitController) GetUnitsBySchedule(c *fiber.Ctx) error {
	scheduleID, err := parseIDParam(c, "scheduleId")
	if err != nil {
		return err
	}

	if _, err := uc.schedules.GetSchedule(scheduleID); err != nil {
		return respondServiceError(c, err)
	}
	units, err := uc.schedules.GetScheduleUnits(scheduleID)
	if err != nil {
		return respondServiceError(c, err)
	}

	dtos := make([]utils.UnitDTO, 0, len(units))
	for _, u := range units {
		dtos = append(dtos, utils.ToUnitDTO(u))
	}
	if current := services.CurrentUnit(units, time.Now()); current != nil {
		return utils.Success(c, fiber.Map{
			"units":        dtos,
			"current_unit": utils.ToUnitDTO(*current),
		})
	}
	return utils.Success(c, fiber.Map{"units": dtos})
}

// UpdateUnit patches unit fields; date and type changes revalidate against
// the schedule
func (uc *UnitController) UpdateUnit(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	var req UpdateUnitRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	unit, err := uc.sequencer.UpdateUnit(user.ID, id, services.UpdateUnitInput{
		Title:           req.Title,
		Description:     req.Description,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		EstimatedWeeks:  req.EstimatedWeeks,
		DifficultyLevel: req.DifficultyLevel,
		UnitType:        req.UnitType,
		Status:          req.Status,
		Topics:          req.Topics,
		SubUnits:        req.SubUnits,
	})
	if err != nil {
		return respondServiceError(c, err)
	}

	middleware.LogActivity(c, "UPDATE", "curriculum-units", unit.ID, nil)

	return utils.Success(c, utils.ToUnitDTO(*unit))
}

// DeleteUnit removes a unit and compacts the remaining sequence
func (uc *UnitController) DeleteUnit(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	if err := uc.sequencer.DeleteUnit(user.ID, id); err != nil {
		return respondServiceError(c, err)
	}

	middleware.LogActivity(c, "DELETE", "curriculum-units", id, nil)

	return utils.SuccessMessage(c, "Unit deleted", nil)
}

// ReorderUnits applies a full permutation of a schedule's sequence atomically
func (uc *UnitController) ReorderUnits(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	scheduleID, err := parseIDParam(c, "scheduleId")
	if err != nil {
		return err
	}

	var req ReorderUnitsRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if msgs := utils.ValidateStruct(req); len(msgs) > 0 {
		return utils.Fail(c, fiber.StatusBadRequest, "Validation failed", msgs...)
	}

	units, err := uc.sequencer.ReorderUnits(user.ID, scheduleID, req.ExpectedVersion, req.Items)
	if err != nil {
		return respondServiceError(c, err)
	}

	middleware.LogActivity(c, "UPDATE", "curriculum-units", scheduleID, fiber.Map{"action": "reorder"})

	dtos := make([]utils.UnitDTO, 0, len(units))
	for _, u := range units {
		dtos = append(dtos, utils.ToUnitDTO(u))
	}
	return utils.Success(c, fiber.Map{"units": dtos})
}
