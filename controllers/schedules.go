package controllers

import (
	"time"

	"classplanner_go/database"
	"classplanner_go/middleware"
	"classplanner_go/models"
	"classplanner_go/services"
	"classplanner_go/services/ai"
	notifsvc "classplanner_go/services/notifications"
	"classplanner_go/utils"

	"github.com/gofiber/fiber/v2"
)

// ScheduleController handles curriculum schedule CRUD, lifecycle and the AI
// generation/refinement endpoints.
type ScheduleController struct {
	schedules *services.ScheduleService
	sequencer *services.UnitSequencer
	progress  *services.ProgressService
	generator *ai.Generator
	refiner   *ai.Refiner
}

func NewScheduleController(schedules *services.ScheduleService, sequencer *services.UnitSequencer,
	progress *services.ProgressService, generator *ai.Generator, refiner *ai.Refiner) *ScheduleController {
	return &ScheduleController{
		schedules: schedules,
		sequencer: sequencer,
		progress:  progress,
		generator: generator,
		refiner:   refiner,
	}
}

type CreateScheduleRequest struct {
	ClassID         uint      `json:"class_id" validate:"required"`
	Title           string    `json:"title" validate:"required,max=255"`
	Description     string    `json:"description"`
	SchoolYearStart time.Time `json:"school_year_start" validate:"required"`
	SchoolYearEnd   time.Time `json:"school_year_end" validate:"required"`
	MeetingPattern  string    `json:"meeting_pattern"`
}

type UpdateScheduleRequest struct {
	Title           *string    `json:"title"`
	Description     *string    `json:"description"`
	SchoolYearStart *time.Time `json:"school_year_start"`
	SchoolYearEnd   *time.Time `json:"school_year_end"`
	MeetingPattern  *string    `json:"meeting_pattern"`
}

// CreateSchedule creates a new draft schedule for a class
func (sc *ScheduleController) CreateSchedule(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}

	var req CreateScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if msgs := utils.ValidateStruct(req); len(msgs) > 0 {
		return utils.Fail(c, fiber.StatusBadRequest, "Validation failed", msgs...)
	}

	schedule, err := sc.schedules.CreateSchedule(user.ID, services.CreateScheduleInput{
		ClassID:         req.ClassID,
		Title:           req.Title,
		Description:     req.Description,
		SchoolYearStart: req.SchoolYearStart,
		SchoolYearEnd:   req.SchoolYearEnd,
		MeetingPattern:  req.MeetingPattern,
	})
	if err != nil {
		return respondServiceError(c, err)
	}

	middleware.LogActivity(c, "CREATE", "curriculum-schedules", schedule.ID, fiber.Map{"title": schedule.Title})

	return utils.Created(c, utils.ToScheduleDTO(*schedule, nil, false))
}

// GetSchedule returns one schedule with its units and the current unit
func (sc *ScheduleController) GetSchedule(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	schedule, err := sc.schedules.GetSchedule(id)
	if err != nil {
		return respondServiceError(c, err)
	}
	units, err := sc.schedules.GetScheduleUnits(id)
	if err != nil {
		return respondServiceError(c, err)
	}

	dto := utils.ToScheduleDTO(*schedule, units, true)
	resp := fiber.Map{"schedule": dto}
	if current := services.CurrentUnit(units, time.Now()); current != nil {
		resp["current_unit"] = utils.ToUnitDTO(*current)
	}
	return utils.Success(c, resp)
}

// GetSchedulesByClass lists a class's schedules, newest first
func (sc *ScheduleController) GetSchedulesByClass(c *fiber.Ctx) error {
	classID, err := parseIDParam(c, "classId")
	if err != nil {
		return err
	}

	rows, err := sc.schedules.ListByClass(classID)
	if err != nil {
		return respondServiceError(c, err)
	}

	dtos := make([]utils.ScheduleDTO, 0, len(rows))
	for _, s := range rows {
		units, err := sc.schedules.GetScheduleUnits(s.ID)
		if err != nil {
			return respondServiceError(c, err)
		}
		dtos = append(dtos, utils.ToScheduleDTO(s, units, false))
	}
	return utils.Success(c, fiber.Map{"schedules": dtos})
}

// UpdateSchedule patches schedule fields; moving the school year revalidates
// every unit window
func (sc *ScheduleController) UpdateSchedule(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	var req UpdateScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	schedule, err := sc.schedules.UpdateSchedule(user.ID, id, services.UpdateScheduleInput{
		Title:           req.Title,
		Description:     req.Description,
		SchoolYearStart: req.SchoolYearStart,
		SchoolYearEnd:   req.SchoolYearEnd,
		MeetingPattern:  req.MeetingPattern,
	})
	if err != nil {
		return respondServiceError(c, err)
	}

	middleware.LogActivity(c, "UPDATE", "curriculum-schedules", schedule.ID, nil)

	return utils.Success(c, utils.ToScheduleDTO(*schedule, nil, false))
}

// PublishSchedule makes a draft schedule visible to students
func (sc *ScheduleController) PublishSchedule(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	schedule, err := sc.schedules.PublishSchedule(user.ID, id)
	if err != nil {
		return respondServiceError(c, err)
	}

	sc.notifyClass(schedule, "Curriculum published",
		"The curriculum schedule \""+schedule.Title+"\" has been published", "info")

	middleware.LogActivity(c, "UPDATE", "curriculum-schedules", schedule.ID, fiber.Map{"action": "publish"})

	return utils.SuccessMessage(c, "Schedule published", utils.ToScheduleDTO(*schedule, nil, false))
}

// ArchiveSchedule retires a published schedule
func (sc *ScheduleController) ArchiveSchedule(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	schedule, err := sc.schedules.ArchiveSchedule(user.ID, id)
	if err != nil {
		return respondServiceError(c, err)
	}

	middleware.LogActivity(c, "UPDATE", "curriculum-schedules", schedule.ID, fiber.Map{"action": "archive"})

	return utils.SuccessMessage(c, "Schedule archived", utils.ToScheduleDTO(*schedule, nil, false))
}

// DeleteSchedule soft deletes a schedule and everything under it
func (sc *ScheduleController) DeleteSchedule(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	if err := sc.schedules.DeleteSchedule(user.ID, id); err != nil {
		return respondServiceError(c, err)
	}

	middleware.LogActivity(c, "DELETE", "curriculum-schedules", id, nil)

	return utils.SuccessMessage(c, "Schedule deleted", nil)
}

type GenerateAIRequest struct {
	MaterialRef      string `json:"material_ref"`
	TargetUnits      int    `json:"target_units" validate:"required,min=1,max=50"`
	PacingPreference string `json:"pacing_preference" validate:"omitempty,oneof=even front_loaded back_loaded"`
}

// GenerateAI runs a full-year unit generation for a draft schedule
func (sc *ScheduleController) GenerateAI(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	var req GenerateAIRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if msgs := utils.ValidateStruct(req); len(msgs) > 0 {
		return utils.Fail(c, fiber.StatusBadRequest, "Validation failed", msgs...)
	}

	result, err := sc.generator.Generate(c.Context(), user.ID, ai.GenerateInput{
		ScheduleID:       id,
		MaterialRef:      req.MaterialRef,
		TargetUnits:      req.TargetUnits,
		PacingPreference: req.PacingPreference,
	})
	if err != nil {
		sc.notifyUser(user.ID, "AI generation failed",
			"Unit generation for your schedule did not complete", "error")
		return respondServiceError(c, err)
	}

	sc.notifyUser(user.ID, "AI generation finished",
		"Draft units are ready for review", "success")

	middleware.LogActivity(c, "CREATE", "curriculum-schedules", id, fiber.Map{
		"action":     "generate-ai",
		"unit_count": result.UnitCount,
	})

	units := make([]utils.UnitDTO, 0, len(result.Units))
	for _, u := range result.Units {
		units = append(units, utils.ToUnitDTO(u))
	}
	return utils.Created(c, fiber.Map{
		"units":                  units,
		"unit_count":             result.UnitCount,
		"total_estimated_weeks":  result.TotalEstimatedWeeks,
		"difficulty_progression": result.DifficultyProgression,
	})
}

type RefineAIRequest struct {
	Message string `json:"message" validate:"required"`
}

// RefineAI sends one chat turn to the refinement session
func (sc *ScheduleController) RefineAI(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	var req RefineAIRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if msgs := utils.ValidateStruct(req); len(msgs) > 0 {
		return utils.Fail(c, fiber.StatusBadRequest, "Validation failed", msgs...)
	}

	reply, err := sc.refiner.SendMessage(c.Context(), user.ID, id, req.Message)
	if err != nil {
		return respondServiceError(c, err)
	}

	suggestions := make([]utils.SuggestionDTO, 0, len(reply.Suggestions))
	for _, s := range reply.Suggestions {
		suggestions = append(suggestions, utils.ToSuggestionDTO(s))
	}
	return utils.Success(c, fiber.Map{
		"reply":       reply.Reply,
		"suggestions": suggestions,
	})
}

// GetSuggestions lists pending refinement suggestions for a schedule
func (sc *ScheduleController) GetSuggestions(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	rows, err := sc.refiner.PendingSuggestions(user.ID, id)
	if err != nil {
		return respondServiceError(c, err)
	}

	dtos := make([]utils.SuggestionDTO, 0, len(rows))
	for _, s := range rows {
		dtos = append(dtos, utils.ToSuggestionDTO(s))
	}
	return utils.Success(c, fiber.Map{"suggestions": dtos})
}

type SuggestionSelectionRequest struct {
	SuggestionIDs []string `json:"suggestion_ids"`
}

// ApplySuggestions applies selected pending suggestions through the normal
// update paths
func (sc *ScheduleController) ApplySuggestions(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	var req SuggestionSelectionRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	outcomes, err := sc.refiner.ApplyChanges(user.ID, id, req.SuggestionIDs)
	if err != nil {
		return respondServiceError(c, err)
	}

	middleware.LogActivity(c, "UPDATE", "curriculum-schedules", id, fiber.Map{
		"action":      "apply-suggestions",
		"suggestions": req.SuggestionIDs,
	})

	allApplied := true
	for _, o := range outcomes {
		if !o.Applied {
			allApplied = false
			break
		}
	}
	if !allApplied {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(utils.Envelope{
			Success: false,
			Message: "Some suggestions could not be applied",
			Data:    fiber.Map{"outcomes": outcomes},
		})
	}
	return utils.SuccessMessage(c, "Suggestions applied", fiber.Map{"outcomes": outcomes})
}

// RejectSuggestions discards pending suggestions with no side effects
func (sc *ScheduleController) RejectSuggestions(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	var req SuggestionSelectionRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	rejected, err := sc.refiner.RejectChanges(user.ID, id, req.SuggestionIDs)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.SuccessMessage(c, "Suggestions rejected", fiber.Map{"rejected": rejected})
}

// CalculateProgress recomputes every progress row under the schedule and
// returns the fresh overview
func (sc *ScheduleController) CalculateProgress(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	if _, err := sc.schedules.GetSchedule(id); err != nil {
		return respondServiceError(c, err)
	}

	recomputed, err := sc.progress.RecalculateSchedule(id)
	if err != nil {
		return respondServiceError(c, err)
	}

	overview, err := sc.progress.SummarizeSchedule(id)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{
		"recomputed_pairs": recomputed,
		"overview":         overview,
	})
}

// GetScheduleProgress returns the teacher-facing schedule overview
func (sc *ScheduleController) GetScheduleProgress(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	if _, err := sc.schedules.GetSchedule(id); err != nil {
		return respondServiceError(c, err)
	}

	overview, err := sc.progress.SummarizeSchedule(id)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, overview)
}

// notifyClass pushes a notification to every student enrolled in the
// schedule's class.
func (sc *ScheduleController) notifyClass(schedule *models.CurriculumSchedule, title, message, typ string) {
	var enrollments []models.ClassEnrollment
	if err := database.DB.Where("class_id = ? AND status = ?", schedule.ClassID, "enrolled").
		Find(&enrollments).Error; err != nil {
		return
	}
	ids := make([]uint, 0, len(enrollments))
	for _, e := range enrollments {
		ids = append(ids, e.StudentID)
	}
	if len(ids) == 0 {
		return
	}
	_ = notifsvc.NewService().EnqueueOrCreate(ids, notifsvc.QueuedWithData(
		title, message, typ, fiber.Map{"schedule_id": schedule.ID}))
}

func (sc *ScheduleController) notifyUser(userID uint, title, message, typ string) {
	_ = notifsvc.NewService().EnqueueOrCreate([]uint{userID}, notifsvc.Queued(title, message, typ))
}
