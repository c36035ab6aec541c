package controllers

import (
	"time"

	"classplanner_go/middleware"
	"classplanner_go/models"
	"classplanner_go/services"
	"classplanner_go/utils"

	"github.com/gofiber/fiber/v2"
)

// ProgressController exposes the progress aggregator: external signal
// ingestion, student self-tracking writes, and teacher/student read views.
type ProgressController struct {
	progress  *services.ProgressService
	sequencer *services.UnitSequencer
}

func NewProgressController(progress *services.ProgressService, sequencer *services.UnitSequencer) *ProgressController {
	return &ProgressController{progress: progress, sequencer: sequencer}
}

type AssignmentSignalRequest struct {
	StudentID     uint      `json:"student_id" validate:"required"`
	AssignmentRef string    `json:"assignment_ref" validate:"required"`
	Completed     bool      `json:"completed"`
	Score         float64   `json:"score" validate:"min=0,max=100"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type ConceptSignalRequest struct {
	StudentID   uint      `json:"student_id" validate:"required"`
	ConceptName string    `json:"concept_name" validate:"required"`
	Mastered    bool      `json:"mastered"`
	Score       float64   `json:"score" validate:"min=0,max=100"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type RecordTimeRequest struct {
	Minutes int `json:"minutes" validate:"required,min=1,max=1440"`
}

// RecordAssignmentSignal ingests an assignment completion event from the
// grading system and recomputes the pair
func (pc *ProgressController) RecordAssignmentSignal(c *fiber.Ctx) error {
	unitID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	var req AssignmentSignalRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if msgs := utils.ValidateStruct(req); len(msgs) > 0 {
		return utils.Fail(c, fiber.StatusBadRequest, "Validation failed", msgs...)
	}

	progress, err := pc.progress.RecordAssignmentSignal(services.AssignmentSignalInput{
		UnitID:        unitID,
		StudentID:     req.StudentID,
		AssignmentRef: req.AssignmentRef,
		Completed:     req.Completed,
		Score:         req.Score,
		OccurredAt:    req.OccurredAt,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, utils.ToUnitProgressDTO(*progress))
}

// RecordConceptSignal ingests a concept-mastery event and recomputes the pair
func (pc *ProgressController) RecordConceptSignal(c *fiber.Ctx) error {
	unitID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	var req ConceptSignalRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if msgs := utils.ValidateStruct(req); len(msgs) > 0 {
		return utils.Fail(c, fiber.StatusBadRequest, "Validation failed", msgs...)
	}

	progress, err := pc.progress.RecordConceptSignal(services.ConceptSignalInput{
		UnitID:      unitID,
		StudentID:   req.StudentID,
		ConceptName: req.ConceptName,
		Mastered:    req.Mastered,
		Score:       req.Score,
		OccurredAt:  req.OccurredAt,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, utils.ToUnitProgressDTO(*progress))
}

// RecordTime appends a study-time increment for the current student
func (pc *ProgressController) RecordTime(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	unitID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	var req RecordTimeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if msgs := utils.ValidateStruct(req); len(msgs) > 0 {
		return utils.Fail(c, fiber.StatusBadRequest, "Validation failed", msgs...)
	}

	progress, err := pc.progress.RecordTime(unitID, user.ID, req.Minutes)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, utils.ToUnitProgressDTO(*progress))
}

// RecordParticipation appends a participation event for the current student
func (pc *ProgressController) RecordParticipation(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	unitID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	progress, err := pc.progress.RecordParticipation(unitID, user.ID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, utils.ToUnitProgressDTO(*progress))
}

// CalculateProgress re-runs the recompute for the current student on a unit
func (pc *ProgressController) CalculateProgress(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	unitID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	progress, err := pc.progress.Recalculate(unitID, user.ID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, utils.ToUnitProgressDTO(*progress))
}

// GetUnitProgress returns the teacher-facing class summary for a unit
func (pc *ProgressController) GetUnitProgress(c *fiber.Ctx) error {
	unitID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	if _, err := pc.sequencer.GetUnit(unitID); err != nil {
		return respondServiceError(c, err)
	}
	summary, err := pc.progress.SummarizeUnit(unitID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, summary)
}

// GetMyProgress returns the current student's progress on a unit
func (pc *ProgressController) GetMyProgress(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	unitID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	if _, err := pc.sequencer.GetUnit(unitID); err != nil {
		return respondServiceError(c, err)
	}
	progress, err := pc.progress.GetProgress(unitID, user.ID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, utils.ToUnitProgressDTO(*progress))
}

func (pc *ProgressController) insightView(c *fiber.Ctx, pick func(*models.UnitProgress) models.JSON) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	unitID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	progress, err := pc.progress.GetProgress(unitID, user.ID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"concepts": models.StringList(pick(progress))})
}

// GetMyStrengths lists the current student's strong concepts on a unit
func (pc *ProgressController) GetMyStrengths(c *fiber.Ctx) error {
	return pc.insightView(c, func(p *models.UnitProgress) models.JSON { return p.Strengths })
}

// GetMyStruggles lists the current student's weak concepts on a unit
func (pc *ProgressController) GetMyStruggles(c *fiber.Ctx) error {
	return pc.insightView(c, func(p *models.UnitProgress) models.JSON { return p.Struggles })
}

// GetMyReview lists the concepts the current student should revisit
func (pc *ProgressController) GetMyReview(c *fiber.Ctx) error {
	return pc.insightView(c, func(p *models.UnitProgress) models.JSON { return p.RecommendedReview })
}
