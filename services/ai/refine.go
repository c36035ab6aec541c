package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"classplanner_go/config"
	"classplanner_go/models"
	"classplanner_go/services"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// historyLimit bounds how many prior chat turns are replayed into a
// refinement prompt.
const historyLimit = 30

// suggestibleUnitFields is the whitelist of unit fields a suggestion may
// target. Anything else is dropped at parse time.
var suggestibleUnitFields = map[string]bool{
	"title":            true,
	"description":      true,
	"start_date":       true,
	"end_date":         true,
	"estimated_weeks":  true,
	"difficulty_level": true,
	"unit_type":        true,
	"status":           true,
}

// suggestibleScheduleFields is the schedule-level counterpart.
var suggestibleScheduleFields = map[string]bool{
	"title":       true,
	"description": true,
}

// Refiner runs the conversational refinement loop over a persisted schedule.
// Assistant output only ever becomes pending suggestions; applying one routes
// through the same update paths as a manual edit, so the same validation
// runs.
type Refiner struct {
	db        *gorm.DB
	client    Client
	sequencer *services.UnitSequencer
	schedules *services.ScheduleService
}

func NewRefiner(db *gorm.DB, client Client, sequencer *services.UnitSequencer, schedules *services.ScheduleService) *Refiner {
	return &Refiner{db: db, client: client, sequencer: sequencer, schedules: schedules}
}

// RefineReply is what one chat turn returns: the assistant's prose plus the
// freshly created pending suggestions.
type RefineReply struct {
	Reply       string                `json:"reply"`
	Suggestions []models.AISuggestion `json:"suggestions"`
}

type refineSuggestion struct {
	UnitNumber     int    `json:"unit_number"` // 0 targets the schedule itself
	TargetTitle    string `json:"target_title"`
	FieldName      string `json:"field_name"`
	CurrentValue   string `json:"current_value"`
	SuggestedValue string `json:"suggested_value"`
	Rationale      string `json:"rationale"`
}

type refineOutput struct {
	Reply       string             `json:"reply"`
	Suggestions []refineSuggestion `json:"suggestions"`
}

func (r *Refiner) authorize(scheduleID, teacherID uint) (*models.CurriculumSchedule, error) {
	var schedule models.CurriculumSchedule
	if err := r.db.First(&schedule, scheduleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &services.NotFoundError{Resource: "curriculum schedule", ID: scheduleID}
		}
		return nil, err
	}
	if schedule.TeacherID != teacherID {
		return nil, &services.AuthorizationError{Reason: "only the owning teacher may refine this schedule"}
	}
	return &schedule, nil
}

// SendMessage persists the teacher's message, asks the model for a reply plus
// suggested edits, and holds every valid suggestion as PENDING. Nothing is
// applied here.
func (r *Refiner) SendMessage(ctx context.Context, teacherID, scheduleID uint, message string) (*RefineReply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, services.NewValidationError("message is required")
	}

	if r.client == nil {
		return nil, &services.AIGenerationError{Stage: "request", Err: errors.New("AI client is not configured")}
	}

	schedule, err := r.authorize(scheduleID, teacherID)
	if err != nil {
		return nil, err
	}

	units, err := r.schedules.GetScheduleUnits(scheduleID)
	if err != nil {
		return nil, err
	}

	userMsg := models.AIChatMessage{
		ScheduleID: scheduleID,
		UserID:     teacherID,
		Role:       "user",
		Content:    message,
	}
	if err := r.db.Create(&userMsg).Error; err != nil {
		return nil, err
	}

	var history []models.AIChatMessage
	if err := r.db.Where("schedule_id = ?", scheduleID).
		Order("created_at DESC").Limit(historyLimit).
		Find(&history).Error; err != nil {
		return nil, err
	}
	// reverse so the prompt reads oldest first
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	ctx, cancel := context.WithTimeout(ctx, config.AppConfig.AITimeout)
	defer cancel()

	out, err := r.requestRefinement(ctx, schedule, units, history)
	if err != nil {
		return nil, err
	}

	assistantMsg := models.AIChatMessage{
		ScheduleID: scheduleID,
		UserID:     teacherID,
		Role:       "assistant",
		Content:    out.Reply,
	}
	if err := r.db.Create(&assistantMsg).Error; err != nil {
		return nil, err
	}

	suggestions, err := r.holdSuggestions(schedule, units, out.Suggestions)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"schedule_id": scheduleID,
		"suggestions": len(suggestions),
	}).Info("AI refinement turn completed")

	return &RefineReply{Reply: out.Reply, Suggestions: suggestions}, nil
}

func (r *Refiner) requestRefinement(ctx context.Context, schedule *models.CurriculumSchedule, units []models.CurriculumUnit, history []models.AIChatMessage) (*refineOutput, error) {
	system := "You are a curriculum refinement assistant. The teacher describes changes they want; " +
		"you reply conversationally and propose concrete field-level edits as structured suggestions. " +
		"Suggestions may target a unit by its unit number, or the schedule itself with unit_number 0. " +
		"Allowed unit fields: title, description, start_date, end_date, estimated_weeks, " +
		"difficulty_level, unit_type, status. Allowed schedule fields: title, description. " +
		"Dates are ISO-8601 (YYYY-MM-DD). Never propose fields outside these lists."

	var sb strings.Builder
	fmt.Fprintf(&sb, "Schedule %q, %s to %s, status %s.\nUnits:\n",
		schedule.Title,
		schedule.SchoolYearStart.Format("2006-01-02"),
		schedule.SchoolYearEnd.Format("2006-01-02"),
		schedule.Status)
	for _, u := range units {
		fmt.Fprintf(&sb, "- unit %d %q: %s to %s, %d weeks, difficulty %d, type %s\n",
			u.UnitNumber, u.Title,
			u.StartDate.Format("2006-01-02"), u.EndDate.Format("2006-01-02"),
			u.EstimatedWeeks, u.DifficultyLevel, u.UnitType)
	}
	sb.WriteString("\nConversation:\n")
	for _, m := range history {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}

	obj, err := r.client.GenerateJSON(ctx, system, sb.String(), "refinement_turn", refinementSchema())
	if err != nil {
		return nil, &services.AIGenerationError{Stage: "request", Err: err}
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, &services.AIGenerationError{Stage: "decode", Err: err}
	}
	var out refineOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &services.AIGenerationError{Stage: "decode", Err: err}
	}
	if strings.TrimSpace(out.Reply) == "" {
		return nil, &services.AIGenerationError{Stage: "decode", Err: errors.New("empty assistant reply")}
	}
	return &out, nil
}

func refinementSchema() map[string]interface{} {
	str := map[string]interface{}{"type": "string"}

	suggestion := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"unit_number":     map[string]interface{}{"type": "integer"},
			"target_title":    str,
			"field_name":      str,
			"current_value":   str,
			"suggested_value": str,
			"rationale":       str,
		},
		"required": []string{"unit_number", "target_title", "field_name",
			"current_value", "suggested_value", "rationale"},
		"additionalProperties": false,
	}

	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"reply":       str,
			"suggestions": map[string]interface{}{"type": "array", "items": suggestion},
		},
		"required":             []string{"reply", "suggestions"},
		"additionalProperties": false,
	}
}

// holdSuggestions resolves targets, drops non-whitelisted fields, and
// persists the survivors as PENDING rows.
func (r *Refiner) holdSuggestions(schedule *models.CurriculumSchedule, units []models.CurriculumUnit, raw []refineSuggestion) ([]models.AISuggestion, error) {
	byNumber := make(map[int]*models.CurriculumUnit, len(units))
	for i := range units {
		byNumber[units[i].UnitNumber] = &units[i]
	}

	held := make([]models.AISuggestion, 0, len(raw))
	for _, s := range raw {
		field := strings.ToLower(strings.TrimSpace(s.FieldName))

		var unitID *uint
		if s.UnitNumber > 0 {
			unit, ok := byNumber[s.UnitNumber]
			if !ok || !suggestibleUnitFields[field] {
				logrus.WithFields(logrus.Fields{
					"schedule_id": schedule.ID,
					"unit_number": s.UnitNumber,
					"field":       field,
				}).Warn("Dropping unusable AI suggestion")
				continue
			}
			unitID = &unit.ID
		} else if !suggestibleScheduleFields[field] {
			logrus.WithFields(logrus.Fields{
				"schedule_id": schedule.ID,
				"field":       field,
			}).Warn("Dropping unusable AI suggestion")
			continue
		}

		row := models.AISuggestion{
			SuggestionID:   uuid.New().String(),
			ScheduleID:     schedule.ID,
			UnitID:         unitID,
			TargetTitle:    s.TargetTitle,
			FieldName:      field,
			CurrentValue:   s.CurrentValue,
			SuggestedValue: s.SuggestedValue,
			Rationale:      s.Rationale,
			Status:         models.SuggestionPending,
		}
		if err := r.db.Create(&row).Error; err != nil {
			return nil, err
		}
		held = append(held, row)
	}
	return held, nil
}

// PendingSuggestions lists a schedule's held suggestions, oldest first.
func (r *Refiner) PendingSuggestions(teacherID, scheduleID uint) ([]models.AISuggestion, error) {
	if _, err := r.authorize(scheduleID, teacherID); err != nil {
		return nil, err
	}
	var rows []models.AISuggestion
	err := r.db.Where("schedule_id = ? AND status = ?", scheduleID, models.SuggestionPending).
		Order("created_at ASC").Find(&rows).Error
	return rows, err
}

// ApplyOutcome reports what happened to one selected suggestion.
type ApplyOutcome struct {
	SuggestionID string   `json:"suggestion_id"`
	Applied      bool     `json:"applied"`
	Errors       []string `json:"errors,omitempty"`
}

// ApplyChanges routes each selected pending suggestion through the normal
// update paths. Each suggestion succeeds or fails on its own: a rejected one
// leaves its target untouched and stays PENDING, while suggestions that
// passed validation remain applied.
func (r *Refiner) ApplyChanges(teacherID, scheduleID uint, suggestionIDs []string) ([]ApplyOutcome, error) {
	if len(suggestionIDs) == 0 {
		return nil, services.NewValidationError("at least one suggestion id is required")
	}
	if _, err := r.authorize(scheduleID, teacherID); err != nil {
		return nil, err
	}

	outcomes := make([]ApplyOutcome, 0, len(suggestionIDs))
	for _, id := range suggestionIDs {
		outcome := ApplyOutcome{SuggestionID: id}

		var row models.AISuggestion
		err := r.db.Where("suggestion_id = ? AND schedule_id = ?", id, scheduleID).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			outcome.Errors = []string{"suggestion not found"}
		case err != nil:
			return nil, err
		case row.Status != models.SuggestionPending:
			outcome.Errors = []string{fmt.Sprintf("suggestion is %s, not pending", row.Status)}
		default:
			if applyErr := r.applyOne(teacherID, scheduleID, &row); applyErr != nil {
				if ve, ok := services.IsValidation(applyErr); ok {
					outcome.Errors = ve.Messages
				} else {
					return nil, applyErr
				}
			} else {
				outcome.Applied = true
				if err := r.db.Model(&row).Update("status", models.SuggestionApplied).Error; err != nil {
					return nil, err
				}
			}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (r *Refiner) applyOne(teacherID, scheduleID uint, row *models.AISuggestion) error {
	if row.UnitID == nil {
		in := services.UpdateScheduleInput{}
		switch row.FieldName {
		case "title":
			in.Title = &row.SuggestedValue
		case "description":
			in.Description = &row.SuggestedValue
		default:
			return services.NewValidationError(fmt.Sprintf("field %q cannot be applied to a schedule", row.FieldName))
		}
		_, err := r.schedules.UpdateSchedule(teacherID, scheduleID, in)
		return err
	}

	in := services.UpdateUnitInput{}
	switch row.FieldName {
	case "title":
		in.Title = &row.SuggestedValue
	case "description":
		in.Description = &row.SuggestedValue
	case "unit_type":
		in.UnitType = &row.SuggestedValue
	case "status":
		in.Status = &row.SuggestedValue
	case "start_date", "end_date":
		t, err := parseSuggestedDate(row.SuggestedValue)
		if err != nil {
			return services.NewValidationError(fmt.Sprintf("suggested %s %q is not a date", row.FieldName, row.SuggestedValue))
		}
		if row.FieldName == "start_date" {
			in.StartDate = &t
		} else {
			in.EndDate = &t
		}
	case "estimated_weeks", "difficulty_level":
		n, err := strconv.Atoi(strings.TrimSpace(row.SuggestedValue))
		if err != nil {
			return services.NewValidationError(fmt.Sprintf("suggested %s %q is not a number", row.FieldName, row.SuggestedValue))
		}
		if row.FieldName == "estimated_weeks" {
			in.EstimatedWeeks = &n
		} else {
			in.DifficultyLevel = &n
		}
	default:
		return services.NewValidationError(fmt.Sprintf("field %q cannot be applied to a unit", row.FieldName))
	}

	_, err := r.sequencer.UpdateUnit(teacherID, *row.UnitID, in)
	return err
}

func parseSuggestedDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

// RejectChanges discards pending suggestions with no side effects. An empty
// id list rejects everything pending for the schedule.
func (r *Refiner) RejectChanges(teacherID, scheduleID uint, suggestionIDs []string) (int, error) {
	if _, err := r.authorize(scheduleID, teacherID); err != nil {
		return 0, err
	}

	q := r.db.Model(&models.AISuggestion{}).
		Where("schedule_id = ? AND status = ?", scheduleID, models.SuggestionPending)
	if len(suggestionIDs) > 0 {
		q = q.Where("suggestion_id IN ?", suggestionIDs)
	}
	res := q.Update("status", models.SuggestionRejected)
	return int(res.RowsAffected), res.Error
}
