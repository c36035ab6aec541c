package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"classplanner_go/config"
	"classplanner_go/database"
	"classplanner_go/models"
	"classplanner_go/services"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MaterialFetcher resolves a curriculum material reference to plain text.
// storage.StorageService satisfies it; tests use a stub.
type MaterialFetcher interface {
	FetchMaterial(ctx context.Context, ref string) (string, error)
}

// GenerateInput carries one generation request for a schedule.
type GenerateInput struct {
	ScheduleID       uint
	MaterialRef      string
	TargetUnits      int
	PacingPreference string // even, front_loaded, back_loaded
}

// GenerateResult reports what a successful generation produced.
type GenerateResult struct {
	Units                 []models.CurriculumUnit `json:"units"`
	UnitCount             int                     `json:"unit_count"`
	TotalEstimatedWeeks   int                     `json:"total_estimated_weeks"`
	DifficultyProgression string                  `json:"difficulty_progression"`
}

// Generator turns curriculum source material plus preferences into persisted
// draft units. Generated units are written through the unit sequencer so
// they obey every invariant a manually created unit does. A failed
// generation leaves the schedule exactly as it found it.
type Generator struct {
	db        *gorm.DB
	client    Client
	sequencer *services.UnitSequencer
	materials MaterialFetcher // optional

	inflight sync.Map // fallback per-schedule lock when redis is down
}

func NewGenerator(db *gorm.DB, client Client, sequencer *services.UnitSequencer, materials MaterialFetcher) *Generator {
	return &Generator{db: db, client: client, sequencer: sequencer, materials: materials}
}

// draft shapes decoded from the model's structured output. Nothing here is
// persisted until it survives validation.
type draftTopic struct {
	Name               string   `json:"name"`
	Subtopics          []string `json:"subtopics"`
	Concepts           []string `json:"concepts"`
	LearningObjectives []string `json:"learning_objectives"`
}

type draftUnit struct {
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	StartDate       string       `json:"start_date"`
	EndDate         string       `json:"end_date"`
	EstimatedWeeks  int          `json:"estimated_weeks"`
	DifficultyLevel int          `json:"difficulty_level"`
	UnitType        string       `json:"unit_type"`
	Topics          []draftTopic `json:"topics"`
	Confidence      float64      `json:"confidence"`
}

type draftPlan struct {
	Units                 []draftUnit `json:"units"`
	TotalEstimatedWeeks   int         `json:"total_estimated_weeks"`
	DifficultyProgression string      `json:"difficulty_progression"`
}

func generationLockKey(scheduleID uint) string {
	return fmt.Sprintf("ai:generation:%d", scheduleID)
}

// acquireLock admits at most one generation per schedule at a time. The redis
// lock carries a TTL past the request timeout so a crashed worker cannot
// wedge the schedule; when redis is unavailable the lock degrades to
// in-process.
func (g *Generator) acquireLock(ctx context.Context, scheduleID uint) (func(), error) {
	conflict := &services.ConflictError{Reason: "an AI generation is already in progress for this schedule"}

	if database.RedisClient != nil {
		key := generationLockKey(scheduleID)
		ttl := config.AppConfig.AITimeout + 30*time.Second
		ok, err := database.RedisClient.SetNX(ctx, key, "1", ttl).Result()
		if err == nil {
			if !ok {
				return nil, conflict
			}
			return func() {
				database.RedisClient.Del(context.Background(), key)
			}, nil
		}
		logrus.WithError(err).Warn("Redis unavailable for generation lock, using local lock")
	}

	if _, loaded := g.inflight.LoadOrStore(scheduleID, struct{}{}); loaded {
		return nil, conflict
	}
	return func() { g.inflight.Delete(scheduleID) }, nil
}

// Generate runs one full generation for a draft schedule: fetch material,
// prompt, validate the draft, then persist the accepted units. On any
// failure after validation starts, units created so far are removed so the
// schedule stays a unit-less draft.
func (g *Generator) Generate(ctx context.Context, teacherID uint, in GenerateInput) (*GenerateResult, error) {
	var schedule models.CurriculumSchedule
	if err := g.db.First(&schedule, in.ScheduleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &services.NotFoundError{Resource: "curriculum schedule", ID: in.ScheduleID}
		}
		return nil, err
	}
	if schedule.TeacherID != teacherID {
		return nil, &services.AuthorizationError{Reason: "only the owning teacher may generate units"}
	}
	if schedule.Status != models.ScheduleStatusDraft {
		return nil, services.NewValidationError("AI generation is only allowed on draft schedules")
	}

	var existing int64
	if err := g.db.Model(&models.CurriculumUnit{}).Where("schedule_id = ?", schedule.ID).Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, services.NewValidationError("schedule already has units; delete them before regenerating")
	}

	if g.client == nil {
		return nil, &services.AIGenerationError{Stage: "request", Err: errors.New("AI client is not configured")}
	}

	unlock, err := g.acquireLock(ctx, schedule.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, config.AppConfig.AITimeout)
	defer cancel()

	material := ""
	if in.MaterialRef != "" && g.materials != nil {
		material, err = g.materials.FetchMaterial(ctx, in.MaterialRef)
		if err != nil {
			return nil, &services.AIGenerationError{Stage: "material", Err: err}
		}
	}

	plan, err := g.requestDraft(ctx, &schedule, material, in)
	if err != nil {
		return nil, err
	}

	if msgs := validateDraft(plan, &schedule, in.TargetUnits, config.AppConfig.AIUnitCountTolerance); len(msgs) > 0 {
		return nil, &services.AIGenerationError{
			Stage: "validate",
			Err:   services.NewValidationError(msgs...),
		}
	}

	units, err := g.persistDraft(teacherID, &schedule, plan)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"schedule_id": schedule.ID,
		"unit_count":  len(units),
	}).Info("AI generation completed")

	return &GenerateResult{
		Units:                 units,
		UnitCount:             len(units),
		TotalEstimatedWeeks:   plan.TotalEstimatedWeeks,
		DifficultyProgression: plan.DifficultyProgression,
	}, nil
}

func (g *Generator) requestDraft(ctx context.Context, schedule *models.CurriculumSchedule, material string, in GenerateInput) (*draftPlan, error) {
	system := "You are a curriculum planner. Produce a full-year sequence of instructional units " +
		"as structured JSON. Dates are ISO-8601 (YYYY-MM-DD). Units must be ordered, must not " +
		"extend past the school year, and each must cover at least one topic."

	var sb strings.Builder
	fmt.Fprintf(&sb, "School year: %s to %s (%d weeks).\n",
		schedule.SchoolYearStart.Format("2006-01-02"),
		schedule.SchoolYearEnd.Format("2006-01-02"),
		schedule.TotalWeeks())
	fmt.Fprintf(&sb, "Meeting pattern: %s.\n", schedule.MeetingPattern)
	fmt.Fprintf(&sb, "Target unit count: %d.\n", in.TargetUnits)
	if in.PacingPreference != "" {
		fmt.Fprintf(&sb, "Pacing preference: %s.\n", in.PacingPreference)
	}
	if material != "" {
		fmt.Fprintf(&sb, "\nCurriculum source material:\n%s\n", material)
	}

	obj, err := g.client.GenerateJSON(ctx, system, sb.String(), "curriculum_plan", curriculumPlanSchema())
	if err != nil {
		return nil, &services.AIGenerationError{Stage: "request", Err: err}
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, &services.AIGenerationError{Stage: "decode", Err: err}
	}
	var plan draftPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, &services.AIGenerationError{Stage: "decode", Err: err}
	}
	return &plan, nil
}

// curriculumPlanSchema is the strict JSON schema handed to the model.
func curriculumPlanSchema() map[string]interface{} {
	str := map[string]interface{}{"type": "string"}
	strArray := map[string]interface{}{"type": "array", "items": str}

	topic := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name":                str,
			"subtopics":           strArray,
			"concepts":            strArray,
			"learning_objectives": strArray,
		},
		"required":             []string{"name", "subtopics", "concepts", "learning_objectives"},
		"additionalProperties": false,
	}

	unit := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title":            str,
			"description":      str,
			"start_date":       str,
			"end_date":         str,
			"estimated_weeks":  map[string]interface{}{"type": "integer"},
			"difficulty_level": map[string]interface{}{"type": "integer"},
			"unit_type":        str,
			"topics":           map[string]interface{}{"type": "array", "items": topic},
			"confidence":       map[string]interface{}{"type": "number"},
		},
		"required": []string{"title", "description", "start_date", "end_date",
			"estimated_weeks", "difficulty_level", "unit_type", "topics", "confidence"},
		"additionalProperties": false,
	}

	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"units":                  map[string]interface{}{"type": "array", "items": unit},
			"total_estimated_weeks":  map[string]interface{}{"type": "integer"},
			"difficulty_progression": str,
		},
		"required":             []string{"units", "total_estimated_weeks", "difficulty_progression"},
		"additionalProperties": false,
	}
}

// countWithinTolerance checks the achieved unit count against the requested
// target, allowing a proportional band on either side.
func countWithinTolerance(got, target int, tolerance float64) bool {
	if target <= 0 {
		return got > 0
	}
	band := int(math.Ceil(float64(target) * tolerance))
	return got >= target-band && got <= target+band
}

// validateDraft runs every acceptance check on a decoded plan before
// anything touches the database.
func validateDraft(plan *draftPlan, schedule *models.CurriculumSchedule, targetUnits int, tolerance float64) []string {
	var msgs []string

	if len(plan.Units) == 0 {
		return append(msgs, "draft contains no units")
	}
	if targetUnits > 0 && !countWithinTolerance(len(plan.Units), targetUnits, tolerance) {
		msgs = append(msgs, fmt.Sprintf("draft produced %d units, outside the tolerance band around target %d",
			len(plan.Units), targetUnits))
	}

	prevEnd := time.Time{}
	for i, u := range plan.Units {
		label := fmt.Sprintf("unit %d (%q)", i+1, u.Title)

		if strings.TrimSpace(u.Title) == "" {
			msgs = append(msgs, fmt.Sprintf("unit %d has no title", i+1))
		}
		if len(u.Topics) == 0 {
			msgs = append(msgs, label+" has no topics")
		}
		if u.DifficultyLevel < 1 || u.DifficultyLevel > 5 {
			msgs = append(msgs, fmt.Sprintf("%s difficulty_level %d is outside 1..5", label, u.DifficultyLevel))
		}

		start, err1 := time.Parse("2006-01-02", u.StartDate)
		end, err2 := time.Parse("2006-01-02", u.EndDate)
		if err1 != nil || err2 != nil {
			msgs = append(msgs, label+" has unparseable dates")
			continue
		}
		msgs = append(msgs, services.ValidateUnitWindow(start, end, schedule.SchoolYearStart, schedule.SchoolYearEnd)...)
		// Bounds are inclusive, matching the overlap rule applied at
		// persist time: starting on the previous end date collides.
		if !prevEnd.IsZero() && !start.After(prevEnd) {
			msgs = append(msgs, fmt.Sprintf("%s starts before the previous unit ends", label))
		}
		if end.After(prevEnd) {
			prevEnd = end
		}
	}

	return msgs
}

// persistDraft writes accepted draft units through the sequencer in order.
// If any insert fails the earlier inserts are rolled back so a partial
// generation never becomes visible.
func (g *Generator) persistDraft(teacherID uint, schedule *models.CurriculumSchedule, plan *draftPlan) ([]models.CurriculumUnit, error) {
	created := make([]models.CurriculumUnit, 0, len(plan.Units))

	for _, du := range plan.Units {
		start, _ := time.Parse("2006-01-02", du.StartDate)
		end, _ := time.Parse("2006-01-02", du.EndDate)

		unitType := du.UnitType
		if unitType == "" {
			unitType = models.UnitTypeCore
		}
		confidence := math.Max(0, math.Min(1, du.Confidence))

		topics := make([]models.Topic, 0, len(du.Topics))
		for _, t := range du.Topics {
			topics = append(topics, models.Topic{
				Name:               t.Name,
				Subtopics:          t.Subtopics,
				Concepts:           t.Concepts,
				LearningObjectives: t.LearningObjectives,
			})
		}

		unit, err := g.sequencer.CreateUnit(teacherID, services.CreateUnitInput{
			ScheduleID:      schedule.ID,
			Title:           du.Title,
			Description:     du.Description,
			StartDate:       start,
			EndDate:         end,
			EstimatedWeeks:  du.EstimatedWeeks,
			DifficultyLevel: du.DifficultyLevel,
			UnitType:        unitType,
			Topics:          topics,
			AIGenerated:     true,
			AIConfidence:    confidence,
		})
		if err != nil {
			g.rollbackCreated(teacherID, created)
			return nil, &services.AIGenerationError{Stage: "persist", Err: err}
		}
		created = append(created, *unit)
	}

	return created, nil
}

func (g *Generator) rollbackCreated(teacherID uint, created []models.CurriculumUnit) {
	for i := len(created) - 1; i >= 0; i-- {
		if err := g.sequencer.DeleteUnit(teacherID, created[i].ID); err != nil {
			logrus.WithError(err).WithField("unit_id", created[i].ID).
				Error("Failed to roll back generated unit")
		}
	}
}
