package ai

import (
	"context"
	"testing"
	"time"

	"classplanner_go/config"
	"classplanner_go/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeClient is a function-backed Client for driving the orchestrators.
type fakeClient struct {
	jsonFn func(ctx context.Context, system, user, schemaName string, schema map[string]interface{}) (map[string]interface{}, error)
	textFn func(ctx context.Context, system, user string) (string, error)
}

func (f *fakeClient) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]interface{}) (map[string]interface{}, error) {
	return f.jsonFn(ctx, system, user, schemaName, schema)
}

func (f *fakeClient) GenerateText(ctx context.Context, system, user string) (string, error) {
	if f.textFn == nil {
		return "", nil
	}
	return f.textFn(ctx, system, user)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	config.AppConfig = &config.Config{
		AITimeout:            5 * time.Second,
		AIUnitCountTolerance: 0.25,
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// In-memory sqlite is per-connection; keep the pool at one.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get database instance: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.User{},
		&models.Class{},
		&models.CurriculumSchedule{},
		&models.CurriculumUnit{},
		&models.AIChatMessage{},
		&models.AISuggestion{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedSchedule(t *testing.T, db *gorm.DB) (*models.CurriculumSchedule, uint) {
	t.Helper()

	teacher := models.User{Username: "teacher1", Password: "x", Email: "t1@example.com", Role: "teacher", Status: "active"}
	if err := db.Create(&teacher).Error; err != nil {
		t.Fatalf("failed to seed teacher: %v", err)
	}
	class := models.Class{Name: "Algebra I", TeacherID: teacher.ID, Subject: "math", Active: true}
	if err := db.Create(&class).Error; err != nil {
		t.Fatalf("failed to seed class: %v", err)
	}
	schedule := models.CurriculumSchedule{
		ClassID:         class.ID,
		TeacherID:       teacher.ID,
		Title:           "Algebra I 2026-27",
		SchoolYearStart: date(2026, time.August, 24),
		SchoolYearEnd:   date(2027, time.June, 11),
		MeetingPattern:  "MWF",
		Status:          models.ScheduleStatusDraft,
	}
	if err := db.Create(&schedule).Error; err != nil {
		t.Fatalf("failed to seed schedule: %v", err)
	}
	return &schedule, teacher.ID
}

// draftUnitMap builds one unit of a structured-output plan the way the model
// would return it.
func draftUnitMap(title, start, end string, difficulty int, confidence float64) map[string]interface{} {
	return map[string]interface{}{
		"title":            title,
		"description":      "Auto-planned unit",
		"start_date":       start,
		"end_date":         end,
		"estimated_weeks":  4,
		"difficulty_level": difficulty,
		"unit_type":        models.UnitTypeCore,
		"confidence":       confidence,
		"topics": []interface{}{
			map[string]interface{}{
				"name":                title + " topic",
				"subtopics":           []interface{}{},
				"concepts":            []interface{}{"concept-a", "concept-b"},
				"learning_objectives": []interface{}{"objective"},
			},
		},
	}
}

func planMap(units ...map[string]interface{}) map[string]interface{} {
	items := make([]interface{}, 0, len(units))
	for _, u := range units {
		items = append(items, u)
	}
	return map[string]interface{}{
		"units":                  items,
		"total_estimated_weeks":  len(units) * 4,
		"difficulty_progression": "gradual",
	}
}
