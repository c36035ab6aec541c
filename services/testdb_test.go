package services

import (
	"testing"
	"time"

	"classplanner_go/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

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
		&models.ClassEnrollment{},
		&models.CurriculumSchedule{},
		&models.CurriculumUnit{},
		&models.UnitProgress{},
		&models.ProgressSignal{},
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

func seedTeacherAndClass(t *testing.T, db *gorm.DB) (models.User, models.Class) {
	t.Helper()

	teacher := models.User{Username: "teacher1", Password: "x", Email: "t1@example.com", Role: "teacher", Status: "active"}
	if err := db.Create(&teacher).Error; err != nil {
		t.Fatalf("failed to seed teacher: %v", err)
	}
	class := models.Class{Name: "Algebra I", TeacherID: teacher.ID, Subject: "math", Active: true}
	if err := db.Create(&class).Error; err != nil {
		t.Fatalf("failed to seed class: %v", err)
	}
	return teacher, class
}

func seedSchedule(t *testing.T, db *gorm.DB, teacherID, classID uint) *models.CurriculumSchedule {
	t.Helper()

	schedule := models.CurriculumSchedule{
		ClassID:         classID,
		TeacherID:       teacherID,
		Title:           "Algebra I 2026-27",
		SchoolYearStart: date(2026, time.August, 24),
		SchoolYearEnd:   date(2027, time.June, 11),
		MeetingPattern:  "MWF",
		Status:          models.ScheduleStatusDraft,
	}
	if err := db.Create(&schedule).Error; err != nil {
		t.Fatalf("failed to seed schedule: %v", err)
	}
	return &schedule
}
