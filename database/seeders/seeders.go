package seeders

import (
	"log"
	"time"

	"classplanner_go/database"
	"classplanner_go/models"
	"classplanner_go/utils"
)

// SeedAll runs all seeders
func SeedAll() {
	log.Println("Starting database seeding...")

	SeedUsers()
	SeedClasses()
	SeedSchedules()

	log.Println("Database seeding completed successfully!")
}

// SeedUsers seeds an admin, one teacher and two students
func SeedUsers() {
	var count int64
	database.DB.Model(&models.User{}).Count(&count)
	if count > 0 {
		log.Println("Users already seeded, skipping...")
		return
	}

	password, err := utils.HashPassword("changeme123")
	if err != nil {
		log.Printf("Failed to hash seed password: %v", err)
		return
	}

	users := []models.User{
		{Username: "admin", Password: password, Email: "admin@classplanner.local", Role: "admin", Status: "active"},
		{Username: "mrs.harper", Password: password, Email: "harper@classplanner.local", Role: "teacher", Status: "active"},
		{Username: "jamie.l", Password: password, Email: "jamie@classplanner.local", Role: "student", Status: "active"},
		{Username: "sam.k", Password: password, Email: "sam@classplanner.local", Role: "student", Status: "active"},
	}

	if err := database.DB.Create(&users).Error; err != nil {
		log.Printf("Failed to seed users: %v", err)
		return
	}
	log.Printf("Seeded %d users", len(users))
}

// SeedClasses seeds one demo class with both students enrolled
func SeedClasses() {
	var count int64
	database.DB.Model(&models.Class{}).Count(&count)
	if count > 0 {
		log.Println("Classes already seeded, skipping...")
		return
	}

	var teacher models.User
	if err := database.DB.Where("role = ?", "teacher").First(&teacher).Error; err != nil {
		log.Printf("Failed to find seed teacher: %v", err)
		return
	}

	class := models.Class{
		Name:        "Algebra I - Period 3",
		Description: "First-year algebra",
		TeacherID:   teacher.ID,
		GradeLevel:  "9",
		Subject:     "Mathematics",
		Active:      true,
	}
	if err := database.DB.Create(&class).Error; err != nil {
		log.Printf("Failed to seed class: %v", err)
		return
	}

	var students []models.User
	database.DB.Where("role = ?", "student").Find(&students)
	for _, s := range students {
		enrollment := models.ClassEnrollment{ClassID: class.ID, StudentID: s.ID, Status: "enrolled"}
		if err := database.DB.Create(&enrollment).Error; err != nil {
			log.Printf("Failed to seed enrollment for student %d: %v", s.ID, err)
		}
	}
	log.Println("Seeded demo class and enrollments")
}

// SeedSchedules seeds a draft schedule with two manually authored units
func SeedSchedules() {
	var count int64
	database.DB.Model(&models.CurriculumSchedule{}).Count(&count)
	if count > 0 {
		log.Println("Schedules already seeded, skipping...")
		return
	}

	var class models.Class
	if err := database.DB.First(&class).Error; err != nil {
		log.Printf("Failed to find seed class: %v", err)
		return
	}

	schedule := models.CurriculumSchedule{
		ClassID:         class.ID,
		TeacherID:       class.TeacherID,
		Title:           "Algebra I 2026-2027",
		Description:     "Full-year algebra sequence",
		SchoolYearStart: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		SchoolYearEnd:   time.Date(2027, 6, 15, 0, 0, 0, 0, time.UTC),
		MeetingPattern:  "daily",
		Status:          models.ScheduleStatusDraft,
	}
	if err := database.DB.Create(&schedule).Error; err != nil {
		log.Printf("Failed to seed schedule: %v", err)
		return
	}

	units := []models.CurriculumUnit{
		{
			ScheduleID: schedule.ID,
			UnitNumber: 1,
			OrderIndex: 0,
			Title:      "Foundations of Algebra",
			StartDate:  time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
			EndDate:    time.Date(2026, 10, 9, 0, 0, 0, 0, time.UTC),

			EstimatedWeeks:  6,
			DifficultyLevel: 2,
			UnitType:        models.UnitTypeCore,
			Status:          models.UnitStatusScheduled,
			Topics: models.MarshalToJSON([]models.Topic{
				{
					Name:     "Expressions and Variables",
					Concepts: []string{"variables", "order of operations", "evaluating expressions"},
					LearningObjectives: []string{
						"Translate verbal phrases into algebraic expressions",
						"Evaluate expressions for given variable values",
					},
				},
			}),
		},
		{
			ScheduleID: schedule.ID,
			UnitNumber: 2,
			OrderIndex: 1,
			Title:      "Solving Linear Equations",
			StartDate:  time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC),
			EndDate:    time.Date(2026, 11, 20, 0, 0, 0, 0, time.UTC),

			EstimatedWeeks:  6,
			DifficultyLevel: 3,
			UnitType:        models.UnitTypeCore,
			Status:          models.UnitStatusScheduled,
			Topics: models.MarshalToJSON([]models.Topic{
				{
					Name:     "One- and Two-Step Equations",
					Concepts: []string{"inverse operations", "balancing equations", "multi-step equations"},
					LearningObjectives: []string{
						"Solve linear equations in one variable",
					},
				},
			}),
		},
	}
	if err := database.DB.Create(&units).Error; err != nil {
		log.Printf("Failed to seed units: %v", err)
		return
	}
	log.Println("Seeded demo schedule with units")
}
