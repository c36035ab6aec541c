package services

import (
	"errors"
	"fmt"
	"time"

	"classplanner_go/models"

	"gorm.io/gorm"
)

const (
	// School year span bounds, inclusive, in days.
	MinYearSpanDays = 150
	MaxYearSpanDays = 365
)

// ScheduleService owns curriculum schedule lifecycle: creation, metadata
// updates, publishing and soft deletion. Unit sequencing lives in
// UnitSequencer; this service only revalidates unit date ranges when the
// school year itself moves.
type ScheduleService struct {
	db *gorm.DB
}

func NewScheduleService(db *gorm.DB) *ScheduleService {
	return &ScheduleService{db: db}
}

// CreateScheduleInput carries the writable schedule fields.
type CreateScheduleInput struct {
	ClassID         uint
	Title           string
	Description     string
	SchoolYearStart time.Time
	SchoolYearEnd   time.Time
	MeetingPattern  string
}

// UpdateScheduleInput is a field patch; nil pointers leave fields untouched.
type UpdateScheduleInput struct {
	Title           *string
	Description     *string
	SchoolYearStart *time.Time
	SchoolYearEnd   *time.Time
	MeetingPattern  *string
}

// ValidateYearSpan checks the school year range rules: start strictly before
// end and an inclusive span between 150 and 365 days.
func ValidateYearSpan(start, end time.Time) []string {
	var msgs []string
	if start.IsZero() || end.IsZero() {
		return append(msgs, "school_year_start and school_year_end are required")
	}
	if !start.Before(end) {
		return append(msgs, "school_year_start must be before school_year_end")
	}
	days := int(end.Sub(start).Hours()/24) + 1
	if days < MinYearSpanDays {
		msgs = append(msgs, fmt.Sprintf("school year span is %d days, minimum is %d", days, MinYearSpanDays))
	}
	if days > MaxYearSpanDays {
		msgs = append(msgs, fmt.Sprintf("school year span is %d days, maximum is %d", days, MaxYearSpanDays))
	}
	return msgs
}

// CreateSchedule creates a DRAFT schedule for a class the teacher owns.
func (s *ScheduleService) CreateSchedule(teacherID uint, in CreateScheduleInput) (*models.CurriculumSchedule, error) {
	if msgs := ValidateYearSpan(in.SchoolYearStart, in.SchoolYearEnd); len(msgs) > 0 {
		return nil, NewValidationError(msgs...)
	}
	if in.Title == "" {
		return nil, NewValidationError("title is required")
	}

	var class models.Class
	if err := s.db.First(&class, in.ClassID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "class", ID: in.ClassID}
		}
		return nil, err
	}
	if class.TeacherID != teacherID {
		return nil, &AuthorizationError{Reason: "only the owning teacher can create a schedule for this class"}
	}

	schedule := models.CurriculumSchedule{
		ClassID:         in.ClassID,
		TeacherID:       teacherID,
		Title:           in.Title,
		Description:     in.Description,
		SchoolYearStart: in.SchoolYearStart,
		SchoolYearEnd:   in.SchoolYearEnd,
		MeetingPattern:  in.MeetingPattern,
		Status:          models.ScheduleStatusDraft,
	}
	if err := s.db.Create(&schedule).Error; err != nil {
		return nil, err
	}
	return &schedule, nil
}

// GetSchedule loads a live schedule by id.
func (s *ScheduleService) GetSchedule(id uint) (*models.CurriculumSchedule, error) {
	var schedule models.CurriculumSchedule
	if err := s.db.First(&schedule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "schedule", ID: id}
		}
		return nil, err
	}
	return &schedule, nil
}

// GetScheduleUnits returns the live units of a schedule in sequence order.
func (s *ScheduleService) GetScheduleUnits(scheduleID uint) ([]models.CurriculumUnit, error) {
	var units []models.CurriculumUnit
	err := s.db.Where("schedule_id = ?", scheduleID).Order("order_index ASC").Find(&units).Error
	return units, err
}

// ListByClass returns all live schedules for a class, newest first.
func (s *ScheduleService) ListByClass(classID uint) ([]models.CurriculumSchedule, error) {
	var schedules []models.CurriculumSchedule
	err := s.db.Where("class_id = ?", classID).Order("created_at DESC").Find(&schedules).Error
	return schedules, err
}

// UpdateSchedule patches title/description/date range/meeting pattern.
// Moving the school year revalidates every live unit range; if any unit
// would fall outside the new year, nothing is written.
func (s *ScheduleService) UpdateSchedule(teacherID, id uint, in UpdateScheduleInput) (*models.CurriculumSchedule, error) {
	schedule, err := s.GetSchedule(id)
	if err != nil {
		return nil, err
	}
	if schedule.TeacherID != teacherID {
		return nil, &AuthorizationError{Reason: "only the owning teacher can update this schedule"}
	}

	newStart := schedule.SchoolYearStart
	newEnd := schedule.SchoolYearEnd
	if in.SchoolYearStart != nil {
		newStart = *in.SchoolYearStart
	}
	if in.SchoolYearEnd != nil {
		newEnd = *in.SchoolYearEnd
	}
	datesChanged := !newStart.Equal(schedule.SchoolYearStart) || !newEnd.Equal(schedule.SchoolYearEnd)

	if datesChanged {
		if msgs := ValidateYearSpan(newStart, newEnd); len(msgs) > 0 {
			return nil, NewValidationError(msgs...)
		}
		units, err := s.GetScheduleUnits(id)
		if err != nil {
			return nil, err
		}
		var msgs []string
		for _, u := range units {
			if u.StartDate.Before(newStart) || u.EndDate.After(newEnd) {
				msgs = append(msgs, fmt.Sprintf("unit %d (%s) would fall outside the new school year", u.UnitNumber, u.Title))
			}
		}
		if len(msgs) > 0 {
			return nil, NewValidationError(msgs...)
		}
	}

	if in.Title != nil {
		if *in.Title == "" {
			return nil, NewValidationError("title cannot be empty")
		}
		schedule.Title = *in.Title
	}
	if in.Description != nil {
		schedule.Description = *in.Description
	}
	if in.MeetingPattern != nil {
		schedule.MeetingPattern = *in.MeetingPattern
	}
	schedule.SchoolYearStart = newStart
	schedule.SchoolYearEnd = newEnd

	if err := s.db.Save(schedule).Error; err != nil {
		return nil, err
	}
	return schedule, nil
}

// PublishSchedule flips DRAFT to PUBLISHED and stamps publishedAt. Publishing
// an already-published schedule is an idempotent no-op. Archived schedules
// cannot be re-published.
func (s *ScheduleService) PublishSchedule(teacherID, id uint) (*models.CurriculumSchedule, error) {
	schedule, err := s.GetSchedule(id)
	if err != nil {
		return nil, err
	}
	if schedule.TeacherID != teacherID {
		return nil, &AuthorizationError{Reason: "only the owning teacher can publish this schedule"}
	}

	switch schedule.Status {
	case models.ScheduleStatusPublished:
		return schedule, nil
	case models.ScheduleStatusArchived:
		return nil, NewValidationError("archived schedules cannot be published")
	}

	now := time.Now()
	schedule.Status = models.ScheduleStatusPublished
	schedule.PublishedAt = &now
	if err := s.db.Save(schedule).Error; err != nil {
		return nil, err
	}
	return schedule, nil
}

// ArchiveSchedule moves a published schedule out of student view.
func (s *ScheduleService) ArchiveSchedule(teacherID, id uint) (*models.CurriculumSchedule, error) {
	schedule, err := s.GetSchedule(id)
	if err != nil {
		return nil, err
	}
	if schedule.TeacherID != teacherID {
		return nil, &AuthorizationError{Reason: "only the owning teacher can archive this schedule"}
	}
	if schedule.Status == models.ScheduleStatusArchived {
		return schedule, nil
	}

	schedule.Status = models.ScheduleStatusArchived
	if err := s.db.Save(schedule).Error; err != nil {
		return nil, err
	}
	return schedule, nil
}

// DeleteSchedule soft-deletes the schedule and all of its units in one
// transaction.
func (s *ScheduleService) DeleteSchedule(teacherID, id uint) error {
	schedule, err := s.GetSchedule(id)
	if err != nil {
		return err
	}
	if schedule.TeacherID != teacherID {
		return &AuthorizationError{Reason: "only the owning teacher can delete this schedule"}
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("schedule_id = ?", id).Delete(&models.CurriculumUnit{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.CurriculumSchedule{}, id).Error
	})
}
