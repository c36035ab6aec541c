package utils

import (
	"time"

	"classplanner_go/models"
)

// Compact representations used across APIs

type ScheduleDTO struct {
	ID              uint       `json:"id"`
	ClassID         uint       `json:"class_id"`
	TeacherID       uint       `json:"teacher_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	SchoolYearStart time.Time  `json:"school_year_start"`
	SchoolYearEnd   time.Time  `json:"school_year_end"`
	MeetingPattern  string     `json:"meeting_pattern,omitempty"`
	Status          string     `json:"status"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`

	// Derived
	TotalWeeks      int `json:"total_weeks"`
	TotalDays       int `json:"total_days"`
	TotalUnits      int `json:"total_units"`
	CompletedUnits  int `json:"completed_units"`
	PercentComplete int `json:"percent_complete"`

	Units []UnitDTO `json:"units,omitempty"`
}

type UnitDTO struct {
	ID              uint             `json:"id"`
	ScheduleID      uint             `json:"schedule_id"`
	UnitNumber      int              `json:"unit_number"`
	OrderIndex      int              `json:"order_index"`
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	StartDate       time.Time        `json:"start_date"`
	EndDate         time.Time        `json:"end_date"`
	EstimatedWeeks  int              `json:"estimated_weeks"`
	DifficultyLevel int              `json:"difficulty_level"`
	UnitType        string           `json:"unit_type"`
	Status          string           `json:"status"`
	Topics          []models.Topic   `json:"topics"`
	SubUnits        []models.SubUnit `json:"sub_units,omitempty"`
	AIGenerated     bool             `json:"ai_generated"`
	TeacherModified bool             `json:"teacher_modified"`
	AIConfidence    float64          `json:"ai_confidence,omitempty"`
}

type UnitProgressDTO struct {
	ID                   uint       `json:"id"`
	UnitID               uint       `json:"unit_id"`
	StudentID            uint       `json:"student_id"`
	Status               string     `json:"status"`
	AssignmentsCompleted int        `json:"assignments_completed"`
	AssignmentsTotal     int        `json:"assignments_total"`
	AssignmentsScore     float64    `json:"assignments_score"`
	ConceptsMastered     int        `json:"concepts_mastered"`
	ConceptsTotal        int        `json:"concepts_total"`
	PercentComplete      int        `json:"percent_complete"`
	MasteryPercentage    int        `json:"mastery_percentage"`
	TimeSpentMinutes     int        `json:"time_spent_minutes"`
	ParticipationCount   int        `json:"participation_count"`
	EngagementScore      int        `json:"engagement_score"`
	Strengths            []string   `json:"strengths"`
	Struggles            []string   `json:"struggles"`
	RecommendedReview    []string   `json:"recommended_review"`
	FirstAccessedAt      *time.Time `json:"first_accessed_at,omitempty"`
	LastAccessedAt       *time.Time `json:"last_accessed_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

type SuggestionDTO struct {
	SuggestionID   string `json:"suggestion_id"`
	ScheduleID     uint   `json:"schedule_id"`
	UnitID         *uint  `json:"unit_id,omitempty"`
	TargetTitle    string `json:"target_title,omitempty"`
	FieldName      string `json:"field_name"`
	CurrentValue   string `json:"current_value"`
	SuggestedValue string `json:"suggested_value"`
	Rationale      string `json:"rationale,omitempty"`
	Status         string `json:"status"`
}

// ToUnitDTO maps a unit row, decoding the denormalized JSON columns.
func ToUnitDTO(u models.CurriculumUnit) UnitDTO {
	return UnitDTO{
		ID:              u.ID,
		ScheduleID:      u.ScheduleID,
		UnitNumber:      u.UnitNumber,
		OrderIndex:      u.OrderIndex,
		Title:           u.Title,
		Description:     u.Description,
		StartDate:       u.StartDate,
		EndDate:         u.EndDate,
		EstimatedWeeks:  u.EstimatedWeeks,
		DifficultyLevel: u.DifficultyLevel,
		UnitType:        u.UnitType,
		Status:          u.Status,
		Topics:          u.TopicList(),
		SubUnits:        u.SubUnitList(),
		AIGenerated:     u.AIGenerated,
		TeacherModified: u.TeacherModified,
		AIConfidence:    u.AIConfidence,
	}
}

// ToScheduleDTO maps a schedule row plus its (already loaded) live units.
// Derived completion fields are computed here so they can never drift from
// the unit rows.
func ToScheduleDTO(s models.CurriculumSchedule, units []models.CurriculumUnit, includeUnits bool) ScheduleDTO {
	dto := ScheduleDTO{
		ID:              s.ID,
		ClassID:         s.ClassID,
		TeacherID:       s.TeacherID,
		Title:           s.Title,
		Description:     s.Description,
		SchoolYearStart: s.SchoolYearStart,
		SchoolYearEnd:   s.SchoolYearEnd,
		MeetingPattern:  s.MeetingPattern,
		Status:          s.Status,
		PublishedAt:     s.PublishedAt,
		TotalWeeks:      s.TotalWeeks(),
		TotalDays:       s.TotalDays(),
		TotalUnits:      len(units),
	}
	for _, u := range units {
		if u.Status == models.UnitStatusCompleted {
			dto.CompletedUnits++
		}
	}
	if dto.TotalUnits > 0 {
		dto.PercentComplete = (dto.CompletedUnits*100 + dto.TotalUnits/2) / dto.TotalUnits
	}
	if includeUnits {
		dto.Units = make([]UnitDTO, 0, len(units))
		for _, u := range units {
			dto.Units = append(dto.Units, ToUnitDTO(u))
		}
	}
	return dto
}

// ToUnitProgressDTO maps a progress row, decoding the insight lists.
func ToUnitProgressDTO(p models.UnitProgress) UnitProgressDTO {
	return UnitProgressDTO{
		ID:                   p.ID,
		UnitID:               p.UnitID,
		StudentID:            p.StudentID,
		Status:               p.Status,
		AssignmentsCompleted: p.AssignmentsCompleted,
		AssignmentsTotal:     p.AssignmentsTotal,
		AssignmentsScore:     p.AssignmentsScore,
		ConceptsMastered:     p.ConceptsMastered,
		ConceptsTotal:        p.ConceptsTotal,
		PercentComplete:      p.PercentComplete,
		MasteryPercentage:    p.MasteryPercentage,
		TimeSpentMinutes:     p.TimeSpentMinutes,
		ParticipationCount:   p.ParticipationCount,
		EngagementScore:      p.EngagementScore,
		Strengths:            models.StringList(p.Strengths),
		Struggles:            models.StringList(p.Struggles),
		RecommendedReview:    models.StringList(p.RecommendedReview),
		FirstAccessedAt:      p.FirstAccessedAt,
		LastAccessedAt:       p.LastAccessedAt,
		CompletedAt:          p.CompletedAt,
	}
}

// ToSuggestionDTO maps a pending AI suggestion.
func ToSuggestionDTO(s models.AISuggestion) SuggestionDTO {
	return SuggestionDTO{
		SuggestionID:   s.SuggestionID,
		ScheduleID:     s.ScheduleID,
		UnitID:         s.UnitID,
		TargetTitle:    s.TargetTitle,
		FieldName:      s.FieldName,
		CurrentValue:   s.CurrentValue,
		SuggestedValue: s.SuggestedValue,
		Rationale:      s.Rationale,
		Status:         s.Status,
	}
}
