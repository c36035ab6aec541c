package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// JSON field type for GORM
type JSON []byte

func (j JSON) Value() (driver.Value, error) {
	if j.IsNull() {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
	case string:
		*j = append((*j)[0:0], v...)
	}
	return nil
}

func (j JSON) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSON) UnmarshalJSON(data []byte) error {
	if j == nil {
		return nil
	}
	*j = append((*j)[0:0], data...)
	return nil
}

func (j JSON) IsNull() bool {
	return len(j) == 0 || string(j) == "null"
}

// MarshalToJSON encodes any value into the JSON column type.
func MarshalToJSON(v interface{}) JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// Schedule statuses
const (
	ScheduleStatusDraft     = "draft"
	ScheduleStatusPublished = "published"
	ScheduleStatusArchived  = "archived"
)

// Unit types
const (
	UnitTypeCore       = "core"
	UnitTypeEnrichment = "enrichment"
	UnitTypeReview     = "review"
	UnitTypeAssessment = "assessment"
	UnitTypeProject    = "project"
	UnitTypeOptional   = "optional"
)

// Unit statuses
const (
	UnitStatusScheduled  = "scheduled"
	UnitStatusInProgress = "in_progress"
	UnitStatusCompleted  = "completed"
	UnitStatusSkipped    = "skipped"
	UnitStatusPostponed  = "postponed"
)

// Per-student progress statuses
const (
	ProgressStatusNotStarted   = "not_started"
	ProgressStatusInProgress   = "in_progress"
	ProgressStatusReviewNeeded = "review_needed"
	ProgressStatusCompleted    = "completed"
	ProgressStatusMastered     = "mastered"
)

// Progress signal kinds
const (
	SignalAssignment    = "assignment"
	SignalConcept       = "concept"
	SignalTime          = "time"
	SignalParticipation = "participation"
)

// Suggestion statuses
const (
	SuggestionPending  = "pending"
	SuggestionApplied  = "applied"
	SuggestionRejected = "rejected"
)

// User model
type User struct {
	BaseModel
	Username string `json:"username" gorm:"size:100;not null;uniqueIndex"`
	Password string `json:"-" gorm:"size:255;not null"`
	Email    string `json:"email" gorm:"size:255;uniqueIndex"`
	Role     string `json:"role" gorm:"size:50;not null;default:'student'"`  // owner, admin, teacher, student
	Status   string `json:"status" gorm:"size:50;not null;default:'active'"` // active, inactive, suspended
}

// Class model - a group of enrolled students taught by one teacher
type Class struct {
	BaseModel
	Name        string `json:"name" gorm:"size:255;not null"`
	Description string `json:"description" gorm:"type:text"`
	TeacherID   uint   `json:"teacher_id" gorm:"not null;index"`
	GradeLevel  string `json:"grade_level" gorm:"size:50"`
	Subject     string `json:"subject" gorm:"size:100"`
	Active      bool   `json:"active" gorm:"default:true"`

	// Relationships
	Teacher     User              `json:"teacher,omitempty" gorm:"foreignKey:TeacherID"`
	Enrollments []ClassEnrollment `json:"enrollments,omitempty" gorm:"foreignKey:ClassID"`
}

type ClassEnrollment struct {
	BaseModel
	ClassID   uint   `json:"class_id" gorm:"not null;index:idx_class_student,unique"`
	StudentID uint   `json:"student_id" gorm:"not null;index:idx_class_student,unique"`
	Status    string `json:"status" gorm:"size:50;default:'enrolled'"` // enrolled, completed, dropped

	// Relationships
	Class   Class `json:"class,omitempty" gorm:"foreignKey:ClassID"`
	Student User  `json:"student,omitempty" gorm:"foreignKey:StudentID"`
}

// CurriculumSchedule - a year-long curriculum plan for one class.
// Week/day totals and completion percentages are derived on read, never stored.
type CurriculumSchedule struct {
	BaseModel
	ClassID         uint       `json:"class_id" gorm:"not null;index"`
	TeacherID       uint       `json:"teacher_id" gorm:"not null;index"`
	Title           string     `json:"title" gorm:"size:255;not null"`
	Description     string     `json:"description" gorm:"type:text"`
	SchoolYearStart time.Time  `json:"school_year_start" gorm:"not null"`
	SchoolYearEnd   time.Time  `json:"school_year_end" gorm:"not null"`
	MeetingPattern  string     `json:"meeting_pattern" gorm:"size:100"`                 // e.g. "daily", "mon-wed-fri"
	Status          string     `json:"status" gorm:"size:50;not null;default:'draft'"` // draft, published, archived
	PublishedAt     *time.Time `json:"published_at"`
	// SequenceVersion increments on every unit sequence mutation and backs
	// the optimistic conflict check for concurrent reorders.
	SequenceVersion uint `json:"sequence_version" gorm:"not null;default:0"`

	// Relationships
	Class   Class            `json:"class,omitempty" gorm:"foreignKey:ClassID"`
	Teacher User             `json:"teacher,omitempty" gorm:"foreignKey:TeacherID"`
	Units   []CurriculumUnit `json:"units,omitempty" gorm:"foreignKey:ScheduleID"`
}

// TotalDays returns the inclusive length of the school year span.
func (s *CurriculumSchedule) TotalDays() int {
	return int(s.SchoolYearEnd.Sub(s.SchoolYearStart).Hours()/24) + 1
}

// TotalWeeks rounds the span up to whole weeks.
func (s *CurriculumSchedule) TotalWeeks() int {
	return (s.TotalDays() + 6) / 7
}

// Topic is denormalized unit content stored in the units.topics JSON column.
type Topic struct {
	Name               string   `json:"name"`
	Subtopics          []string `json:"subtopics,omitempty"`
	Concepts           []string `json:"concepts,omitempty"`
	LearningObjectives []string `json:"learning_objectives,omitempty"`
}

// SubUnit is a finer-grained teachable chunk used for targeted assignment generation.
type SubUnit struct {
	Title      string   `json:"title"`
	Concepts   []string `json:"concepts,omitempty"`
	Objectives []string `json:"objectives,omitempty"`
}

// CurriculumUnit - a contiguous, dated block of instruction within a schedule.
// UnitNumber is the stable user-facing identifier assigned once at creation;
// OrderIndex is the mutable position and must stay a contiguous 0..N-1
// permutation across the schedule's live units.
type CurriculumUnit struct {
	BaseModel
	ScheduleID      uint      `json:"schedule_id" gorm:"not null;index"`
	UnitNumber      int       `json:"unit_number" gorm:"not null"`
	OrderIndex      int       `json:"order_index" gorm:"not null"`
	Title           string    `json:"title" gorm:"size:255;not null"`
	Description     string    `json:"description" gorm:"type:text"`
	StartDate       time.Time `json:"start_date" gorm:"not null"`
	EndDate         time.Time `json:"end_date" gorm:"not null"`
	EstimatedWeeks  int       `json:"estimated_weeks"`
	DifficultyLevel int       `json:"difficulty_level" gorm:"default:3"`         // 1..5
	UnitType        string    `json:"unit_type" gorm:"size:50;default:'core'"`   // core, enrichment, review, assessment, project, optional
	Status          string    `json:"status" gorm:"size:50;default:'scheduled'"` // scheduled, in_progress, completed, skipped, postponed
	Topics          JSON      `json:"topics" gorm:"type:json"`
	SubUnits        JSON      `json:"sub_units" gorm:"type:json"`

	// Provenance
	AIGenerated     bool    `json:"ai_generated" gorm:"default:false"`
	TeacherModified bool    `json:"teacher_modified" gorm:"default:false"`
	AIConfidence    float64 `json:"ai_confidence" gorm:"default:0"`

	// Relationships
	Schedule CurriculumSchedule `json:"schedule,omitempty" gorm:"foreignKey:ScheduleID"`
}

// TopicList decodes the topics JSON column.
func (u *CurriculumUnit) TopicList() []Topic {
	var topics []Topic
	if u.Topics.IsNull() {
		return topics
	}
	_ = json.Unmarshal(u.Topics, &topics)
	return topics
}

// SubUnitList decodes the sub_units JSON column.
func (u *CurriculumUnit) SubUnitList() []SubUnit {
	var subs []SubUnit
	if u.SubUnits.IsNull() {
		return subs
	}
	_ = json.Unmarshal(u.SubUnits, &subs)
	return subs
}

// ConceptNames returns the distinct concept names across all topics, in
// order of first appearance.
func (u *CurriculumUnit) ConceptNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, topic := range u.TopicList() {
		for _, concept := range topic.Concepts {
			if _, ok := seen[concept]; ok {
				continue
			}
			seen[concept] = struct{}{}
			names = append(names, concept)
		}
	}
	return names
}

// AllowsOverlap reports whether this unit may share dates with other units.
func (u *CurriculumUnit) AllowsOverlap() bool {
	return u.UnitType == UnitTypeEnrichment || u.UnitType == UnitTypeOptional
}

// UnitProgress - per student x unit progress record. Created lazily on the
// first signal for the pair and mutated only by the progress aggregator.
type UnitProgress struct {
	BaseModel
	UnitID    uint `json:"unit_id" gorm:"not null;index:idx_unit_student,unique"`
	StudentID uint `json:"student_id" gorm:"not null;index:idx_unit_student,unique"`

	Status               string  `json:"status" gorm:"size:50;not null;default:'not_started'"` // not_started, in_progress, review_needed, completed, mastered
	AssignmentsCompleted int     `json:"assignments_completed"`
	AssignmentsTotal     int     `json:"assignments_total"`
	AssignmentsScore     float64 `json:"assignments_score"`
	ConceptsMastered     int     `json:"concepts_mastered"`
	ConceptsTotal        int     `json:"concepts_total"`
	PercentComplete      int     `json:"percent_complete"`
	MasteryPercentage    int     `json:"mastery_percentage"`
	TimeSpentMinutes     int     `json:"time_spent_minutes"`
	ParticipationCount   int     `json:"participation_count"`
	EngagementScore      int     `json:"engagement_score"`

	Strengths         JSON `json:"strengths" gorm:"type:json"`
	Struggles         JSON `json:"struggles" gorm:"type:json"`
	RecommendedReview JSON `json:"recommended_review" gorm:"type:json"`

	FirstAccessedAt *time.Time `json:"first_accessed_at"`
	LastAccessedAt  *time.Time `json:"last_accessed_at"`
	CompletedAt     *time.Time `json:"completed_at"`

	// Relationships
	Unit    CurriculumUnit `json:"unit,omitempty" gorm:"foreignKey:UnitID"`
	Student User           `json:"student,omitempty" gorm:"foreignKey:StudentID"`
}

// StringList decodes a JSON column holding a plain string array.
func StringList(j JSON) []string {
	var out []string
	if j.IsNull() {
		return out
	}
	_ = json.Unmarshal(j, &out)
	return out
}

// ProgressSignal - append-only raw signal pushed from the assignment and
// engagement systems. UnitProgress is always a full recompute over these
// rows, never an incremental delta, so recalculation stays idempotent.
type ProgressSignal struct {
	BaseModel
	UnitID        uint      `json:"unit_id" gorm:"not null;index:idx_signal_unit_student"`
	StudentID     uint      `json:"student_id" gorm:"not null;index:idx_signal_unit_student"`
	Kind          string    `json:"kind" gorm:"size:50;not null"` // assignment, concept, time, participation
	AssignmentRef string    `json:"assignment_ref" gorm:"size:255"`
	ConceptName   string    `json:"concept_name" gorm:"size:255"`
	Completed     bool      `json:"completed"`
	Mastered      bool      `json:"mastered"`
	Score         float64   `json:"score"`
	Minutes       int       `json:"minutes"`
	OccurredAt    time.Time `json:"occurred_at" gorm:"not null;index"`
}

// AIChatMessage - one turn of a refinement conversation over a schedule.
type AIChatMessage struct {
	BaseModel
	ScheduleID uint   `json:"schedule_id" gorm:"not null;index"`
	UserID     uint   `json:"user_id" gorm:"not null"`
	Role       string `json:"role" gorm:"size:20;not null"` // user, assistant
	Content    string `json:"content" gorm:"type:text;not null"`
}

// AISuggestion - a proposed field-level edit held until the teacher applies
// or rejects it. Application goes through the normal update paths so the
// same validation runs as for any human edit.
type AISuggestion struct {
	BaseModel
	SuggestionID   string `json:"suggestion_id" gorm:"size:36;not null;uniqueIndex"`
	ScheduleID     uint   `json:"schedule_id" gorm:"not null;index"`
	UnitID         *uint  `json:"unit_id"`
	TargetTitle    string `json:"target_title" gorm:"size:255"`
	FieldName      string `json:"field_name" gorm:"size:100;not null"`
	CurrentValue   string `json:"current_value" gorm:"type:text"`
	SuggestedValue string `json:"suggested_value" gorm:"type:text"`
	Rationale      string `json:"rationale" gorm:"type:text"`
	Status         string `json:"status" gorm:"size:50;not null;default:'pending'"` // pending, applied, rejected
}

// Log model for activity tracking
type ActivityLog struct {
	BaseModel
	UserID     uint   `json:"user_id"`
	Action     string `json:"action" gorm:"size:100;not null"`
	Resource   string `json:"resource" gorm:"size:100;not null"`
	ResourceID uint   `json:"resource_id"`
	Details    JSON   `json:"details" gorm:"type:json"`
	IPAddress  string `json:"ip_address" gorm:"size:45"`
	UserAgent  string `json:"user_agent" gorm:"size:500"`

	// Relationships
	User User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

// Notification model
type Notification struct {
	BaseModel
	UserID  uint       `json:"user_id" gorm:"not null"`
	Title   string     `json:"title" gorm:"size:255;not null"`
	Message string     `json:"message" gorm:"type:text;not null"`
	Type    string     `json:"type" gorm:"size:50;not null"` // info, warning, error, success
	Read    bool       `json:"read" gorm:"default:false"`
	ReadAt  *time.Time `json:"read_at"`

	// Relationships
	User User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

// LogArchive model for tracking archived logs
type LogArchive struct {
	BaseModel
	FileName    string    `json:"file_name" gorm:"size:255;not null"`
	S3Key       string    `json:"s3_key" gorm:"size:500;not null"`
	StartDate   time.Time `json:"start_date" gorm:"not null"`
	EndDate     time.Time `json:"end_date" gorm:"not null"`
	RecordCount int       `json:"record_count" gorm:"not null"`
	FileSize    int64     `json:"file_size" gorm:"not null"`
	Status      string    `json:"status" gorm:"size:50;not null;default:'pending'"` // pending, completed, failed
	Error       string    `json:"error" gorm:"type:text"`
}
