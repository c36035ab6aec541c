package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"classplanner_go/models"

	"gorm.io/gorm"
)

// UnitSequencer owns orderIndex and date-range consistency across a
// schedule's units. Every write runs inside a per-schedule critical section
// (keyed mutex + transaction) so concurrent reorders, creates and deletes
// cannot interleave and corrupt the 0..N-1 permutation.
type UnitSequencer struct {
	db    *gorm.DB
	locks sync.Map // scheduleID -> *sync.Mutex
}

func NewUnitSequencer(db *gorm.DB) *UnitSequencer {
	return &UnitSequencer{db: db}
}

func (sq *UnitSequencer) lock(scheduleID uint) func() {
	m, _ := sq.locks.LoadOrStore(scheduleID, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CreateUnitInput carries the writable unit fields.
type CreateUnitInput struct {
	ScheduleID      uint
	Title           string
	Description     string
	StartDate       time.Time
	EndDate         time.Time
	EstimatedWeeks  int
	DifficultyLevel int
	UnitType        string
	Topics          []models.Topic
	SubUnits        []models.SubUnit

	// Provenance, set by the AI generation path only.
	AIGenerated  bool
	AIConfidence float64
}

// UpdateUnitInput is a field patch; nil pointers leave fields untouched.
type UpdateUnitInput struct {
	Title           *string
	Description     *string
	StartDate       *time.Time
	EndDate         *time.Time
	EstimatedWeeks  *int
	DifficultyLevel *int
	UnitType        *string
	Status          *string
	Topics          []models.Topic
	SubUnits        []models.SubUnit
}

// ReorderItem names one unit's new position and optional date shift.
type ReorderItem struct {
	UnitID     uint       `json:"unit_id"`
	OrderIndex int        `json:"order_index"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
}

var validUnitTypes = map[string]bool{
	models.UnitTypeCore:       true,
	models.UnitTypeEnrichment: true,
	models.UnitTypeReview:     true,
	models.UnitTypeAssessment: true,
	models.UnitTypeProject:    true,
	models.UnitTypeOptional:   true,
}

var validUnitStatuses = map[string]bool{
	models.UnitStatusScheduled:  true,
	models.UnitStatusInProgress: true,
	models.UnitStatusCompleted:  true,
	models.UnitStatusSkipped:    true,
	models.UnitStatusPostponed:  true,
}

// ValidateUnitWindow checks a unit's dates against its schedule's year.
func ValidateUnitWindow(start, end time.Time, yearStart, yearEnd time.Time) []string {
	var msgs []string
	if start.IsZero() || end.IsZero() {
		return append(msgs, "start_date and end_date are required")
	}
	if end.Before(start) {
		msgs = append(msgs, "end_date must not be before start_date")
	}
	if start.Before(yearStart) || end.After(yearEnd) {
		msgs = append(msgs, fmt.Sprintf("unit window %s..%s falls outside the school year %s..%s",
			start.Format("2006-01-02"), end.Format("2006-01-02"),
			yearStart.Format("2006-01-02"), yearEnd.Format("2006-01-02")))
	}
	return msgs
}

// windowsOverlap reports whether two inclusive date ranges intersect.
func windowsOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !bStart.After(aEnd)
}

// CheckOverlap returns the titles of sibling units whose windows collide with
// the candidate window. Enrichment and optional units may overlap anything.
func CheckOverlap(candidateStart, candidateEnd time.Time, candidateType string, candidateID uint, siblings []models.CurriculumUnit) []string {
	if candidateType == models.UnitTypeEnrichment || candidateType == models.UnitTypeOptional {
		return nil
	}
	var msgs []string
	for _, sib := range siblings {
		if sib.ID == candidateID || sib.AllowsOverlap() {
			continue
		}
		if windowsOverlap(candidateStart, candidateEnd, sib.StartDate, sib.EndDate) {
			msgs = append(msgs, fmt.Sprintf("dates overlap unit %d (%s)", sib.UnitNumber, sib.Title))
		}
	}
	return msgs
}

// ValidatePermutation checks that items name every live unit exactly once
// with order indexes forming exactly {0..N-1}. Returned messages distinguish
// the three failure modes: unknown unit, incomplete ordering, duplicate or
// out-of-range index.
func ValidatePermutation(items []ReorderItem, live []models.CurriculumUnit) []string {
	var msgs []string
	liveByID := make(map[uint]bool, len(live))
	for _, u := range live {
		liveByID[u.ID] = true
	}

	seenUnit := make(map[uint]bool, len(items))
	seenIndex := make(map[int]bool, len(items))
	for _, item := range items {
		if !liveByID[item.UnitID] {
			msgs = append(msgs, fmt.Sprintf("unit %d does not belong to this schedule", item.UnitID))
			continue
		}
		if seenUnit[item.UnitID] {
			msgs = append(msgs, fmt.Sprintf("unit %d appears more than once", item.UnitID))
		}
		seenUnit[item.UnitID] = true

		if item.OrderIndex < 0 || item.OrderIndex >= len(live) {
			msgs = append(msgs, fmt.Sprintf("order_index %d is outside 0..%d", item.OrderIndex, len(live)-1))
			continue
		}
		if seenIndex[item.OrderIndex] {
			msgs = append(msgs, fmt.Sprintf("duplicate order_index %d", item.OrderIndex))
		}
		seenIndex[item.OrderIndex] = true
	}
	if len(seenUnit) != len(live) {
		msgs = append(msgs, fmt.Sprintf("reorder must name every unit exactly once: got %d of %d", len(seenUnit), len(live)))
	}
	return msgs
}

func (sq *UnitSequencer) loadSchedule(tx *gorm.DB, scheduleID uint) (*models.CurriculumSchedule, error) {
	var schedule models.CurriculumSchedule
	if err := tx.First(&schedule, scheduleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "schedule", ID: scheduleID}
		}
		return nil, err
	}
	return &schedule, nil
}

func (sq *UnitSequencer) liveUnits(tx *gorm.DB, scheduleID uint) ([]models.CurriculumUnit, error) {
	var units []models.CurriculumUnit
	err := tx.Where("schedule_id = ?", scheduleID).Order("order_index ASC").Find(&units).Error
	return units, err
}

func bumpSequenceVersion(tx *gorm.DB, scheduleID uint) error {
	return tx.Model(&models.CurriculumSchedule{}).Where("id = ?", scheduleID).
		UpdateColumn("sequence_version", gorm.Expr("sequence_version + 1")).Error
}

// CreateUnit appends a unit to the schedule's sequence. The unit number is
// max+1 over every unit ever created for the schedule, soft-deleted included,
// so numbers are never recycled; the order index is the current live count.
func (sq *UnitSequencer) CreateUnit(teacherID uint, in CreateUnitInput) (*models.CurriculumUnit, error) {
	unlock := sq.lock(in.ScheduleID)
	defer unlock()

	var created *models.CurriculumUnit
	err := sq.db.Transaction(func(tx *gorm.DB) error {
		schedule, err := sq.loadSchedule(tx, in.ScheduleID)
		if err != nil {
			return err
		}
		if schedule.TeacherID != teacherID {
			return &AuthorizationError{Reason: "only the owning teacher can add units to this schedule"}
		}

		if in.Title == "" {
			return NewValidationError("title is required")
		}
		unitType := in.UnitType
		if unitType == "" {
			unitType = models.UnitTypeCore
		}
		if !validUnitTypes[unitType] {
			return NewValidationError(fmt.Sprintf("unknown unit_type %q", unitType))
		}
		if in.DifficultyLevel != 0 && (in.DifficultyLevel < 1 || in.DifficultyLevel > 5) {
			return NewValidationError("difficulty_level must be between 1 and 5")
		}

		msgs := ValidateUnitWindow(in.StartDate, in.EndDate, schedule.SchoolYearStart, schedule.SchoolYearEnd)
		live, err := sq.liveUnits(tx, in.ScheduleID)
		if err != nil {
			return err
		}
		msgs = append(msgs, CheckOverlap(in.StartDate, in.EndDate, unitType, 0, live)...)
		if len(msgs) > 0 {
			return NewValidationError(msgs...)
		}

		// Unit numbers are never reused, so look across soft-deleted rows too.
		var maxNumber int
		if err := tx.Unscoped().Model(&models.CurriculumUnit{}).
			Where("schedule_id = ?", in.ScheduleID).
			Select("COALESCE(MAX(unit_number), 0)").Scan(&maxNumber).Error; err != nil {
			return err
		}

		difficulty := in.DifficultyLevel
		if difficulty == 0 {
			difficulty = 3
		}

		unit := models.CurriculumUnit{
			ScheduleID:      in.ScheduleID,
			UnitNumber:      maxNumber + 1,
			OrderIndex:      len(live),
			Title:           in.Title,
			Description:     in.Description,
			StartDate:       in.StartDate,
			EndDate:         in.EndDate,
			EstimatedWeeks:  in.EstimatedWeeks,
			DifficultyLevel: difficulty,
			UnitType:        unitType,
			Status:          models.UnitStatusScheduled,
			Topics:          models.MarshalToJSON(in.Topics),
			SubUnits:        models.MarshalToJSON(in.SubUnits),
			AIGenerated:     in.AIGenerated,
			AIConfidence:    in.AIConfidence,
		}
		if err := tx.Create(&unit).Error; err != nil {
			return err
		}
		if err := bumpSequenceVersion(tx, in.ScheduleID); err != nil {
			return err
		}
		created = &unit
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetUnit loads a live unit by id.
func (sq *UnitSequencer) GetUnit(id uint) (*models.CurriculumUnit, error) {
	var unit models.CurriculumUnit
	if err := sq.db.First(&unit, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "unit", ID: id}
		}
		return nil, err
	}
	return &unit, nil
}

// UpdateUnit patches unit fields. Date changes revalidate the schedule bounds
// and the overlap policy. A teacher touching an AI-generated unit marks it
// teacher_modified.
func (sq *UnitSequencer) UpdateUnit(teacherID, unitID uint, in UpdateUnitInput) (*models.CurriculumUnit, error) {
	unit, err := sq.GetUnit(unitID)
	if err != nil {
		return nil, err
	}

	unlock := sq.lock(unit.ScheduleID)
	defer unlock()

	var updated *models.CurriculumUnit
	err = sq.db.Transaction(func(tx *gorm.DB) error {
		// Reload inside the critical section.
		if err := tx.First(unit, unitID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Resource: "unit", ID: unitID}
			}
			return err
		}
		schedule, err := sq.loadSchedule(tx, unit.ScheduleID)
		if err != nil {
			return err
		}
		if schedule.TeacherID != teacherID {
			return &AuthorizationError{Reason: "only the owning teacher can update this unit"}
		}

		newStart := unit.StartDate
		newEnd := unit.EndDate
		if in.StartDate != nil {
			newStart = *in.StartDate
		}
		if in.EndDate != nil {
			newEnd = *in.EndDate
		}
		newType := unit.UnitType
		if in.UnitType != nil {
			if !validUnitTypes[*in.UnitType] {
				return NewValidationError(fmt.Sprintf("unknown unit_type %q", *in.UnitType))
			}
			newType = *in.UnitType
		}

		datesChanged := !newStart.Equal(unit.StartDate) || !newEnd.Equal(unit.EndDate) || newType != unit.UnitType
		if datesChanged {
			msgs := ValidateUnitWindow(newStart, newEnd, schedule.SchoolYearStart, schedule.SchoolYearEnd)
			live, err := sq.liveUnits(tx, unit.ScheduleID)
			if err != nil {
				return err
			}
			msgs = append(msgs, CheckOverlap(newStart, newEnd, newType, unit.ID, live)...)
			if len(msgs) > 0 {
				return NewValidationError(msgs...)
			}
		}

		if in.Title != nil {
			if *in.Title == "" {
				return NewValidationError("title cannot be empty")
			}
			unit.Title = *in.Title
		}
		if in.Description != nil {
			unit.Description = *in.Description
		}
		if in.EstimatedWeeks != nil {
			if *in.EstimatedWeeks < 0 {
				return NewValidationError("estimated_weeks cannot be negative")
			}
			// The pacing implied by the new estimate must still fit the
			// school year: a unit cannot run past the year end.
			if *in.EstimatedWeeks > 0 {
				impliedEnd := newStart.AddDate(0, 0, *in.EstimatedWeeks*7)
				if impliedEnd.After(schedule.SchoolYearEnd) {
					return NewValidationError(fmt.Sprintf(
						"estimated_weeks %d would run the unit past the school year end %s",
						*in.EstimatedWeeks, schedule.SchoolYearEnd.Format("2006-01-02")))
				}
			}
			unit.EstimatedWeeks = *in.EstimatedWeeks
		}
		if in.DifficultyLevel != nil {
			if *in.DifficultyLevel < 1 || *in.DifficultyLevel > 5 {
				return NewValidationError("difficulty_level must be between 1 and 5")
			}
			unit.DifficultyLevel = *in.DifficultyLevel
		}
		if in.Status != nil {
			if !validUnitStatuses[*in.Status] {
				return NewValidationError(fmt.Sprintf("unknown status %q", *in.Status))
			}
			unit.Status = *in.Status
		}
		if in.Topics != nil {
			unit.Topics = models.MarshalToJSON(in.Topics)
		}
		if in.SubUnits != nil {
			unit.SubUnits = models.MarshalToJSON(in.SubUnits)
		}
		unit.StartDate = newStart
		unit.EndDate = newEnd
		unit.UnitType = newType
		if unit.AIGenerated {
			unit.TeacherModified = true
		}

		if err := tx.Save(unit).Error; err != nil {
			return err
		}
		updated = unit
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteUnit soft-deletes the unit and compacts the order indexes of the
// survivors in the same transaction, so the 0..N-1 invariant holds at commit.
// Unit numbers of surviving units are untouched.
func (sq *UnitSequencer) DeleteUnit(teacherID, unitID uint) error {
	unit, err := sq.GetUnit(unitID)
	if err != nil {
		return err
	}

	unlock := sq.lock(unit.ScheduleID)
	defer unlock()

	return sq.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(unit, unitID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Resource: "unit", ID: unitID}
			}
			return err
		}
		schedule, err := sq.loadSchedule(tx, unit.ScheduleID)
		if err != nil {
			return err
		}
		if schedule.TeacherID != teacherID {
			return &AuthorizationError{Reason: "only the owning teacher can delete this unit"}
		}

		if err := tx.Delete(&models.CurriculumUnit{}, unitID).Error; err != nil {
			return err
		}

		survivors, err := sq.liveUnits(tx, unit.ScheduleID)
		if err != nil {
			return err
		}
		for i, u := range survivors {
			if u.OrderIndex == i {
				continue
			}
			if err := tx.Model(&models.CurriculumUnit{}).Where("id = ?", u.ID).
				UpdateColumn("order_index", i).Error; err != nil {
				return err
			}
		}
		return bumpSequenceVersion(tx, unit.ScheduleID)
	})
}

// ReorderUnits applies a full permutation of the schedule's live units, with
// optional per-unit date shifts. The whole batch is validated before any row
// is written; any failure rolls the operation back entirely, leaving the
// prior ordering intact. expectedVersion, when non-zero, is checked against
// the schedule's sequence version so a client reordering against stale state
// gets a conflict instead of a silent merge.
func (sq *UnitSequencer) ReorderUnits(teacherID, scheduleID uint, expectedVersion uint, items []ReorderItem) ([]models.CurriculumUnit, error) {
	unlock := sq.lock(scheduleID)
	defer unlock()

	var result []models.CurriculumUnit
	err := sq.db.Transaction(func(tx *gorm.DB) error {
		schedule, err := sq.loadSchedule(tx, scheduleID)
		if err != nil {
			return err
		}
		if schedule.TeacherID != teacherID {
			return &AuthorizationError{Reason: "only the owning teacher can reorder this schedule"}
		}
		if expectedVersion != 0 && expectedVersion != schedule.SequenceVersion {
			return &ConflictError{Reason: fmt.Sprintf(
				"schedule sequence changed (version %d, expected %d); reload and retry",
				schedule.SequenceVersion, expectedVersion)}
		}

		live, err := sq.liveUnits(tx, scheduleID)
		if err != nil {
			return err
		}

		if msgs := ValidatePermutation(items, live); len(msgs) > 0 {
			return NewValidationError(msgs...)
		}

		// Validate date shifts as a batch against the windows the units will
		// have after the whole reorder lands.
		unitByID := make(map[uint]*models.CurriculumUnit, len(live))
		for i := range live {
			unitByID[live[i].ID] = &live[i]
		}
		for _, item := range items {
			u := unitByID[item.UnitID]
			if item.StartDate != nil {
				u.StartDate = *item.StartDate
			}
			if item.EndDate != nil {
				u.EndDate = *item.EndDate
			}
		}
		var msgs []string
		for _, u := range unitByID {
			msgs = append(msgs, ValidateUnitWindow(u.StartDate, u.EndDate, schedule.SchoolYearStart, schedule.SchoolYearEnd)...)
		}
		for _, u := range unitByID {
			siblings := make([]models.CurriculumUnit, 0, len(unitByID)-1)
			for _, other := range unitByID {
				if other.ID != u.ID {
					siblings = append(siblings, *other)
				}
			}
			for _, m := range CheckOverlap(u.StartDate, u.EndDate, u.UnitType, u.ID, siblings) {
				msgs = append(msgs, fmt.Sprintf("unit %d: %s", u.UnitNumber, m))
			}
		}
		if len(msgs) > 0 {
			return NewValidationError(dedupe(msgs)...)
		}

		for _, item := range items {
			u := unitByID[item.UnitID]
			updates := map[string]interface{}{
				"order_index": item.OrderIndex,
				"start_date":  u.StartDate,
				"end_date":    u.EndDate,
			}
			if err := tx.Model(&models.CurriculumUnit{}).Where("id = ?", item.UnitID).
				Updates(updates).Error; err != nil {
				return err
			}
		}
		if err := bumpSequenceVersion(tx, scheduleID); err != nil {
			return err
		}

		result, err = sq.liveUnits(tx, scheduleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CurrentUnit picks the schedule's "current" unit: the first in-progress unit
// in sequence order; otherwise the first scheduled unit whose window contains
// today; otherwise the first scheduled unit. One rule, applied everywhere.
func CurrentUnit(units []models.CurriculumUnit, today time.Time) *models.CurriculumUnit {
	for i := range units {
		if units[i].Status == models.UnitStatusInProgress {
			return &units[i]
		}
	}
	for i := range units {
		u := &units[i]
		if u.Status == models.UnitStatusScheduled && !today.Before(u.StartDate) && !today.After(u.EndDate) {
			return u
		}
	}
	for i := range units {
		if units[i].Status == models.UnitStatusScheduled {
			return &units[i]
		}
	}
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
