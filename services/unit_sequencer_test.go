package services

import (
	"testing"
	"time"

	"classplanner_go/models"
)

// seedUnits creates n back-to-back month-long units starting in September.
func seedUnits(t *testing.T, sq *UnitSequencer, teacherID, scheduleID uint, n int) []models.CurriculumUnit {
	t.Helper()

	units := make([]models.CurriculumUnit, 0, n)
	start := date(2026, time.September, 1)
	for i := 0; i < n; i++ {
		end := start.AddDate(0, 1, -1)
		u, err := sq.CreateUnit(teacherID, CreateUnitInput{
			ScheduleID: scheduleID,
			Title:      []string{"Integers", "Fractions", "Equations", "Geometry", "Statistics"}[i%5],
			StartDate:  start,
			EndDate:    end,
		})
		if err != nil {
			t.Fatalf("failed to create unit %d: %v", i+1, err)
		}
		units = append(units, *u)
		start = end.AddDate(0, 0, 1)
	}
	return units
}

func TestCreateUnitSequencing(t *testing.T) {
	db := newTestDB(t)
	teacher, class := seedTeacherAndClass(t, db)
	schedule := seedSchedule(t, db, teacher.ID, class.ID)
	sq := NewUnitSequencer(db)

	units := seedUnits(t, sq, teacher.ID, schedule.ID, 3)
	for i, u := range units {
		if u.UnitNumber != i+1 {
			t.Fatalf("unit %d: expected unit number %d, got %d", i, i+1, u.UnitNumber)
		}
		if u.OrderIndex != i {
			t.Fatalf("unit %d: expected order index %d, got %d", i, i, u.OrderIndex)
		}
		if u.Status != models.UnitStatusScheduled {
			t.Fatalf("expected scheduled status, got %q", u.Status)
		}
	}

	var reloaded models.CurriculumSchedule
	if err := db.First(&reloaded, schedule.ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.SequenceVersion != 3 {
		t.Fatalf("expected sequence version 3 after three creates, got %d", reloaded.SequenceVersion)
	}
}

func TestCreateUnitRejectsOverlap(t *testing.T) {
	db := newTestDB(t)
	teacher, class := seedTeacherAndClass(t, db)
	schedule := seedSchedule(t, db, teacher.ID, class.ID)
	sq := NewUnitSequencer(db)
	seedUnits(t, sq, teacher.ID, schedule.ID, 1)

	_, err := sq.CreateUnit(teacher.ID, CreateUnitInput{
		ScheduleID: schedule.ID,
		Title:      "Colliding",
		StartDate:  date(2026, time.September, 15),
		EndDate:    date(2026, time.October, 15),
	})
	if _, ok := IsValidation(err); !ok {
		t.Fatalf("expected validation error for overlapping core unit, got %v", err)
	}

	// Enrichment units may overlap anything.
	if _, err := sq.CreateUnit(teacher.ID, CreateUnitInput{
		ScheduleID: schedule.ID,
		Title:      "Math Club Project",
		UnitType:   models.UnitTypeEnrichment,
		StartDate:  date(2026, time.September, 15),
		EndDate:    date(2026, time.October, 15),
	}); err != nil {
		t.Fatalf("enrichment overlap should be allowed: %v", err)
	}
}

func TestUpdateUnitRejectsWeeksPastYearEnd(t *testing.T) {
	db := newTestDB(t)
	teacher, class := seedTeacherAndClass(t, db)
	schedule := seedSchedule(t, db, teacher.ID, class.ID)
	sq := NewUnitSequencer(db)

	late, err := sq.CreateUnit(teacher.ID, CreateUnitInput{
		ScheduleID: schedule.ID,
		Title:      "Year-End Review",
		StartDate:  date(2027, time.May, 3),
		EndDate:    date(2027, time.June, 4),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Eight weeks from May 3 lands past the June 11 year end.
	tooLong := 8
	_, err = sq.UpdateUnit(teacher.ID, late.ID, UpdateUnitInput{EstimatedWeeks: &tooLong})
	if _, ok := IsValidation(err); !ok {
		t.Fatalf("expected validation error for weeks past year end, got %v", err)
	}

	fits := 5
	updated, err := sq.UpdateUnit(teacher.ID, late.ID, UpdateUnitInput{EstimatedWeeks: &fits})
	if err != nil {
		t.Fatalf("update with fitting weeks failed: %v", err)
	}
	if updated.EstimatedWeeks != 5 {
		t.Fatalf("expected 5 estimated weeks, got %d", updated.EstimatedWeeks)
	}
}

func TestDeleteUnitCompactsOrderKeepsNumbers(t *testing.T) {
	db := newTestDB(t)
	teacher, class := seedTeacherAndClass(t, db)
	schedule := seedSchedule(t, db, teacher.ID, class.ID)
	sq := NewUnitSequencer(db)
	units := seedUnits(t, sq, teacher.ID, schedule.ID, 3)

	if err := sq.DeleteUnit(teacher.ID, units[1].ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	var survivors []models.CurriculumUnit
	if err := db.Where("schedule_id = ?", schedule.ID).Order("order_index ASC").Find(&survivors).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if len(survivors) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(survivors))
	}
	if survivors[0].OrderIndex != 0 || survivors[1].OrderIndex != 1 {
		t.Fatalf("order indexes not compacted: %d, %d", survivors[0].OrderIndex, survivors[1].OrderIndex)
	}
	// Numbers survive; only the ordering compacts.
	if survivors[0].UnitNumber != 1 || survivors[1].UnitNumber != 3 {
		t.Fatalf("unit numbers changed on delete: %d, %d", survivors[0].UnitNumber, survivors[1].UnitNumber)
	}

	// A new unit never recycles the deleted number.
	created, err := sq.CreateUnit(teacher.ID, CreateUnitInput{
		ScheduleID: schedule.ID,
		Title:      "Replacement",
		StartDate:  date(2027, time.January, 5),
		EndDate:    date(2027, time.February, 5),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.UnitNumber != 4 {
		t.Fatalf("expected unit number 4, got %d", created.UnitNumber)
	}
}

func TestValidatePermutation(t *testing.T) {
	live := []models.CurriculumUnit{
		{BaseModel: models.BaseModel{ID: 10}},
		{BaseModel: models.BaseModel{ID: 11}},
		{BaseModel: models.BaseModel{ID: 12}},
	}

	tests := []struct {
		name    string
		items   []ReorderItem
		wantErr bool
	}{
		{
			name: "valid full permutation",
			items: []ReorderItem{
				{UnitID: 12, OrderIndex: 0},
				{UnitID: 10, OrderIndex: 1},
				{UnitID: 11, OrderIndex: 2},
			},
		},
		{
			name: "unknown unit",
			items: []ReorderItem{
				{UnitID: 99, OrderIndex: 0},
				{UnitID: 10, OrderIndex: 1},
				{UnitID: 11, OrderIndex: 2},
			},
			wantErr: true,
		},
		{
			name: "missing unit",
			items: []ReorderItem{
				{UnitID: 10, OrderIndex: 0},
				{UnitID: 11, OrderIndex: 1},
			},
			wantErr: true,
		},
		{
			name: "duplicate index",
			items: []ReorderItem{
				{UnitID: 10, OrderIndex: 0},
				{UnitID: 11, OrderIndex: 0},
				{UnitID: 12, OrderIndex: 2},
			},
			wantErr: true,
		},
		{
			name: "index out of range",
			items: []ReorderItem{
				{UnitID: 10, OrderIndex: 0},
				{UnitID: 11, OrderIndex: 1},
				{UnitID: 12, OrderIndex: 3},
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			msgs := ValidatePermutation(tc.items, live)
			if tc.wantErr && len(msgs) == 0 {
				t.Fatalf("expected validation messages, got none")
			}
			if !tc.wantErr && len(msgs) > 0 {
				t.Fatalf("unexpected validation messages: %v", msgs)
			}
		})
	}
}

func TestReorderUnitsAppliesPermutation(t *testing.T) {
	db := newTestDB(t)
	teacher, class := seedTeacherAndClass(t, db)
	schedule := seedSchedule(t, db, teacher.ID, class.ID)
	sq := NewUnitSequencer(db)
	units := seedUnits(t, sq, teacher.ID, schedule.ID, 3)

	// Swap the first two, shifting their dates so windows still do not collide.
	aStart, aEnd := units[1].StartDate, units[1].EndDate
	bStart, bEnd := units[0].StartDate, units[0].EndDate
	result, err := sq.ReorderUnits(teacher.ID, schedule.ID, 0, []ReorderItem{
		{UnitID: units[1].ID, OrderIndex: 0, StartDate: &bStart, EndDate: &bEnd},
		{UnitID: units[0].ID, OrderIndex: 1, StartDate: &aStart, EndDate: &aEnd},
		{UnitID: units[2].ID, OrderIndex: 2},
	})
	if err != nil {
		t.Fatalf("reorder failed: %v", err)
	}
	if result[0].ID != units[1].ID || result[1].ID != units[0].ID {
		t.Fatalf("permutation not applied")
	}
	if !result[0].StartDate.Equal(bStart) {
		t.Fatalf("date shift not applied")
	}

	var reloaded models.CurriculumSchedule
	if err := db.First(&reloaded, schedule.ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.SequenceVersion != 4 {
		t.Fatalf("expected sequence version 4 after reorder, got %d", reloaded.SequenceVersion)
	}
}

func TestReorderUnitsFailureLeavesOrderIntact(t *testing.T) {
	db := newTestDB(t)
	teacher, class := seedTeacherAndClass(t, db)
	schedule := seedSchedule(t, db, teacher.ID, class.ID)
	sq := NewUnitSequencer(db)
	units := seedUnits(t, sq, teacher.ID, schedule.ID, 3)

	// Date shift pushes the unit outside the school year: whole batch rejected.
	badEnd := date(2027, time.August, 1)
	_, err := sq.ReorderUnits(teacher.ID, schedule.ID, 0, []ReorderItem{
		{UnitID: units[2].ID, OrderIndex: 0, EndDate: &badEnd},
		{UnitID: units[0].ID, OrderIndex: 1},
		{UnitID: units[1].ID, OrderIndex: 2},
	})
	if _, ok := IsValidation(err); !ok {
		t.Fatalf("expected validation error, got %v", err)
	}

	var after []models.CurriculumUnit
	if err := db.Where("schedule_id = ?", schedule.ID).Order("order_index ASC").Find(&after).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	for i, u := range after {
		if u.ID != units[i].ID {
			t.Fatalf("ordering changed despite rejected reorder")
		}
	}
	if !after[2].EndDate.Equal(units[2].EndDate) {
		t.Fatalf("date shift applied despite rejected reorder")
	}
}

func TestReorderUnitsStaleVersionConflicts(t *testing.T) {
	db := newTestDB(t)
	teacher, class := seedTeacherAndClass(t, db)
	schedule := seedSchedule(t, db, teacher.ID, class.ID)
	sq := NewUnitSequencer(db)
	units := seedUnits(t, sq, teacher.ID, schedule.ID, 2)

	// Current version is 2 (one bump per create); claim 1.
	_, err := sq.ReorderUnits(teacher.ID, schedule.ID, 1, []ReorderItem{
		{UnitID: units[1].ID, OrderIndex: 0},
		{UnitID: units[0].ID, OrderIndex: 1},
	})
	if !IsConflict(err) {
		t.Fatalf("expected conflict error for stale version, got %v", err)
	}
}

func TestCurrentUnit(t *testing.T) {
	today := date(2026, time.October, 10)
	scheduled := func(id uint, start, end time.Time) models.CurriculumUnit {
		return models.CurriculumUnit{
			BaseModel: models.BaseModel{ID: id},
			Status:    models.UnitStatusScheduled,
			StartDate: start, EndDate: end,
		}
	}

	units := []models.CurriculumUnit{
		scheduled(1, date(2026, time.September, 1), date(2026, time.September, 30)),
		scheduled(2, date(2026, time.October, 1), date(2026, time.October, 31)),
		scheduled(3, date(2026, time.November, 1), date(2026, time.November, 30)),
	}

	// Window containing today wins among scheduled units.
	if got := CurrentUnit(units, today); got == nil || got.ID != 2 {
		t.Fatalf("expected unit 2, got %+v", got)
	}

	// An in-progress unit wins regardless of dates.
	units[2].Status = models.UnitStatusInProgress
	if got := CurrentUnit(units, today); got == nil || got.ID != 3 {
		t.Fatalf("expected in-progress unit 3, got %+v", got)
	}

	// No in-progress, nothing containing today: first scheduled.
	units[2].Status = models.UnitStatusCompleted
	if got := CurrentUnit(units, date(2027, time.July, 1)); got == nil || got.ID != 1 {
		t.Fatalf("expected first scheduled unit, got %+v", got)
	}

	if got := CurrentUnit(nil, today); got != nil {
		t.Fatalf("expected nil for no units, got %+v", got)
	}
}
