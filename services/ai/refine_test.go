package ai

import (
	"context"
	"testing"

	"classplanner_go/models"
	"classplanner_go/services"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func newRefinerFixture(t *testing.T, client Client) (*gorm.DB, *Refiner, *models.CurriculumSchedule, uint, *models.CurriculumUnit) {
	t.Helper()

	db := newTestDB(t)
	schedule, teacherID := seedSchedule(t, db)

	sq := services.NewUnitSequencer(db)
	unit, err := sq.CreateUnit(teacherID, services.CreateUnitInput{
		ScheduleID:      schedule.ID,
		Title:           "Linear Equations",
		StartDate:       date(2026, 9, 1),
		EndDate:         date(2026, 10, 2),
		EstimatedWeeks:  4,
		DifficultyLevel: 2,
		AIGenerated:     true,
		AIConfidence:    0.9,
	})
	if err != nil {
		t.Fatalf("failed to create unit: %v", err)
	}

	refiner := NewRefiner(db, client, sq, services.NewScheduleService(db))
	return db, refiner, schedule, teacherID, unit
}

func pendingSuggestion(t *testing.T, db *gorm.DB, scheduleID uint, unitID *uint, field, value string) *models.AISuggestion {
	t.Helper()
	row := models.AISuggestion{
		SuggestionID:   uuid.New().String(),
		ScheduleID:     scheduleID,
		UnitID:         unitID,
		FieldName:      field,
		SuggestedValue: value,
		Status:         models.SuggestionPending,
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("failed to seed suggestion: %v", err)
	}
	return &row
}

func TestSendMessageHoldsWhitelistedSuggestions(t *testing.T) {
	client := &fakeClient{
		jsonFn: func(_ context.Context, _, _, schemaName string, _ map[string]interface{}) (map[string]interface{}, error) {
			if schemaName != "refinement_turn" {
				t.Fatalf("unexpected schema name %q", schemaName)
			}
			return map[string]interface{}{
				"reply": "I suggest tightening the first unit.",
				"suggestions": []interface{}{
					map[string]interface{}{
						"unit_number": 1, "target_title": "Linear Equations",
						"field_name": "title", "current_value": "Linear Equations",
						"suggested_value": "Linear Equations and Graphs",
						"rationale":       "covers the graphing week too",
					},
					map[string]interface{}{
						"unit_number": 0, "target_title": "",
						"field_name": "description", "current_value": "",
						"suggested_value": "Full-year algebra sequence",
						"rationale":       "schedule has no description",
					},
					map[string]interface{}{
						"unit_number": 1, "target_title": "Linear Equations",
						"field_name": "teacher_id", "current_value": "1",
						"suggested_value": "2",
						"rationale":       "not an editable field",
					},
					map[string]interface{}{
						"unit_number": 99, "target_title": "Ghost Unit",
						"field_name": "title", "current_value": "",
						"suggested_value": "anything",
						"rationale":       "no such unit",
					},
				},
			}, nil
		},
	}
	db, refiner, schedule, teacherID, _ := newRefinerFixture(t, client)

	reply, err := refiner.SendMessage(context.Background(), teacherID, schedule.ID, "Make the first unit broader")
	if err != nil {
		t.Fatalf("refinement turn failed: %v", err)
	}
	if reply.Reply == "" {
		t.Fatalf("assistant reply is empty")
	}
	// The non-whitelisted field and the unknown unit are dropped silently.
	if len(reply.Suggestions) != 2 {
		t.Fatalf("expected 2 held suggestions, got %d", len(reply.Suggestions))
	}
	for _, s := range reply.Suggestions {
		if s.Status != models.SuggestionPending {
			t.Fatalf("suggestion %s held with status %q", s.SuggestionID, s.Status)
		}
		if s.SuggestionID == "" {
			t.Fatalf("suggestion stored without an id")
		}
	}

	var messages []models.AIChatMessage
	if err := db.Where("schedule_id = ?", schedule.ID).Order("id ASC").Find(&messages).Error; err != nil {
		t.Fatalf("failed to load chat history: %v", err)
	}
	if len(messages) != 2 || messages[0].Role != "user" || messages[1].Role != "assistant" {
		t.Fatalf("unexpected chat history: %+v", messages)
	}

	pending, err := refiner.PendingSuggestions(teacherID, schedule.ID)
	if err != nil {
		t.Fatalf("failed to list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending rows, got %d", len(pending))
	}
}

func TestSendMessageRequiresContent(t *testing.T) {
	_, refiner, schedule, teacherID, _ := newRefinerFixture(t, &fakeClient{})

	if _, err := refiner.SendMessage(context.Background(), teacherID, schedule.ID, "   "); err == nil {
		t.Fatalf("expected validation error for blank message")
	}
}

func TestSendMessageAuthorizesOwningTeacher(t *testing.T) {
	_, refiner, schedule, teacherID, _ := newRefinerFixture(t, &fakeClient{})

	_, err := refiner.SendMessage(context.Background(), teacherID+1, schedule.ID, "change something")
	if !services.IsAuthorization(err) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestApplyChangesUpdatesUnit(t *testing.T) {
	db, refiner, schedule, teacherID, unit := newRefinerFixture(t, &fakeClient{})
	row := pendingSuggestion(t, db, schedule.ID, &unit.ID, "title", "Linear Equations and Graphs")

	outcomes, err := refiner.ApplyChanges(teacherID, schedule.ID, []string{row.SuggestionID})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if len(outcomes) != 1 || !outcomes[0].Applied {
		t.Fatalf("expected applied outcome, got %+v", outcomes)
	}

	var fresh models.CurriculumUnit
	db.First(&fresh, unit.ID)
	if fresh.Title != "Linear Equations and Graphs" {
		t.Fatalf("unit title not updated: %q", fresh.Title)
	}
	if !fresh.TeacherModified {
		t.Fatalf("applied suggestion did not mark the unit teacher-modified")
	}

	var stored models.AISuggestion
	db.Where("suggestion_id = ?", row.SuggestionID).First(&stored)
	if stored.Status != models.SuggestionApplied {
		t.Fatalf("expected applied status, got %q", stored.Status)
	}
}

func TestApplyChangesUpdatesSchedule(t *testing.T) {
	db, refiner, schedule, teacherID, _ := newRefinerFixture(t, &fakeClient{})
	row := pendingSuggestion(t, db, schedule.ID, nil, "description", "Full-year algebra sequence")

	outcomes, err := refiner.ApplyChanges(teacherID, schedule.ID, []string{row.SuggestionID})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if !outcomes[0].Applied {
		t.Fatalf("expected applied outcome, got %+v", outcomes[0])
	}

	var fresh models.CurriculumSchedule
	db.First(&fresh, schedule.ID)
	if fresh.Description != "Full-year algebra sequence" {
		t.Fatalf("schedule description not updated: %q", fresh.Description)
	}
}

func TestApplyChangesValidationFailureKeepsSuggestionPending(t *testing.T) {
	db, refiner, schedule, teacherID, unit := newRefinerFixture(t, &fakeClient{})

	tests := []struct {
		name  string
		field string
		value string
	}{
		{"negative weeks", "estimated_weeks", "-4"},
		{"date past school year", "end_date", "2027-08-01"},
		{"non-numeric difficulty", "difficulty_level", "hard"},
		{"unknown status", "status", "paused"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			row := pendingSuggestion(t, db, schedule.ID, &unit.ID, tc.field, tc.value)

			outcomes, err := refiner.ApplyChanges(teacherID, schedule.ID, []string{row.SuggestionID})
			if err != nil {
				t.Fatalf("apply returned a hard error: %v", err)
			}
			if outcomes[0].Applied || len(outcomes[0].Errors) == 0 {
				t.Fatalf("expected a failed outcome with errors, got %+v", outcomes[0])
			}

			var stored models.AISuggestion
			db.Where("suggestion_id = ?", row.SuggestionID).First(&stored)
			if stored.Status != models.SuggestionPending {
				t.Fatalf("rejected suggestion should stay pending, got %q", stored.Status)
			}

			var fresh models.CurriculumUnit
			db.First(&fresh, unit.ID)
			if fresh.EstimatedWeeks != 4 || !fresh.EndDate.Equal(date(2026, 10, 2)) || fresh.DifficultyLevel != 2 {
				t.Fatalf("failed apply mutated the unit: %+v", fresh)
			}
		})
	}
}

func TestApplyChangesRejectsWeeksPastYearEnd(t *testing.T) {
	db, refiner, schedule, teacherID, _ := newRefinerFixture(t, &fakeClient{})

	late, err := services.NewUnitSequencer(db).CreateUnit(teacherID, services.CreateUnitInput{
		ScheduleID:      schedule.ID,
		Title:           "Year-End Review",
		StartDate:       date(2027, 5, 3),
		EndDate:         date(2027, 6, 4),
		EstimatedWeeks:  5,
		DifficultyLevel: 2,
	})
	if err != nil {
		t.Fatalf("failed to create unit: %v", err)
	}

	// Eight weeks from May 3 would run past the June 11 year end.
	row := pendingSuggestion(t, db, schedule.ID, &late.ID, "estimated_weeks", "8")

	outcomes, err := refiner.ApplyChanges(teacherID, schedule.ID, []string{row.SuggestionID})
	if err != nil {
		t.Fatalf("apply returned a hard error: %v", err)
	}
	if outcomes[0].Applied || len(outcomes[0].Errors) == 0 {
		t.Fatalf("expected a failed outcome with errors, got %+v", outcomes[0])
	}

	var stored models.AISuggestion
	db.Where("suggestion_id = ?", row.SuggestionID).First(&stored)
	if stored.Status != models.SuggestionPending {
		t.Fatalf("rejected suggestion should stay pending, got %q", stored.Status)
	}

	var fresh models.CurriculumUnit
	db.First(&fresh, late.ID)
	if fresh.EstimatedWeeks != 5 {
		t.Fatalf("failed apply mutated estimated weeks: %d", fresh.EstimatedWeeks)
	}
}

func TestApplyChangesPartialSelection(t *testing.T) {
	db, refiner, schedule, teacherID, unit := newRefinerFixture(t, &fakeClient{})
	good := pendingSuggestion(t, db, schedule.ID, &unit.ID, "difficulty_level", "3")
	bad := pendingSuggestion(t, db, schedule.ID, &unit.ID, "estimated_weeks", "-1")

	outcomes, err := refiner.ApplyChanges(teacherID, schedule.ID, []string{good.SuggestionID, bad.SuggestionID, "no-such-id"})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if !outcomes[0].Applied {
		t.Fatalf("valid suggestion was not applied: %+v", outcomes[0])
	}
	if outcomes[1].Applied || outcomes[2].Applied {
		t.Fatalf("invalid suggestions were applied: %+v", outcomes[1:])
	}

	var fresh models.CurriculumUnit
	db.First(&fresh, unit.ID)
	if fresh.DifficultyLevel != 3 {
		t.Fatalf("applied suggestion did not land, difficulty %d", fresh.DifficultyLevel)
	}
}

func TestApplyChangesSkipsAlreadyResolved(t *testing.T) {
	db, refiner, schedule, teacherID, unit := newRefinerFixture(t, &fakeClient{})
	row := pendingSuggestion(t, db, schedule.ID, &unit.ID, "title", "New Title")
	db.Model(row).Update("status", models.SuggestionRejected)

	outcomes, err := refiner.ApplyChanges(teacherID, schedule.ID, []string{row.SuggestionID})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if outcomes[0].Applied || len(outcomes[0].Errors) == 0 {
		t.Fatalf("expected a skipped outcome, got %+v", outcomes[0])
	}
}

func TestRejectChangesEmptySelectionRejectsAll(t *testing.T) {
	db, refiner, schedule, teacherID, unit := newRefinerFixture(t, &fakeClient{})
	pendingSuggestion(t, db, schedule.ID, &unit.ID, "title", "A")
	pendingSuggestion(t, db, schedule.ID, nil, "description", "B")

	rejected, err := refiner.RejectChanges(teacherID, schedule.ID, nil)
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if rejected != 2 {
		t.Fatalf("expected 2 rejections, got %d", rejected)
	}

	var pendingCount int64
	db.Model(&models.AISuggestion{}).
		Where("schedule_id = ? AND status = ?", schedule.ID, models.SuggestionPending).
		Count(&pendingCount)
	if pendingCount != 0 {
		t.Fatalf("%d suggestions still pending", pendingCount)
	}

	var fresh models.CurriculumUnit
	db.First(&fresh, unit.ID)
	if fresh.Title != "Linear Equations" {
		t.Fatalf("rejection mutated the unit: %q", fresh.Title)
	}
}

func TestRejectChangesSelectedIDsOnly(t *testing.T) {
	db, refiner, schedule, teacherID, unit := newRefinerFixture(t, &fakeClient{})
	first := pendingSuggestion(t, db, schedule.ID, &unit.ID, "title", "A")
	pendingSuggestion(t, db, schedule.ID, &unit.ID, "description", "B")

	rejected, err := refiner.RejectChanges(teacherID, schedule.ID, []string{first.SuggestionID})
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if rejected != 1 {
		t.Fatalf("expected 1 rejection, got %d", rejected)
	}

	remaining, err := refiner.PendingSuggestions(teacherID, schedule.ID)
	if err != nil {
		t.Fatalf("failed to list pending: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected 1 pending row, got %d", len(remaining))
	}
}
