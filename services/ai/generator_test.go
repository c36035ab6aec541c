package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"classplanner_go/models"
	"classplanner_go/services"
)

func generationStage(t *testing.T, err error) string {
	t.Helper()
	var ge *services.AIGenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("expected an AI generation error, got %v", err)
	}
	return ge.Stage
}

func TestGeneratePersistsValidDraft(t *testing.T) {
	db := newTestDB(t)
	schedule, teacherID := seedSchedule(t, db)

	client := &fakeClient{
		jsonFn: func(_ context.Context, _, _, schemaName string, _ map[string]interface{}) (map[string]interface{}, error) {
			if schemaName != "curriculum_plan" {
				t.Fatalf("unexpected schema name %q", schemaName)
			}
			return planMap(
				draftUnitMap("Linear Equations", "2026-09-01", "2026-10-02", 2, 0.9),
				draftUnitMap("Inequalities", "2026-10-05", "2026-11-06", 3, 1.5),
				draftUnitMap("Functions", "2026-11-09", "2026-12-11", 3, 0.85),
			), nil
		},
	}
	gen := NewGenerator(db, client, services.NewUnitSequencer(db), nil)

	result, err := gen.Generate(context.Background(), teacherID, GenerateInput{
		ScheduleID:  schedule.ID,
		TargetUnits: 3,
	})
	if err != nil {
		t.Fatalf("generation failed: %v", err)
	}
	if result.UnitCount != 3 || len(result.Units) != 3 {
		t.Fatalf("expected 3 units, got %d", result.UnitCount)
	}

	var units []models.CurriculumUnit
	if err := db.Where("schedule_id = ?", schedule.ID).Order("order_index ASC").Find(&units).Error; err != nil {
		t.Fatalf("failed to load units: %v", err)
	}
	for i, u := range units {
		if !u.AIGenerated {
			t.Fatalf("unit %d not flagged as generated", u.UnitNumber)
		}
		if u.UnitNumber != i+1 || u.OrderIndex != i {
			t.Fatalf("unit %q has number %d order %d", u.Title, u.UnitNumber, u.OrderIndex)
		}
		if u.Status != models.UnitStatusScheduled {
			t.Fatalf("unit %q has status %q", u.Title, u.Status)
		}
	}
	// Confidence above 1 is clamped on the way in.
	if units[1].AIConfidence != 1.0 {
		t.Fatalf("expected clamped confidence 1.0, got %v", units[1].AIConfidence)
	}
}

func TestGenerateRejectsInvalidDraftWithoutPersisting(t *testing.T) {
	db := newTestDB(t)
	schedule, teacherID := seedSchedule(t, db)

	client := &fakeClient{
		jsonFn: func(_ context.Context, _, _, _ string, _ map[string]interface{}) (map[string]interface{}, error) {
			return planMap(
				draftUnitMap("Linear Equations", "2026-09-01", "2026-10-02", 2, 0.9),
				draftUnitMap("Broken Unit", "2026-10-05", "2026-11-06", 9, 0.9),
			), nil
		},
	}
	gen := NewGenerator(db, client, services.NewUnitSequencer(db), nil)

	_, err := gen.Generate(context.Background(), teacherID, GenerateInput{ScheduleID: schedule.ID, TargetUnits: 2})
	if stage := generationStage(t, err); stage != "validate" {
		t.Fatalf("expected validate stage, got %q", stage)
	}

	var count int64
	db.Model(&models.CurriculumUnit{}).Where("schedule_id = ?", schedule.ID).Count(&count)
	if count != 0 {
		t.Fatalf("rejected draft left %d units behind", count)
	}

	var fresh models.CurriculumSchedule
	db.First(&fresh, schedule.ID)
	if fresh.Status != models.ScheduleStatusDraft {
		t.Fatalf("schedule status changed to %q", fresh.Status)
	}
}

func TestGenerateValidationMessages(t *testing.T) {
	db := newTestDB(t)
	schedule, teacherID := seedSchedule(t, db)

	tests := []struct {
		name string
		plan map[string]interface{}
	}{
		{
			name: "empty plan",
			plan: planMap(),
		},
		{
			name: "unit outside school year",
			plan: planMap(draftUnitMap("Summer Work", "2027-07-01", "2027-08-01", 2, 0.9)),
		},
		{
			name: "overlapping units",
			plan: planMap(
				draftUnitMap("First", "2026-09-01", "2026-10-15", 2, 0.9),
				draftUnitMap("Second", "2026-10-01", "2026-11-06", 2, 0.9),
			),
		},
		{
			// Bounds are inclusive; sharing the boundary day collides.
			name: "unit starting on previous end date",
			plan: planMap(
				draftUnitMap("First", "2026-09-01", "2026-10-02", 2, 0.9),
				draftUnitMap("Second", "2026-10-02", "2026-11-06", 2, 0.9),
			),
		},
		{
			name: "unparseable dates",
			plan: planMap(draftUnitMap("Bad Dates", "soon", "later", 2, 0.9)),
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeClient{
				jsonFn: func(_ context.Context, _, _, _ string, _ map[string]interface{}) (map[string]interface{}, error) {
					return tc.plan, nil
				},
			}
			gen := NewGenerator(db, client, services.NewUnitSequencer(db), nil)
			_, err := gen.Generate(context.Background(), teacherID, GenerateInput{ScheduleID: schedule.ID})
			if stage := generationStage(t, err); stage != "validate" {
				t.Fatalf("expected validate stage, got %q (%v)", stage, err)
			}
		})
	}
}

func TestGenerateRequiresDraftStatus(t *testing.T) {
	db := newTestDB(t)
	schedule, teacherID := seedSchedule(t, db)
	db.Model(schedule).Update("status", models.ScheduleStatusPublished)

	gen := NewGenerator(db, &fakeClient{}, services.NewUnitSequencer(db), nil)
	_, err := gen.Generate(context.Background(), teacherID, GenerateInput{ScheduleID: schedule.ID})
	if _, ok := services.IsValidation(err); !ok {
		t.Fatalf("expected validation error for published schedule, got %v", err)
	}
}

func TestGenerateRejectsNonEmptySchedule(t *testing.T) {
	db := newTestDB(t)
	schedule, teacherID := seedSchedule(t, db)

	sq := services.NewUnitSequencer(db)
	if _, err := sq.CreateUnit(teacherID, services.CreateUnitInput{
		ScheduleID: schedule.ID,
		Title:      "Manual Unit",
		StartDate:  date(2026, 9, 1),
		EndDate:    date(2026, 10, 1),
	}); err != nil {
		t.Fatalf("failed to create unit: %v", err)
	}

	gen := NewGenerator(db, &fakeClient{}, sq, nil)
	_, err := gen.Generate(context.Background(), teacherID, GenerateInput{ScheduleID: schedule.ID})
	if _, ok := services.IsValidation(err); !ok {
		t.Fatalf("expected validation error for populated schedule, got %v", err)
	}
}

func TestGenerateAuthorizesOwningTeacher(t *testing.T) {
	db := newTestDB(t)
	schedule, teacherID := seedSchedule(t, db)

	gen := NewGenerator(db, &fakeClient{}, services.NewUnitSequencer(db), nil)
	_, err := gen.Generate(context.Background(), teacherID+1, GenerateInput{ScheduleID: schedule.ID})
	if !services.IsAuthorization(err) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestGenerateWrapsClientFailure(t *testing.T) {
	db := newTestDB(t)
	schedule, teacherID := seedSchedule(t, db)

	client := &fakeClient{
		jsonFn: func(_ context.Context, _, _, _ string, _ map[string]interface{}) (map[string]interface{}, error) {
			return nil, errors.New("upstream unavailable")
		},
	}
	gen := NewGenerator(db, client, services.NewUnitSequencer(db), nil)
	_, err := gen.Generate(context.Background(), teacherID, GenerateInput{ScheduleID: schedule.ID})
	if stage := generationStage(t, err); stage != "request" {
		t.Fatalf("expected request stage, got %q", stage)
	}
}

func TestGenerateWithoutClient(t *testing.T) {
	db := newTestDB(t)
	schedule, teacherID := seedSchedule(t, db)

	gen := NewGenerator(db, nil, services.NewUnitSequencer(db), nil)
	_, err := gen.Generate(context.Background(), teacherID, GenerateInput{ScheduleID: schedule.ID})
	if stage := generationStage(t, err); stage != "request" {
		t.Fatalf("expected request stage, got %q", stage)
	}
}

func TestGenerateFetchesMaterial(t *testing.T) {
	db := newTestDB(t)
	schedule, teacherID := seedSchedule(t, db)

	materials := materialStub{"s3://bucket/syllabus.txt": "Chapter 1: equations"}
	var sawMaterial bool
	client := &fakeClient{
		jsonFn: func(_ context.Context, _, user, _ string, _ map[string]interface{}) (map[string]interface{}, error) {
			if !strings.Contains(user, "Chapter 1: equations") {
				t.Fatalf("material missing from prompt:\n%s", user)
			}
			sawMaterial = true
			return planMap(draftUnitMap("Equations", "2026-09-01", "2026-10-02", 2, 0.9)), nil
		},
	}
	gen := NewGenerator(db, client, services.NewUnitSequencer(db), materials)

	if _, err := gen.Generate(context.Background(), teacherID, GenerateInput{
		ScheduleID:  schedule.ID,
		MaterialRef: "s3://bucket/syllabus.txt",
	}); err != nil {
		t.Fatalf("generation failed: %v", err)
	}
	if !sawMaterial {
		t.Fatalf("prompt was never built")
	}
}

type materialStub map[string]string

func (m materialStub) FetchMaterial(_ context.Context, ref string) (string, error) {
	text, ok := m[ref]
	if !ok {
		return "", errors.New("no such material")
	}
	return text, nil
}

func TestCountWithinTolerance(t *testing.T) {
	tests := []struct {
		name      string
		got       int
		target    int
		tolerance float64
		want      bool
	}{
		{"exact", 10, 10, 0.25, true},
		{"upper edge", 13, 10, 0.25, true},
		{"lower edge", 7, 10, 0.25, true},
		{"too many", 14, 10, 0.25, false},
		{"too few", 6, 10, 0.25, false},
		{"no target accepts any positive count", 3, 0, 0.25, true},
		{"no target rejects zero", 0, 0, 0.25, false},
		{"zero tolerance is exact", 9, 10, 0, false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := countWithinTolerance(tc.got, tc.target, tc.tolerance); got != tc.want {
				t.Fatalf("countWithinTolerance(%d, %d, %v) = %v, want %v", tc.got, tc.target, tc.tolerance, got, tc.want)
			}
		})
	}
}
