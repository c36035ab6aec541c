package services

import (
	"testing"
	"time"

	"classplanner_go/models"
)

func TestValidateYearSpan(t *testing.T) {
	tests := []struct {
		name    string
		start   time.Time
		end     time.Time
		wantErr bool
	}{
		{
			name:  "typical school year",
			start: date(2026, time.August, 24),
			end:   date(2027, time.June, 11),
		},
		{
			name:  "exactly 150 days",
			start: date(2026, time.January, 1),
			end:   date(2026, time.May, 30),
		},
		{
			name:  "full calendar year",
			start: date(2026, time.January, 1),
			end:   date(2026, time.December, 31),
		},
		{
			name:    "too short",
			start:   date(2026, time.August, 24),
			end:     date(2026, time.October, 1),
			wantErr: true,
		},
		{
			name:    "too long",
			start:   date(2026, time.January, 1),
			end:     date(2027, time.June, 1),
			wantErr: true,
		},
		{
			name:    "start after end",
			start:   date(2027, time.June, 11),
			end:     date(2026, time.August, 24),
			wantErr: true,
		},
		{
			name:    "missing dates",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			msgs := ValidateYearSpan(tc.start, tc.end)
			if tc.wantErr && len(msgs) == 0 {
				t.Fatalf("expected validation messages, got none")
			}
			if !tc.wantErr && len(msgs) > 0 {
				t.Fatalf("unexpected validation messages: %v", msgs)
			}
		})
	}
}

func TestCreateScheduleStartsAsDraft(t *testing.T) {
	db := newTestDB(t)
	teacher, class := seedTeacherAndClass(t, db)
	svc := NewScheduleService(db)

	schedule, err := svc.CreateSchedule(teacher.ID, CreateScheduleInput{
		ClassID:         class.ID,
		Title:           "Algebra I 2026-27",
		SchoolYearStart: date(2026, time.August, 24),
		SchoolYearEnd:   date(2027, time.June, 11),
		MeetingPattern:  "MWF",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if schedule.Status != models.ScheduleStatusDraft {
		t.Fatalf("expected draft status, got %q", schedule.Status)
	}
	if schedule.SequenceVersion != 0 {
		t.Fatalf("expected sequence version 0, got %d", schedule.SequenceVersion)
	}
	if schedule.PublishedAt != nil {
		t.Fatalf("expected nil publishedAt on a draft")
	}
}

func TestCreateScheduleRejectsForeignClass(t *testing.T) {
	db := newTestDB(t)
	_, class := seedTeacherAndClass(t, db)
	other := models.User{Username: "teacher2", Password: "x", Email: "t2@example.com", Role: "teacher", Status: "active"}
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	svc := NewScheduleService(db)

	_, err := svc.CreateSchedule(other.ID, CreateScheduleInput{
		ClassID:         class.ID,
		Title:           "Not my class",
		SchoolYearStart: date(2026, time.August, 24),
		SchoolYearEnd:   date(2027, time.June, 11),
	})
	if !IsAuthorization(err) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestPublishLifecycle(t *testing.T) {
	db := newTestDB(t)
	teacher, class := seedTeacherAndClass(t, db)
	schedule := seedSchedule(t, db, teacher.ID, class.ID)
	svc := NewScheduleService(db)

	published, err := svc.PublishSchedule(teacher.ID, schedule.ID)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if published.Status != models.ScheduleStatusPublished {
		t.Fatalf("expected published, got %q", published.Status)
	}
	if published.PublishedAt == nil {
		t.Fatalf("expected publishedAt to be stamped")
	}

	// Publishing again is a no-op, not an error.
	again, err := svc.PublishSchedule(teacher.ID, schedule.ID)
	if err != nil {
		t.Fatalf("second publish failed: %v", err)
	}
	if !again.PublishedAt.Equal(*published.PublishedAt) {
		t.Fatalf("second publish changed publishedAt")
	}

	if _, err := svc.ArchiveSchedule(teacher.ID, schedule.ID); err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if _, err := svc.PublishSchedule(teacher.ID, schedule.ID); err == nil {
		t.Fatalf("expected error publishing an archived schedule")
	}
}

func TestUpdateScheduleRejectsYearShrinkingPastUnits(t *testing.T) {
	db := newTestDB(t)
	teacher, class := seedTeacherAndClass(t, db)
	schedule := seedSchedule(t, db, teacher.ID, class.ID)
	svc := NewScheduleService(db)
	sq := NewUnitSequencer(db)

	if _, err := sq.CreateUnit(teacher.ID, CreateUnitInput{
		ScheduleID: schedule.ID,
		Title:      "Linear Equations",
		StartDate:  date(2027, time.May, 1),
		EndDate:    date(2027, time.June, 5),
	}); err != nil {
		t.Fatalf("failed to create unit: %v", err)
	}

	newEnd := date(2027, time.April, 30)
	_, err := svc.UpdateSchedule(teacher.ID, schedule.ID, UpdateScheduleInput{SchoolYearEnd: &newEnd})
	if _, ok := IsValidation(err); !ok {
		t.Fatalf("expected validation error, got %v", err)
	}

	reloaded, err := svc.GetSchedule(schedule.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !reloaded.SchoolYearEnd.Equal(schedule.SchoolYearEnd) {
		t.Fatalf("school year end changed despite rejected update")
	}
}

func TestDeleteScheduleRemovesUnits(t *testing.T) {
	db := newTestDB(t)
	teacher, class := seedTeacherAndClass(t, db)
	schedule := seedSchedule(t, db, teacher.ID, class.ID)
	svc := NewScheduleService(db)
	sq := NewUnitSequencer(db)

	if _, err := sq.CreateUnit(teacher.ID, CreateUnitInput{
		ScheduleID: schedule.ID,
		Title:      "Unit One",
		StartDate:  date(2026, time.September, 1),
		EndDate:    date(2026, time.October, 1),
	}); err != nil {
		t.Fatalf("failed to create unit: %v", err)
	}

	if err := svc.DeleteSchedule(teacher.ID, schedule.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := svc.GetSchedule(schedule.ID); !IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	units, err := svc.GetScheduleUnits(schedule.ID)
	if err != nil {
		t.Fatalf("unit listing failed: %v", err)
	}
	if len(units) != 0 {
		t.Fatalf("expected no live units after schedule delete, got %d", len(units))
	}
}
