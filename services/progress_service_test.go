package services

import (
	"testing"
	"time"

	"classplanner_go/models"
)

func unitWithConcepts(concepts ...string) *models.CurriculumUnit {
	return &models.CurriculumUnit{
		BaseModel:      models.BaseModel{ID: 1},
		EstimatedWeeks: 4,
		Topics: models.MarshalToJSON([]models.Topic{
			{Name: "Topic", Concepts: concepts},
		}),
	}
}

func assignment(ref string, completed bool, score float64, at time.Time) models.ProgressSignal {
	return models.ProgressSignal{
		Kind:          models.SignalAssignment,
		AssignmentRef: ref,
		Completed:     completed,
		Score:         score,
		OccurredAt:    at,
	}
}

func concept(name string, mastered bool, score float64, at time.Time) models.ProgressSignal {
	return models.ProgressSignal{
		Kind:        models.SignalConcept,
		ConceptName: name,
		Mastered:    mastered,
		Score:       score,
		OccurredAt:  at,
	}
}

func TestComputeProgressStatuses(t *testing.T) {
	now := date(2026, time.October, 15)
	day := func(d int) time.Time { return date(2026, time.October, d) }
	cfg := DefaultAggregationConfig()

	tests := []struct {
		name       string
		signals    []models.ProgressSignal
		wantStatus string
	}{
		{
			name:       "no signals",
			wantStatus: models.ProgressStatusNotStarted,
		},
		{
			name: "some assignments open",
			signals: []models.ProgressSignal{
				assignment("hw1", true, 90, day(1)),
				assignment("hw2", false, 0, day(2)),
			},
			wantStatus: models.ProgressStatusInProgress,
		},
		{
			name: "half done but scoring low",
			signals: []models.ProgressSignal{
				assignment("hw1", true, 40, day(1)),
				assignment("hw2", false, 0, day(2)),
			},
			wantStatus: models.ProgressStatusReviewNeeded,
		},
		{
			name: "all done, concepts not mastered",
			signals: []models.ProgressSignal{
				assignment("hw1", true, 95, day(1)),
				assignment("hw2", true, 85, day(2)),
				concept("fractions", true, 90, day(3)),
				concept("decimals", false, 75, day(4)),
			},
			wantStatus: models.ProgressStatusCompleted,
		},
		{
			name: "all done, everything mastered",
			signals: []models.ProgressSignal{
				assignment("hw1", true, 95, day(1)),
				assignment("hw2", true, 92, day(2)),
				concept("fractions", true, 95, day(3)),
				concept("decimals", true, 91, day(4)),
			},
			wantStatus: models.ProgressStatusMastered,
		},
		{
			name: "late low score pulls a finished unit back to review",
			signals: []models.ProgressSignal{
				assignment("hw1", true, 95, day(1)),
				assignment("hw2", true, 92, day(2)),
				assignment("hw1", true, 20, day(10)),
			},
			wantStatus: models.ProgressStatusReviewNeeded,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			unit := unitWithConcepts("fractions", "decimals")
			got := ComputeProgress(unit, tc.signals, now, cfg)
			if got.Status != tc.wantStatus {
				t.Fatalf("expected status %q, got %q", tc.wantStatus, got.Status)
			}
		})
	}
}

func TestComputeProgressHonorsMasteryThreshold(t *testing.T) {
	now := date(2026, time.October, 15)
	unit := unitWithConcepts("fractions")
	signals := []models.ProgressSignal{
		assignment("hw1", true, 75, date(2026, time.October, 1)),
		assignment("hw2", false, 0, date(2026, time.October, 2)),
	}

	got := ComputeProgress(unit, signals, now, DefaultAggregationConfig())
	if got.Status != models.ProgressStatusInProgress {
		t.Fatalf("expected in_progress under the default threshold, got %q", got.Status)
	}

	strict := DefaultAggregationConfig()
	strict.MasteryThreshold = 85
	got = ComputeProgress(unit, signals, now, strict)
	if got.Status != models.ProgressStatusReviewNeeded {
		t.Fatalf("expected review_needed under threshold 85, got %q", got.Status)
	}
}

func TestComputeProgressLatestAssignmentWins(t *testing.T) {
	unit := unitWithConcepts()
	signals := []models.ProgressSignal{
		assignment("hw1", true, 50, date(2026, time.October, 1)),
		assignment("hw1", true, 90, date(2026, time.October, 5)),
	}
	got := ComputeProgress(unit, signals, date(2026, time.October, 10), DefaultAggregationConfig())

	if got.AssignmentsTotal != 1 {
		t.Fatalf("expected 1 distinct assignment, got %d", got.AssignmentsTotal)
	}
	if got.AssignmentsScore != 90 {
		t.Fatalf("expected latest score 90, got %.1f", got.AssignmentsScore)
	}
	if got.PercentComplete != 100 {
		t.Fatalf("expected 100%% complete, got %d", got.PercentComplete)
	}
}

func TestComputeProgressInsights(t *testing.T) {
	now := date(2026, time.October, 20)
	unit := unitWithConcepts("fractions", "decimals", "ratios")
	signals := []models.ProgressSignal{
		concept("fractions", true, 95, date(2026, time.October, 18)),
		concept("decimals", false, 30, date(2026, time.October, 1)), // stale and weak
		concept("ratios", false, 45, date(2026, time.October, 19)),  // recent and weak
	}
	got := ComputeProgress(unit, signals, now, DefaultAggregationConfig())

	if len(got.Strengths) != 1 || got.Strengths[0] != "fractions" {
		t.Fatalf("expected strengths [fractions], got %v", got.Strengths)
	}
	if len(got.Struggles) != 2 {
		t.Fatalf("expected 2 struggles, got %v", got.Struggles)
	}
	// Only the concept not practiced within the review window is recommended.
	if len(got.RecommendedReview) != 1 || got.RecommendedReview[0] != "decimals" {
		t.Fatalf("expected review [decimals], got %v", got.RecommendedReview)
	}
	if got.ConceptsTotal != 3 || got.ConceptsMastered != 1 {
		t.Fatalf("expected 1/3 concepts mastered, got %d/%d", got.ConceptsMastered, got.ConceptsTotal)
	}
}

func TestComputeProgressEngagement(t *testing.T) {
	unit := unitWithConcepts()
	// 4 estimated weeks -> 900 expected minutes.
	signals := []models.ProgressSignal{
		{Kind: models.SignalTime, Minutes: 450, OccurredAt: date(2026, time.October, 1)},
		{Kind: models.SignalParticipation, OccurredAt: date(2026, time.October, 2)},
		{Kind: models.SignalParticipation, OccurredAt: date(2026, time.October, 3)},
	}
	got := ComputeProgress(unit, signals, date(2026, time.October, 10), DefaultAggregationConfig())

	if got.TimeSpentMinutes != 450 {
		t.Fatalf("expected 450 minutes, got %d", got.TimeSpentMinutes)
	}
	if got.ParticipationCount != 2 {
		t.Fatalf("expected 2 participation events, got %d", got.ParticipationCount)
	}
	// time score 50, participation score 20 -> 0.6*50 + 0.4*20 = 38
	if got.EngagementScore != 38 {
		t.Fatalf("expected engagement 38, got %d", got.EngagementScore)
	}
}

func TestRoundRatio(t *testing.T) {
	tests := []struct {
		num, den, want int
	}{
		{100, 3, 33},
		{150, 100, 2}, // halves round up
		{300, 5, 60},  // 3 of 5 complete
		{400, 6, 67},  // 4 of 6 rounds up from 66.7
		{0, 10, 0},
		{10, 0, 0},
		{10, -1, 0},
	}
	for _, tc := range tests {
		if got := roundRatio(tc.num, tc.den); got != tc.want {
			t.Fatalf("roundRatio(%d, %d) = %d, want %d", tc.num, tc.den, got, tc.want)
		}
	}
}

func TestRecalculateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	teacher, class := seedTeacherAndClass(t, db)
	schedule := seedSchedule(t, db, teacher.ID, class.ID)
	sq := NewUnitSequencer(db)
	unit, err := sq.CreateUnit(teacher.ID, CreateUnitInput{
		ScheduleID: schedule.ID,
		Title:      "Fractions",
		StartDate:  date(2026, time.September, 1),
		EndDate:    date(2026, time.October, 1),
	})
	if err != nil {
		t.Fatalf("failed to create unit: %v", err)
	}

	svc := NewProgressService(db, DefaultAggregationConfig())
	const studentID = 42

	first, err := svc.RecordAssignmentSignal(AssignmentSignalInput{
		UnitID: unit.ID, StudentID: studentID,
		AssignmentRef: "hw1", Completed: true, Score: 88,
		OccurredAt: date(2026, time.September, 10),
	})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	second, err := svc.Recalculate(unit.ID, studentID)
	if err != nil {
		t.Fatalf("recalculate failed: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("recalculate created a second row")
	}
	if second.PercentComplete != first.PercentComplete || second.Status != first.Status {
		t.Fatalf("recalculate changed the aggregate with identical signals")
	}

	var count int64
	db.Model(&models.UnitProgress{}).Where("unit_id = ? AND student_id = ?", unit.ID, studentID).Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one progress row, got %d", count)
	}
}

func TestRecordTimeValidatesMinutes(t *testing.T) {
	db := newTestDB(t)
	svc := NewProgressService(db, DefaultAggregationConfig())

	for _, minutes := range []int{0, -5, 1441} {
		if _, err := svc.RecordTime(1, 1, minutes); err == nil {
			t.Fatalf("expected validation error for %d minutes", minutes)
		}
	}
}

func TestGetProgressDefaultsToNotStarted(t *testing.T) {
	db := newTestDB(t)
	svc := NewProgressService(db, DefaultAggregationConfig())

	progress, err := svc.GetProgress(7, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if progress.Status != models.ProgressStatusNotStarted {
		t.Fatalf("expected not_started, got %q", progress.Status)
	}
}

func TestSummarizeUnitAndSchedule(t *testing.T) {
	db := newTestDB(t)
	teacher, class := seedTeacherAndClass(t, db)
	schedule := seedSchedule(t, db, teacher.ID, class.ID)
	sq := NewUnitSequencer(db)
	unit, err := sq.CreateUnit(teacher.ID, CreateUnitInput{
		ScheduleID: schedule.ID,
		Title:      "Fractions",
		StartDate:  date(2026, time.September, 1),
		EndDate:    date(2026, time.October, 1),
	})
	if err != nil {
		t.Fatalf("failed to create unit: %v", err)
	}

	svc := NewProgressService(db, DefaultAggregationConfig())
	if _, err := svc.RecordAssignmentSignal(AssignmentSignalInput{
		UnitID: unit.ID, StudentID: 1, AssignmentRef: "hw1", Completed: true, Score: 90,
	}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if _, err := svc.RecordAssignmentSignal(AssignmentSignalInput{
		UnitID: unit.ID, StudentID: 2, AssignmentRef: "hw1", Completed: true, Score: 30,
	}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	summary, err := svc.SummarizeUnit(unit.ID)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.Students != 2 {
		t.Fatalf("expected 2 students, got %d", summary.Students)
	}
	if summary.AverageComplete != 100 {
		t.Fatalf("expected average complete 100, got %d", summary.AverageComplete)
	}

	recomputed, err := svc.RecalculateSchedule(schedule.ID)
	if err != nil {
		t.Fatalf("schedule recalculation failed: %v", err)
	}
	if recomputed != 2 {
		t.Fatalf("expected 2 recomputed pairs, got %d", recomputed)
	}

	overview, err := svc.SummarizeSchedule(schedule.ID)
	if err != nil {
		t.Fatalf("overview failed: %v", err)
	}
	if len(overview.UnitSummaries) != 1 {
		t.Fatalf("expected 1 unit summary, got %d", len(overview.UnitSummaries))
	}
}
