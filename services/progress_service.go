package services

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"classplanner_go/models"

	"gorm.io/gorm"
)

// AggregationConfig holds the tunable thresholds the aggregator applies.
type AggregationConfig struct {
	MasteryThreshold   float64 // assignments_score below this on a half-done unit flags review_needed
	MasteredPercentage int     // mastery_percentage at or above this on a completed unit means mastered
	StrengthScore      float64
	StruggleScore      float64
	InsightTopN        int
	ReviewWindowDays   int
}

// DefaultAggregationConfig mirrors the documented defaults.
func DefaultAggregationConfig() AggregationConfig {
	return AggregationConfig{
		MasteryThreshold:   70,
		MasteredPercentage: 90,
		StrengthScore:      80,
		StruggleScore:      50,
		InsightTopN:        5,
		ReviewWindowDays:   14,
	}
}

// ProgressService turns raw assignment/engagement signals into per-student
// unit progress. Every recalculation is a full, idempotent recompute over the
// signal rows for one (student, unit) pair - never an incremental delta - and
// pairs are serialized with a keyed mutex so bursts of recalculation requests
// cannot corrupt the aggregate.
type ProgressService struct {
	db    *gorm.DB
	cfg   AggregationConfig
	locks sync.Map // "unitID:studentID" -> *sync.Mutex
}

func NewProgressService(db *gorm.DB, cfg AggregationConfig) *ProgressService {
	if cfg.InsightTopN <= 0 {
		cfg = DefaultAggregationConfig()
	}
	return &ProgressService{db: db, cfg: cfg}
}

func (p *ProgressService) lock(unitID, studentID uint) func() {
	key := fmt.Sprintf("%d:%d", unitID, studentID)
	m, _ := p.locks.LoadOrStore(key, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// AssignmentSignalInput is an assignment completion event from the external
// assignment/submission system.
type AssignmentSignalInput struct {
	UnitID        uint
	StudentID     uint
	AssignmentRef string
	Completed     bool
	Score         float64
	OccurredAt    time.Time
}

// ConceptSignalInput is a concept-mastery event.
type ConceptSignalInput struct {
	UnitID      uint
	StudentID   uint
	ConceptName string
	Mastered    bool
	Score       float64
	OccurredAt  time.Time
}

// RecordAssignmentSignal appends the signal and recomputes the pair.
func (p *ProgressService) RecordAssignmentSignal(in AssignmentSignalInput) (*models.UnitProgress, error) {
	if in.AssignmentRef == "" {
		return nil, NewValidationError("assignment_ref is required")
	}
	if in.Score < 0 || in.Score > 100 {
		return nil, NewValidationError("score must be between 0 and 100")
	}
	signal := models.ProgressSignal{
		UnitID:        in.UnitID,
		StudentID:     in.StudentID,
		Kind:          models.SignalAssignment,
		AssignmentRef: in.AssignmentRef,
		Completed:     in.Completed,
		Score:         in.Score,
		OccurredAt:    orNow(in.OccurredAt),
	}
	return p.appendAndRecalculate(&signal)
}

// RecordConceptSignal appends the signal and recomputes the pair.
func (p *ProgressService) RecordConceptSignal(in ConceptSignalInput) (*models.UnitProgress, error) {
	if in.ConceptName == "" {
		return nil, NewValidationError("concept_name is required")
	}
	if in.Score < 0 || in.Score > 100 {
		return nil, NewValidationError("score must be between 0 and 100")
	}
	signal := models.ProgressSignal{
		UnitID:      in.UnitID,
		StudentID:   in.StudentID,
		Kind:        models.SignalConcept,
		ConceptName: in.ConceptName,
		Mastered:    in.Mastered,
		Score:       in.Score,
		OccurredAt:  orNow(in.OccurredAt),
	}
	return p.appendAndRecalculate(&signal)
}

// RecordTime appends a time-tracking increment and recomputes the pair.
func (p *ProgressService) RecordTime(unitID, studentID uint, minutes int) (*models.UnitProgress, error) {
	if minutes <= 0 || minutes > 24*60 {
		return nil, NewValidationError("minutes must be between 1 and 1440")
	}
	signal := models.ProgressSignal{
		UnitID:     unitID,
		StudentID:  studentID,
		Kind:       models.SignalTime,
		Minutes:    minutes,
		OccurredAt: time.Now(),
	}
	return p.appendAndRecalculate(&signal)
}

// RecordParticipation appends a participation event and recomputes the pair.
func (p *ProgressService) RecordParticipation(unitID, studentID uint) (*models.UnitProgress, error) {
	signal := models.ProgressSignal{
		UnitID:     unitID,
		StudentID:  studentID,
		Kind:       models.SignalParticipation,
		OccurredAt: time.Now(),
	}
	return p.appendAndRecalculate(&signal)
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func (p *ProgressService) appendAndRecalculate(signal *models.ProgressSignal) (*models.UnitProgress, error) {
	var unit models.CurriculumUnit
	if err := p.db.First(&unit, signal.UnitID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "unit", ID: signal.UnitID}
		}
		return nil, err
	}
	if err := p.db.Create(signal).Error; err != nil {
		return nil, err
	}
	return p.Recalculate(signal.UnitID, signal.StudentID)
}

// Recalculate recomputes the UnitProgress row for one (student, unit) pair
// from its signal rows. Safe to re-run at any time; identical signals yield
// an identical row.
func (p *ProgressService) Recalculate(unitID, studentID uint) (*models.UnitProgress, error) {
	unlock := p.lock(unitID, studentID)
	defer unlock()

	var unit models.CurriculumUnit
	if err := p.db.First(&unit, unitID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "unit", ID: unitID}
		}
		return nil, err
	}

	var signals []models.ProgressSignal
	if err := p.db.Where("unit_id = ? AND student_id = ?", unitID, studentID).
		Order("occurred_at ASC, id ASC").Find(&signals).Error; err != nil {
		return nil, err
	}

	computed := ComputeProgress(&unit, signals, time.Now(), p.cfg)

	var progress models.UnitProgress
	err := p.db.Where("unit_id = ? AND student_id = ?", unitID, studentID).First(&progress).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		progress = models.UnitProgress{UnitID: unitID, StudentID: studentID}
	} else if err != nil {
		return nil, err
	}

	computed.applyTo(&progress)
	if err := p.db.Save(&progress).Error; err != nil {
		return nil, err
	}
	return &progress, nil
}

// RecalculateSchedule re-runs the recompute for every (student, unit) pair
// that has at least one signal under the schedule. Returns how many pairs
// were recomputed.
func (p *ProgressService) RecalculateSchedule(scheduleID uint) (int, error) {
	var pairs []struct {
		UnitID    uint
		StudentID uint
	}
	err := p.db.Model(&models.ProgressSignal{}).
		Select("DISTINCT progress_signals.unit_id, progress_signals.student_id").
		Joins("JOIN curriculum_units ON curriculum_units.id = progress_signals.unit_id").
		Where("curriculum_units.schedule_id = ? AND curriculum_units.deleted_at IS NULL", scheduleID).
		Scan(&pairs).Error
	if err != nil {
		return 0, err
	}

	for _, pair := range pairs {
		if _, err := p.Recalculate(pair.UnitID, pair.StudentID); err != nil {
			return 0, err
		}
	}
	return len(pairs), nil
}

// GetProgress returns the progress row for a pair, or a zero-valued
// NOT_STARTED view when no signal has arrived yet.
func (p *ProgressService) GetProgress(unitID, studentID uint) (*models.UnitProgress, error) {
	var progress models.UnitProgress
	err := p.db.Where("unit_id = ? AND student_id = ?", unitID, studentID).First(&progress).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.UnitProgress{
			UnitID:    unitID,
			StudentID: studentID,
			Status:    models.ProgressStatusNotStarted,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

// UnitClassSummary aggregates every student's progress on one unit. Always
// computed from the UnitProgress rows, never stored.
type UnitClassSummary struct {
	UnitID          uint           `json:"unit_id"`
	Students        int            `json:"students"`
	AverageComplete int            `json:"average_complete"`
	AverageMastery  int            `json:"average_mastery"`
	CompletionRate  int            `json:"completion_rate"`
	StatusCounts    map[string]int `json:"status_counts"`
}

// SummarizeUnit computes the teacher-facing class view of one unit.
func (p *ProgressService) SummarizeUnit(unitID uint) (*UnitClassSummary, error) {
	var rows []models.UnitProgress
	if err := p.db.Where("unit_id = ?", unitID).Find(&rows).Error; err != nil {
		return nil, err
	}

	summary := &UnitClassSummary{
		UnitID:       unitID,
		Students:     len(rows),
		StatusCounts: make(map[string]int),
	}
	if len(rows) == 0 {
		return summary, nil
	}

	var sumComplete, sumMastery, completed int
	for _, r := range rows {
		sumComplete += r.PercentComplete
		sumMastery += r.MasteryPercentage
		summary.StatusCounts[r.Status]++
		if r.Status == models.ProgressStatusCompleted || r.Status == models.ProgressStatusMastered {
			completed++
		}
	}
	summary.AverageComplete = roundRatio(sumComplete, len(rows))
	summary.AverageMastery = roundRatio(sumMastery, len(rows))
	summary.CompletionRate = roundRatio(completed*100, len(rows))
	return summary, nil
}

// AtRiskStudent flags a student a teacher should look at.
type AtRiskStudent struct {
	StudentID         uint `json:"student_id"`
	ReviewNeededUnits int  `json:"review_needed_units"`
	AverageComplete   int  `json:"average_complete"`
}

// ScheduleOverview is the schedule-level aggregate view.
type ScheduleOverview struct {
	ScheduleID      uint               `json:"schedule_id"`
	UnitSummaries   []UnitClassSummary `json:"unit_summaries"`
	AverageComplete int                `json:"average_complete"`
	AtRisk          []AtRiskStudent    `json:"at_risk"`
}

// SummarizeSchedule aggregates across all UnitProgress rows under a
// schedule's units. A student is at risk when any unit needs review or their
// average completion over started units is under 40%.
func (p *ProgressService) SummarizeSchedule(scheduleID uint) (*ScheduleOverview, error) {
	var units []models.CurriculumUnit
	if err := p.db.Where("schedule_id = ?", scheduleID).Order("order_index ASC").Find(&units).Error; err != nil {
		return nil, err
	}

	overview := &ScheduleOverview{ScheduleID: scheduleID}
	perStudent := make(map[uint]*AtRiskStudent)
	perStudentUnits := make(map[uint]int)

	var sumComplete, totalRows int
	for _, u := range units {
		summary, err := p.SummarizeUnit(u.ID)
		if err != nil {
			return nil, err
		}
		overview.UnitSummaries = append(overview.UnitSummaries, *summary)

		var rows []models.UnitProgress
		if err := p.db.Where("unit_id = ?", u.ID).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, r := range rows {
			sumComplete += r.PercentComplete
			totalRows++
			st, ok := perStudent[r.StudentID]
			if !ok {
				st = &AtRiskStudent{StudentID: r.StudentID}
				perStudent[r.StudentID] = st
			}
			if r.Status == models.ProgressStatusReviewNeeded {
				st.ReviewNeededUnits++
			}
			st.AverageComplete += r.PercentComplete
			perStudentUnits[r.StudentID]++
		}
	}
	if totalRows > 0 {
		overview.AverageComplete = roundRatio(sumComplete, totalRows)
	}

	for id, st := range perStudent {
		st.AverageComplete = roundRatio(st.AverageComplete, perStudentUnits[id])
		if st.ReviewNeededUnits > 0 || st.AverageComplete < 40 {
			overview.AtRisk = append(overview.AtRisk, *st)
		}
	}
	sort.Slice(overview.AtRisk, func(i, j int) bool {
		return overview.AtRisk[i].StudentID < overview.AtRisk[j].StudentID
	})
	return overview, nil
}

// ComputedProgress is the pure output of one aggregation pass.
type ComputedProgress struct {
	Status               string
	AssignmentsCompleted int
	AssignmentsTotal     int
	AssignmentsScore     float64
	ConceptsMastered     int
	ConceptsTotal        int
	PercentComplete      int
	MasteryPercentage    int
	TimeSpentMinutes     int
	ParticipationCount   int
	EngagementScore      int
	Strengths            []string
	Struggles            []string
	RecommendedReview    []string
	FirstAccessedAt      *time.Time
	LastAccessedAt       *time.Time
	CompletedAt          *time.Time
}

func (c *ComputedProgress) applyTo(row *models.UnitProgress) {
	row.Status = c.Status
	row.AssignmentsCompleted = c.AssignmentsCompleted
	row.AssignmentsTotal = c.AssignmentsTotal
	row.AssignmentsScore = c.AssignmentsScore
	row.ConceptsMastered = c.ConceptsMastered
	row.ConceptsTotal = c.ConceptsTotal
	row.PercentComplete = c.PercentComplete
	row.MasteryPercentage = c.MasteryPercentage
	row.TimeSpentMinutes = c.TimeSpentMinutes
	row.ParticipationCount = c.ParticipationCount
	row.EngagementScore = c.EngagementScore
	row.Strengths = models.MarshalToJSON(c.Strengths)
	row.Struggles = models.MarshalToJSON(c.Struggles)
	row.RecommendedReview = models.MarshalToJSON(c.RecommendedReview)
	row.FirstAccessedAt = c.FirstAccessedAt
	row.LastAccessedAt = c.LastAccessedAt
	row.CompletedAt = c.CompletedAt
}

type conceptStats struct {
	name          string
	mastered      bool
	scoreSum      float64
	scoredCount   int
	lastPracticed time.Time
}

// ComputeProgress derives a progress snapshot from the full signal history of
// one (student, unit) pair. Signals must arrive ordered by occurrence. The
// function is pure: same inputs, same snapshot.
func ComputeProgress(unit *models.CurriculumUnit, signals []models.ProgressSignal, now time.Time, cfg AggregationConfig) ComputedProgress {
	out := ComputedProgress{
		Status:            models.ProgressStatusNotStarted,
		Strengths:         []string{},
		Struggles:         []string{},
		RecommendedReview: []string{},
	}
	if len(signals) == 0 {
		out.ConceptsTotal = len(unit.ConceptNames())
		return out
	}

	first := signals[0].OccurredAt
	last := signals[len(signals)-1].OccurredAt
	out.FirstAccessedAt = &first
	out.LastAccessedAt = &last

	// Latest signal wins per assignment; the unit's topic concepts seed the
	// concept universe, widened by any concept a signal names.
	latestAssignment := make(map[string]models.ProgressSignal)
	concepts := make(map[string]*conceptStats)
	for _, name := range unit.ConceptNames() {
		concepts[name] = &conceptStats{name: name}
	}

	var lastCompletedAt time.Time
	for _, sig := range signals {
		switch sig.Kind {
		case models.SignalAssignment:
			latestAssignment[sig.AssignmentRef] = sig
		case models.SignalConcept:
			cs, ok := concepts[sig.ConceptName]
			if !ok {
				cs = &conceptStats{name: sig.ConceptName}
				concepts[sig.ConceptName] = cs
			}
			cs.mastered = sig.Mastered
			cs.scoreSum += sig.Score
			cs.scoredCount++
			cs.lastPracticed = sig.OccurredAt
		case models.SignalTime:
			out.TimeSpentMinutes += sig.Minutes
		case models.SignalParticipation:
			out.ParticipationCount++
		}
	}

	out.AssignmentsTotal = len(latestAssignment)
	var scoreSum float64
	var scored int
	for _, sig := range latestAssignment {
		if sig.Completed {
			out.AssignmentsCompleted++
			scoreSum += sig.Score
			scored++
			if sig.OccurredAt.After(lastCompletedAt) {
				lastCompletedAt = sig.OccurredAt
			}
		}
	}
	if scored > 0 {
		out.AssignmentsScore = scoreSum / float64(scored)
	}

	out.ConceptsTotal = len(concepts)
	for _, cs := range concepts {
		if cs.mastered {
			out.ConceptsMastered++
		}
	}

	out.PercentComplete = percentOf(out.AssignmentsCompleted, out.AssignmentsTotal)
	out.MasteryPercentage = percentOf(out.ConceptsMastered, out.ConceptsTotal)
	out.EngagementScore = engagementScore(unit.EstimatedWeeks, out.TimeSpentMinutes, out.ParticipationCount)

	// Insight lists: average score per concept over its attempts, newest
	// practice first on ties.
	var practiced []*conceptStats
	for _, cs := range concepts {
		if cs.scoredCount > 0 {
			practiced = append(practiced, cs)
		}
	}
	sort.Slice(practiced, func(i, j int) bool {
		if !practiced[i].lastPracticed.Equal(practiced[j].lastPracticed) {
			return practiced[i].lastPracticed.After(practiced[j].lastPracticed)
		}
		return practiced[i].name < practiced[j].name
	})

	reviewCutoff := now.AddDate(0, 0, -cfg.ReviewWindowDays)
	for _, cs := range practiced {
		avg := cs.scoreSum / float64(cs.scoredCount)
		switch {
		case avg >= cfg.StrengthScore:
			if len(out.Strengths) < cfg.InsightTopN {
				out.Strengths = append(out.Strengths, cs.name)
			}
		case avg < cfg.StruggleScore:
			if len(out.Struggles) < cfg.InsightTopN {
				out.Struggles = append(out.Struggles, cs.name)
			}
			if cs.lastPracticed.Before(reviewCutoff) && len(out.RecommendedReview) < cfg.InsightTopN {
				out.RecommendedReview = append(out.RecommendedReview, cs.name)
			}
		}
	}

	// Status is re-evaluated from scratch every pass - review_needed can pull
	// a mastered unit back when a late low score lands.
	switch {
	case out.PercentComplete >= 50 && scored > 0 && out.AssignmentsScore < cfg.MasteryThreshold:
		out.Status = models.ProgressStatusReviewNeeded
	case out.PercentComplete == 100 && out.AssignmentsTotal > 0:
		if out.MasteryPercentage >= cfg.MasteredPercentage {
			out.Status = models.ProgressStatusMastered
		} else {
			out.Status = models.ProgressStatusCompleted
		}
		out.CompletedAt = &lastCompletedAt
	default:
		out.Status = models.ProgressStatusInProgress
	}

	return out
}

func percentOf(part, total int) int {
	if total <= 0 {
		return 0
	}
	return roundRatio(part*100, total)
}

// roundRatio divides with round-half-up integer rounding.
func roundRatio(numerator, denominator int) int {
	if denominator <= 0 {
		return 0
	}
	return (numerator + denominator/2) / denominator
}

// engagementScore composes time-on-task against the unit's expected workload
// with participation into one 0-100 signal. Expected workload assumes five
// 45-minute sessions per estimated week.
func engagementScore(estimatedWeeks, minutes, participation int) int {
	if minutes == 0 && participation == 0 {
		return 0
	}
	expected := estimatedWeeks * 5 * 45
	timeScore := 100
	if expected > 0 {
		timeScore = minutes * 100 / expected
		if timeScore > 100 {
			timeScore = 100
		}
	} else if minutes == 0 {
		timeScore = 0
	}
	participationScore := participation * 10
	if participationScore > 100 {
		participationScore = 100
	}
	return roundRatio(timeScore*6+participationScore*4, 10)
}
