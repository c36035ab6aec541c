package services

import (
	"time"

	"classplanner_go/database"
	"classplanner_go/models"

	"github.com/sirupsen/logrus"
)

// UnitStatusSweeper advances unit statuses as calendar windows open. Units on
// published schedules move from scheduled to in_progress once their start
// date arrives. Completion stays a teacher action, the sweep never closes a
// unit on its own.
type UnitStatusSweeper struct{}

func NewUnitStatusSweeper() *UnitStatusSweeper {
	return &UnitStatusSweeper{}
}

// Sweep performs one pass and returns how many units were advanced.
func (s *UnitStatusSweeper) Sweep() (int, error) {
	now := time.Now()

	result := database.DB.Model(&models.CurriculumUnit{}).
		Where("status = ?", models.UnitStatusScheduled).
		Where("start_date <= ?", now).
		Where("schedule_id IN (?)", database.DB.Model(&models.CurriculumSchedule{}).
			Select("id").Where("status = ?", models.ScheduleStatusPublished)).
		Update("status", models.UnitStatusInProgress)
	if result.Error != nil {
		return 0, result.Error
	}

	if result.RowsAffected > 0 {
		logrus.Infof("Unit status sweep: %d units moved to in_progress", result.RowsAffected)
	}
	return int(result.RowsAffected), nil
}

// Run is the cron entrypoint.
func (s *UnitStatusSweeper) Run() {
	if _, err := s.Sweep(); err != nil {
		logrus.WithError(err).Warn("unit status sweep failed")
	}
}
