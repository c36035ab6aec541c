package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"classplanner_go/database"
	"classplanner_go/models"
	"classplanner_go/services"
	"classplanner_go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

type LogController struct {
	archives *services.LogArchiveService
}

func NewLogController(archives *services.LogArchiveService) *LogController {
	return &LogController{archives: archives}
}

type logView struct {
	ID         uint                   `json:"id"`
	UserID     uint                   `json:"user_id"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource"`
	ResourceID uint                   `json:"resource_id"`
	Details    map[string]interface{} `json:"details,omitempty"`
	IPAddress  string                 `json:"ip_address"`
	UserAgent  string                 `json:"user_agent"`
	CreatedAt  time.Time              `json:"created_at"`
	Username   string                 `json:"username,omitempty"`
	UserRole   string                 `json:"user_role,omitempty"`
}

func toLogView(entry models.ActivityLog) logView {
	v := logView{
		ID:         entry.ID,
		UserID:     entry.UserID,
		Action:     entry.Action,
		Resource:   entry.Resource,
		ResourceID: entry.ResourceID,
		IPAddress:  entry.IPAddress,
		UserAgent:  entry.UserAgent,
		CreatedAt:  entry.CreatedAt,
	}
	if len(entry.Details) > 0 {
		var details map[string]interface{}
		if err := json.Unmarshal(entry.Details, &details); err == nil {
			v.Details = details
		}
	}
	if entry.User.ID > 0 {
		v.Username = entry.User.Username
		v.UserRole = entry.User.Role
	}
	return v
}

// filteredQuery applies the shared query-string filters for listing and
// exporting.
func filteredLogQuery(c *fiber.Ctx) *gorm.DB {
	query := database.DB.Model(&models.ActivityLog{}).Preload("User")

	if userID := c.Query("user_id"); userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if action := c.Query("action"); action != "" {
		query = query.Where("action = ?", action)
	}
	if resource := c.Query("resource"); resource != "" {
		query = query.Where("resource = ?", resource)
	}
	if start := c.Query("start_date"); start != "" {
		if parsed, err := time.Parse("2006-01-02", start); err == nil {
			query = query.Where("created_at >= ?", parsed)
		}
	}
	if end := c.Query("end_date"); end != "" {
		if parsed, err := time.Parse("2006-01-02", end); err == nil {
			query = query.Where("created_at < ?", parsed.Add(24*time.Hour))
		}
	}
	return query
}

// GetLogs lists activity logs, newest first, with pagination and filters.
func (lc *LogController) GetLogs(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	query := filteredLogQuery(c)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		logrus.WithError(err).Error("Failed to count activity logs")
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to retrieve logs")
	}

	var entries []models.ActivityLog
	if err := query.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&entries).Error; err != nil {
		logrus.WithError(err).Error("Failed to retrieve activity logs")
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to retrieve logs")
	}

	views := make([]logView, len(entries))
	for i, entry := range entries {
		views[i] = toLogView(entry)
	}

	return utils.Success(c, fiber.Map{
		"logs":        views,
		"total":       total,
		"page":        page,
		"limit":       limit,
		"total_pages": (total + int64(limit) - 1) / int64(limit),
	})
}

type logStats struct {
	Total             int64            `json:"total"`
	TotalToday        int64            `json:"total_today"`
	TotalThisWeek     int64            `json:"total_this_week"`
	ActionBreakdown   map[string]int64 `json:"action_breakdown"`
	ResourceBreakdown map[string]int64 `json:"resource_breakdown"`
	RecentActivity    []logView        `json:"recent_activity"`
}

// GetLogStats summarizes audit activity for the admin dashboard.
func (lc *LogController) GetLogStats(c *fiber.Ctx) error {
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart := today.AddDate(0, 0, -int(today.Weekday()))

	stats := logStats{
		ActionBreakdown:   make(map[string]int64),
		ResourceBreakdown: make(map[string]int64),
	}

	database.DB.Model(&models.ActivityLog{}).Count(&stats.Total)
	database.DB.Model(&models.ActivityLog{}).Where("created_at >= ?", today).Count(&stats.TotalToday)
	database.DB.Model(&models.ActivityLog{}).Where("created_at >= ?", weekStart).Count(&stats.TotalThisWeek)

	var grouped []struct {
		Key   string
		Count int64
	}
	database.DB.Model(&models.ActivityLog{}).
		Select("action as `key`, COUNT(*) as count").Group("action").Find(&grouped)
	for _, g := range grouped {
		stats.ActionBreakdown[g.Key] = g.Count
	}

	grouped = nil
	database.DB.Model(&models.ActivityLog{}).
		Select("resource as `key`, COUNT(*) as count").Group("resource").Find(&grouped)
	for _, g := range grouped {
		stats.ResourceBreakdown[g.Key] = g.Count
	}

	var recent []models.ActivityLog
	database.DB.Preload("User").Order("created_at DESC").Limit(10).Find(&recent)
	for _, entry := range recent {
		stats.RecentActivity = append(stats.RecentActivity, toLogView(entry))
	}

	return utils.Success(c, stats)
}

// GetLog returns one log entry.
func (lc *LogController) GetLog(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Invalid log ID")
	}

	var entry models.ActivityLog
	if err := database.DB.Preload("User").First(&entry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Fail(c, fiber.StatusNotFound, "Log not found")
		}
		logrus.WithError(err).Error("Failed to retrieve activity log")
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to retrieve log")
	}

	return utils.Success(c, toLogView(entry))
}

// DeleteOldLogs removes log rows older than the given number of days. Rows
// younger than a week are never deleted.
func (lc *LogController) DeleteOldLogs(c *fiber.Ctx) error {
	days, err := strconv.Atoi(c.Query("days", "30"))
	if err != nil || days < 7 {
		return utils.Fail(c, fiber.StatusBadRequest, "days must be a number of at least 7")
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	result := database.DB.Where("created_at < ?", cutoff).Delete(&models.ActivityLog{})
	if result.Error != nil {
		logrus.WithError(result.Error).Error("Failed to delete old activity logs")
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to delete old logs")
	}

	return utils.SuccessMessage(c, "Old logs deleted", fiber.Map{
		"deleted_count": result.RowsAffected,
		"cutoff_date":   cutoff,
	})
}

// ExportLogs streams the filtered logs as an xlsx workbook.
func (lc *LogController) ExportLogs(c *fiber.Ctx) error {
	var entries []models.ActivityLog
	if err := filteredLogQuery(c).Order("created_at DESC").Find(&entries).Error; err != nil {
		logrus.WithError(err).Error("Failed to retrieve activity logs for export")
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to export logs")
	}

	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Activity Logs"
	f.SetSheetName("Sheet1", sheet)

	header := []interface{}{"ID", "User ID", "Username", "Role", "Action", "Resource",
		"Resource ID", "IP Address", "Created At", "Details"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to export logs")
	}

	for i, entry := range entries {
		username, role := "", ""
		if entry.User.ID > 0 {
			username = entry.User.Username
			role = entry.User.Role
		}
		row := []interface{}{
			entry.ID, entry.UserID, username, role, entry.Action, entry.Resource,
			entry.ResourceID, entry.IPAddress,
			entry.CreatedAt.Format("2006-01-02 15:04:05"),
			string(entry.Details),
		}
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return utils.Fail(c, fiber.StatusInternalServerError, "Failed to export logs")
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		logrus.WithError(err).Error("Failed to build log export workbook")
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to export logs")
	}

	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=activity_logs_%s.xlsx",
		time.Now().Format("20060102")))
	return c.Send(buf.Bytes())
}

// FlushCachedLogs drains the Redis log buffer into the database immediately.
func (lc *LogController) FlushCachedLogs(c *fiber.Ctx) error {
	processed, failed, err := lc.archives.FlushAllCachedLogs()
	if err != nil {
		return utils.Fail(c, fiber.StatusServiceUnavailable, err.Error())
	}
	return utils.SuccessMessage(c, "Cached logs flushed", fiber.Map{
		"processed_count": processed,
		"error_count":     failed,
	})
}

// GetArchives lists completed log archives.
func (lc *LogController) GetArchives(c *fiber.Ctx) error {
	archives, err := lc.archives.GetArchivedLogs()
	if err != nil {
		logrus.WithError(err).Error("Failed to list log archives")
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to list archives")
	}
	return utils.Success(c, fiber.Map{"archives": archives})
}

// DownloadArchive streams one archived zip back from object storage.
func (lc *LogController) DownloadArchive(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Invalid archive ID")
	}

	body, fileName, err := lc.archives.DownloadArchivedLogs(uint(id))
	if err != nil {
		logrus.WithError(err).WithField("archive_id", id).Error("Failed to download log archive")
		return utils.Fail(c, fiber.StatusNotFound, "Archive not available")
	}

	c.Set("Content-Type", "application/zip")
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", fileName))
	return c.SendStream(body)
}
