package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"classplanner_go/database"
	"classplanner_go/models"
	"classplanner_go/storage"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	logQueueKey       = "logs:queue"
	archiveBatchSize  = 1000
	minArchiveAgeDays = 7
)

// LogArchiveService flushes cached activity logs into the database and
// archives old rows to object storage.
type LogArchiveService struct {
	redisClient *redis.Client
	store       *storage.StorageService
}

// ArchivedLog is the row shape written into archive files.
type ArchivedLog struct {
	ID         uint           `json:"id"`
	UserID     uint           `json:"user_id"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID uint           `json:"resource_id"`
	Details    map[string]any `json:"details"`
	IPAddress  string         `json:"ip_address"`
	UserAgent  string         `json:"user_agent"`
	CreatedAt  time.Time      `json:"created_at"`
	Username   string         `json:"username,omitempty"`
	UserRole   string         `json:"user_role,omitempty"`
}

// NewLogArchiveService creates a new service instance. The storage service may
// be nil, in which case archiving is skipped and only cache flushing runs.
func NewLogArchiveService(store *storage.StorageService) *LogArchiveService {
	return &LogArchiveService{
		redisClient: database.GetRedisClient(),
		store:       store,
	}
}

// FlushCachedLogsToDatabase moves buffered logs older than a day from Redis
// to the database. The cron job calls this.
func (las *LogArchiveService) FlushCachedLogsToDatabase() error {
	_, _, err := las.flushQueueBefore(time.Now().Add(-24 * time.Hour))
	return err
}

// FlushAllCachedLogs drains the whole Redis buffer regardless of age and
// reports how many entries were written and how many failed.
func (las *LogArchiveService) FlushAllCachedLogs() (int, int, error) {
	return las.flushQueueBefore(time.Now())
}

func (las *LogArchiveService) flushQueueBefore(cutoff time.Time) (int, int, error) {
	if las.redisClient == nil {
		return 0, 0, fmt.Errorf("redis client not available")
	}

	ctx := context.Background()
	keys, err := las.redisClient.ZRangeByScore(ctx, logQueueKey, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read log queue: %v", err)
	}

	var written, failed int
	for _, key := range keys {
		switch err := las.flushOne(ctx, key); err {
		case nil:
			written++
		case redis.Nil:
			// Entry expired from the buffer before we got to it.
		default:
			logrus.WithError(err).Errorf("failed to flush buffered log %s", key)
			failed++
		}
	}

	if written > 0 || failed > 0 {
		logrus.Infof("Flushed %d logs to database, %d errors", written, failed)
	}
	return written, failed, nil
}

// flushOne moves a single buffered entry into the database and drops it from
// redis. Returns redis.Nil when the buffer entry has already expired.
func (las *LogArchiveService) flushOne(ctx context.Context, key string) error {
	raw, err := las.redisClient.Get(ctx, key).Result()
	if err != nil {
		return err
	}

	var entry models.ActivityLog
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return fmt.Errorf("unmarshal: %v", err)
	}
	if err := database.DB.Create(&entry).Error; err != nil {
		return fmt.Errorf("insert: %v", err)
	}

	pipe := las.redisClient.Pipeline()
	pipe.Del(ctx, key)
	pipe.ZRem(ctx, logQueueKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		// The row is already persisted; a leftover buffer entry only means a
		// duplicate on the next flush attempt.
		logrus.WithError(err).Errorf("failed to remove flushed log %s from buffer", key)
	}
	return nil
}

// ArchiveOldLogs exports logs older than daysOld into a zip on object storage,
// deletes the rows, and records the archive metadata.
func (las *LogArchiveService) ArchiveOldLogs(daysOld int) error {
	if daysOld < minArchiveAgeDays {
		return fmt.Errorf("minimum archive age is %d days", minArchiveAgeDays)
	}
	if las.store == nil {
		return fmt.Errorf("storage not configured")
	}

	cutoff := time.Now().AddDate(0, 0, -daysOld)
	rows, err := las.collectLogsBefore(cutoff)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	logrus.Infof("Archiving %d logs older than %s", len(rows), cutoff.Format("2006-01-02"))

	fileName := fmt.Sprintf("activity_logs_%s.zip", cutoff.Format("2006-01-02"))
	archive, err := las.buildArchive(rows, fileName)
	if err != nil {
		return fmt.Errorf("failed to build archive: %v", err)
	}

	objectKey := fmt.Sprintf("logs/archived/%d/%02d/%s", cutoff.Year(), cutoff.Month(), fileName)
	if _, err := las.store.UploadArchive(context.Background(), objectKey, archive.Bytes(), "application/zip"); err != nil {
		return fmt.Errorf("failed to upload archive: %v", err)
	}

	res := database.DB.Where("created_at < ?", cutoff).Delete(&models.ActivityLog{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete archived logs: %v", res.Error)
	}
	logrus.Infof("Deleted %d archived logs from database", res.RowsAffected)

	meta := models.LogArchive{
		FileName:    fileName,
		S3Key:       objectKey,
		StartDate:   rows[0].CreatedAt,
		EndDate:     cutoff,
		RecordCount: len(rows),
		FileSize:    int64(archive.Len()),
		Status:      "completed",
	}
	if err := database.DB.Create(&meta).Error; err != nil {
		logrus.WithError(err).Error("Failed to save archive metadata")
	}
	return nil
}

// collectLogsBefore pages through activity logs older than the cutoff and
// converts them to the archive shape.
func (las *LogArchiveService) collectLogsBefore(cutoff time.Time) ([]ArchivedLog, error) {
	var out []ArchivedLog
	for offset := 0; ; offset += archiveBatchSize {
		var batch []models.ActivityLog
		err := database.DB.
			Preload("User").
			Where("created_at < ?", cutoff).
			Limit(archiveBatchSize).
			Offset(offset).
			Find(&batch).Error
		if err != nil {
			return nil, fmt.Errorf("failed to fetch logs for archiving: %v", err)
		}
		if len(batch) == 0 {
			return out, nil
		}
		for i := range batch {
			out = append(out, toArchivedLog(&batch[i]))
		}
	}
}

func toArchivedLog(row *models.ActivityLog) ArchivedLog {
	out := ArchivedLog{
		ID:         row.ID,
		UserID:     row.UserID,
		Action:     row.Action,
		Resource:   row.Resource,
		ResourceID: row.ResourceID,
		IPAddress:  row.IPAddress,
		UserAgent:  row.UserAgent,
		CreatedAt:  row.CreatedAt,
	}
	if len(row.Details) > 0 {
		var details map[string]any
		if err := json.Unmarshal(row.Details, &details); err == nil {
			out.Details = details
		}
	}
	if row.User.ID > 0 {
		out.Username = row.User.Username
		out.UserRole = row.User.Role
	}
	return out
}

// buildArchive packs logs into a zip holding a JSON export, a CSV export, and
// a metadata file.
func (las *LogArchiveService) buildArchive(rows []ArchivedLog, fileName string) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	jsonFile, err := zw.Create("activity_logs.json")
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(jsonFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"export_date":    time.Now().UTC(),
		"record_count":   len(rows),
		"format_version": "1.0",
		"logs":           rows,
	}); err != nil {
		return nil, err
	}

	metaFile, err := zw.Create("metadata.json")
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(metaFile).Encode(map[string]any{
		"file_name":    fileName,
		"created_at":   time.Now().UTC(),
		"record_count": len(rows),
		"date_range": map[string]any{
			"start": rows[0].CreatedAt,
			"end":   rows[len(rows)-1].CreatedAt,
		},
		"schema_version": "1.0",
		"description":    "Class Planner Activity Logs Archive",
	}); err != nil {
		return nil, err
	}

	csvFile, err := zw.Create("activity_logs.csv")
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(csvFile)
	if err := w.Write([]string{"ID", "User ID", "Username", "Role", "Action", "Resource", "Resource ID", "IP Address", "User Agent", "Created At", "Details"}); err != nil {
		return nil, err
	}
	for _, row := range rows {
		details := ""
		if row.Details != nil {
			if raw, err := json.Marshal(row.Details); err == nil {
				details = string(raw)
			}
		}
		record := []string{
			strconv.FormatUint(uint64(row.ID), 10),
			strconv.FormatUint(uint64(row.UserID), 10),
			row.Username,
			row.UserRole,
			row.Action,
			row.Resource,
			strconv.FormatUint(uint64(row.ResourceID), 10),
			row.IPAddress,
			row.UserAgent,
			row.CreatedAt.Format("2006-01-02 15:04:05"),
			details,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf, nil
}

// GetArchivedLogs lists archive metadata, newest first.
func (las *LogArchiveService) GetArchivedLogs() ([]models.LogArchive, error) {
	var archives []models.LogArchive
	if err := database.DB.Order("created_at DESC").Find(&archives).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve archived logs: %v", err)
	}
	return archives, nil
}

// DownloadArchivedLogs streams a specific archive from object storage.
func (las *LogArchiveService) DownloadArchivedLogs(archiveID uint) (io.ReadCloser, string, error) {
	if las.store == nil {
		return nil, "", fmt.Errorf("storage not configured")
	}

	var archive models.LogArchive
	if err := database.DB.First(&archive, archiveID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, "", fmt.Errorf("archive not found")
		}
		return nil, "", fmt.Errorf("failed to retrieve archive: %v", err)
	}

	reader, err := las.store.OpenObject(context.Background(), archive.S3Key)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download archive: %v", err)
	}
	return reader, archive.FileName, nil
}

// RunMaintenance flushes cached logs and archives rows older than 30 days.
// Intended to be invoked from a cron schedule.
func (las *LogArchiveService) RunMaintenance() {
	if err := las.FlushCachedLogsToDatabase(); err != nil {
		logrus.WithError(err).Warn("FlushCachedLogsToDatabase failed")
	}
	if las.store == nil {
		return
	}
	if err := las.ArchiveOldLogs(30); err != nil {
		logrus.WithError(err).Warn("ArchiveOldLogs failed")
	}
}
