package middleware

import (
	"classplanner_go/database"
	"classplanner_go/models"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	logBufferTTL = 24 * time.Hour
	logQueueKey  = "logs:queue"
)

// LoggerMiddleware emits one structured line per HTTP request.
func LoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		fields := logrus.Fields{
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"duration":   time.Since(start).String(),
			"ip":         c.IP(),
			"user_agent": c.Get("User-Agent"),
		}
		if c.Response().StatusCode() >= 500 {
			logrus.WithFields(fields).Warn("HTTP Request")
		} else {
			logrus.WithFields(fields).Info("HTTP Request")
		}
		return err
	}
}

// LogActivity records a user action. Logs are buffered in redis for the
// archive job and fall back to a direct database write when redis is down.
func LogActivity(c *fiber.Ctx, action, resource string, resourceID uint, details interface{}) {
	user, err := GetCurrentUser(c)
	if err != nil {
		// No authenticated user, attribute the action to the system.
		user = &models.User{BaseModel: models.BaseModel{ID: 0}}
	}

	meta := map[string]interface{}{
		"details":    details,
		"request_id": c.Get("X-Request-ID", uuid.New().String()),
		"method":     c.Method(),
		"path":       c.Path(),
		"status":     c.Response().StatusCode(),
	}
	detailsJSON, _ := json.Marshal(meta)

	entry := models.ActivityLog{
		UserID:     user.ID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Details:    detailsJSON,
		IPAddress:  c.IP(),
		UserAgent:  c.Get("User-Agent"),
	}
	entry.CreatedAt = time.Now()

	go persistActivityLog(entry)
}

func persistActivityLog(entry models.ActivityLog) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("panic recovered while persisting activity log")
		}
	}()

	if err := bufferActivityLog(entry); err == nil {
		return
	}
	if database.DB == nil {
		logrus.Error("database unavailable; activity log dropped")
		return
	}
	if err := database.DB.Create(&entry).Error; err != nil {
		logrus.WithError(err).Error("Failed to save activity log to database")
	}
}

// bufferActivityLog pushes the log into redis with a 24-hour TTL plus a
// queue entry the archive worker drains in order.
func bufferActivityLog(entry models.ActivityLog) error {
	client := database.GetRedisClient()
	if client == nil {
		return fmt.Errorf("redis client is nil")
	}
	ctx := context.Background()

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log: %v", err)
	}

	key := fmt.Sprintf("log:%d:%s:%d", entry.UserID, entry.Action, time.Now().UnixNano())
	if err := client.Set(ctx, key, raw, logBufferTTL).Err(); err != nil {
		return fmt.Errorf("failed to buffer log: %v", err)
	}

	if err := client.ZAdd(ctx, logQueueKey, &redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: key,
	}).Err(); err != nil {
		logrus.WithError(err).Error("Failed to add log to processing queue")
	}
	return nil
}

// LogActivityMiddleware records successful mutating requests automatically.
// GET requests and the auth endpoints are skipped.
func LogActivityMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodGet || strings.Contains(c.Path(), "/auth/") {
			return c.Next()
		}

		err := c.Next()

		var action string
		switch c.Method() {
		case fiber.MethodPost:
			action = "CREATE"
		case fiber.MethodPut, fiber.MethodPatch:
			action = "UPDATE"
		case fiber.MethodDelete:
			action = "DELETE"
		default:
			return err
		}

		if c.Response().StatusCode() < 400 {
			var resourceID uint
			if id, parseErr := strconv.ParseUint(c.Params("id"), 10, 64); parseErr == nil {
				resourceID = uint(id)
			}
			LogActivity(c, action, resourceFromPath(c.Path()), resourceID, nil)
		}
		return err
	}
}

// resourceFromPath extracts the resource segment from /api/v1/<resource>/...
func resourceFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 {
		return parts[2]
	}
	return ""
}
