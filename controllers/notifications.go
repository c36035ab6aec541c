package controllers

import (
	"time"

	"classplanner_go/database"
	"classplanner_go/middleware"
	"classplanner_go/models"
	notifsvc "classplanner_go/services/notifications"
	"classplanner_go/utils"

	"github.com/gofiber/fiber/v2"
)

type NotificationController struct{}

// ownNotification loads a notification by id, scoped to the current user.
func ownNotification(c *fiber.Ctx) (*models.Notification, error) {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return nil, utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return nil, err
	}

	var row models.Notification
	if err := database.DB.Where("id = ? AND user_id = ?", id, user.ID).First(&row).Error; err != nil {
		return nil, utils.Fail(c, fiber.StatusNotFound, "Notification not found")
	}
	return &row, nil
}

// GetNotifications lists the current user's notifications, optionally
// filtered by read state and type.
func (nc *NotificationController) GetNotifications(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	page, limit, offset := pageParams(c, 10, 100)

	q := database.DB.Where("user_id = ?", user.ID)
	switch c.Query("read") {
	case "true":
		q = q.Where("read = ?", true)
	case "false":
		q = q.Where("read = ?", false)
	}
	if typ := c.Query("type"); typ != "" {
		q = q.Where("type = ?", typ)
	}

	var total int64
	q.Model(&models.Notification{}).Count(&total)

	var rows []models.Notification
	if err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&rows).Error; err != nil {
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to fetch notifications")
	}

	return utils.Success(c, fiber.Map{
		"notifications": rows,
		"pagination":    fiber.Map{"page": page, "limit": limit, "total": total},
	})
}

// GetNotification returns one of the current user's notifications.
func (nc *NotificationController) GetNotification(c *fiber.Ctx) error {
	row, err := ownNotification(c)
	if err != nil {
		return err
	}
	return utils.Success(c, fiber.Map{"notification": row})
}

// CreateNotification fans a notification out to the requested users. Targets
// may be a single user, an explicit list, or every active user with a role.
// Admin only.
func (nc *NotificationController) CreateNotification(c *fiber.Ctx) error {
	var req struct {
		UserID  uint   `json:"user_id"`
		UserIDs []uint `json:"user_ids"`
		Role    string `json:"role"`
		Title   string `json:"title" validate:"required"`
		Message string `json:"message" validate:"required"`
		Type    string `json:"type" validate:"required,oneof=info warning error success"`
	}
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if msgs := utils.ValidateStruct(req); len(msgs) > 0 {
		return utils.Fail(c, fiber.StatusBadRequest, "Validation failed", msgs...)
	}

	var targets []uint
	switch {
	case req.UserID != 0:
		targets = []uint{req.UserID}
	case len(req.UserIDs) > 0:
		targets = req.UserIDs
	case req.Role != "":
		var users []models.User
		database.DB.Where("role = ? AND status = ?", req.Role, "active").Find(&users)
		for _, u := range users {
			targets = append(targets, u.ID)
		}
	default:
		return utils.Fail(c, fiber.StatusBadRequest, "Must specify user_id, user_ids, or role")
	}
	if len(targets) == 0 {
		return utils.Fail(c, fiber.StatusBadRequest, "No target users found")
	}

	if err := notifsvc.NewService().EnqueueOrCreate(targets,
		notifsvc.Queued(req.Title, req.Message, req.Type)); err != nil {
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to create notifications")
	}

	middleware.LogActivity(c, "CREATE", "notifications", 0, fiber.Map{
		"target_users": len(targets),
		"type":         req.Type,
		"title":        req.Title,
	})
	return utils.Created(c, fiber.Map{"target_users": len(targets)})
}

// MarkAsRead marks one notification read.
func (nc *NotificationController) MarkAsRead(c *fiber.Ctx) error {
	row, err := ownNotification(c)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := database.DB.Model(row).Updates(map[string]interface{}{
		"read":    true,
		"read_at": &now,
	}).Error; err != nil {
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to mark notification as read")
	}
	return utils.SuccessMessage(c, "Notification marked as read", nil)
}

// MarkAllAsRead marks every unread notification of the current user read.
func (nc *NotificationController) MarkAllAsRead(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}

	now := time.Now()
	if err := database.DB.Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", user.ID, false).
		Updates(map[string]interface{}{"read": true, "read_at": &now}).Error; err != nil {
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to mark notifications as read")
	}
	return utils.SuccessMessage(c, "All notifications marked as read", nil)
}

// DeleteNotification removes one of the current user's notifications.
func (nc *NotificationController) DeleteNotification(c *fiber.Ctx) error {
	row, err := ownNotification(c)
	if err != nil {
		return err
	}
	if err := database.DB.Delete(row).Error; err != nil {
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to delete notification")
	}
	return utils.SuccessMessage(c, "Notification deleted successfully", nil)
}

// GetUnreadCount reports how many unread notifications the current user has.
func (nc *NotificationController) GetUnreadCount(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}

	var count int64
	database.DB.Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", user.ID, false).
		Count(&count)
	return utils.Success(c, fiber.Map{"unread_count": count})
}
