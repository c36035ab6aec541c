package controllers

import (
	"strconv"

	"classplanner_go/database"
	"classplanner_go/middleware"
	"classplanner_go/models"
	"classplanner_go/utils"

	"github.com/gofiber/fiber/v2"
)

type ClassController struct{}

type CreateClassRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Description string `json:"description"`
	GradeLevel  string `json:"grade_level" validate:"max=50"`
	Subject     string `json:"subject" validate:"max=100"`
	TeacherID   uint   `json:"teacher_id"`
}

type EnrollStudentsRequest struct {
	StudentIDs []uint `json:"student_ids" validate:"required,min=1"`
}

// CreateClass creates a new class owned by the current teacher. Admins may
// create classes for another teacher via teacher_id.
func (cc *ClassController) CreateClass(c *fiber.Ctx) error {
	claims, err := middleware.GetCurrentClaims(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}

	var req CreateClassRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if msgs := utils.ValidateStruct(req); len(msgs) > 0 {
		return utils.Fail(c, fiber.StatusBadRequest, "Validation failed", msgs...)
	}

	teacherID := claims.UserID
	if req.TeacherID != 0 && req.TeacherID != claims.UserID {
		if claims.Role != "admin" && claims.Role != "owner" {
			return utils.Fail(c, fiber.StatusForbidden, "Only admins can assign classes to other teachers")
		}
		teacherID = req.TeacherID
	}

	class := models.Class{
		Name:        req.Name,
		Description: req.Description,
		GradeLevel:  req.GradeLevel,
		Subject:     req.Subject,
		TeacherID:   teacherID,
		Active:      true,
	}
	if err := database.DB.Create(&class).Error; err != nil {
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to create class")
	}

	middleware.LogActivity(c, "CREATE", "classes", class.ID, fiber.Map{"name": class.Name})

	return utils.Created(c, fiber.Map{"class": class})
}

// GetClasses lists classes. Teachers see their own, students see classes
// they are enrolled in, admins see all.
func (cc *ClassController) GetClasses(c *fiber.Ctx) error {
	claims, err := middleware.GetCurrentClaims(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := database.DB.Model(&models.Class{})
	switch claims.Role {
	case "teacher":
		query = query.Where("teacher_id = ?", claims.UserID)
	case "student":
		query = query.Where("id IN (?)", database.DB.Model(&models.ClassEnrollment{}).
			Select("class_id").Where("student_id = ? AND status = ?", claims.UserID, "enrolled"))
	}

	var total int64
	query.Count(&total)

	var classes []models.Class
	if err := query.Preload("Teacher").Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).Find(&classes).Error; err != nil {
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to fetch classes")
	}

	return utils.Success(c, fiber.Map{
		"classes": classes,
		"pagination": fiber.Map{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetClass returns one class with its enrollments
func (cc *ClassController) GetClass(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	var class models.Class
	if err := database.DB.Preload("Teacher").
		Preload("Enrollments", "status = ?", "enrolled").
		Preload("Enrollments.Student").
		First(&class, id).Error; err != nil {
		return utils.Fail(c, fiber.StatusNotFound, "Class not found")
	}

	return utils.Success(c, fiber.Map{"class": class})
}

// EnrollStudents enrolls one or more students into a class
func (cc *ClassController) EnrollStudents(c *fiber.Ctx) error {
	claims, err := middleware.GetCurrentClaims(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	var class models.Class
	if err := database.DB.First(&class, id).Error; err != nil {
		return utils.Fail(c, fiber.StatusNotFound, "Class not found")
	}
	if class.TeacherID != claims.UserID && claims.Role != "admin" && claims.Role != "owner" {
		return utils.Fail(c, fiber.StatusForbidden, "You do not manage this class")
	}

	var req EnrollStudentsRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if msgs := utils.ValidateStruct(req); len(msgs) > 0 {
		return utils.Fail(c, fiber.StatusBadRequest, "Validation failed", msgs...)
	}

	enrolled := 0
	var failures []string
	for _, studentID := range req.StudentIDs {
		var student models.User
		if err := database.DB.Where("id = ? AND role = ? AND status = ?", studentID, "student", "active").
			First(&student).Error; err != nil {
			failures = append(failures, "student "+strconv.FormatUint(uint64(studentID), 10)+" not found")
			continue
		}

		enrollment := models.ClassEnrollment{ClassID: class.ID, StudentID: studentID, Status: "enrolled"}
		if err := database.DB.Create(&enrollment).Error; err != nil {
			// Re-activate a previously dropped enrollment instead of failing
			res := database.DB.Model(&models.ClassEnrollment{}).
				Where("class_id = ? AND student_id = ?", class.ID, studentID).
				Update("status", "enrolled")
			if res.Error != nil || res.RowsAffected == 0 {
				failures = append(failures, "student "+strconv.FormatUint(uint64(studentID), 10)+" could not be enrolled")
				continue
			}
		}
		enrolled++
	}

	middleware.LogActivity(c, "UPDATE", "classes", class.ID, fiber.Map{"enrolled": enrolled})

	return utils.Success(c, fiber.Map{
		"enrolled": enrolled,
		"failed":   len(failures),
		"errors":   failures,
	})
}

// UnenrollStudent marks a student's enrollment as dropped
func (cc *ClassController) UnenrollStudent(c *fiber.Ctx) error {
	claims, err := middleware.GetCurrentClaims(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	studentID, err := parseIDParam(c, "studentId")
	if err != nil {
		return err
	}

	var class models.Class
	if err := database.DB.First(&class, id).Error; err != nil {
		return utils.Fail(c, fiber.StatusNotFound, "Class not found")
	}
	if class.TeacherID != claims.UserID && claims.Role != "admin" && claims.Role != "owner" {
		return utils.Fail(c, fiber.StatusForbidden, "You do not manage this class")
	}

	res := database.DB.Model(&models.ClassEnrollment{}).
		Where("class_id = ? AND student_id = ? AND status = ?", class.ID, studentID, "enrolled").
		Update("status", "dropped")
	if res.Error != nil {
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to update enrollment")
	}
	if res.RowsAffected == 0 {
		return utils.Fail(c, fiber.StatusNotFound, "Enrollment not found")
	}

	return utils.SuccessMessage(c, "Student unenrolled", nil)
}
