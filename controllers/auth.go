package controllers

import (
	"classplanner_go/database"
	"classplanner_go/middleware"
	"classplanner_go/models"
	"classplanner_go/utils"
	"strings"

	"github.com/gofiber/fiber/v2"
)

type AuthController struct{}

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=6"`
	Email    string `json:"email" validate:"omitempty,email"`
	Role     string `json:"role" validate:"required,oneof=owner admin teacher student"`
}

func userView(user *models.User) fiber.Map {
	return fiber.Map{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
		"role":     user.Role,
		"status":   user.Status,
	}
}

// Login authenticates a user and returns a JWT token
func (ac *AuthController) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if msgs := utils.ValidateStruct(req); len(msgs) > 0 {
		return utils.Fail(c, fiber.StatusBadRequest, "Validation failed", msgs...)
	}

	var user models.User
	if err := database.DB.Where("username = ? AND status = ?", req.Username, "active").First(&user).Error; err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "Invalid credentials")
	}

	if err := utils.CheckPassword(req.Password, user.Password); err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "Invalid credentials")
	}

	token, err := middleware.GenerateToken(&user)
	if err != nil {
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to generate token")
	}

	middleware.LogActivity(c, "LOGIN", "auth", user.ID, fiber.Map{
		"username": user.Username,
		"role":     user.Role,
	})

	return utils.Success(c, fiber.Map{
		"token": token,
		"user":  userView(&user),
	})
}

// Logout revokes the current JWT via the redis blacklist
func (ac *AuthController) Logout(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == "" || tokenString == authHeader {
		return utils.Fail(c, fiber.StatusBadRequest, "Missing or invalid authorization header")
	}

	if claims, err := middleware.GetCurrentClaims(c); err == nil && claims.ExpiresAt != nil {
		middleware.BlacklistToken(tokenString, claims.ExpiresAt.Time)
	}

	if user, err := middleware.GetCurrentUser(c); err == nil {
		middleware.LogActivity(c, "LOGOUT", "auth", user.ID, fiber.Map{"username": user.Username})
	}

	return utils.SuccessMessage(c, "Logged out successfully", nil)
}

// Register creates a new user account (admin only)
func (ac *AuthController) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if msgs := utils.ValidateStruct(req); len(msgs) > 0 {
		return utils.Fail(c, fiber.StatusBadRequest, "Validation failed", msgs...)
	}

	var existing models.User
	if err := database.DB.Where("username = ?", req.Username).First(&existing).Error; err == nil {
		return utils.Fail(c, fiber.StatusConflict, "Username already exists")
	}
	if req.Email != "" {
		if err := database.DB.Where("email = ?", req.Email).First(&existing).Error; err == nil {
			return utils.Fail(c, fiber.StatusConflict, "Email already exists")
		}
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to hash password")
	}

	user := models.User{
		Username: req.Username,
		Password: hashedPassword,
		Email:    req.Email,
		Role:     req.Role,
		Status:   "active",
	}
	if err := database.DB.Create(&user).Error; err != nil {
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to create user")
	}

	middleware.LogActivity(c, "CREATE", "users", user.ID, fiber.Map{
		"username": user.Username,
		"role":     user.Role,
	})

	return utils.Created(c, fiber.Map{"user": userView(&user)})
}

// GetProfile returns the current user's profile
func (ac *AuthController) GetProfile(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}
	return utils.Success(c, fiber.Map{"user": userView(user)})
}

// ChangePassword allows users to change their password
func (ac *AuthController) ChangePassword(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusUnauthorized, "User not found")
	}

	var req struct {
		CurrentPassword string `json:"current_password" validate:"required"`
		NewPassword     string `json:"new_password" validate:"required,min=6"`
	}
	if err := c.BodyParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if msgs := utils.ValidateStruct(req); len(msgs) > 0 {
		return utils.Fail(c, fiber.StatusBadRequest, "Validation failed", msgs...)
	}

	if err := utils.CheckPassword(req.CurrentPassword, user.Password); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "Current password is incorrect")
	}

	hashedPassword, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to hash password")
	}
	if err := database.DB.Model(user).Update("password", hashedPassword).Error; err != nil {
		return utils.Fail(c, fiber.StatusInternalServerError, "Failed to update password")
	}

	middleware.LogActivity(c, "UPDATE", "users", user.ID, fiber.Map{"action": "password_change"})

	return utils.SuccessMessage(c, "Password changed successfully", nil)
}
