package middleware

import (
	"classplanner_go/config"
	"classplanner_go/database"
	"classplanner_go/models"
	"classplanner_go/utils"
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
)

const blacklistPrefix = "jwt:blacklist:"

type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken signs a JWT for the user with the configured lifetime.
func GenerateToken(user *models.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(config.AppConfig.JWTExpiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(config.AppConfig.JWTSecret))
}

// BlacklistToken records a logged-out token in redis until it would have
// expired anyway. No-op when redis is unavailable.
func BlacklistToken(tokenString string, expiresAt time.Time) {
	if database.RedisClient == nil {
		return
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return
	}
	database.RedisClient.Set(context.Background(), blacklistPrefix+tokenString, "1", ttl)
}

func tokenBlacklisted(tokenString string) bool {
	if database.RedisClient == nil {
		return false
	}
	n, err := database.RedisClient.Exists(context.Background(), blacklistPrefix+tokenString).Result()
	return err == nil && n > 0
}

// bearerToken pulls the raw token out of an Authorization header.
func bearerToken(c *fiber.Ctx) (string, string) {
	header := c.Get("Authorization")
	if header == "" {
		return "", "Missing authorization header"
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", "Invalid authorization header format"
	}
	return token, ""
}

// JWTMiddleware authenticates requests and loads the active user into locals.
func JWTMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, reason := bearerToken(c)
		if reason != "" {
			return utils.Fail(c, fiber.StatusUnauthorized, reason)
		}

		if tokenBlacklisted(tokenString) {
			return utils.Fail(c, fiber.StatusUnauthorized, "Token has been revoked")
		}

		token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
			return []byte(config.AppConfig.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			return utils.Fail(c, fiber.StatusUnauthorized, "Invalid token")
		}

		claims, ok := token.Claims.(*Claims)
		if !ok {
			return utils.Fail(c, fiber.StatusUnauthorized, "Invalid token claims")
		}

		// A valid signature is not enough: the account may have been
		// disabled since the token was issued.
		var user models.User
		if err := database.DB.Where("id = ? AND status = ?", claims.UserID, "active").First(&user).Error; err != nil {
			return utils.Fail(c, fiber.StatusUnauthorized, "User not found or inactive")
		}

		c.Locals("user", &user)
		c.Locals("claims", claims)
		c.Locals("token", tokenString)
		return c.Next()
	}
}

// RequireRole allows the request through only when the caller holds one of
// the listed roles.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := c.Locals("claims").(*Claims)
		if !ok {
			return utils.Fail(c, fiber.StatusUnauthorized, "Missing user claims")
		}
		for _, role := range roles {
			if claims.Role == role {
				return c.Next()
			}
		}
		return utils.Fail(c, fiber.StatusForbidden, "Insufficient permissions")
	}
}

// RequireOwnerOrAdmin allows only owner or admin accounts.
func RequireOwnerOrAdmin() fiber.Handler {
	return RequireRole("owner", "admin")
}

// RequireTeacherOrAbove allows teacher, admin, or owner accounts.
func RequireTeacherOrAbove() fiber.Handler {
	return RequireRole("teacher", "admin", "owner")
}

// GetCurrentUser returns the authenticated user stored by JWTMiddleware.
func GetCurrentUser(c *fiber.Ctx) (*models.User, error) {
	user, ok := c.Locals("user").(*models.User)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "User not found in context")
	}
	return user, nil
}

// GetCurrentClaims returns the JWT claims stored by JWTMiddleware.
func GetCurrentClaims(c *fiber.Ctx) (*Claims, error) {
	claims, ok := c.Locals("claims").(*Claims)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "Claims not found in context")
	}
	return claims, nil
}
