package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"classplanner_go/config"
	"classplanner_go/models"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// RedisClient is nil when redis is unreachable; callers fall back to
// DB-only behavior.
var RedisClient *redis.Client

// Connect opens the MySQL and Redis connections. MySQL is required, redis
// is best effort.
func Connect() {
	connectMySQL()
	connectRedis()
}

func connectMySQL() {
	logMode := logger.Silent
	if config.AppConfig.AppEnv == "development" {
		logMode = logger.Info
	}

	dsn := config.AppConfig.GetDSN()

	// Quadratic backoff; the DB container often comes up after the app.
	var err error
	for attempt := 1; attempt <= 8; attempt++ {
		DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logMode),
		})
		if err == nil {
			break
		}
		log.Printf("MySQL connect attempt %d failed: %v", attempt, err)
		time.Sleep(time.Duration(attempt*attempt) * 300 * time.Millisecond)
	}
	if err != nil {
		log.Fatal("Could not reach MySQL after retries:", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("Failed to get database handle:", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(55 * time.Minute)

	log.Println("MySQL connected")

	if !config.AppConfig.SkipMigrate {
		AutoMigrate()
	}
}

// AutoMigrate creates or updates the schema for every planner model.
func AutoMigrate() {
	err := DB.AutoMigrate(
		&models.User{},
		&models.Class{},
		&models.ClassEnrollment{},
		&models.CurriculumSchedule{},
		&models.CurriculumUnit{},
		&models.UnitProgress{},
		&models.ProgressSignal{},
		&models.AIChatMessage{},
		&models.AISuggestion{},
		&models.ActivityLog{},
		&models.Notification{},
		&models.LogArchive{},
	)
	if err != nil {
		log.Fatal("Migration failed:", err)
	}
	log.Println("Migration completed")
}

func connectRedis() {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", config.AppConfig.RedisHost, config.AppConfig.RedisPort),
		Password: config.AppConfig.RedisPassword,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Printf("Redis unavailable (%v); locks and log buffering fall back to the database", err)
		RedisClient = nil
		return
	}

	RedisClient = client
	log.Println("Redis connected")
}

func GetRedisClient() *redis.Client {
	return RedisClient
}

func GetDB() *gorm.DB {
	return DB
}

// Close releases the MySQL connection pool on shutdown.
func Close() {
	sqlDB, err := DB.DB()
	if err != nil {
		log.Println("Error getting database handle:", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Println("Error closing database:", err)
	}
}
