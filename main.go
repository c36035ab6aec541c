package main

import (
	"context"
	"log"
	"os"

	"classplanner_go/config"
	"classplanner_go/database"
	"classplanner_go/database/seeders"
	"classplanner_go/middleware"
	"classplanner_go/routes"
	"classplanner_go/services"
	"classplanner_go/services/ai"
	"classplanner_go/services/notifications"
	"classplanner_go/services/websocket"
	"classplanner_go/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const appVersion = "1.0.0"

func init() {
	config.LoadConfig()
	setupLogging()
	database.Connect()

	if config.AppConfig.AppEnv == "development" {
		seeders.SeedAll()
	}
}

func main() {
	// WebSocket hub first so every downstream service can push through it
	wsHub := websocket.NewHub()
	go wsHub.Run()

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	app.Use(middleware.LoggerMiddleware())
	app.Use(middleware.LogActivityMiddleware())

	// Notifications ride the hub, with an optional redis batching worker
	notifications.SetDefaultWSHub(wsHub)
	notifService := notifications.NewService()
	notifService.SetWebSocketHub(wsHub)
	if config.AppConfig.UseRedisNotifications {
		stopNotif := make(chan struct{})
		notifService.StartWorker(stopNotif)
	}

	// Object storage for curriculum material and log archives
	var store *storage.StorageService
	if s, err := storage.NewStorageService(context.Background()); err != nil {
		logrus.WithError(err).Warn("Object storage unavailable; material fetch and log archiving disabled")
	} else {
		store = s
	}

	// AI client for generation and refinement
	var aiClient ai.Client
	if c, err := ai.NewClient(); err != nil {
		logrus.WithError(err).Warn("AI client unavailable; generation and refinement endpoints will fail")
	} else {
		aiClient = c
	}

	// Domain services
	scheduleService := services.NewScheduleService(database.DB)
	unitSequencer := services.NewUnitSequencer(database.DB)
	progressService := services.NewProgressService(database.DB, services.AggregationConfig{
		MasteryThreshold:   config.AppConfig.MasteryThreshold,
		MasteredPercentage: config.AppConfig.MasteredPercentage,
		StrengthScore:      config.AppConfig.StrengthScore,
		StruggleScore:      config.AppConfig.StruggleScore,
		InsightTopN:        config.AppConfig.InsightTopN,
		ReviewWindowDays:   config.AppConfig.ReviewWindowDays,
	})

	var materials ai.MaterialFetcher
	if store != nil {
		materials = store
	}
	generator := ai.NewGenerator(database.DB, aiClient, unitSequencer, materials)
	refiner := ai.NewRefiner(database.DB, aiClient, unitSequencer, scheduleService)

	healthService := services.NewHealthService("Class Planner API", appVersion)

	// Background maintenance
	scheduler := cron.New()
	logArchiveService := services.NewLogArchiveService(store)
	statusSweeper := services.NewUnitStatusSweeper()
	scheduler.AddFunc("@hourly", logArchiveService.RunMaintenance)
	scheduler.AddFunc("@every 15m", statusSweeper.Run)
	scheduler.Start()
	statusSweeper.Run()

	routes.SetupRoutes(app, routes.Deps{
		Schedules: scheduleService,
		Sequencer: unitSequencer,
		Progress:  progressService,
		Generator: generator,
		Refiner:   refiner,
		Health:    healthService,
		WSHub:     wsHub,
		Archives:  logArchiveService,
	})

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":  "Route not found",
			"path":   c.Path(),
			"method": c.Method(),
		})
	})

	logrus.Infof("Class Planner API v%s starting on port %s (%s)",
		appVersion, config.AppConfig.Port, config.AppConfig.AppEnv)

	if err := app.Listen(":" + config.AppConfig.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

// setupLogging configures the logging system
func setupLogging() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(config.AppConfig.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if config.AppConfig.AppEnv == "development" {
		logrus.SetOutput(os.Stdout)
		return
	}

	if err := os.MkdirAll("logs", 0755); err == nil {
		file, err := os.OpenFile("logs/app.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			logrus.SetOutput(file)
		}
	}
}

// customErrorHandler handles errors that escape route handlers
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	logrus.WithFields(logrus.Fields{
		"error":  err.Error(),
		"path":   c.Path(),
		"method": c.Method(),
		"ip":     c.IP(),
		"status": code,
	}).Error("Request error")

	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}
