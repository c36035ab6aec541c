package routes

import (
	"classplanner_go/controllers"
	"classplanner_go/middleware"
	"classplanner_go/services"
	"classplanner_go/services/ai"
	"classplanner_go/services/websocket"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
)

// Deps carries the wired services the route handlers depend on.
type Deps struct {
	Schedules *services.ScheduleService
	Sequencer *services.UnitSequencer
	Progress  *services.ProgressService
	Generator *ai.Generator
	Refiner   *ai.Refiner
	Health    *services.HealthService
	WSHub     *websocket.Hub
	Archives  *services.LogArchiveService
}

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, deps Deps) {
	// Initialize controllers
	authController := &controllers.AuthController{}
	classController := &controllers.ClassController{}
	notificationController := &controllers.NotificationController{}
	logController := controllers.NewLogController(deps.Archives)
	scheduleController := controllers.NewScheduleController(
		deps.Schedules, deps.Sequencer, deps.Progress, deps.Generator, deps.Refiner)
	unitController := controllers.NewUnitController(deps.Sequencer, deps.Schedules)
	progressController := controllers.NewProgressController(deps.Progress, deps.Sequencer)
	importController := controllers.NewProgressImportController(deps.Progress)
	healthController := controllers.NewHealthController(deps.Health)
	wsController := controllers.NewWebSocketController(deps.WSHub)

	// Health check (no authentication)
	app.Get("/health", healthController.GetHealthStatus)

	// API group
	api := app.Group("/api/v1")

	// Authentication routes (no middleware)
	auth := api.Group("/auth")
	auth.Post("/login", authController.Login)
	auth.Get("/profile", middleware.JWTMiddleware(), authController.GetProfile)

	// Protected routes (require authentication)
	protected := api.Group("/", middleware.JWTMiddleware())

	protected.Post("/auth/logout", authController.Logout)
	protected.Post("/auth/register", middleware.RequireOwnerOrAdmin(), authController.Register)
	protected.Put("/profile/password", authController.ChangePassword)

	crudLimit := middleware.CRUDRateLimit()
	aiLimit := middleware.AIRateLimit()
	progressLimit := middleware.ProgressRateLimit()
	timeLimit := middleware.TimeTrackingRateLimit()

	// Class management routes
	classes := protected.Group("/classes", crudLimit)
	classes.Post("/", middleware.RequireTeacherOrAbove(), classController.CreateClass)
	classes.Get("/", classController.GetClasses)
	classes.Get("/:id", classController.GetClass)
	classes.Post("/:id/enrollments", middleware.RequireTeacherOrAbove(), classController.EnrollStudents)
	classes.Delete("/:id/enrollments/:studentId", middleware.RequireTeacherOrAbove(), classController.UnenrollStudent)

	// Curriculum schedule routes
	schedules := protected.Group("/curriculum-schedules", crudLimit)
	schedules.Post("/", middleware.RequireTeacherOrAbove(), scheduleController.CreateSchedule)
	schedules.Get("/class/:classId", scheduleController.GetSchedulesByClass)
	schedules.Get("/:id", scheduleController.GetSchedule)
	schedules.Patch("/:id", middleware.RequireTeacherOrAbove(), scheduleController.UpdateSchedule)
	schedules.Delete("/:id", middleware.RequireTeacherOrAbove(), scheduleController.DeleteSchedule)
	schedules.Post("/:id/publish", middleware.RequireTeacherOrAbove(), scheduleController.PublishSchedule)
	schedules.Post("/:id/archive", middleware.RequireTeacherOrAbove(), scheduleController.ArchiveSchedule)

	// AI generation and refinement (separate, tighter limit)
	schedules.Post("/:id/generate-ai", aiLimit, middleware.RequireTeacherOrAbove(), scheduleController.GenerateAI)
	schedules.Post("/:id/refine-ai", aiLimit, middleware.RequireTeacherOrAbove(), scheduleController.RefineAI)
	schedules.Get("/:id/suggestions", middleware.RequireTeacherOrAbove(), scheduleController.GetSuggestions)
	schedules.Post("/:id/suggestions/apply", middleware.RequireTeacherOrAbove(), scheduleController.ApplySuggestions)
	schedules.Post("/:id/suggestions/reject", middleware.RequireTeacherOrAbove(), scheduleController.RejectSuggestions)

	// Schedule-wide progress
	schedules.Post("/:id/calculate-progress", progressLimit, middleware.RequireTeacherOrAbove(), scheduleController.CalculateProgress)
	schedules.Get("/:id/progress", progressLimit, scheduleController.GetScheduleProgress)

	// Curriculum unit routes
	units := protected.Group("/curriculum-units", crudLimit)
	units.Post("/", middleware.RequireTeacherOrAbove(), unitController.CreateUnit)
	units.Get("/schedule/:scheduleId", unitController.GetUnitsBySchedule)
	units.Post("/schedule/:scheduleId/reorder", middleware.RequireTeacherOrAbove(), unitController.ReorderUnits)
	units.Get("/:id", unitController.GetUnit)
	units.Patch("/:id", middleware.RequireTeacherOrAbove(), unitController.UpdateUnit)
	units.Delete("/:id", middleware.RequireTeacherOrAbove(), unitController.DeleteUnit)

	// Per-unit progress signals and rollups
	units.Post("/:id/signals/assignment", progressLimit, middleware.RequireTeacherOrAbove(), progressController.RecordAssignmentSignal)
	units.Post("/:id/signals/concept", progressLimit, middleware.RequireTeacherOrAbove(), progressController.RecordConceptSignal)
	units.Post("/:id/record-participation", progressLimit, progressController.RecordParticipation)
	units.Post("/:id/record-time", timeLimit, progressController.RecordTime)
	units.Post("/:id/calculate-progress", progressLimit, progressController.CalculateProgress)
	units.Get("/:id/progress", progressLimit, middleware.RequireTeacherOrAbove(), progressController.GetUnitProgress)
	units.Post("/:id/progress/import", progressLimit, middleware.RequireTeacherOrAbove(), importController.Import)

	// Student-facing progress views
	units.Get("/:id/my-progress", progressLimit, progressController.GetMyProgress)
	units.Get("/:id/my-strengths", progressLimit, progressController.GetMyStrengths)
	units.Get("/:id/my-struggles", progressLimit, progressController.GetMyStruggles)
	units.Get("/:id/my-review", progressLimit, progressController.GetMyReview)

	// Notification management routes
	notifications := protected.Group("/notifications")
	notifications.Get("/", notificationController.GetNotifications)
	notifications.Get("/unread-count", notificationController.GetUnreadCount)
	notifications.Get("/:id", notificationController.GetNotification)
	notifications.Post("/", middleware.RequireOwnerOrAdmin(), notificationController.CreateNotification)
	notifications.Patch("/:id/read", notificationController.MarkAsRead)
	notifications.Patch("/mark-all-read", notificationController.MarkAllAsRead)
	notifications.Delete("/:id", notificationController.DeleteNotification)

	// Log management routes (Admin/Owner only)
	logs := protected.Group("/logs", middleware.RequireOwnerOrAdmin())
	logs.Get("/", logController.GetLogs)
	logs.Get("/stats", logController.GetLogStats)
	logs.Get("/export", logController.ExportLogs)
	logs.Delete("/old", logController.DeleteOldLogs)
	logs.Post("/flush-cache", logController.FlushCachedLogs)
	logs.Get("/archives", logController.GetArchives)
	logs.Get("/archives/:id/download", logController.DownloadArchive)
	logs.Get("/:id", logController.GetLog)

	// WebSocket routes
	ws := protected.Group("/ws")
	ws.Get("/stats", middleware.RequireOwnerOrAdmin(), wsController.GetWebSocketStats)

	// WebSocket connection endpoint - use websocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", wsController.WebSocketHandler())
}
