package routes

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"stationboard/config"
	"stationboard/controllers"
	"stationboard/middleware"
	"stationboard/scheduler"
	"stationboard/services"
	"stationboard/services/vault"
)

// SetupRoutes sets up all API routes
func SetupRoutes(
	router *gin.Engine,
	db *gorm.DB,
	hub *services.BroadcastHub,
	sched *scheduler.Scheduler,
	credVault *vault.Vault,
	cfg *config.Config,
) {
	// Initialize controllers
	authController := controllers.NewAuthController(db, cfg.SessionSecret)
	taskController := controllers.NewTaskController(db, hub)
	alertController := controllers.NewAlertController(db, sched)
	accountController := controllers.NewAccountController(db, credVault, sched)

	// Public auth endpoint
	router.POST("/api/auth/login", authController.Login)

	// Authenticated dashboard API
	api := router.Group("/api")
	api.Use(middleware.JWTAuthMiddleware(cfg.SessionSecret))
	{
		api.POST("/auth/change-password", authController.ChangePassword)

		// Shared task list
		tasks := api.Group("/tasks")
		{
			tasks.GET("", taskController.GetTasks)
			tasks.POST("", taskController.CreateTask)
			tasks.PUT("/:id", taskController.UpdateTask)
			tasks.DELETE("/:id", taskController.DeleteTask)
		}

		// Alert banners
		alerts := api.Group("/alerts")
		{
			alerts.GET("", alertController.GetAlerts)
			alerts.GET("/active", alertController.GetActiveAlert)
			alerts.POST("", middleware.RequireAdmin(), alertController.CreateAlert)
			alerts.PUT("/:id", middleware.RequireAdmin(), alertController.UpdateAlert)
			alerts.DELETE("/:id", middleware.RequireAdmin(), alertController.DeleteAlert)
		}

		// Portal accounts and scrape results
		accounts := api.Group("/accounts")
		{
			accounts.GET("", accountController.GetAccounts)
			accounts.GET("/health", accountController.GetHealth)
			accounts.GET("/:id/results/latest", accountController.GetLatestResult)
			accounts.GET("/:id/results", accountController.GetResultHistory)
			accounts.POST("", middleware.RequireAdmin(), accountController.CreateAccount)
			accounts.PUT("/:id", middleware.RequireAdmin(), accountController.UpdateAccount)
			accounts.DELETE("/:id", middleware.RequireAdmin(), accountController.DeleteAccount)
			accounts.POST("/:id/scrape", middleware.RequireAdmin(), accountController.TriggerScrape)
		}
	}

	// WebSocket endpoint for live dashboard updates. Browsers cannot set
	// an Authorization header on the upgrade request, so the middleware
	// also accepts the token as a query parameter here.
	router.GET("/ws", middleware.JWTAuthMiddleware(cfg.SessionSecret), func(c *gin.Context) {
		hub.HandleWebSocket(c.Writer, c.Request)
	})
}
