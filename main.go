package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"stationboard/config"
	"stationboard/models"
	"stationboard/routes"
	"stationboard/scheduler"
	"stationboard/services"
	"stationboard/services/scraper"
	"stationboard/services/vault"
)

// Background initialization state. The init goroutine writes these while
// the /ready endpoint and the shutdown path read them, so every access
// goes through the mutex.
var (
	dbInitialized bool
	jobScheduler  *scheduler.Scheduler
	dbInitMutex   sync.RWMutex
)

func main() {
	log.Println("==============================================")
	log.Println("  Stationboard Backend - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Add middlewares
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Setup health check endpoints FIRST so the platform can detect the
	// service is up; database is initialized in background
	setupHealthEndpoints(router)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	// Start server immediately so orchestrators see us listening
	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Initialize database, services and routes in background
	hub := services.NewBroadcastHub()
	go func() {
		db, err := config.InitDB()
		if err != nil {
			log.Printf("ERROR: Database connection failed: %v", err)
			log.Println("Service will continue in limited mode (health check only)")
			return
		}

		log.Println("Running database migrations...")
		if err := runMigrations(); err != nil {
			log.Printf("ERROR: Migration failed: %v", err)
		} else {
			log.Println("Database migrations completed successfully")
		}

		if err := models.SeedDefaultUser(config.DB); err != nil {
			log.Printf("Warning: Could not seed default user: %v", err)
		}

		// Optional scrape archives
		if err := services.InitHistoryArchive(cfg.HistoryDBPath); err != nil {
			log.Printf("Warning: History archive unavailable: %v", err)
		}
		if err := services.InitMongoArchive(); err != nil {
			log.Printf("MongoDB not configured or failed to connect: %v", err)
		}

		// Credential vault with documented key precedence: a dedicated
		// ENCRYPTION_KEY wins, otherwise the key is derived from the
		// session secret.
		key, err := vault.ResolveKey(cfg.EncryptionKey, cfg.SessionSecret)
		if err != nil {
			log.Printf("ERROR: Vault key resolution failed: %v", err)
			return
		}
		credVault, err := vault.NewWithDB(db, key)
		if err != nil {
			log.Printf("ERROR: Vault initialization failed: %v", err)
			return
		}

		engine := scraper.New(scraper.Options{
			Timeout:         time.Duration(cfg.ScrapeTimeoutSeconds) * time.Second,
			UserAgent:       cfg.UserAgent,
			UsernameFields:  cfg.UsernameFieldNames,
			PasswordFields:  cfg.PasswordFieldNames,
			CaptchaMarkers:  cfg.CaptchaMarkers,
			LoggedInMarkers: cfg.LoggedInMarkers,
		})

		sched := scheduler.NewScheduler(
			scheduler.NewGormStore(db),
			engine,
			credVault,
			hub,
			scheduler.Options{
				RunTimeout:       time.Duration(cfg.ScrapeTimeoutSeconds) * time.Second,
				FailureThreshold: cfg.ScrapeFailureThreshold,
			},
		)

		// Mark database as ready
		dbInitMutex.Lock()
		dbInitialized = true
		jobScheduler = sched
		dbInitMutex.Unlock()

		routes.SetupRoutes(router, db, hub, sched, credVault, cfg)

		sched.Start()

		log.Println("Application fully initialized with database")
	}()

	// Graceful shutdown
	gracefulShutdown(server, hub)
}

// runMigrations runs all database migrations
func runMigrations() error {
	db := config.DB

	if err := models.MigrateAccountModels(db); err != nil {
		return err
	}
	if err := models.MigrateScrapeModels(db); err != nil {
		return err
	}
	if err := models.MigrateAlertModels(db); err != nil {
		return err
	}
	if err := models.MigrateTaskModels(db); err != nil {
		return err
	}
	if err := models.MigrateUserModels(db); err != nil {
		return err
	}

	return nil
}

// setupHealthEndpoints sets up health check endpoints
func setupHealthEndpoints(router *gin.Engine) {
	// Root endpoint
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Stationboard Backend",
			"version": "1.0.0",
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Readiness probe - checks if service is ready to receive traffic
	router.GET("/ready", func(c *gin.Context) {
		dbInitMutex.RLock()
		isDBReady := dbInitialized
		dbInitMutex.RUnlock()

		if !isDBReady {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database not connected",
			})
			return
		}

		sqlDB, err := config.DB.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database connection error",
			})
			return
		}

		if err := sqlDB.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database ping failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
		})
	})

	// Startup probe - can be used for initial health check
	router.GET("/startup", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "started",
		})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" || path == "/startup" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests in production
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(server *http.Server, hub *services.BroadcastHub) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	// Stop scheduler first so no new scrapes start and in-flight runs
	// drain within their run timeout
	dbInitMutex.RLock()
	sched := jobScheduler
	dbInitMutex.RUnlock()
	if sched != nil {
		sched.Stop()
	}

	// Disconnect dashboard clients
	hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Close archives and database connection
	if services.GlobalHistoryArchive != nil {
		services.GlobalHistoryArchive.Close()
	}
	if services.GlobalMongoArchive != nil {
		services.GlobalMongoArchive.Close()
	}
	if config.DB != nil {
		sqlDB, err := config.DB.DB()
		if err == nil {
			sqlDB.Close()
			log.Println("Database connection closed")
		}
	}

	log.Println("Server shutdown completed")
}
