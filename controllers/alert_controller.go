package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"stationboard/models"
	"stationboard/services/alerting"
)

// AlertNotifier re-evaluates the active alert window and pushes the
// outcome to connected clients. Satisfied by *scheduler.Scheduler.
type AlertNotifier interface {
	RefreshAlerts(force bool)
}

// AlertController handles alert window management
type AlertController struct {
	db       *gorm.DB
	notifier AlertNotifier
}

// NewAlertController creates a new alert controller
func NewAlertController(db *gorm.DB, notifier AlertNotifier) *AlertController {
	return &AlertController{db: db, notifier: notifier}
}

type alertRequest struct {
	Message    string     `json:"message" binding:"required"`
	ColorTheme string     `json:"color_theme"`
	FontSizePx int        `json:"font_size_px"`
	StartTime  *time.Time `json:"start_time"`
	EndTime    time.Time  `json:"end_time" binding:"required"`
	Enabled    *bool      `json:"enabled"`
}

func (r *alertRequest) validate() string {
	if r.ColorTheme != "" && !models.ValidAlertTheme(r.ColorTheme) {
		return "color_theme must be one of the bootstrap themes"
	}
	if r.FontSizePx != 0 && (r.FontSizePx < models.MinAlertFontSize || r.FontSizePx > models.MaxAlertFontSize) {
		return "font_size_px must be between 12 and 64"
	}
	if r.StartTime != nil && !r.EndTime.After(*r.StartTime) {
		return "end_time must be after start_time"
	}
	return ""
}

// GetAlerts returns all alert windows
// GET /api/alerts
func (ac *AlertController) GetAlerts(c *gin.Context) {
	var windows []models.AlertWindow
	if err := ac.db.Order("created_at DESC").Find(&windows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": windows})
}

// GetActiveAlert returns the single alert window in effect right now
// GET /api/alerts/active
func (ac *AlertController) GetActiveAlert(c *gin.Context) {
	payload, _, err := alerting.Snapshot(ac.db, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to evaluate alerts"})
		return
	}
	c.JSON(http.StatusOK, payload)
}

// CreateAlert creates a new alert window
// POST /api/alerts
func (ac *AlertController) CreateAlert(c *gin.Context) {
	var req alertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message and end_time are required"})
		return
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	window := models.AlertWindow{
		Message:    req.Message,
		ColorTheme: req.ColorTheme,
		FontSizePx: req.FontSizePx,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Enabled:    req.Enabled == nil || *req.Enabled,
	}
	if window.ColorTheme == "" {
		window.ColorTheme = models.DefaultAlertTheme
	}
	if window.FontSizePx == 0 {
		window.FontSizePx = models.DefaultAlertFontSize
	}
	if userID, err := strconv.Atoi(c.GetString("user_id")); err == nil {
		window.CreatedBy = uint(userID)
	}

	if err := ac.db.Create(&window).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create alert"})
		return
	}

	ac.notifier.RefreshAlerts(true)
	c.JSON(http.StatusCreated, gin.H{"data": window})
}

// UpdateAlert updates an existing alert window
// PUT /api/alerts/:id
func (ac *AlertController) UpdateAlert(c *gin.Context) {
	var window models.AlertWindow
	if err := ac.db.First(&window, c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		return
	}

	var req alertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message and end_time are required"})
		return
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	window.Message = req.Message
	window.StartTime = req.StartTime
	window.EndTime = req.EndTime
	if req.ColorTheme != "" {
		window.ColorTheme = req.ColorTheme
	}
	if req.FontSizePx != 0 {
		window.FontSizePx = req.FontSizePx
	}
	if req.Enabled != nil {
		window.Enabled = *req.Enabled
	}

	if err := ac.db.Save(&window).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update alert"})
		return
	}

	ac.notifier.RefreshAlerts(true)
	c.JSON(http.StatusOK, gin.H{"data": window})
}

// DeleteAlert removes an alert window
// DELETE /api/alerts/:id
func (ac *AlertController) DeleteAlert(c *gin.Context) {
	var window models.AlertWindow
	if err := ac.db.First(&window, c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		return
	}

	if err := ac.db.Delete(&window).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete alert"})
		return
	}

	ac.notifier.RefreshAlerts(true)
	c.JSON(http.StatusOK, gin.H{"message": "Alert deleted"})
}
