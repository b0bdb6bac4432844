package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"stationboard/models"
)

// TaskPublisher pushes task change events to connected clients. Satisfied
// by *services.BroadcastHub.
type TaskPublisher interface {
	PublishTaskUpdated(payload interface{})
}

// TaskController handles the shared station task list
type TaskController struct {
	db  *gorm.DB
	hub TaskPublisher
}

// NewTaskController creates a new task controller
func NewTaskController(db *gorm.DB, hub TaskPublisher) *TaskController {
	return &TaskController{db: db, hub: hub}
}

type taskRequest struct {
	Title    string `json:"title" binding:"required"`
	Status   string `json:"status"`
	Assignee string `json:"assignee"`
	Priority int    `json:"priority"`
}

// GetTasks returns all tasks, newest first
// GET /api/tasks
func (tc *TaskController) GetTasks(c *gin.Context) {
	var tasks []models.Task
	if err := tc.db.Order("created_at DESC").Find(&tasks).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch tasks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tasks})
}

// CreateTask creates a new task
// POST /api/tasks
func (tc *TaskController) CreateTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}
	if req.Status != "" && !models.ValidTaskStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	task := models.Task{
		Title:    req.Title,
		Status:   req.Status,
		Assignee: req.Assignee,
		Priority: req.Priority,
	}
	if task.Status == "" {
		task.Status = models.TaskStatusOpen
	}
	if task.Priority == 0 {
		task.Priority = 2
	}
	if userID, err := strconv.Atoi(c.GetString("user_id")); err == nil {
		task.CreatedBy = uint(userID)
	}

	if err := tc.db.Create(&task).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create task"})
		return
	}

	tc.hub.PublishTaskUpdated(task.ToPayload())
	c.JSON(http.StatusCreated, gin.H{"data": task})
}

// UpdateTask updates an existing task
// PUT /api/tasks/:id
func (tc *TaskController) UpdateTask(c *gin.Context) {
	var task models.Task
	if err := tc.db.First(&task, c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}

	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}
	if req.Status != "" && !models.ValidTaskStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	task.Title = req.Title
	task.Assignee = req.Assignee
	if req.Status != "" {
		task.Status = req.Status
	}
	if req.Priority != 0 {
		task.Priority = req.Priority
	}

	if err := tc.db.Save(&task).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update task"})
		return
	}

	tc.hub.PublishTaskUpdated(task.ToPayload())
	c.JSON(http.StatusOK, gin.H{"data": task})
}

// DeleteTask removes a task
// DELETE /api/tasks/:id
func (tc *TaskController) DeleteTask(c *gin.Context) {
	var task models.Task
	if err := tc.db.First(&task, c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}

	if err := tc.db.Delete(&task).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete task"})
		return
	}

	payload := task.ToPayload()
	payload["deleted"] = true
	tc.hub.PublishTaskUpdated(payload)
	c.JSON(http.StatusOK, gin.H{"message": "Task deleted"})
}
