package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"stationboard/models"
	"stationboard/scheduler"
	"stationboard/services"
	"stationboard/services/vault"
)

// ScrapeTrigger exposes the scheduler operations the dashboard needs.
// Satisfied by *scheduler.Scheduler.
type ScrapeTrigger interface {
	TriggerNow(accountID uint) bool
	Health() []scheduler.AccountHealth
}

// AccountController handles portal account configuration and scrape results
type AccountController struct {
	db    *gorm.DB
	vault *vault.Vault
	sched ScrapeTrigger
}

// NewAccountController creates a new account controller
func NewAccountController(db *gorm.DB, credVault *vault.Vault, sched ScrapeTrigger) *AccountController {
	return &AccountController{db: db, vault: credVault, sched: sched}
}

type accountRequest struct {
	Name                  string `json:"name"`
	BaseURL               string `json:"base_url"`
	Username              string `json:"username"`
	Password              string `json:"password"`
	ScrapeIntervalMinutes *int   `json:"scrape_interval_minutes"`
	Enabled               *bool  `json:"enabled"`
}

// GetAccounts returns all configured accounts. Encrypted credentials are
// excluded from serialization by the model.
// GET /api/accounts
func (ac *AccountController) GetAccounts(c *gin.Context) {
	var accounts []models.Account
	if err := ac.db.Find(&accounts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch accounts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": accounts})
}

// GetHealth returns per-account scrape health
// GET /api/accounts/health
func (ac *AccountController) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": ac.sched.Health()})
}

// CreateAccount creates a new portal account
// POST /api/accounts
func (ac *AccountController) CreateAccount(c *gin.Context) {
	var req accountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Name == "" || req.BaseURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and base_url are required"})
		return
	}
	if req.ScrapeIntervalMinutes != nil && *req.ScrapeIntervalMinutes < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scrape_interval_minutes must be a positive integer"})
		return
	}

	account := models.Account{
		Name:                  req.Name,
		BaseURL:               req.BaseURL,
		Username:              req.Username,
		ScrapeIntervalMinutes: 15,
		Enabled:               req.Enabled == nil || *req.Enabled,
	}
	if req.ScrapeIntervalMinutes != nil {
		account.ScrapeIntervalMinutes = *req.ScrapeIntervalMinutes
	}
	if req.Password != "" {
		sealed, err := ac.vault.Seal(req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encrypt credentials"})
			return
		}
		account.PasswordEncrypted = sealed
	}

	if err := ac.db.Create(&account).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": account})
}

// UpdateAccount updates account configuration. Interval and enabled
// changes take effect at the scheduler's next tick evaluation.
// PUT /api/accounts/:id
func (ac *AccountController) UpdateAccount(c *gin.Context) {
	var account models.Account
	if err := ac.db.First(&account, c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return
	}

	var req accountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.ScrapeIntervalMinutes != nil && *req.ScrapeIntervalMinutes < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scrape_interval_minutes must be a positive integer"})
		return
	}

	if req.Name != "" {
		account.Name = req.Name
	}
	if req.BaseURL != "" {
		account.BaseURL = req.BaseURL
	}
	if req.Username != "" {
		account.Username = req.Username
	}
	if req.ScrapeIntervalMinutes != nil {
		account.ScrapeIntervalMinutes = *req.ScrapeIntervalMinutes
	}
	if req.Enabled != nil {
		account.Enabled = *req.Enabled
	}
	if req.Password != "" {
		sealed, err := ac.vault.Seal(req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encrypt credentials"})
			return
		}
		account.PasswordEncrypted = sealed
	}

	if err := ac.db.Save(&account).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": account})
}

// DeleteAccount removes an account. Accounts must be disabled first so no
// scrape is scheduled when the row disappears.
// DELETE /api/accounts/:id
func (ac *AccountController) DeleteAccount(c *gin.Context) {
	var account models.Account
	if err := ac.db.First(&account, c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return
	}
	if account.Enabled {
		c.JSON(http.StatusConflict, gin.H{"error": "Disable the account before deleting it"})
		return
	}

	if err := ac.db.Delete(&account).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Account deleted"})
}

// TriggerScrape requests an immediate scrape run for an account. The run
// executes on a scheduler worker; an already running scrape wins.
// POST /api/accounts/:id/scrape
func (ac *AccountController) TriggerScrape(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account id"})
		return
	}

	if !ac.sched.TriggerNow(uint(id)) {
		c.JSON(http.StatusConflict, gin.H{"error": "Scrape already running or account disabled"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Scrape started"})
}

// GetLatestResult returns the most recent scrape result for an account
// GET /api/accounts/:id/results/latest
func (ac *AccountController) GetLatestResult(c *gin.Context) {
	var result models.ScrapeResult
	err := ac.db.Where("account_id = ?", c.Param("id")).
		Order("scraped_at DESC").First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusOK, gin.H{"data": nil})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch result"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result.ToPayload()})
}

// GetResultHistory returns archived scrape outcomes for an account
// GET /api/accounts/:id/results
func (ac *AccountController) GetResultHistory(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	if services.GlobalHistoryArchive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "History archive is disabled"})
		return
	}
	entries, err := services.GlobalHistoryArchive.Recent(uint(id), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}
