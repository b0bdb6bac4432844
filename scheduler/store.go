package scheduler

import (
	"time"

	"gorm.io/gorm"

	"stationboard/models"
)

// Store is the persistence boundary the scheduler works through. Scrape
// results are written exactly once per completed run and never updated.
type Store interface {
	EnabledAccounts() ([]models.Account, error)
	Account(id uint) (*models.Account, error)
	SaveResult(result *models.ScrapeResult) error
	TouchAccount(id uint, at time.Time) error
	AlertWindows() ([]models.AlertWindow, error)
}

// GormStore implements Store on the application database
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store over the given database handle
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) EnabledAccounts() ([]models.Account, error) {
	var accounts []models.Account
	err := s.db.Where("enabled = ?", true).Find(&accounts).Error
	return accounts, err
}

func (s *GormStore) Account(id uint) (*models.Account, error) {
	var account models.Account
	if err := s.db.First(&account, id).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *GormStore) SaveResult(result *models.ScrapeResult) error {
	return s.db.Create(result).Error
}

func (s *GormStore) TouchAccount(id uint, at time.Time) error {
	return s.db.Model(&models.Account{}).Where("id = ?", id).
		Update("last_scrape_at", at).Error
}

func (s *GormStore) AlertWindows() ([]models.AlertWindow, error) {
	var windows []models.AlertWindow
	err := s.db.Find(&windows).Error
	return windows, err
}
