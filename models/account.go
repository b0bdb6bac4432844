package models

import (
	"time"

	"gorm.io/gorm"
)

// Account represents one set of portal credentials plus its scrape schedule.
// The portal password is stored encrypted by the credential vault and is
// never serialized into API responses.
type Account struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	Name                  string     `gorm:"not null" json:"name"`
	BaseURL               string     `gorm:"not null" json:"base_url"`
	Username              string     `json:"username"`
	PasswordEncrypted     string     `gorm:"type:text" json:"-"`
	ScrapeIntervalMinutes int        `gorm:"default:15" json:"scrape_interval_minutes"`
	Enabled               bool       `gorm:"default:true" json:"enabled"`
	LastScrapeAt          *time.Time `json:"last_scrape_at"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Interval returns the configured scrape interval, clamped to at least one minute.
func (a *Account) Interval() time.Duration {
	if a.ScrapeIntervalMinutes < 1 {
		return time.Minute
	}
	return time.Duration(a.ScrapeIntervalMinutes) * time.Minute
}

// MigrateAccountModels runs database migrations for account-related models
func MigrateAccountModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Account{},
	)
}
