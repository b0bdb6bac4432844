package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Scrape result statuses
const (
	ScrapeStatusSuccess = "success"
	ScrapeStatusFailed  = "failed"
)

// ScrapeResult stores the outcome of one login-and-fetch attempt.
// Rows are immutable once written; the newest row per account is the
// current dashboard view.
type ScrapeResult struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	AccountID  uint      `gorm:"index:idx_account_scraped" json:"account_id"`
	Account    Account   `gorm:"foreignKey:AccountID" json:"account,omitempty"`
	Status     string    `gorm:"not null" json:"status"` // success, failed
	ErrorKind  string    `json:"error_kind,omitempty"`
	GearData   string    `gorm:"type:text" json:"-"`
	AlertsData string    `gorm:"type:text" json:"-"`
	Diagnostic string    `gorm:"type:text" json:"-"`
	ScrapedAt  time.Time `gorm:"index:idx_account_scraped" json:"scraped_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// GearRecord is one equipment row extracted from the portal's gear list.
type GearRecord struct {
	ID         string `json:"id,omitempty"`
	Serial     string `json:"serial,omitempty"`
	Type       string `json:"type,omitempty"`
	Status     string `json:"status,omitempty"`
	Assignment string `json:"assignment,omitempty"`
	PostedBy   string `json:"posted_by,omitempty"`
	PostedAt   string `json:"posted_at,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// ScrapeDiagnostic carries enough context to reproduce a failing step
// offline. Credential values are never written here.
type ScrapeDiagnostic struct {
	Step        string   `json:"step"`
	StatusCode  int      `json:"status_code,omitempty"`
	Message     string   `json:"message,omitempty"`
	URL         string   `json:"url,omitempty"`
	InputsFound []string `json:"inputs_found,omitempty"`
	Timeout     bool     `json:"timeout,omitempty"`
}

// SetGearList stores the gear list as a JSON string
func (r *ScrapeResult) SetGearList(gear []GearRecord) error {
	data, err := json.Marshal(gear)
	if err != nil {
		return err
	}
	r.GearData = string(data)
	return nil
}

// GearList parses and returns the stored gear list
func (r *ScrapeResult) GearList() []GearRecord {
	if r.GearData == "" {
		return nil
	}
	var gear []GearRecord
	if err := json.Unmarshal([]byte(r.GearData), &gear); err != nil {
		return nil
	}
	return gear
}

// SetOpenAlerts stores the open-alerts rows as a JSON string
func (r *ScrapeResult) SetOpenAlerts(alerts []GearRecord) error {
	data, err := json.Marshal(alerts)
	if err != nil {
		return err
	}
	r.AlertsData = string(data)
	return nil
}

// OpenAlerts parses and returns the stored open-alerts rows
func (r *ScrapeResult) OpenAlerts() []GearRecord {
	if r.AlertsData == "" {
		return nil
	}
	var alerts []GearRecord
	if err := json.Unmarshal([]byte(r.AlertsData), &alerts); err != nil {
		return nil
	}
	return alerts
}

// SetDiagnostic stores failure diagnostics as a JSON string
func (r *ScrapeResult) SetDiagnostic(d *ScrapeDiagnostic) error {
	if d == nil {
		r.Diagnostic = ""
		return nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	r.Diagnostic = string(data)
	return nil
}

// DiagnosticDetail parses and returns the stored diagnostics, if any
func (r *ScrapeResult) DiagnosticDetail() *ScrapeDiagnostic {
	if r.Diagnostic == "" {
		return nil
	}
	var d ScrapeDiagnostic
	if err := json.Unmarshal([]byte(r.Diagnostic), &d); err != nil {
		return nil
	}
	return &d
}

// ToPayload converts the result to the scrape_update wire shape
func (r *ScrapeResult) ToPayload() map[string]interface{} {
	payload := map[string]interface{}{
		"account_id": r.AccountID,
		"timestamp":  r.ScrapedAt.UTC().Format(time.RFC3339),
		"status":     r.Status,
	}
	if gear := r.GearList(); gear != nil {
		payload["gear_list"] = gear
	}
	if alerts := r.OpenAlerts(); alerts != nil {
		payload["open_alerts"] = alerts
	}
	if d := r.DiagnosticDetail(); d != nil {
		payload["error_details"] = map[string]interface{}{
			"step":        d.Step,
			"status_code": d.StatusCode,
			"message":     d.Message,
			"url":         d.URL,
		}
	}
	return payload
}

// MigrateScrapeModels runs database migrations for scrape-related models
func MigrateScrapeModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&ScrapeResult{},
	)
}
