package models

import (
	"time"

	"gorm.io/gorm"
)

// Alert banner defaults and bounds
const (
	DefaultAlertTheme    = "danger"
	DefaultAlertFontSize = 16
	MinAlertFontSize     = 12
	MaxAlertFontSize     = 64
)

var validAlertThemes = map[string]bool{
	"primary":   true,
	"secondary": true,
	"success":   true,
	"danger":    true,
	"warning":   true,
	"info":      true,
	"dark":      true,
	"light":     true,
}

// AlertWindow is an admin-authored, time-bounded banner message shown on
// the dashboard. Whether a window is "active" is derived from the clock,
// never stored.
type AlertWindow struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Message    string     `gorm:"type:text;not null" json:"message"`
	ColorTheme string     `gorm:"default:'danger'" json:"color_theme"`
	FontSizePx int        `gorm:"default:16" json:"font_size_px"`
	StartTime  *time.Time `json:"start_time"`
	EndTime    time.Time  `gorm:"not null" json:"end_time"`
	Enabled    bool       `gorm:"default:true" json:"enabled"`
	CreatedBy  uint       `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// EffectiveStart returns the start of the window. A window created without
// an explicit start time becomes eligible at creation.
func (w *AlertWindow) EffectiveStart() time.Time {
	if w.StartTime != nil {
		return *w.StartTime
	}
	return w.CreatedAt
}

// Theme returns the color theme, falling back to the default for unknown values
func (w *AlertWindow) Theme() string {
	if validAlertThemes[w.ColorTheme] {
		return w.ColorTheme
	}
	return DefaultAlertTheme
}

// FontSize returns the font size in px, clamped to the allowed range
func (w *AlertWindow) FontSize() int {
	if w.FontSizePx < MinAlertFontSize || w.FontSizePx > MaxAlertFontSize {
		return DefaultAlertFontSize
	}
	return w.FontSizePx
}

// ValidAlertTheme reports whether theme is one of the accepted bootstrap themes
func ValidAlertTheme(theme string) bool {
	return validAlertThemes[theme]
}

// ToPayload converts the window to the alert_update / active-alert wire shape
func (w *AlertWindow) ToPayload(isActive bool) map[string]interface{} {
	return map[string]interface{}{
		"id":           w.ID,
		"is_active":    isActive,
		"message":      w.Message,
		"color_theme":  w.Theme(),
		"font_size_px": w.FontSize(),
		"start_time":   w.EffectiveStart().UTC().Format(time.RFC3339),
		"end_time":     w.EndTime.UTC().Format(time.RFC3339),
	}
}

// InactiveAlertPayload is the wire shape sent when no window is active
func InactiveAlertPayload() map[string]interface{} {
	return map[string]interface{}{
		"is_active":    false,
		"message":      "",
		"color_theme":  DefaultAlertTheme,
		"font_size_px": DefaultAlertFontSize,
	}
}

// MigrateAlertModels runs database migrations for alert-related models
func MigrateAlertModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&AlertWindow{},
	)
}
