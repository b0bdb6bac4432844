// Package alerting decides which admin-authored alert banner, if any, the
// dashboard must display at a given instant.
package alerting

import (
	"time"

	"gorm.io/gorm"

	"stationboard/models"
)

// Active returns the single window in effect at now, or nil. A window is a
// candidate iff it is enabled and start <= now <= end (inclusive bounds).
// When candidates overlap, the one with the latest start time wins; a
// start-time tie goes to the highest id, i.e. the most recently created.
// Pure function: no side effects, deterministic for identical inputs.
func Active(now time.Time, windows []models.AlertWindow) *models.AlertWindow {
	var winner *models.AlertWindow
	for i := range windows {
		w := &windows[i]
		if !w.Enabled {
			continue
		}
		start := w.EffectiveStart()
		if now.Before(start) || now.After(w.EndTime) {
			continue
		}
		if winner == nil {
			winner = w
			continue
		}
		winnerStart := winner.EffectiveStart()
		if start.After(winnerStart) || (start.Equal(winnerStart) && w.ID > winner.ID) {
			winner = w
		}
	}
	return winner
}

// Payload renders the evaluator outcome in the alert_update wire shape
func Payload(winner *models.AlertWindow) map[string]interface{} {
	if winner == nil {
		return models.InactiveAlertPayload()
	}
	return winner.ToPayload(true)
}

// Snapshot loads all windows and evaluates them at now. Returns the wire
// payload and the id of the winning window (0 when none is active).
func Snapshot(db *gorm.DB, now time.Time) (map[string]interface{}, uint, error) {
	var windows []models.AlertWindow
	if err := db.Find(&windows).Error; err != nil {
		return nil, 0, err
	}
	winner := Active(now, windows)
	if winner == nil {
		return models.InactiveAlertPayload(), 0, nil
	}
	return winner.ToPayload(true), winner.ID, nil
}
