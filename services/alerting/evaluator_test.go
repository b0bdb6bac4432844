package alerting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stationboard/models"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func tsp(s string) *time.Time {
	t := ts(s)
	return &t
}

func window(id uint, start, end string, enabled bool) models.AlertWindow {
	return models.AlertWindow{
		ID:        id,
		Message:   "shift change",
		StartTime: tsp(start),
		EndTime:   ts(end),
		Enabled:   enabled,
	}
}

func TestActiveSingleWindow(t *testing.T) {
	windows := []models.AlertWindow{
		window(1, "2024-01-01T00:00:00Z", "2024-01-01T01:00:00Z", true),
	}

	winner := Active(ts("2024-01-01T00:30:00Z"), windows)
	require.NotNil(t, winner)
	require.Equal(t, uint(1), winner.ID)
}

func TestActiveNoneOutsideBounds(t *testing.T) {
	windows := []models.AlertWindow{
		window(1, "2024-01-01T00:00:00Z", "2024-01-01T01:00:00Z", true),
	}

	require.Nil(t, Active(ts("2023-12-31T23:59:59Z"), windows))
	require.Nil(t, Active(ts("2024-01-01T01:00:01Z"), windows))
}

func TestActiveBoundsAreInclusive(t *testing.T) {
	windows := []models.AlertWindow{
		window(1, "2024-01-01T00:00:00Z", "2024-01-01T01:00:00Z", true),
	}

	require.NotNil(t, Active(ts("2024-01-01T00:00:00Z"), windows))
	require.NotNil(t, Active(ts("2024-01-01T01:00:00Z"), windows))
}

func TestActiveSkipsDisabled(t *testing.T) {
	windows := []models.AlertWindow{
		window(1, "2024-01-01T00:00:00Z", "2024-01-01T01:00:00Z", false),
	}

	require.Nil(t, Active(ts("2024-01-01T00:30:00Z"), windows))
}

func TestActiveLatestStartWins(t *testing.T) {
	windows := []models.AlertWindow{
		window(1, "2024-01-01T00:00:00Z", "2024-01-01T02:00:00Z", true),
		window(2, "2024-01-01T00:30:00Z", "2024-01-01T02:00:00Z", true),
	}

	winner := Active(ts("2024-01-01T01:00:00Z"), windows)
	require.NotNil(t, winner)
	require.Equal(t, uint(2), winner.ID)

	// Order of the input slice must not matter
	winner = Active(ts("2024-01-01T01:00:00Z"), []models.AlertWindow{windows[1], windows[0]})
	require.Equal(t, uint(2), winner.ID)
}

func TestActiveStartTieGoesToHighestID(t *testing.T) {
	windows := []models.AlertWindow{
		window(3, "2024-01-01T00:00:00Z", "2024-01-01T02:00:00Z", true),
		window(7, "2024-01-01T00:00:00Z", "2024-01-01T01:30:00Z", true),
	}

	winner := Active(ts("2024-01-01T01:00:00Z"), windows)
	require.NotNil(t, winner)
	require.Equal(t, uint(7), winner.ID)
}

func TestActiveMissingStartFallsBackToCreation(t *testing.T) {
	created := ts("2024-01-01T00:15:00Z")
	windows := []models.AlertWindow{
		{ID: 1, EndTime: ts("2024-01-01T01:00:00Z"), Enabled: true, CreatedAt: created},
	}

	require.Nil(t, Active(ts("2024-01-01T00:10:00Z"), windows))
	require.NotNil(t, Active(ts("2024-01-01T00:20:00Z"), windows))
}

func TestPayloadShapes(t *testing.T) {
	payload := Payload(nil)
	require.Equal(t, false, payload["is_active"])
	require.Equal(t, "", payload["message"])
	require.Equal(t, models.DefaultAlertTheme, payload["color_theme"])
	require.Equal(t, models.DefaultAlertFontSize, payload["font_size_px"])

	w := window(4, "2024-01-01T00:00:00Z", "2024-01-01T01:00:00Z", true)
	w.ColorTheme = "neon" // unknown theme falls back
	w.FontSizePx = 300    // out of range falls back
	payload = Payload(&w)
	require.Equal(t, true, payload["is_active"])
	require.Equal(t, "shift change", payload["message"])
	require.Equal(t, models.DefaultAlertTheme, payload["color_theme"])
	require.Equal(t, models.DefaultAlertFontSize, payload["font_size_px"])
	require.Equal(t, "2024-01-01T00:00:00Z", payload["start_time"])
}
