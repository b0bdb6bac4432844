package scraper

import (
	"encoding/json"
	"fmt"

	"stationboard/models"
)

// Column aliases seen across portal versions. First present key wins.
var gearFieldAliases = map[string][]string{
	"id":         {"id", "gear_id", "alert_id"},
	"serial":     {"serial", "serial_number", "serial_no", "sn"},
	"type":       {"type", "gear_type", "equipment_type"},
	"status":     {"status", "state"},
	"assignment": {"assignment", "assigned_to", "station"},
	"posted_by":  {"posted_by", "postedby", "created_by"},
	"posted_at":  {"posted_at", "posted", "date", "created_at"},
	"detail":     {"detail", "details", "description", "note"},
}

// parseGearList decodes the gear endpoint's JSON body into ordered gear
// records. The portal serves JSON with a text/html content type, so the
// body is decoded regardless of headers. Accepts either a top-level array
// or an object with a "data" array.
func parseGearList(body []byte) ([]models.GearRecord, error) {
	var rows []map[string]interface{}
	if err := json.Unmarshal(body, &rows); err != nil {
		var wrapper struct {
			Data []map[string]interface{} `json:"data"`
		}
		if err := json.Unmarshal(body, &wrapper); err != nil || wrapper.Data == nil {
			return nil, fmt.Errorf("gear list is not a JSON record sequence")
		}
		rows = wrapper.Data
	}

	gear := make([]models.GearRecord, 0, len(rows))
	for _, row := range rows {
		gear = append(gear, models.GearRecord{
			ID:         gearField(row, "id"),
			Serial:     gearField(row, "serial"),
			Type:       gearField(row, "type"),
			Status:     gearField(row, "status"),
			Assignment: gearField(row, "assignment"),
			PostedBy:   gearField(row, "posted_by"),
			PostedAt:   gearField(row, "posted_at"),
			Detail:     gearField(row, "detail"),
		})
	}
	return gear, nil
}

func gearField(row map[string]interface{}, field string) string {
	for _, alias := range gearFieldAliases[field] {
		if v, ok := row[alias]; ok && v != nil {
			switch val := v.(type) {
			case string:
				return val
			case float64:
				// JSON numbers decode as float64; ids and serials are integral
				return fmt.Sprintf("%.0f", val)
			default:
				return fmt.Sprintf("%v", val)
			}
		}
	}
	return ""
}
