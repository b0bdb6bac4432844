package services

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"stationboard/models"
)

// HistoryArchive keeps an append-only local copy of every scrape result in
// a sqlite file, so failures can be investigated offline after the
// dashboard has moved on to newer results.
type HistoryArchive struct {
	db *sql.DB
	mu sync.Mutex
}

// Global history archive. Nil when disabled by configuration.
var GlobalHistoryArchive *HistoryArchive

// InitHistoryArchive opens (or creates) the archive at path. An empty
// path disables archiving.
func InitHistoryArchive(path string) error {
	if path == "" {
		log.Println("Scrape history archive disabled")
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to open history archive: %w", err)
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping history archive: %w", err)
	}

	archive := &HistoryArchive{db: db}
	if err := archive.createTables(); err != nil {
		return fmt.Errorf("failed to create archive tables: %w", err)
	}

	GlobalHistoryArchive = archive
	log.Printf("Scrape history archive initialized at %s", path)
	return nil
}

// Close closes the archive database
func (a *HistoryArchive) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *HistoryArchive) createTables() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	schema := `
		CREATE TABLE IF NOT EXISTS scrape_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL,
			status VARCHAR NOT NULL,
			error_kind VARCHAR,
			gear_data TEXT,
			alerts_data TEXT,
			diagnostic TEXT,
			scraped_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_history_account ON scrape_history(account_id, scraped_at);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Append records one completed scrape result
func (a *HistoryArchive) Append(result *models.ScrapeResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.db.Exec(
		`INSERT INTO scrape_history (account_id, status, error_kind, gear_data, alerts_data, diagnostic, scraped_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.AccountID,
		result.Status,
		result.ErrorKind,
		result.GearData,
		result.AlertsData,
		result.Diagnostic,
		result.ScrapedAt,
	)
	return err
}

// HistoryEntry is one archived scrape outcome
type HistoryEntry struct {
	ID        int64     `json:"id"`
	AccountID uint      `json:"account_id"`
	Status    string    `json:"status"`
	ErrorKind string    `json:"error_kind,omitempty"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// Recent returns the newest limit entries for an account, newest first
func (a *HistoryArchive) Recent(accountID uint, limit int) ([]HistoryEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(
		`SELECT id, account_id, status, COALESCE(error_kind, ''), scraped_at
		 FROM scrape_history WHERE account_id = ? ORDER BY scraped_at DESC LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Status, &e.ErrorKind, &e.ScrapedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
