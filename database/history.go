package database

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ScanRecord is one completed resolution run for an application
type ScanRecord struct {
	ID                     int64     `json:"id"`
	ScanTime               time.Time `json:"scan_time"`
	ApplicationName        string    `json:"application_name"`
	TotalDependencies      int       `json:"total_dependencies"`
	UniqueDependencies     int       `json:"unique_dependencies"`
	VulnerableDependencies int       `json:"vulnerable_dependencies"`
	TotalVulnerabilities   int       `json:"total_vulnerabilities"`
	FailedLookups          int       `json:"failed_lookups"`
	DurationMs             int64     `json:"duration_ms"`
}

// HistoryDB persists scan results across restarts
type HistoryDB struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewHistoryDB opens (or creates) the scan history database next to
// the configuration file.
func NewHistoryDB(configPath string) (*HistoryDB, error) {
	dir := filepath.Dir(configPath)
	dbPath := filepath.Join(dir, "scan_history.db")

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS scan_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_time DATETIME NOT NULL,
		application_name TEXT NOT NULL,
		total_dependencies INTEGER NOT NULL,
		unique_dependencies INTEGER NOT NULL,
		vulnerable_dependencies INTEGER NOT NULL,
		total_vulnerabilities INTEGER NOT NULL,
		failed_lookups INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_scan_time ON scan_history(scan_time);
	CREATE INDEX IF NOT EXISTS idx_application_name ON scan_history(application_name);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &HistoryDB{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// RecordScan stores one scan record
func (h *HistoryDB) RecordScan(record *ScanRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	insertSQL := `
	INSERT INTO scan_history
		(scan_time, application_name, total_dependencies, unique_dependencies,
		 vulnerable_dependencies, total_vulnerabilities, failed_lookups, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := h.db.Exec(insertSQL,
		record.ScanTime,
		record.ApplicationName,
		record.TotalDependencies,
		record.UniqueDependencies,
		record.VulnerableDependencies,
		record.TotalVulnerabilities,
		record.FailedLookups,
		record.DurationMs,
	)

	if err != nil {
		return fmt.Errorf("failed to record scan: %w", err)
	}

	return nil
}

// QueryOptions filters scan history queries
type QueryOptions struct {
	ApplicationName string     // filter by application name (LIKE)
	Since           *time.Time // scans on or after this date
	Until           *time.Time // scans on or before this date
	Limit           int
	Offset          int
}

// GetScans returns scan records matching the options, newest first
func (h *HistoryDB) GetScans(opts QueryOptions) ([]*ScanRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	query := `SELECT id, scan_time, application_name, total_dependencies,
	          unique_dependencies, vulnerable_dependencies, total_vulnerabilities,
	          failed_lookups, duration_ms
	          FROM scan_history WHERE 1=1`
	var args []interface{}

	if opts.ApplicationName != "" {
		query += " AND application_name LIKE ?"
		args = append(args, "%"+opts.ApplicationName+"%")
	}

	if opts.Since != nil {
		query += " AND scan_time >= ?"
		args = append(args, *opts.Since)
	}

	if opts.Until != nil {
		query += " AND scan_time <= ?"
		args = append(args, *opts.Until)
	}

	query += " ORDER BY scan_time DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := h.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	var records []*ScanRecord
	for rows.Next() {
		var record ScanRecord

		err := rows.Scan(
			&record.ID,
			&record.ScanTime,
			&record.ApplicationName,
			&record.TotalDependencies,
			&record.UniqueDependencies,
			&record.VulnerableDependencies,
			&record.TotalVulnerabilities,
			&record.FailedLookups,
			&record.DurationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		records = append(records, &record)
	}

	return records, nil
}

// GetRecentScans returns the last N scans
func (h *HistoryDB) GetRecentScans(limit int) ([]*ScanRecord, error) {
	return h.GetScans(QueryOptions{Limit: limit})
}

// ScanStats aggregates scan history
type ScanStats struct {
	TotalScans           int64      `json:"total_scans"`
	TodayScans           int64      `json:"today_scans"`
	WeekScans            int64      `json:"week_scans"`
	TotalVulnerabilities int64      `json:"total_vulnerabilities"`
	LastScan             *time.Time `json:"last_scan,omitempty"`
}

// GetStats returns aggregate statistics over the scan history
func (h *HistoryDB) GetStats() (*ScanStats, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := &ScanStats{}

	err := h.db.QueryRow("SELECT COUNT(*) FROM scan_history").Scan(&stats.TotalScans)
	if err != nil {
		return nil, fmt.Errorf("failed to get total count: %w", err)
	}

	today := time.Now().Truncate(24 * time.Hour)
	err = h.db.QueryRow("SELECT COUNT(*) FROM scan_history WHERE scan_time >= ?", today).Scan(&stats.TodayScans)
	if err != nil {
		return nil, fmt.Errorf("failed to get today count: %w", err)
	}

	weekAgo := time.Now().AddDate(0, 0, -7)
	err = h.db.QueryRow("SELECT COUNT(*) FROM scan_history WHERE scan_time >= ?", weekAgo).Scan(&stats.WeekScans)
	if err != nil {
		return nil, fmt.Errorf("failed to get week count: %w", err)
	}

	var totalVulns sql.NullInt64
	err = h.db.QueryRow("SELECT SUM(total_vulnerabilities) FROM scan_history").Scan(&totalVulns)
	if err != nil {
		return nil, fmt.Errorf("failed to get vulnerability total: %w", err)
	}
	if totalVulns.Valid {
		stats.TotalVulnerabilities = totalVulns.Int64
	}

	var lastScan sql.NullTime
	err = h.db.QueryRow("SELECT MAX(scan_time) FROM scan_history").Scan(&lastScan)
	if err != nil {
		return nil, fmt.Errorf("failed to get last scan: %w", err)
	}
	if lastScan.Valid {
		stats.LastScan = &lastScan.Time
	}

	return stats, nil
}

// DeleteOldScans removes scan records older than the given date
func (h *HistoryDB) DeleteOldScans(before time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	result, err := h.db.Exec("DELETE FROM scan_history WHERE scan_time < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old scans: %w", err)
	}

	return result.RowsAffected()
}

// Close closes the database connection
func (h *HistoryDB) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.db != nil {
		return h.db.Close()
	}
	return nil
}

// GetDBPath returns the path of the database file
func (h *HistoryDB) GetDBPath() string {
	return h.dbPath
}
