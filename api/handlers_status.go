package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dali-mrabet/vuln-scanner/database"
	"github.com/dali-mrabet/vuln-scanner/scanner"
	"github.com/dali-mrabet/vuln-scanner/utils"
)

// StoreStats summarizes the aggregation store
type StoreStats struct {
	Applications    int `json:"applications"`
	Dependencies    int `json:"dependencies"`
	Vulnerabilities int `json:"vulnerabilities"`
}

// StatusResponse is the /api/status payload
type StatusResponse struct {
	Status       string               `json:"status"`
	Uptime       string               `json:"uptime"`
	Version      string               `json:"version"`
	StoreStats   StoreStats           `json:"store_stats"`
	ScannerStats scanner.ClientStats  `json:"scanner_stats"`
	DiskSpace    *utils.DiskSpaceInfo `json:"disk_space,omitempty"`
	ScanHistory  *database.ScanStats  `json:"scan_history,omitempty"`
}

// handleHealth simple readiness endpoint
func (api *RestAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"ready": "Vulnerability Scanner",
		"time":  time.Now().Format(time.RFC3339),
	})
}

// handleStatus returns the overall service status
func (api *RestAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	apps, deps, vulns := api.store.Counts()

	response := StatusResponse{
		Status:  "running",
		Uptime:  time.Since(startTime).String(),
		Version: apiVersion,
		StoreStats: StoreStats{
			Applications:    apps,
			Dependencies:    deps,
			Vulnerabilities: vulns,
		},
		ScannerStats: api.client.GetStats(),
	}

	if diskSpace, err := utils.GetDiskUsage("/"); err == nil {
		response.DiskSpace = diskSpace
	}

	if api.history != nil {
		if stats, err := api.history.GetStats(); err == nil {
			response.ScanHistory = stats
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleScannerStatus returns the query client counters
func (api *RestAPI) handleScannerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := api.client.GetStats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleHistory returns past scans with pagination and filters
func (api *RestAPI) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if api.history == nil {
		http.Error(w, "Scan history database not available", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query()
	opts := database.QueryOptions{}

	if application := query.Get("application"); application != "" {
		opts.ApplicationName = application
	}
	if since := query.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			opts.Since = &t
		} else if t, err := time.Parse("2006-01-02", since); err == nil {
			opts.Since = &t
		}
	}
	if until := query.Get("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			opts.Until = &t
		} else if t, err := time.Parse("2006-01-02", until); err == nil {
			opts.Until = &t
		}
	}
	if limit := query.Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l > 0 {
			opts.Limit = l
		}
	} else {
		opts.Limit = 100
	}
	if offset := query.Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil && o >= 0 {
			opts.Offset = o
		}
	}

	scans, err := api.history.GetScans(opts)
	if err != nil {
		api.logger.LogError("Failed to get scan history: %v", err)
		http.Error(w, "Failed to retrieve scan history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":  len(scans),
		"limit":  opts.Limit,
		"offset": opts.Offset,
		"scans":  scans,
	})
}

// handleHistoryStats returns aggregate scan history statistics
func (api *RestAPI) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if api.history == nil {
		http.Error(w, "Scan history database not available", http.StatusServiceUnavailable)
		return
	}

	stats, err := api.history.GetStats()
	if err != nil {
		api.logger.LogError("Failed to get scan history stats: %v", err)
		http.Error(w, "Failed to retrieve stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
