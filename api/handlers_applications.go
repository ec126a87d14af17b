package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dali-mrabet/vuln-scanner/database"
	"github.com/dali-mrabet/vuln-scanner/scanner"
	"github.com/dali-mrabet/vuln-scanner/store"
)

// maxRequirementsUpload bounds multipart uploads (requirements files
// are small, compressed or not)
const maxRequirementsUpload = 10 << 20

// createApplicationRequest is the JSON form of an application creation
type createApplicationRequest struct {
	Name         string                `json:"name"`
	Description  string                `json:"description"`
	Dependencies []scanner.Declaration `json:"dependencies"`
}

// dependencyResult is one dependency row in the creation response
type dependencyResult struct {
	Name               string `json:"name"`
	Version            string `json:"version"`
	IsVulnerable       bool   `json:"is_vulnerable"`
	VulnerabilityCount int    `json:"vulnerability_count"`
	Failed             bool   `json:"failed,omitempty"`
	FailReason         string `json:"fail_reason,omitempty"`
}

// handleApplications dispatches on method for the /v1/applications route
func (api *RestAPI) handleApplications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		api.handleCreateApplication(w, r)
	case http.MethodGet:
		api.handleListApplications(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCreateApplication registers an application, resolves its
// declared dependencies against the vulnerability source and stores the
// merged results. Accepts a JSON body or a multipart form with a
// requirements file.
func (api *RestAPI) handleCreateApplication(w http.ResponseWriter, r *http.Request) {
	var name, description string
	var declarations []scanner.Declaration

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxRequirementsUpload); err != nil {
			http.Error(w, fmt.Sprintf("Failed to parse form: %v", err), http.StatusBadRequest)
			return
		}

		name = r.FormValue("name")
		description = r.FormValue("description")

		file, header, err := r.FormFile("requirements_file")
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to get requirements file: %v", err), http.StatusBadRequest)
			return
		}
		defer file.Close()

		if !isRequirementsFilename(header.Filename) {
			http.Error(w, fmt.Sprintf("Unsupported requirements file type: %s", header.Filename), http.StatusBadRequest)
			return
		}

		reader, err := scanner.OpenRequirements(header.Filename, file)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open requirements file: %v", err), http.StatusBadRequest)
			return
		}

		declarations, err = scanner.ParseRequirements(reader)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to parse requirements file: %v", err), http.StatusBadRequest)
			return
		}
	} else {
		var req createApplicationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("Failed to parse request: %v", err), http.StatusBadRequest)
			return
		}
		name = req.Name
		description = req.Description
		declarations = req.Dependencies
	}

	name = strings.TrimSpace(name)
	if name == "" {
		http.Error(w, "Missing parameter: name required", http.StatusBadRequest)
		return
	}

	// reject taken names before issuing any external query
	if api.store.HasApplication(name) {
		dupErr := &store.DuplicateApplicationError{Name: name}
		http.Error(w, dupErr.Error(), http.StatusConflict)
		return
	}

	api.logger.LogInfo("API: Creating application %s with %d declared dependencies", name, len(declarations))

	scanStart := time.Now()
	resolved := api.resolver.Resolve(r.Context(), declarations)

	appID, err := api.store.UpsertApplication(name, description, resolvedKeys(declarations, resolved))
	if err != nil {
		var dupErr *store.DuplicateApplicationError
		if errors.As(err, &dupErr) {
			http.Error(w, dupErr.Error(), http.StatusConflict)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to create application: %v", err), http.StatusInternalServerError)
		return
	}

	results := make([]dependencyResult, 0, len(resolved))
	vulnerableCount := 0
	totalVulns := 0
	failedCount := 0

	for _, entry := range resolved {
		depID := api.store.UpsertDependency(entry.Key, entry.Name, entry.Version, toStoredVulns(entry.Vulnerabilities))
		if err := api.store.LinkApplicationToDependency(appID, depID); err != nil {
			api.logger.LogError("Failed to link %s to %s: %v", name, entry.Key, err)
		}

		row := dependencyResult{
			Name:               entry.Name,
			Version:            entry.Version,
			IsVulnerable:       len(entry.Vulnerabilities) > 0,
			VulnerabilityCount: len(entry.Vulnerabilities),
			Failed:             entry.Failed,
			FailReason:         entry.FailReason,
		}
		results = append(results, row)

		if row.IsVulnerable {
			vulnerableCount++
		}
		totalVulns += row.VulnerabilityCount
		if entry.Failed {
			failedCount++
		}
	}

	duration := time.Since(scanStart)

	if api.prometheusMetrics != nil {
		api.prometheusMetrics.IncrementApplicationsCreated()
		api.prometheusMetrics.RecordResolveDuration(duration.Seconds())
	}

	api.recordScan(&database.ScanRecord{
		ScanTime:               scanStart,
		ApplicationName:        name,
		TotalDependencies:      len(declarations),
		UniqueDependencies:     len(resolved),
		VulnerableDependencies: vulnerableCount,
		TotalVulnerabilities:   totalVulns,
		FailedLookups:          failedCount,
		DurationMs:             duration.Milliseconds(),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":                      appID,
		"name":                    name,
		"description":             description,
		"total_dependencies":      len(declarations),
		"unique_dependencies":     len(resolved),
		"vulnerable_dependencies": vulnerableCount,
		"failed_lookups":          failedCount,
		"duration_ms":             duration.Milliseconds(),
		"dependencies":            results,
	})
}

// handleListApplications returns all stored applications
func (api *RestAPI) handleListApplications(w http.ResponseWriter, r *http.Request) {
	applications := api.store.GetAllApplications()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":        len(applications),
		"applications": applications,
	})
}

// handleApplicationDependencies serves
// GET /v1/applications/{name}/dependencies
func (api *RestAPI) handleApplicationDependencies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/applications/")
	name := strings.TrimSuffix(path, "/dependencies")
	if name == "" || name == path {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	dependencies, err := api.store.GetApplicationDependencies(name)
	if err != nil {
		var notFound *store.NotFoundError
		if errors.As(err, &notFound) {
			http.Error(w, notFound.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to get dependencies: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"application":  name,
		"count":        len(dependencies),
		"dependencies": dependencies,
	})
}

// recordScan stores a scan record when history is enabled
func (api *RestAPI) recordScan(record *database.ScanRecord) {
	if api.history == nil {
		return
	}
	cfg := api.config.Get()
	if !cfg.HistoryEnabled {
		return
	}
	if err := api.history.RecordScan(record); err != nil {
		api.logger.LogError("Failed to record scan for %s: %v", record.ApplicationName, err)
	}
}

// isRequirementsFilename accepts plain and compressed requirements
// files; anything else is rejected before parsing.
func isRequirementsFilename(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".txt") ||
		strings.HasSuffix(lower, ".gz") ||
		strings.HasSuffix(lower, ".xz")
}

// resolvedKeys returns the unique identity keys in declaration order
func resolvedKeys(declarations []scanner.Declaration, resolved map[scanner.IdentityKey]*scanner.ResolvedDependency) []scanner.IdentityKey {
	keys := make([]scanner.IdentityKey, 0, len(resolved))
	seen := make(map[scanner.IdentityKey]struct{}, len(resolved))

	for _, decl := range declarations {
		key, err := scanner.Normalize(decl.Name, decl.Version)
		if err != nil {
			// same fallback keying the resolver applies
			name := strings.ToLower(strings.TrimSpace(decl.Name))
			key = scanner.IdentityKey(name + "@" + strings.TrimSpace(decl.Version))
		}
		if _, entryExists := resolved[key]; !entryExists {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// toStoredVulns converts query records into the stored form
func toStoredVulns(records []scanner.VulnerabilityRecord) []store.Vulnerability {
	vulns := make([]store.Vulnerability, 0, len(records))
	for _, record := range records {
		vulns = append(vulns, store.Vulnerability{
			ID:       record.ID,
			Summary:  record.Summary,
			Details:  record.Details,
			Affected: record.Affected,
		})
	}
	return vulns
}
