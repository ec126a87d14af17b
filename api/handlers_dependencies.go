package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dali-mrabet/vuln-scanner/scanner"
	"github.com/dali-mrabet/vuln-scanner/store"
)

// handleDependencies returns all distinct dependencies seen across
// applications
func (api *RestAPI) handleDependencies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	dependencies := api.store.GetAllDependencies()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":        len(dependencies),
		"dependencies": dependencies,
	})
}

// handleDependencyDetail serves GET /v1/dependency?name=&version= with
// the merged vulnerability list and the applications using it
func (api *RestAPI) handleDependencyDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	name := query.Get("name")
	version := query.Get("version")

	detail, err := api.store.DescribeDependency(name, version)
	if err != nil {
		var invalidErr *scanner.InvalidIdentityError
		if errors.As(err, &invalidErr) {
			http.Error(w, invalidErr.Error(), http.StatusBadRequest)
			return
		}
		var notFound *store.NotFoundError
		if errors.As(err, &notFound) {
			http.Error(w, notFound.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to get dependency: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(detail)
}
