package store

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dali-mrabet/vuln-scanner/scanner"
)

// Vulnerability is the stored form of an advisory. The ID is the
// cross-source identifier (CVE, GHSA, PYSEC) and is the merge key.
type Vulnerability struct {
	ID       string          `json:"id"`
	Summary  string          `json:"summary,omitempty"`
	Details  string          `json:"details,omitempty"`
	Affected json.RawMessage `json:"affected,omitempty"`
}

// ApplicationSummary is the listing view of a stored application
type ApplicationSummary struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	DependencyCount int       `json:"dependency_count"`
	IsVulnerable    bool      `json:"is_vulnerable"`
	CreatedAt       time.Time `json:"created_at"`
}

// PackageStatus is one dependency row in an application or global listing
type PackageStatus struct {
	Name               string `json:"name"`
	Version            string `json:"version"`
	IsVulnerable       bool   `json:"is_vulnerable"`
	VulnerabilityCount int    `json:"vulnerability_count"`
}

// ApplicationRef identifies an application that uses a given dependency
type ApplicationRef struct {
	ApplicationName        string `json:"application_name"`
	ApplicationDescription string `json:"application_description,omitempty"`
}

// DependencyDetail is the full cross-application view of one (name, version)
type DependencyDetail struct {
	Name            string           `json:"name"`
	Version         string           `json:"version"`
	IsVulnerable    bool             `json:"is_vulnerable"`
	Vulnerabilities []Vulnerability  `json:"vulnerabilities"`
	UsedBy          []ApplicationRef `json:"usage"`
}

type application struct {
	id          string
	name        string
	description string
	createdAt   time.Time
	deps        []scanner.IdentityKey
	depSet      map[scanner.IdentityKey]struct{}
}

// dependency is one stored identity. The record mutex serializes
// vulnerability merges per identity; name, version and key are set once
// at creation, and apps/appSet are guarded by the store lock.
type dependency struct {
	id      string
	key     scanner.IdentityKey
	name    string
	version string

	mu      sync.Mutex
	vulnIDs []string
	vulnSet map[string]struct{}

	apps   []string
	appSet map[string]struct{}
}

func (d *dependency) vulnCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.vulnIDs)
}

func (d *dependency) snapshotVulnIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.vulnIDs))
	copy(out, d.vulnIDs)
	return out
}

// Store is the in-memory aggregation layer. Applications are keyed by
// name, dependencies by identity key, vulnerabilities by advisory ID.
// The store lock guards the maps; vulnerability merges happen under the
// per-record mutex so distinct identities never contend on it.
type Store struct {
	mu       sync.RWMutex
	apps     map[string]*application
	appsByID map[string]*application
	deps     map[scanner.IdentityKey]*dependency
	depsByID map[string]*dependency
	vulns    map[string]Vulnerability
}

func NewStore() *Store {
	return &Store{
		apps:     make(map[string]*application),
		appsByID: make(map[string]*application),
		deps:     make(map[scanner.IdentityKey]*dependency),
		depsByID: make(map[string]*dependency),
		vulns:    make(map[string]Vulnerability),
	}
}

// UpsertApplication registers a new application and its declared
// dependency identities. Names are unique across the store.
func (s *Store) UpsertApplication(name, description string, deps []scanner.IdentityKey) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.apps[name]; exists {
		return "", &DuplicateApplicationError{Name: name}
	}

	app := &application{
		id:          uuid.New().String(),
		name:        name,
		description: description,
		createdAt:   time.Now(),
		depSet:      make(map[scanner.IdentityKey]struct{}),
	}
	for _, key := range deps {
		if _, seen := app.depSet[key]; seen {
			continue
		}
		app.depSet[key] = struct{}{}
		app.deps = append(app.deps, key)
	}

	s.apps[name] = app
	s.appsByID[app.id] = app
	return app.id, nil
}

// HasApplication reports whether an application name is already taken
func (s *Store) HasApplication(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.apps[name]
	return ok
}

// UpsertDependency merges a resolution result into the store. A first
// sighting creates the record; later sightings of the same identity
// only append vulnerabilities whose IDs were not seen before, so
// replaying the same result is a no-op. Returns the dependency ID.
func (s *Store) UpsertDependency(key scanner.IdentityKey, rawName, rawVersion string, vulns []Vulnerability) string {
	s.mu.Lock()
	dep, ok := s.deps[key]
	if !ok {
		dep = &dependency{
			id:      uuid.New().String(),
			key:     key,
			name:    rawName,
			version: rawVersion,
			vulnSet: make(map[string]struct{}),
			appSet:  make(map[string]struct{}),
		}
		s.deps[key] = dep
		s.depsByID[dep.id] = dep
	}
	// register advisories before they become visible through any record
	for _, v := range vulns {
		if v.ID == "" {
			continue
		}
		if _, stored := s.vulns[v.ID]; !stored {
			s.vulns[v.ID] = v
		}
	}
	s.mu.Unlock()

	dep.mu.Lock()
	defer dep.mu.Unlock()

	for _, v := range vulns {
		if v.ID == "" {
			continue
		}
		if _, seen := dep.vulnSet[v.ID]; seen {
			continue
		}
		dep.vulnSet[v.ID] = struct{}{}
		dep.vulnIDs = append(dep.vulnIDs, v.ID)
	}
	return dep.id
}

// LinkApplicationToDependency records that an application uses a
// dependency. Linking the same pair twice is a no-op.
func (s *Store) LinkApplicationToDependency(appID, depID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.appsByID[appID]
	if !ok {
		return &NotFoundError{Resource: "application", Key: appID}
	}
	dep, ok := s.depsByID[depID]
	if !ok {
		return &NotFoundError{Resource: "dependency", Key: depID}
	}

	if _, seen := dep.appSet[app.name]; seen {
		return nil
	}
	dep.appSet[app.name] = struct{}{}
	dep.apps = append(dep.apps, app.name)
	return nil
}

// GetAllApplications returns a summary of every stored application.
// An application is vulnerable if any of its dependencies carries at
// least one vulnerability.
func (s *Store) GetAllApplications() []ApplicationSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ApplicationSummary, 0, len(s.apps))
	for _, app := range s.apps {
		summary := ApplicationSummary{
			ID:              app.id,
			Name:            app.name,
			Description:     app.description,
			DependencyCount: len(app.deps),
			CreatedAt:       app.createdAt,
		}
		for _, key := range app.deps {
			if dep, ok := s.deps[key]; ok && dep.vulnCount() > 0 {
				summary.IsVulnerable = true
				break
			}
		}
		out = append(out, summary)
	}
	return out
}

// GetApplicationDependencies returns the dependency rows for one
// application, looked up by name.
func (s *Store) GetApplicationDependencies(name string) ([]PackageStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.apps[name]
	if !ok {
		return nil, &NotFoundError{Resource: "application", Key: name}
	}

	out := make([]PackageStatus, 0, len(app.deps))
	for _, key := range app.deps {
		dep, ok := s.deps[key]
		if !ok {
			out = append(out, PackageStatus{Name: key.Name(), Version: key.Version()})
			continue
		}
		count := dep.vulnCount()
		out = append(out, PackageStatus{
			Name:               dep.name,
			Version:            dep.version,
			IsVulnerable:       count > 0,
			VulnerabilityCount: count,
		})
	}
	return out, nil
}

// GetAllDependencies returns every distinct dependency identity seen
// across all applications.
func (s *Store) GetAllDependencies() []PackageStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]PackageStatus, 0, len(s.deps))
	for _, dep := range s.deps {
		count := dep.vulnCount()
		out = append(out, PackageStatus{
			Name:               dep.name,
			Version:            dep.version,
			IsVulnerable:       count > 0,
			VulnerabilityCount: count,
		})
	}
	return out
}

// GetDependencyDetail returns the merged vulnerability list and the
// applications using the given identity. Callers receive copies.
func (s *Store) GetDependencyDetail(key scanner.IdentityKey) (*DependencyDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dep, ok := s.deps[key]
	if !ok {
		return nil, &NotFoundError{Resource: "dependency", Key: string(key)}
	}

	vulnIDs := dep.snapshotVulnIDs()
	detail := &DependencyDetail{
		Name:            dep.name,
		Version:         dep.version,
		IsVulnerable:    len(vulnIDs) > 0,
		Vulnerabilities: make([]Vulnerability, 0, len(vulnIDs)),
		UsedBy:          make([]ApplicationRef, 0, len(dep.apps)),
	}
	for _, id := range vulnIDs {
		if v, stored := s.vulns[id]; stored {
			detail.Vulnerabilities = append(detail.Vulnerabilities, v)
		}
	}
	for _, appName := range dep.apps {
		ref := ApplicationRef{ApplicationName: appName}
		if app, stored := s.apps[appName]; stored {
			ref.ApplicationDescription = app.description
		}
		detail.UsedBy = append(detail.UsedBy, ref)
	}
	return detail, nil
}

// Counts returns the number of applications, distinct dependencies and
// distinct vulnerabilities currently tracked.
func (s *Store) Counts() (applications int, dependencies int, vulnerabilities int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.apps), len(s.deps), len(s.vulns)
}
