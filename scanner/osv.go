package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"

	"github.com/dali-mrabet/vuln-scanner/config"
	"github.com/dali-mrabet/vuln-scanner/utils"
)

const (
	// DefaultOSVEndpoint is the OSV query API endpoint
	DefaultOSVEndpoint = "https://api.osv.dev/v1/query"
)

// QueryError signals that the external vulnerability source could not be
// queried for one package identity. It is always local to that identity
// and never aborts resolution of sibling dependencies.
type QueryError struct {
	Package string
	Version string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("vulnerability query failed for %s==%s: %v", e.Package, e.Version, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// VulnerabilityRecord is the canonical form of one vulnerability entry
// reported by the external source
type VulnerabilityRecord struct {
	ID       string          `json:"id"`
	Summary  string          `json:"summary,omitempty"`
	Details  string          `json:"details,omitempty"`
	Affected json.RawMessage `json:"affected,omitempty"` // version ranges as reported
	Raw      json.RawMessage `json:"-"`                  // full source entry
}

// osvPackage identifies the package being queried
type osvPackage struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem"`
}

// osvQueryRequest is the request body for OSV queries
type osvQueryRequest struct {
	Package osvPackage `json:"package"`
	Version string     `json:"version"`
}

// osvQueryResponse is the response from the OSV query API. Entries are
// kept raw so that malformed ones can be dropped individually.
type osvQueryResponse struct {
	Vulns []json.RawMessage `json:"vulns"`
}

// ClientStats exposes counters of the query client
type ClientStats struct {
	QueriesIssued  int64  `json:"queries_issued"`
	QueryErrors    int64  `json:"query_errors"`
	CacheHits      int64  `json:"cache_hits"`
	DroppedEntries int64  `json:"dropped_entries"`
	Endpoint       string `json:"endpoint"`
	Ecosystem      string `json:"ecosystem"`
	CachedResults  int    `json:"cached_results"`
}

// OSVClient handles communication with the OSV.dev query API
type OSVClient struct {
	httpClient *http.Client
	endpoint   string
	ecosystem  string
	timeout    time.Duration
	maxRetries int
	limiter    *utils.QueryLimiter
	cache      *gocache.Cache
	logger     *utils.Logger

	queriesIssued  int64
	queryErrors    int64
	cacheHits      int64
	droppedEntries int64
}

// NewOSVClient creates a new OSV client from the daemon configuration
func NewOSVClient(cfg *config.Config, logger *utils.Logger) (*OSVClient, error) {
	cfgData := cfg.Get()

	timeout := time.Duration(cfgData.ScannerTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient, err := utils.NewHTTPClient(utils.HTTPClientConfig{
		ProxyEnabled:  cfgData.ProxyEnabled,
		ProxyURL:      cfgData.ProxyURL,
		ProxyUsername: cfgData.ProxyUsername,
		ProxyPassword: cfgData.ProxyPassword,
		Timeout:       timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	endpoint := cfgData.ScannerEndpoint
	if endpoint == "" {
		endpoint = DefaultOSVEndpoint
	}

	ecosystem := cfgData.ScannerEcosystem
	if ecosystem == "" {
		ecosystem = "PyPI"
	}

	var cache *gocache.Cache
	if cfgData.QueryCacheTTLMinutes > 0 {
		ttl := time.Duration(cfgData.QueryCacheTTLMinutes) * time.Minute
		cache = gocache.New(ttl, 2*ttl)
	}

	return &OSVClient{
		httpClient: httpClient,
		endpoint:   endpoint,
		ecosystem:  ecosystem,
		timeout:    timeout,
		maxRetries: cfgData.ScannerMaxRetries,
		limiter:    utils.NewQueryLimiter(cfgData.ScannerQueriesPerSec),
		cache:      cache,
		logger:     logger,
	}, nil
}

// SetEndpoint overrides the query endpoint (used by tests and the CLI)
func (c *OSVClient) SetEndpoint(endpoint string) {
	c.endpoint = endpoint
}

// Ecosystem returns the package ecosystem sent with every query
func (c *OSVClient) Ecosystem() string {
	return c.ecosystem
}

// Query looks up known vulnerabilities for one exact (name, version)
// pair. An empty result list is a normal outcome. A cached result is
// returned without touching the network, so re-resolving an identity
// already seen issues no new external query.
func (c *OSVClient) Query(ctx context.Context, name, version string) ([]VulnerabilityRecord, error) {
	key, err := Normalize(name, version)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if cached, found := c.cache.Get(string(key)); found {
			atomic.AddInt64(&c.cacheHits, 1)
			return cached.([]VulnerabilityRecord), nil
		}
	}

	body, err := c.queryOnce(ctx, name, version)
	if err != nil {
		atomic.AddInt64(&c.queryErrors, 1)
		return nil, &QueryError{Package: name, Version: version, Err: err}
	}

	records := c.normalizeEntries(name, version, body)

	if c.cache != nil {
		c.cache.Set(string(key), records, gocache.DefaultExpiration)
	}

	return records, nil
}

// queryOnce performs the HTTP exchange with bounded retries. The query
// is idempotent, so retrying on transport failure is safe.
func (c *OSVClient) queryOnce(ctx context.Context, name, version string) ([]byte, error) {
	reqBody := osvQueryRequest{
		Package: osvPackage{
			Name:      name,
			Ecosystem: c.ecosystem,
		},
		Version: version,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	var lastErr error
	attempts := c.maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		// time spent on the limiter must not eat into the query timeout
		c.limiter.Wait()

		queryCtx, cancel := context.WithTimeout(ctx, c.timeout)
		atomic.AddInt64(&c.queriesIssued, 1)

		req, err := http.NewRequestWithContext(queryCtx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
		if err != nil {
			cancel()
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			cancel()
			lastErr = err
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()

		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("OSV API returned status %d", resp.StatusCode)
			continue
		}

		return data, nil
	}

	return nil, lastErr
}

// normalizeEntries converts the loose source entries into canonical
// vulnerability records. Entries without a usable identifier cannot be
// merged safely later and are dropped with a log line.
func (c *OSVClient) normalizeEntries(name, version string, body []byte) []VulnerabilityRecord {
	var response osvQueryResponse
	if err := json.Unmarshal(body, &response); err != nil {
		c.logger.LogError("Unparseable OSV response for %s==%s: %v", name, version, err)
		return []VulnerabilityRecord{}
	}

	records := make([]VulnerabilityRecord, 0, len(response.Vulns))
	for _, raw := range response.Vulns {
		id := gjson.GetBytes(raw, "id").String()
		if id == "" {
			atomic.AddInt64(&c.droppedEntries, 1)
			c.logger.LogError("Dropping vulnerability entry without identifier for %s==%s", name, version)
			continue
		}

		record := VulnerabilityRecord{
			ID:      id,
			Summary: gjson.GetBytes(raw, "summary").String(),
			Details: gjson.GetBytes(raw, "details").String(),
			Raw:     raw,
		}

		if affected := gjson.GetBytes(raw, "affected"); affected.Exists() {
			record.Affected = json.RawMessage(affected.Raw)
		}

		records = append(records, record)
	}

	return records
}

// GetStats returns a snapshot of the client counters
func (c *OSVClient) GetStats() ClientStats {
	stats := ClientStats{
		QueriesIssued:  atomic.LoadInt64(&c.queriesIssued),
		QueryErrors:    atomic.LoadInt64(&c.queryErrors),
		CacheHits:      atomic.LoadInt64(&c.cacheHits),
		DroppedEntries: atomic.LoadInt64(&c.droppedEntries),
		Endpoint:       c.endpoint,
		Ecosystem:      c.ecosystem,
	}
	if c.cache != nil {
		stats.CachedResults = c.cache.ItemCount()
	}
	return stats
}
