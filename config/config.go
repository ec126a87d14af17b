package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	DefaultConfigPath = "/etc/VulnScanner/config.json"
)

// Config represents the complete daemon configuration
type Config struct {
	// REST API settings
	APIEnabled    bool     `json:"api_enabled"`
	APIPort       int      `json:"api_port"`
	APIListenAddr string   `json:"api_listen_addr"` // "127.0.0.1" or "0.0.0.0"
	APIAllowedIPs []string `json:"api_allowed_ips"` // allowed client IPs/CIDRs when not bound to localhost

	// External vulnerability source settings
	ScannerEndpoint      string `json:"scanner_endpoint"`        // OSV query API endpoint
	ScannerEcosystem     string `json:"scanner_ecosystem"`       // package ecosystem sent with every query
	ScannerTimeoutSecs   int    `json:"scanner_timeout_secs"`    // per-query timeout
	ScannerMaxRetries    int    `json:"scanner_max_retries"`     // bounded retries per query (0 = no retry)
	ScannerQueriesPerSec int    `json:"scanner_queries_per_sec"` // rate limit toward the external source (0 = unlimited)
	MaxConcurrentQueries int    `json:"max_concurrent_queries"`  // parallel lookups per batch
	QueryCacheTTLMinutes int    `json:"query_cache_ttl_minutes"` // TTL for cached query results (0 = disabled)

	// Scan history database
	HistoryEnabled bool `json:"history_enabled"`

	// Network settings
	ProxyEnabled  bool   `json:"proxy_enabled"`
	ProxyURL      string `json:"proxy_url"`
	ProxyUsername string `json:"proxy_username"`
	ProxyPassword string `json:"proxy_password"`

	// Logging settings
	LogPath       string `json:"log_path"`
	AccessLogPath string `json:"access_log_path"`
	PIDFile       string `json:"pid_file"`

	ConfigPath string `json:"config_path"`

	mu sync.RWMutex
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		APIEnabled:    true,
		APIPort:       9090,
		APIListenAddr: "127.0.0.1",
		APIAllowedIPs: []string{},

		ScannerEndpoint:      "https://api.osv.dev/v1/query",
		ScannerEcosystem:     "PyPI",
		ScannerTimeoutSecs:   30,
		ScannerMaxRetries:    0,
		ScannerQueriesPerSec: 0,
		MaxConcurrentQueries: 4,
		QueryCacheTTLMinutes: 60,

		HistoryEnabled: true,

		ProxyEnabled: false,

		LogPath:       "/var/log/VulnScanner/scanner.log",
		AccessLogPath: "/var/log/VulnScanner/access.log",
		PIDFile:       "/var/run/vulnscanner.pid",
	}
}

// LoadConfig loads the configuration from a JSON file, creating it with
// defaults when the file does not exist yet
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		cfg.ConfigPath = path
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ConfigPath = path
	return cfg, nil
}

// Save writes the configuration to a JSON file
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.MarshalIndent(c, "", "\t")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Get returns a read-only copy of the config
func (c *Config) Get() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c
}

// Update applies fn under the write lock
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}
