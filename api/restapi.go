package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dali-mrabet/vuln-scanner/config"
	"github.com/dali-mrabet/vuln-scanner/database"
	"github.com/dali-mrabet/vuln-scanner/metrics"
	"github.com/dali-mrabet/vuln-scanner/scanner"
	"github.com/dali-mrabet/vuln-scanner/store"
	"github.com/dali-mrabet/vuln-scanner/utils"
)

const apiVersion = "1.0.0"

var startTime = time.Now()

// RestAPI serves the scanning and aggregation endpoints
type RestAPI struct {
	config            *config.Config
	logger            *utils.Logger
	store             *store.Store
	resolver          *scanner.Resolver
	client            *scanner.OSVClient
	history           *database.HistoryDB
	prometheusMetrics *metrics.PrometheusMetrics
	apiServer         *http.Server
}

// NewRestAPI creates the REST API. Metrics are attached separately so
// the API can run without a Prometheus registry.
func NewRestAPI(cfg *config.Config, logger *utils.Logger, st *store.Store, resolver *scanner.Resolver, client *scanner.OSVClient, history *database.HistoryDB) *RestAPI {
	return &RestAPI{
		config:   cfg,
		logger:   logger,
		store:    st,
		resolver: resolver,
		client:   client,
		history:  history,
	}
}

// SetMetrics attaches the Prometheus collectors
func (api *RestAPI) SetMetrics(pm *metrics.PrometheusMetrics) {
	api.prometheusMetrics = pm
}

// Routes builds the HTTP handler with all routes registered
func (api *RestAPI) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/applications", api.withIPFilter(api.handleApplications))
	mux.HandleFunc("/v1/applications/", api.withIPFilter(api.handleApplicationDependencies))
	mux.HandleFunc("/v1/dependencies", api.withIPFilter(api.handleDependencies))
	mux.HandleFunc("/v1/dependency", api.withIPFilter(api.handleDependencyDetail))

	mux.HandleFunc("/api/status", api.withIPFilter(api.handleStatus))
	mux.HandleFunc("/api/scanner/status", api.withIPFilter(api.handleScannerStatus))
	mux.HandleFunc("/api/history", api.withIPFilter(api.handleHistory))
	mux.HandleFunc("/api/history/stats", api.withIPFilter(api.handleHistoryStats))
	mux.HandleFunc("/api/health", api.handleHealth) // health check without restriction

	// Prometheus metrics without restriction to allow scraping
	mux.Handle("/metrics", promhttp.Handler())

	return api.withAccessLog(mux)
}

// Start runs the API server until the context is cancelled
func (api *RestAPI) Start(ctx context.Context) error {
	cfg := api.config.Get()

	if !cfg.APIEnabled {
		api.logger.LogInfo("REST API is disabled")
		return nil
	}

	api.apiServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.APIListenAddr, cfg.APIPort),
		Handler: api.Routes(),
	}

	go func() {
		api.logger.LogInfo("Starting REST API on %s:%d", cfg.APIListenAddr, cfg.APIPort)
		if err := api.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			api.logger.LogError("REST API server error: %v", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if api.prometheusMetrics != nil {
					api.prometheusMetrics.UpdateMetrics(int64(time.Since(startTime).Seconds()))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	return api.Stop()
}

// Stop shuts the API server down gracefully
func (api *RestAPI) Stop() error {
	if api.apiServer == nil {
		return nil
	}

	api.logger.LogInfo("Stopping REST API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return api.apiServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// withAccessLog writes one access log line per request
func (api *RestAPI) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		api.logger.LogAccess(r.RemoteAddr, r.Method, r.RequestURI, recorder.status)
	})
}

// withIPFilter restricts handlers to configured client IPs
func (api *RestAPI) withIPFilter(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := api.config.Get()

		// no restriction on loopback listeners
		if cfg.APIListenAddr == "127.0.0.1" || cfg.APIListenAddr == "localhost" {
			next(w, r)
			return
		}

		if len(cfg.APIAllowedIPs) == 0 {
			next(w, r)
			return
		}

		clientIP := r.RemoteAddr
		if host, _, err := net.SplitHostPort(clientIP); err == nil {
			clientIP = host
		}

		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			clientIP = strings.Split(xff, ",")[0]
			clientIP = strings.TrimSpace(clientIP)
		}

		parsedClientIP := net.ParseIP(clientIP)
		if parsedClientIP == nil {
			api.logger.LogError("Invalid client IP: %s", clientIP)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		allowed := false
		for _, allowedEntry := range cfg.APIAllowedIPs {
			if strings.Contains(allowedEntry, "/") {
				_, network, err := net.ParseCIDR(allowedEntry)
				if err != nil {
					api.logger.LogError("Invalid CIDR in api_allowed_ips: %s", allowedEntry)
					continue
				}
				if network.Contains(parsedClientIP) {
					allowed = true
					break
				}
			} else {
				if clientIP == allowedEntry {
					allowed = true
					break
				}
			}
		}

		if !allowed {
			api.logger.LogError("Unauthorized API access attempt from %s", clientIP)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next(w, r)
	}
}
