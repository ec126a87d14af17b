package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dali-mrabet/vuln-scanner/api"
	"github.com/dali-mrabet/vuln-scanner/config"
	"github.com/dali-mrabet/vuln-scanner/database"
	"github.com/dali-mrabet/vuln-scanner/metrics"
	"github.com/dali-mrabet/vuln-scanner/scanner"
	"github.com/dali-mrabet/vuln-scanner/store"
	"github.com/dali-mrabet/vuln-scanner/utils"
)

const (
	AppName = "VulnScanner"
	version = "1.0.0"
)

func main() {

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "scan":
			handleScanCommand()
			return
		case "version", "-version", "--version":
			fmt.Printf("%s v%s\n", AppName, version)
			os.Exit(0)
		case "help", "-help", "--help":
			printHelp()
			os.Exit(0)
		}
	}
	startDaemon()
}

func startDaemon() {

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := utils.InitLogger(cfg.Get().LogPath, cfg.Get().AccessLogPath); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger := utils.GetLogger()
	defer func(logger *utils.Logger) {
		_ = logger.Close()
	}(logger)

	logger.LogInfo("=== %s v%s Starting ===", AppName, version)
	logger.LogInfo("Configuration loaded from: %s", *configPath)

	cfgData := cfg.Get()
	pidFile := utils.NewPIDFile(cfgData.PIDFile)
	if err := pidFile.Write(); err != nil {
		logger.LogError("Failed to create PID file: %v", err)
		os.Exit(1)
	}
	defer func(pidFile *utils.PIDFile) {
		err := pidFile.Remove()
		if err != nil {
			logger.LogError("Failed to remove PID file: %v", err)
		}
	}(pidFile)
	logger.LogInfo("PID file created: %s (PID: %d)", pidFile.GetPath(), os.Getpid())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	client, err := scanner.NewOSVClient(cfg, logger)
	if err != nil {
		logger.LogError("Failed to create vulnerability query client: %v", err)
		os.Exit(1)
	}
	resolver := scanner.NewResolver(client, cfgData.MaxConcurrentQueries, logger)
	st := store.NewStore()

	var historyDB *database.HistoryDB
	if cfgData.HistoryEnabled {
		historyDB, err = database.NewHistoryDB(*configPath)
		if err != nil {
			logger.LogError("Failed to initialize scan history database: %v", err)
			logger.LogError("Scan history tracking will be disabled")
			historyDB = nil
		} else {
			logger.LogInfo("Scan history database initialized: %s", historyDB.GetDBPath())
			defer func() {
				if err := historyDB.Close(); err != nil {
					logger.LogError("Failed to close scan history database: %v", err)
				}
			}()
		}
	}

	restAPI := api.NewRestAPI(cfg, logger, st, resolver, client, historyDB)
	restAPI.SetMetrics(metrics.NewPrometheusMetrics(cfg, st, client))

	errChan := make(chan error, 1)

	go func() {
		if err := restAPI.Start(ctx); err != nil {
			errChan <- fmt.Errorf("REST API error: %w", err)
		}
	}()

	logger.LogInfo("All services started successfully")
	logger.LogInfo("REST API: %v (%s:%d)", cfgData.APIEnabled, cfgData.APIListenAddr, cfgData.APIPort)
	logger.LogInfo("Vulnerability source: %s (ecosystem: %s)", cfgData.ScannerEndpoint, cfgData.ScannerEcosystem)
	logger.LogInfo("Max concurrent queries: %d", cfgData.MaxConcurrentQueries)

	if cfgData.APIEnabled {
		logger.LogInfo("REST API Endpoints:")
		logger.LogInfo("  - POST http://%s:%d/v1/applications", cfgData.APIListenAddr, cfgData.APIPort)
		logger.LogInfo("  - GET  http://%s:%d/v1/applications", cfgData.APIListenAddr, cfgData.APIPort)
		logger.LogInfo("  - GET  http://%s:%d/v1/applications/<name>/dependencies", cfgData.APIListenAddr, cfgData.APIPort)
		logger.LogInfo("  - GET  http://%s:%d/v1/dependencies", cfgData.APIListenAddr, cfgData.APIPort)
		logger.LogInfo("  - GET  http://%s:%d/v1/dependency?name=<name>&version=<version>", cfgData.APIListenAddr, cfgData.APIPort)
		logger.LogInfo("  - GET  http://%s:%d/api/status", cfgData.APIListenAddr, cfgData.APIPort)
		logger.LogInfo("  - GET  http://%s:%d/api/scanner/status", cfgData.APIListenAddr, cfgData.APIPort)
		logger.LogInfo("  - GET  http://%s:%d/api/history", cfgData.APIListenAddr, cfgData.APIPort)
		logger.LogInfo("  - GET  http://%s:%d/api/health", cfgData.APIListenAddr, cfgData.APIPort)
		logger.LogInfo("  - GET  http://%s:%d/metrics", cfgData.APIListenAddr, cfgData.APIPort)
	}

	select {
	case sig := <-sigChan:
		logger.LogInfo("Received signal: %v", sig)
		logger.LogInfo("Shutting down gracefully...")
		cancel()
	case err := <-errChan:
		logger.LogError("Fatal error: %v", err)
		cancel()
	}

	logger.LogInfo("Removing PID file: %s", pidFile.GetPath())
	logger.LogInfo("=== %s Stopped ===", AppName)
}

func printHelp() {
	fmt.Printf("%s v%s - Dependency Vulnerability Scanning Service\n\n", AppName, version)
	fmt.Println("Usage:")
	fmt.Printf("  %s [command] [options]\n\n", os.Args[0])
	fmt.Println("Commands:")
	fmt.Println("  (none)         Start daemon (default)")
	fmt.Println("  scan           Scan a requirements file from the command line")
	fmt.Println("  version        Show version")
	fmt.Println("  help           Show this help")
	fmt.Println("\nDaemon Options:")
	fmt.Printf("  -config <path>  Path to configuration file (default: %s)\n", config.DefaultConfigPath)
	fmt.Println("\nConfiguration:")
	fmt.Printf("  Default config path: %s\n", config.DefaultConfigPath)
	fmt.Println("  Config format: JSON")
	fmt.Println("\nFeatures:")
	fmt.Println("  - Per-application dependency registration (JSON or requirements file upload)")
	fmt.Println("  - Vulnerability lookup against the OSV.dev database")
	fmt.Println("  - Deduplicated queries and cached results across applications")
	fmt.Println("  - Cross-application dependency and vulnerability views")
	fmt.Println("  - Scan history stored in SQLite")
	fmt.Println("  - Prometheus metrics")
	fmt.Println("  - IP-based access control for REST API")
	fmt.Println("\nREST API Endpoints:")
	fmt.Println("  POST /v1/applications                      - Register an application and scan its dependencies")
	fmt.Println("  GET  /v1/applications                      - List stored applications")
	fmt.Println("  GET  /v1/applications/<name>/dependencies  - Dependencies of one application")
	fmt.Println("  GET  /v1/dependencies                      - All distinct dependencies")
	fmt.Println("  GET  /v1/dependency?name=&version=         - Dependency detail with vulnerabilities and usage")
	fmt.Println("  GET  /api/status                           - General status and statistics")
	fmt.Println("  GET  /api/scanner/status                   - Query client counters")
	fmt.Println("  GET  /api/history                          - Past scans (filters: application, since, until, limit, offset)")
	fmt.Println("  GET  /api/history/stats                    - Scan history statistics")
	fmt.Println("  GET  /api/health                           - Health check (no auth)")
	fmt.Println("  GET  /metrics                              - Prometheus metrics (no auth)")
	fmt.Println("\nExamples:")
	fmt.Println("  # Start with default config")
	fmt.Printf("  %s\n\n", os.Args[0])
	fmt.Println("  # Start with custom config")
	fmt.Printf("  %s -config /etc/myconfig.json\n\n", os.Args[0])
	fmt.Println("  # Register an application with a requirements file")
	fmt.Println("  curl -F 'name=billing' -F 'description=Billing service' -F 'requirements_file=@requirements.txt' http://127.0.0.1:9090/v1/applications")
	fmt.Println("\n  # Look up a dependency across applications")
	fmt.Println("  curl 'http://127.0.0.1:9090/v1/dependency?name=requests&version=2.31.0' | jq")
	fmt.Println("\n  # Scan a requirements file from the CLI")
	fmt.Printf("  %s scan -file requirements.txt\n", os.Args[0])
	fmt.Println("\nFor more information, see README.md")
}
