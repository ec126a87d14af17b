package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/dali-mrabet/vuln-scanner/config"
	"github.com/dali-mrabet/vuln-scanner/scanner"
	"github.com/dali-mrabet/vuln-scanner/utils"
)

func handleScanCommand() {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	configFlag := fs.String("config", "", "Path to configuration file")
	file := fs.String("file", "", "Path to requirements file (.txt, .gz or .xz)")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	verbose := fs.Bool("v", false, "Verbose output (show vulnerability details)")

	fs.Parse(os.Args[2:])

	if *file == "" {
		fmt.Fprintln(os.Stderr, "Error: -file is required")
		fs.Usage()
		os.Exit(1)
	}

	configPath := config.DefaultConfigPath
	if *configFlag != "" {
		configPath = *configFlag
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Open(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	reader, err := scanner.OpenRequirements(*file, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	declarations, err := scanner.ParseRequirements(reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(declarations) == 0 {
		fmt.Fprintln(os.Stderr, "No dependencies found in file")
		os.Exit(1)
	}

	// quiet logger, the CLI prints results itself
	logger := &utils.Logger{}

	client, err := scanner.NewOSVClient(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	resolver := scanner.NewResolver(client, cfg.Get().MaxConcurrentQueries, logger)

	fmt.Fprintf(os.Stderr, "Scanning %d declared dependencies...\n", len(declarations))

	resolved := resolver.Resolve(context.Background(), declarations)

	entries := make([]*scanner.ResolvedDependency, 0, len(resolved))
	for _, entry := range resolved {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})

	if *jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	vulnerable := 0
	failed := 0

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "PACKAGE\tVERSION\tVULNS\tSTATUS")

	for _, entry := range entries {
		status := "ok"
		if entry.Failed {
			status = "lookup failed"
			failed++
		} else if len(entry.Vulnerabilities) > 0 {
			status = "vulnerable"
			vulnerable++
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", entry.Name, entry.Version, len(entry.Vulnerabilities), status)

		if *verbose {
			for _, vuln := range entry.Vulnerabilities {
				fmt.Fprintf(w, "  %s\t\t\t%s\n", vuln.ID, vuln.Summary)
			}
		}
	}
	w.Flush()

	fmt.Println()
	fmt.Printf("Scanned %d unique dependencies: %d vulnerable, %d failed lookups\n",
		len(entries), vulnerable, failed)

	if vulnerable > 0 {
		os.Exit(2)
	}
}
