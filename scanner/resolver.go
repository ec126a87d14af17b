package scanner

import (
	"context"
	"errors"
	"strings"

	mapset "github.com/deckarep/golang-set"
	"golang.org/x/sync/errgroup"

	"github.com/dali-mrabet/vuln-scanner/utils"
)

// QueryClient is the contract the resolver needs from the external
// vulnerability source
type QueryClient interface {
	Query(ctx context.Context, name, version string) ([]VulnerabilityRecord, error)
}

// ResolvedDependency is the outcome of resolving one unique dependency
// identity. A failed lookup keeps an empty vulnerability list and a
// failure flag instead of aborting the batch.
type ResolvedDependency struct {
	Key             IdentityKey           `json:"key"`
	Name            string                `json:"name"`
	Version         string                `json:"version"`
	Vulnerabilities []VulnerabilityRecord `json:"vulnerabilities"`
	Failed          bool                  `json:"failed"`
	FailReason      string                `json:"fail_reason,omitempty"`
}

// Resolver deduplicates declared dependencies and queries the external
// source once per unique identity
type Resolver struct {
	client        QueryClient
	maxConcurrent int
	logger        *utils.Logger
}

// NewResolver creates a resolver issuing at most maxConcurrent
// concurrent lookups per batch
func NewResolver(client QueryClient, maxConcurrent int, logger *utils.Logger) *Resolver {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Resolver{
		client:        client,
		maxConcurrent: maxConcurrent,
		logger:        logger,
	}
}

// Resolve builds per-dependency vulnerability sets for a batch of
// declarations. Identical identities are queried exactly once; lookups
// for distinct identities run in parallel up to the concurrency limit.
// The batch as a whole always succeeds: individual failures are
// captured on the corresponding entry.
func (r *Resolver) Resolve(ctx context.Context, decls []Declaration) map[IdentityKey]*ResolvedDependency {
	resolved := make(map[IdentityKey]*ResolvedDependency, len(decls))
	seen := mapset.NewSet()

	var lookups []*ResolvedDependency

	for _, decl := range decls {
		key, err := Normalize(decl.Name, decl.Version)
		if err != nil {
			key = fallbackKey(decl)
			if !seen.Add(string(key)) {
				continue
			}
			resolved[key] = &ResolvedDependency{
				Key:             key,
				Name:            strings.TrimSpace(decl.Name),
				Version:         strings.TrimSpace(decl.Version),
				Vulnerabilities: []VulnerabilityRecord{},
				Failed:          true,
				FailReason:      err.Error(),
			}
			continue
		}

		if !seen.Add(string(key)) {
			continue
		}

		entry := &ResolvedDependency{
			Key:     key,
			Name:    strings.TrimSpace(decl.Name),
			Version: strings.TrimSpace(decl.Version),
		}
		resolved[key] = entry
		lookups = append(lookups, entry)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrent)

	for _, entry := range lookups {
		entry := entry
		g.Go(func() error {
			records, err := r.client.Query(gctx, entry.Name, entry.Version)
			if err != nil {
				// Per-identity failure, never fatal to the batch
				entry.Vulnerabilities = []VulnerabilityRecord{}
				entry.Failed = true
				entry.FailReason = failReason(err)
				r.logger.LogError("Vulnerability lookup failed for %s==%s: %v", entry.Name, entry.Version, err)
				return nil
			}
			entry.Vulnerabilities = records
			return nil
		})
	}

	// Goroutines never return errors; Wait only synchronizes
	_ = g.Wait()

	return resolved
}

// fallbackKey builds a best-effort key for declarations that fail
// normalization, so they still appear in the result map
func fallbackKey(decl Declaration) IdentityKey {
	name := strings.ToLower(strings.TrimSpace(decl.Name))
	version := strings.TrimSpace(decl.Version)
	return IdentityKey(name + "@" + version)
}

// failReason keeps the per-identity reason concise for API responses
func failReason(err error) string {
	var queryErr *QueryError
	if errors.As(err, &queryErr) {
		return queryErr.Error()
	}
	return err.Error()
}
