package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dali-mrabet/vuln-scanner/utils"
)

// fakeQueryClient counts queries per identity and serves canned results
type fakeQueryClient struct {
	mu      sync.Mutex
	queries map[string]int
	results map[string][]VulnerabilityRecord
	fail    map[string]error

	inFlight    int
	maxInFlight int
	delay       time.Duration
}

func newFakeQueryClient() *fakeQueryClient {
	return &fakeQueryClient{
		queries: make(map[string]int),
		results: make(map[string][]VulnerabilityRecord),
		fail:    make(map[string]error),
	}
}

func (f *fakeQueryClient) Query(ctx context.Context, name, version string) ([]VulnerabilityRecord, error) {
	key, err := Normalize(name, version)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.inFlight--
	f.queries[string(key)]++
	if err, failed := f.fail[string(key)]; failed {
		return nil, err
	}
	return f.results[string(key)], nil
}

func (f *fakeQueryClient) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func (f *fakeQueryClient) queryCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[key]
}

func (f *fakeQueryClient) totalQueries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.queries {
		total += n
	}
	return total
}

func TestResolveDeduplicatesIdentities(t *testing.T) {
	client := newFakeQueryClient()
	client.results["requests@2.31.0"] = []VulnerabilityRecord{{ID: "CVE-2024-0001"}}

	resolver := NewResolver(client, 4, &utils.Logger{})

	declarations := []Declaration{
		{Name: "requests", Version: "2.31.0"},
		{Name: "Requests", Version: "2.31.0"},
		{Name: "REQUESTS", Version: "2.31.0"},
		{Name: "  requests  ", Version: " 2.31.0 "},
	}

	resolved := resolver.Resolve(context.Background(), declarations)

	require.Len(t, resolved, 1)
	assert.Equal(t, 1, client.queryCount("requests@2.31.0"))

	entry := resolved[IdentityKey("requests@2.31.0")]
	require.NotNil(t, entry)
	require.Len(t, entry.Vulnerabilities, 1)
	assert.Equal(t, "CVE-2024-0001", entry.Vulnerabilities[0].ID)
}

func TestResolveDistinctVersionsQueriedSeparately(t *testing.T) {
	client := newFakeQueryClient()
	resolver := NewResolver(client, 4, &utils.Logger{})

	resolved := resolver.Resolve(context.Background(), []Declaration{
		{Name: "urllib3", Version: "1.26.18"},
		{Name: "urllib3", Version: "2.0.0"},
	})

	require.Len(t, resolved, 2)
	assert.Equal(t, 1, client.queryCount("urllib3@1.26.18"))
	assert.Equal(t, 1, client.queryCount("urllib3@2.0.0"))
}

func TestResolvePartialFailure(t *testing.T) {
	client := newFakeQueryClient()
	client.results["requests@2.31.0"] = []VulnerabilityRecord{{ID: "CVE-2024-0001"}}
	client.fail["flask@2.3.2"] = &QueryError{Package: "flask", Version: "2.3.2", Err: assert.AnError}

	resolver := NewResolver(client, 4, &utils.Logger{})

	resolved := resolver.Resolve(context.Background(), []Declaration{
		{Name: "requests", Version: "2.31.0"},
		{Name: "flask", Version: "2.3.2"},
	})

	require.Len(t, resolved, 2)

	ok := resolved[IdentityKey("requests@2.31.0")]
	require.NotNil(t, ok)
	assert.False(t, ok.Failed)
	assert.Len(t, ok.Vulnerabilities, 1)

	failed := resolved[IdentityKey("flask@2.3.2")]
	require.NotNil(t, failed)
	assert.True(t, failed.Failed)
	assert.NotEmpty(t, failed.FailReason)
	assert.Empty(t, failed.Vulnerabilities)
}

func TestResolveInvalidDeclarations(t *testing.T) {
	client := newFakeQueryClient()
	resolver := NewResolver(client, 4, &utils.Logger{})

	resolved := resolver.Resolve(context.Background(), []Declaration{
		{Name: "requests"}, // unpinned, no version
		{Name: "", Version: "1.0.0"},
	})

	require.Len(t, resolved, 2)
	for _, entry := range resolved {
		assert.True(t, entry.Failed)
		assert.NotEmpty(t, entry.FailReason)
		assert.Empty(t, entry.Vulnerabilities)
	}

	// invalid declarations never reach the external source
	assert.Equal(t, 0, client.totalQueries())
}

func TestResolveHonorsConcurrencyLimit(t *testing.T) {
	client := newFakeQueryClient()
	client.delay = 20 * time.Millisecond

	resolver := NewResolver(client, 2, &utils.Logger{})

	declarations := make([]Declaration, 0, 10)
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		declarations = append(declarations, Declaration{Name: name, Version: "1.0.0"})
	}

	resolved := resolver.Resolve(context.Background(), declarations)

	assert.Len(t, resolved, 10)
	assert.LessOrEqual(t, client.maxConcurrent(), 2)
	assert.Equal(t, 10, client.totalQueries())
}

func TestResolveEmptyBatch(t *testing.T) {
	client := newFakeQueryClient()
	resolver := NewResolver(client, 4, &utils.Logger{})

	resolved := resolver.Resolve(context.Background(), nil)
	assert.Empty(t, resolved)
	assert.Equal(t, 0, client.totalQueries())
}
