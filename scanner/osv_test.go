package scanner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dali-mrabet/vuln-scanner/config"
	"github.com/dali-mrabet/vuln-scanner/utils"
)

func newTestClient(t *testing.T, endpoint string, cacheTTLMinutes int) *OSVClient {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Update(func(c *config.Config) {
		c.ScannerEndpoint = endpoint
		c.ScannerTimeoutSecs = 5
		c.QueryCacheTTLMinutes = cacheTTLMinutes
	})

	client, err := NewOSVClient(cfg, &utils.Logger{})
	require.NoError(t, err)
	return client
}

func TestQueryReturnsNormalizedRecords(t *testing.T) {
	var gotRequest osvQueryRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"vulns":[
			{"id":"PYSEC-2023-74","summary":"Leaks Proxy-Authorization header","details":"long text","affected":[{"ranges":[]}]},
			{"id":"GHSA-j8r2-6x86-q33q","summary":"Unintended leak"}
		]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)

	records, err := client.Query(context.Background(), "requests", "2.31.0")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "requests", gotRequest.Package.Name)
	assert.Equal(t, "PyPI", gotRequest.Package.Ecosystem)
	assert.Equal(t, "2.31.0", gotRequest.Version)

	assert.Equal(t, "PYSEC-2023-74", records[0].ID)
	assert.Equal(t, "Leaks Proxy-Authorization header", records[0].Summary)
	assert.NotEmpty(t, records[0].Affected)
	assert.Equal(t, "GHSA-j8r2-6x86-q33q", records[1].ID)
}

func TestQueryEmptyResultIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)

	records, err := client.Query(context.Background(), "harmless", "1.0.0")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestQueryDropsEntriesWithoutIdentifier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"vulns":[
			{"summary":"no id at all"},
			{"id":"","summary":"empty id"},
			{"id":"CVE-2024-0001","summary":"kept"}
		]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)

	records, err := client.Query(context.Background(), "requests", "2.31.0")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "CVE-2024-0001", records[0].ID)

	stats := client.GetStats()
	assert.Equal(t, int64(2), stats.DroppedEntries)
}

func TestQueryErrorOnBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)

	_, err := client.Query(context.Background(), "requests", "2.31.0")
	require.Error(t, err)

	var queryErr *QueryError
	require.ErrorAs(t, err, &queryErr)
	assert.Equal(t, "requests", queryErr.Package)
	assert.Equal(t, "2.31.0", queryErr.Version)

	stats := client.GetStats()
	assert.Equal(t, int64(1), stats.QueryErrors)
}

func TestQueryRejectsInvalidIdentity(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:0", 0)

	_, err := client.Query(context.Background(), "", "1.0.0")
	require.Error(t, err)

	var invalidErr *InvalidIdentityError
	assert.ErrorAs(t, err, &invalidErr)
}

func TestQueryCachesResults(t *testing.T) {
	var requests int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		w.Write([]byte(`{"vulns":[{"id":"CVE-2024-0002"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 60)

	first, err := client.Query(context.Background(), "flask", "2.3.2")
	require.NoError(t, err)

	// case variation maps to the same identity, no new external query
	second, err := client.Query(context.Background(), "Flask", "2.3.2")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), atomic.LoadInt64(&requests))

	stats := client.GetStats()
	assert.Equal(t, int64(1), stats.QueriesIssued)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, 1, stats.CachedResults)
}

func TestQueryRetriesOnFailure(t *testing.T) {
	var requests int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&requests, 1) == 1 {
			http.Error(w, "transient", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"vulns":[{"id":"CVE-2024-0003"}]}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Update(func(c *config.Config) {
		c.ScannerEndpoint = server.URL
		c.ScannerTimeoutSecs = 5
		c.ScannerMaxRetries = 1
		c.QueryCacheTTLMinutes = 0
	})

	client, err := NewOSVClient(cfg, &utils.Logger{})
	require.NoError(t, err)

	records, err := client.Query(context.Background(), "requests", "2.31.0")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(2), atomic.LoadInt64(&requests))
}

func TestQueryTimeoutExcludesLimiterWait(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Update(func(c *config.Config) {
		c.ScannerEndpoint = server.URL
		c.ScannerTimeoutSecs = 1
		c.ScannerQueriesPerSec = 1
		c.QueryCacheTTLMinutes = 0
	})

	client, err := NewOSVClient(cfg, &utils.Logger{})
	require.NoError(t, err)

	// the second query blocks on the limiter for up to a full second;
	// its timeout only starts once the limiter releases it
	_, err = client.Query(context.Background(), "requests", "2.31.0")
	require.NoError(t, err)
	_, err = client.Query(context.Background(), "flask", "2.3.2")
	require.NoError(t, err)
}
