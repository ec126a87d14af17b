package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dali-mrabet/vuln-scanner/config"
	"github.com/dali-mrabet/vuln-scanner/scanner"
	"github.com/dali-mrabet/vuln-scanner/store"
	"github.com/dali-mrabet/vuln-scanner/utils"
)

// newFilteredHandler builds the API on a non-loopback listen address so
// the IP filter is active
func newFilteredHandler(t *testing.T, allowedIPs []string) http.Handler {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Update(func(c *config.Config) {
		c.APIListenAddr = "0.0.0.0"
		c.APIAllowedIPs = allowedIPs
		c.HistoryEnabled = false
	})

	logger := &utils.Logger{}
	client, err := scanner.NewOSVClient(cfg, logger)
	require.NoError(t, err)

	resolver := scanner.NewResolver(client, 4, logger)
	restAPI := NewRestAPI(cfg, logger, store.NewStore(), resolver, client, nil)
	return restAPI.Routes()
}

func getApplicationsFrom(handler http.Handler, remoteAddr, forwardedFor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/applications", nil)
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIPFilterAllowsExactIP(t *testing.T) {
	handler := newFilteredHandler(t, []string{"10.0.0.1"})

	rec := getApplicationsFrom(handler, "10.0.0.1:52000", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPFilterAllowsCIDR(t *testing.T) {
	handler := newFilteredHandler(t, []string{"192.168.0.0/16"})

	rec := getApplicationsFrom(handler, "192.168.1.5:4242", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = getApplicationsFrom(handler, "192.169.1.5:4242", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIPFilterDeniesUnknownClient(t *testing.T) {
	handler := newFilteredHandler(t, []string{"10.0.0.1", "192.168.0.0/16"})

	rec := getApplicationsFrom(handler, "172.16.0.9:1111", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIPFilterHonorsForwardedFor(t *testing.T) {
	handler := newFilteredHandler(t, []string{"10.0.0.1"})

	// proxied request carries the real client in X-Forwarded-For
	rec := getApplicationsFrom(handler, "172.16.0.9:1111", "10.0.0.1")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = getApplicationsFrom(handler, "172.16.0.9:1111", "172.16.0.10, 10.0.0.1")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIPFilterEmptyAllowListPermitsAll(t *testing.T) {
	handler := newFilteredHandler(t, nil)

	rec := getApplicationsFrom(handler, "172.16.0.9:1111", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPFilterSkipsHealthEndpoint(t *testing.T) {
	handler := newFilteredHandler(t, []string{"10.0.0.1"})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.RemoteAddr = "172.16.0.9:1111"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
