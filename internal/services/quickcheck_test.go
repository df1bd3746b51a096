package services

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"example.com":          "https://example.com",
		"  example.com  ":      "https://example.com",
		"http://example.com":   "http://example.com",
		"https://a.com/b?c=1":  "https://a.com/b?c=1",
		"example.com/pricing":  "https://example.com/pricing",
	}
	for in, want := range cases {
		got, err := NormalizeURL(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got, "input %q", in)
	}

	_, err := NormalizeURL("")
	assert.Error(t, err)
	_, err = NormalizeURL("https://")
	assert.Error(t, err)
}

func TestQuickCheckUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><head><title>OK Page</title></head><body>fine</body></html>")
	}))
	defer srv.Close()

	s := NewFetcherService(5 * time.Second)
	s.allowLocal = true

	result, err := s.QuickCheck(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "up", result.Status)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "OK Page", result.Title)
	assert.Less(t, result.ResponseTimeMS, int64(3000))
	assert.Nil(t, result.SSL) // Plain http, no certificate to inspect
	assert.False(t, result.CheckedAt.IsZero())
}

func TestQuickCheckDegradedOn4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	s := NewFetcherService(5 * time.Second)
	s.allowLocal = true

	result, err := s.QuickCheck(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "degraded", result.Status)
	assert.Equal(t, http.StatusNotFound, result.StatusCode)
}

func TestQuickCheckDownOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewFetcherService(5 * time.Second)
	s.allowLocal = true

	result, err := s.QuickCheck(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "down", result.Status)
}

func TestQuickCheckDownOnConnectionRefused(t *testing.T) {
	s := NewFetcherService(500 * time.Millisecond)
	s.allowLocal = true

	result, err := s.QuickCheck("http://127.0.0.1:1")
	require.NoError(t, err)
	assert.Equal(t, "down", result.Status)
	assert.Zero(t, result.StatusCode)
}

func TestQuickCheckRejectsDisallowedTarget(t *testing.T) {
	s := NewFetcherService(time.Second)
	_, err := s.QuickCheck("http://127.0.0.1:8080")
	assert.Error(t, err)
	_, err = s.QuickCheck("http://169.254.169.254/latest/meta-data")
	assert.Error(t, err)
}

func TestQuickCheckTLSIntrospection(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>secure</body></html>")
	}))
	defer srv.Close()

	s := NewFetcherService(5 * time.Second)
	s.allowLocal = true

	result, err := s.QuickCheck(srv.URL)
	require.NoError(t, err)
	require.NotNil(t, result.SSL)
	// httptest's self-signed certificate is rejected by both the GET and
	// the introspection; both degrade instead of failing the probe.
	assert.NotEmpty(t, result.SSL.Error)
	assert.Equal(t, "down", result.Status)
}
