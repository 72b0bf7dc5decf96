package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	probe := NewHTTPProbe(time.Second)
	result := probe.Check(context.Background(), srv.URL+"/health")

	require.True(t, result.Success)
	assert.Equal(t, "status 200", result.Detail)
	assert.False(t, result.CheckedAt.IsZero())
}

func TestCheck_NonSuccessStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	probe := NewHTTPProbe(time.Second)
	result := probe.Check(context.Background(), srv.URL+"/health")

	require.False(t, result.Success)
	assert.Equal(t, "unexpected status 503", result.Detail)
}

func TestCheck_ConnectionRefusedFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	probe := NewHTTPProbe(time.Second)
	result := probe.Check(context.Background(), url+"/health")

	require.False(t, result.Success)
	assert.Contains(t, result.Detail, "request failed")
}

func TestCheck_SlowEndpointHitsRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	probe := NewHTTPProbe(20 * time.Millisecond)
	result := probe.Check(context.Background(), srv.URL+"/health")

	require.False(t, result.Success)
	assert.Contains(t, result.Detail, "request failed")
}

func TestCheck_InvalidEndpointIsAResultNotAnError(t *testing.T) {
	probe := NewHTTPProbe(time.Second)
	result := probe.Check(context.Background(), "http:// bad url")

	require.False(t, result.Success)
	assert.Contains(t, result.Detail, "invalid endpoint")
}
