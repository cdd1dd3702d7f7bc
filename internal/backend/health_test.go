package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPHealthCheckerOnline(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := NewHTTPHealthChecker(srv.URL+"/", time.Second, nil).Check(context.Background())
	if !res.IsOnline {
		t.Fatal("expected online")
	}
	if res.LatencyMs == nil || *res.LatencyMs < 0 {
		t.Fatalf("expected non-negative latency, got %v", res.LatencyMs)
	}
}

func TestHTTPHealthCheckerFailures(t *testing.T) {
	t.Parallel()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	tests := []struct {
		name string
		url  string
	}{
		{name: "timeout", url: slow.URL},
		{name: "non-2xx", url: broken.URL},
		{name: "unreachable", url: "http://127.0.0.1:1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewHTTPHealthChecker(tt.url, 50*time.Millisecond, nil).Check(context.Background())
			if res.IsOnline || res.LatencyMs != nil {
				t.Fatalf("expected {false, nil}, got %+v", res)
			}
		})
	}
}
