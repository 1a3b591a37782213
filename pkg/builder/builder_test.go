package builder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStartReturnsArtifactOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/build" {
			t.Errorf("path = %s, want /build", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["id"] != "abc123" {
			t.Errorf("bad request body: %v %v", body, err)
		}
		json.NewEncoder(w).Encode(Artifact{Location: "sites/abc123"})
	}))
	defer srv.Close()

	a, err := NewHTTPDriver(srv.URL).Start(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if a.Location != "sites/abc123" {
		t.Fatalf("artifact location = %q", a.Location)
	}
}

func TestStartMapsRunnerFailureToBuildError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(BuildError{Message: "npm install failed"})
	}))
	defer srv.Close()

	_, err := NewHTTPDriver(srv.URL).Start(context.Background(), "abc123")
	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *BuildError", err)
	}
	if be.Message != "npm install failed" {
		t.Fatalf("message = %q", be.Message)
	}
}

func TestStartSynthesizesMessageForOpaqueFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPDriver(srv.URL).Start(context.Background(), "abc123")
	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *BuildError", err)
	}
	if be.Message == "" {
		t.Fatal("expected a synthesized failure message")
	}
}

func TestStartReportsTransportErrorsAsIs(t *testing.T) {
	_, err := NewHTTPDriver("http://127.0.0.1:1").Start(context.Background(), "abc123")
	var be *BuildError
	if err == nil || errors.As(err, &be) {
		t.Fatalf("transport error must not be a BuildError, got %v", err)
	}
}
