package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateReturnsServerID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/records" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Missing auth header: %q", r.Header.Get("Authorization"))
		}
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("Bad payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "srv-42"})
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, APIKey: "test-key"})
	id, err := c.Create(context.Background(), json.RawMessage(`{"result":"pass"}`))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id != "srv-42" {
		t.Errorf("Expected srv-42, got %q", id)
	}
}

func TestCreateRejectionCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing candidate id", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
	_, err := c.Create(context.Background(), json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("Expected error")
	}

	var remoteErr *Error
	if !errors.As(err, &remoteErr) || remoteErr.StatusCode != 422 {
		t.Fatalf("Expected *Error with 422, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("422 must not be retryable")
	}
}

func TestUpdatePutsToRecordPath(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
	if err := c.Update(context.Background(), "srv-9", json.RawMessage(`{"v":2}`)); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if gotMethod != http.MethodPut || gotPath != "/api/v1/records/srv-9" {
		t.Errorf("Got %s %s", gotMethod, gotPath)
	}
}

func TestDeleteTreatsNotFoundAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
	if err := c.Delete(context.Background(), "srv-gone"); err != nil {
		t.Errorf("Delete of missing record must succeed, got %v", err)
	}
}

func TestPing(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	healthy = false
	err := c.Ping(context.Background())
	if err == nil {
		t.Fatal("Expected error from unhealthy server")
	}
	if !IsRetryable(err) {
		t.Error("503 should be retryable")
	}
}

func TestIsRetryableClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&Error{StatusCode: 500}, true},
		{&Error{StatusCode: 503}, true},
		{&Error{StatusCode: 408}, true},
		{&Error{StatusCode: 429}, true},
		{&Error{StatusCode: 400}, false},
		{&Error{StatusCode: 404}, false},
		{&Error{StatusCode: 409}, false},
		{&Error{StatusCode: 422}, false},
		{fmt.Errorf("dial tcp: connection refused"), true},
		{context.DeadlineExceeded, true},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
