package pfs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRoutes(t *testing.T) {
	var got routesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/paths" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(routesResponse{Result: []Route{
			{Path: []string{"0xa", "0xb", "0xc"}, EstimatedFee: 3},
		}})
	}))
	defer srv.Close()

	routes, err := New(srv.URL).Routes(context.Background(), "0xa", "0xc", 10, 5)
	if err != nil {
		t.Fatalf("Routes: %v", err)
	}
	if got.From != "0xa" || got.To != "0xc" || got.Value != 10 || got.MaxPaths != 5 {
		t.Errorf("request = %+v", got)
	}
	if len(routes) != 1 || len(routes[0].Path) != 3 || routes[0].EstimatedFee != 3 {
		t.Errorf("routes = %+v", routes)
	}
}

func TestRoutes_EmptyResultIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(routesResponse{})
	}))
	defer srv.Close()

	routes, err := New(srv.URL).Routes(context.Background(), "0xa", "0xc", 10, 5)
	if err != nil {
		t.Fatalf("Routes: %v", err)
	}
	if len(routes) != 0 {
		t.Errorf("routes = %+v, want empty", routes)
	}
}

func TestHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/routes" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("source") != "0xa" || q.Get("target") != "0xd" {
			t.Errorf("query = %v", q)
		}
		json.NewEncoder(w).Encode([]HistoryEntry{
			{RequestID: "r1", Route: []string{"0xa", "0xb", "0xd"}},
			{RequestID: "r2", Route: []string{"0xa", "0xc", "0xd"}},
		})
	}))
	defer srv.Close()

	entries, err := New(srv.URL).History(context.Background(), "0xa", "0xd")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 2 || entries[1].RequestID != "r2" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestRoutes_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Routes(context.Background(), "0xa", "0xc", 1, 1); err == nil {
		t.Error("expected error on 500")
	}
}
