package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	v1 "recoverflow/pkg/api/v1"
	"recoverflow/pkg/logger"
)

func init() {
	logger.InitLogger("test")
}

func TestLoginThenRetry(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/login":
			json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "refresh_token": "r-1"})
		case "/v1/retry/groups/g-1":
			gotAuth = r.Header.Get("Authorization")
			json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]any{"request_id": "req-9"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	tok, err := c.Login(context.Background(), "ops", "secret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if tok.AccessToken != "tok-1" {
		t.Errorf("access token = %q", tok.AccessToken)
	}

	cutOff := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	id, err := c.RetryGroup(context.Background(), "g-1", cutOff)
	if err != nil {
		t.Fatalf("RetryGroup failed: %v", err)
	}
	if id != "req-9" {
		t.Errorf("request id = %q, want req-9", id)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody["cut_off"] != "2024-03-01T12:00:00Z" {
		t.Errorf("cut_off = %v", gotBody["cut_off"])
	}
}

func TestAPIErrorCarriesServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error":"retry already in progress"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.RetryAll(context.Background(), time.Time{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Message != "retry already in progress" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestReportResolvedUsesAPIKey(t *testing.T) {
	var gotKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(apiKeyHeader)
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{"changed": true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "integration-key")
	c.SetToken("should-not-be-sent")
	changed, err := c.ReportResolved(context.Background(), "m-1", time.Now())
	if err != nil {
		t.Fatalf("ReportResolved failed: %v", err)
	}
	if !changed {
		t.Error("expected changed")
	}
	if gotKey != "integration-key" || gotAuth != "" {
		t.Errorf("key=%q auth=%q", gotKey, gotAuth)
	}
}

func writeEvent(w http.ResponseWriter, seq int64) {
	raw, _ := json.Marshal(v1.Event{Seq: seq, Type: "FailureRecorded", AggregateID: fmt.Sprint(seq)})
	fmt.Fprintf(w, "event:event\ndata:%s\n\n", raw)
}

func TestWatchResumesFromLastSeq(t *testing.T) {
	var mu sync.Mutex
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.RawQuery)
		n := len(queries)
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		if n == 1 {
			writeEvent(w, 1)
			fmt.Fprint(w, "event:ping\ndata:pong\n\n")
			writeEvent(w, 2)
			writeEvent(w, 2)
			return
		}
		fmt.Fprint(w, "event:reset\ndata:seq_too_old\n\n")
		writeEvent(w, 3)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := NewClient(srv.URL, "k")
	resets := 0
	c.OnReset = func() { resets++ }
	var got []int64
	err := c.Watch(ctx, []string{"FailureRecorded"}, func(e v1.Event) {
		got = append(got, e.Seq)
		if e.Seq == 3 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Watch returned %v", err)
	}

	if fmt.Sprint(got) != "[1 2 3]" {
		t.Errorf("delivered %v, want [1 2 3]", got)
	}
	if resets != 1 {
		t.Errorf("resets = %d, want 1", resets)
	}
	if c.LastSeq() != 3 {
		t.Errorf("LastSeq = %d", c.LastSeq())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(queries) < 2 {
		t.Fatalf("expected a reconnect, got %d connections", len(queries))
	}
	if queries[0] != "types=FailureRecorded" {
		t.Errorf("first query = %q", queries[0])
	}
	if queries[1] != "last_seq=2&types=FailureRecorded" {
		t.Errorf("resume query = %q", queries[1])
	}
}

func TestWatchStopsOnUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad")
	err := c.Watch(context.Background(), nil, func(v1.Event) {})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
