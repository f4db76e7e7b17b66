package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPClientPostsRequest(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"mail-1","status":"ACCEPTED"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL+"/", time.Second)
	res, err := client.SendNotification(context.Background(), Request{To: []string{"u1"}, Subject: "Your turn", Body: "Write!"})
	if err != nil {
		t.Fatalf("SendNotification() error = %v", err)
	}
	if res.ID != "mail-1" || res.Status != "ACCEPTED" {
		t.Fatalf("unexpected response: %+v", res)
	}
	if len(got.To) != 1 || got.To[0] != "u1" || got.Subject != "Your turn" {
		t.Fatalf("unexpected request payload: %+v", got)
	}
}

func TestHTTPClientEmptyBodyDefaultsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	res, err := NewHTTPClient(srv.URL, 0).SendNotification(context.Background(), Request{To: []string{"u1"}})
	if err != nil {
		t.Fatalf("SendNotification() error = %v", err)
	}
	if res.Status != "SENT" {
		t.Fatalf("expected SENT status, got %+v", res)
	}
}

func TestHTTPClientReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mailbox unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, time.Second).SendNotification(context.Background(), Request{To: []string{"u1"}})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected 502 error, got %v", err)
	}
}

func TestHTTPClientTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := NewHTTPClient(srv.URL, 50*time.Millisecond).SendNotification(context.Background(), Request{To: []string{"u1"}})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("expected timeout to bound the call, took %v", elapsed)
	}
}
