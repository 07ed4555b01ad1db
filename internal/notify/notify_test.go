package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNotifyPostsPayload(t *testing.T) {
	var received webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("expected auth header, got %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "secret", "space-1")
	if err := n.Notify(context.Background(), "3 edits proposed"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received.Text != "3 edits proposed" {
		t.Errorf("unexpected payload text: %q", received.Text)
	}
	if received.SpaceID != "space-1" {
		t.Errorf("unexpected space id: %q", received.SpaceID)
	}
}

func TestNotifyWithoutURLIsNoOp(t *testing.T) {
	n := NewWebhookNotifier("", "", "")
	if err := n.Notify(context.Background(), "anything"); err != nil {
		t.Fatalf("expected no-op notify to succeed, got %v", err)
	}
}

func TestNotifyErrorStatusIsSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "", "")
	if err := n.Notify(context.Background(), "x"); err == nil {
		t.Fatal("expected error status to surface")
	}
}
