package apprise

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/lingosub/internal/config"
)

func TestNotifyPostsToKeyPath(t *testing.T) {
	var mu sync.Mutex
	var gotPath string
	var got NotifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(config.AppriseConfig{Enabled: true, BaseURL: srv.URL + "/", Key: "lingosub"})
	if err := c.JobFailed(context.Background(), "vid1", "https://youtu.be/vid1", "download", errors.New("boom")); err != nil {
		t.Fatalf("JobFailed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/notify/lingosub" {
		t.Fatalf("path = %q", gotPath)
	}
	if got.Type != "failure" || got.Tag != "all" || !strings.Contains(got.Body, "Stage: download") {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestNotifyDisabledIsNoop(t *testing.T) {
	c := NewClient(config.AppriseConfig{Enabled: false, BaseURL: "http://127.0.0.1:1"})
	if err := c.JobCompleted(context.Background(), "id", "src", 3, ""); err != nil {
		t.Fatalf("disabled client should not fail: %v", err)
	}
}
