package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeviceFlowPolling(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/device":
			json.NewEncoder(w).Encode(map[string]any{
				"device_code":      "DEV",
				"user_code":        "ABCD-1234",
				"verification_uri": "https://github.com/login/device",
				"interval":         1,
				"expires_in":       600,
			})
		case "/token":
			switch polls.Add(1) {
			case 1, 2:
				json.NewEncoder(w).Encode(map[string]string{"error": "authorization_pending"})
			case 3:
				json.NewEncoder(w).Encode(map[string]string{"error": "slow_down"})
			case 4:
				json.NewEncoder(w).Encode(map[string]string{"error": "authorization_pending"})
			default:
				json.NewEncoder(w).Encode(map[string]string{"access_token": "G"})
			}
		}
	}))
	defer server.Close()

	var sleeps []time.Duration
	flow := &DeviceFlow{
		ClientID:  "test-client",
		DeviceURL: server.URL + "/device",
		TokenURL:  server.URL + "/token",
		Scope:     "read:user",
		Client:    server.Client(),
		Sleep: func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		},
	}

	authz, err := flow.Begin(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if authz.UserCode != "ABCD-1234" {
		t.Errorf("user code = %q", authz.UserCode)
	}

	token, err := flow.Poll(context.Background(), authz)
	if err != nil {
		t.Fatal(err)
	}
	if token.AccessToken != "G" {
		t.Errorf("access token = %q", token.AccessToken)
	}
	if got := polls.Load(); got != 5 {
		t.Errorf("polls = %d, want 5", got)
	}

	// slow_down adds five seconds to the interval for later polls.
	if len(sleeps) != 5 {
		t.Fatalf("sleeps = %d, want 5", len(sleeps))
	}
	if sleeps[0] != time.Second || sleeps[2] != time.Second {
		t.Errorf("early sleeps = %v, want 1s", sleeps[:3])
	}
	if sleeps[3] != 6*time.Second || sleeps[4] != 6*time.Second {
		t.Errorf("post-slow_down sleeps = %v, want 6s", sleeps[3:])
	}
}

func TestDeviceFlowDenied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "access_denied"})
	}))
	defer server.Close()

	flow := &DeviceFlow{
		ClientID: "c",
		TokenURL: server.URL,
		Client:   server.Client(),
		Sleep:    func(ctx context.Context, d time.Duration) error { return nil },
	}
	_, err := flow.Poll(context.Background(), &DeviceAuthorization{DeviceCode: "D", Interval: 1, ExpiresIn: 600})
	if err == nil {
		t.Fatal("expected access_denied error")
	}
}

func TestDeviceFlowRespectsContext(t *testing.T) {
	flow := &DeviceFlow{
		ClientID: "c",
		TokenURL: "http://127.0.0.1:0/unreachable",
		Client:   http.DefaultClient,
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := flow.Poll(ctx, &DeviceAuthorization{DeviceCode: "D", Interval: 1, ExpiresIn: 600})
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
}
