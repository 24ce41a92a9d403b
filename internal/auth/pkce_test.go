package auth

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ghostkellz/zeke/internal/credentials"
)

func TestBeginBuildsAuthorizeURL(t *testing.T) {
	flow := NewAnthropicPKCE()
	raw, err := flow.Begin()
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	for _, param := range []string{"client_id", "redirect_uri", "scope", "code_challenge", "state"} {
		if q.Get(param) == "" {
			t.Errorf("authorize URL missing %s", param)
		}
	}
	if q.Get("response_type") != "code" {
		t.Errorf("response_type = %q", q.Get("response_type"))
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Errorf("code_challenge_method = %q", q.Get("code_challenge_method"))
	}
}

func TestParsePastedCode(t *testing.T) {
	flow := NewAnthropicPKCE()
	if _, err := flow.Begin(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		pasted  string
		wantErr bool
	}{
		{"valid", "CODE#" + flow.state, false},
		{"missing separator", "CODEONLY", true},
		{"empty state", "CODE#", true},
		{"wrong state", "CODE#not-the-state", true},
		{"empty code", "#" + flow.state, true},
		{"whitespace tolerated", "  CODE#" + flow.state + "\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := flow.ParsePastedCode(tt.pasted)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got code %q", code)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if code != "CODE" {
				t.Errorf("code = %q, want CODE", code)
			}
		})
	}
}

func TestExchangeGzipResponse(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		json.NewEncoder(gz).Encode(map[string]any{
			"access_token":  "A",
			"refresh_token": "R",
			"expires_in":    28800,
		})
		gz.Close()
	}))
	defer server.Close()

	flow := NewAnthropicPKCE()
	flow.TokenURL = server.URL
	flow.Client = server.Client()
	if _, err := flow.Begin(); err != nil {
		t.Fatal(err)
	}

	token, err := flow.Exchange(context.Background(), "CODE")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if token.AccessToken != "A" || token.RefreshToken != "R" {
		t.Errorf("token = %+v", token)
	}
	if gotBody["grant_type"] != "authorization_code" {
		t.Errorf("grant_type = %q", gotBody["grant_type"])
	}
	if gotBody["code_verifier"] != flow.verifier {
		t.Error("exchange did not send the generated verifier")
	}

	// expires_at lands about eight hours out.
	now := time.Now()
	at := token.ExpiresAt(now)
	if d := at.Sub(now); d < 7*time.Hour || d > 9*time.Hour {
		t.Errorf("expiry delta = %v, want ~8h", d)
	}
}

func TestExchangeErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	}))
	defer server.Close()

	flow := NewAnthropicPKCE()
	flow.TokenURL = server.URL
	flow.Client = server.Client()
	if _, err := flow.Begin(); err != nil {
		t.Fatal(err)
	}
	if _, err := flow.Exchange(context.Background(), "BAD"); err == nil {
		t.Fatal("expected error from 400 response")
	}
}

func TestSaveTokens(t *testing.T) {
	store, err := credentials.Open(credentials.Options{ConfigDir: t.TempDir(), NoKeyring: true})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	token := &Token{AccessToken: "A", RefreshToken: "R", ExpiresIn: 3600, Scope: "user:inference"}
	if err := SaveTokens(store, "anthropic", token, now); err != nil {
		t.Fatal(err)
	}

	access, err := store.Get("anthropic", credentials.KindOAuthAccess)
	if err != nil {
		t.Fatal(err)
	}
	if access.Value != "A" {
		t.Errorf("access = %q", access.Value)
	}
	if !strings.Contains(strings.Join(access.Scopes, " "), "user:inference") {
		t.Errorf("scopes = %v", access.Scopes)
	}
	refresh, err := store.Get("anthropic", credentials.KindOAuthRefresh)
	if err != nil {
		t.Fatal(err)
	}
	if refresh.Value != "R" {
		t.Errorf("refresh = %q", refresh.Value)
	}
}
