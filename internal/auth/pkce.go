// Package auth implements the two OAuth flows Zeke supports: PKCE with
// manual code paste for Anthropic Claude Max, and the RFC 8628 device
// flow for GitHub Copilot. Both flows end by persisting tokens through
// the credential store.
package auth

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ghostkellz/zeke/internal/credentials"
)

// Anthropic Claude Max OAuth endpoints and client registration.
const (
	anthropicClientID    = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	anthropicAuthorize   = "https://claude.ai/oauth/authorize"
	anthropicToken       = "https://console.anthropic.com/v1/oauth/token"
	anthropicRedirectURI = "https://console.anthropic.com/oauth/code/callback"
	anthropicScope       = "org:create_api_key user:profile user:inference"
)

// ErrStateMismatch is returned when the pasted code's state suffix does
// not match the state generated for the authorisation URL.
var ErrStateMismatch = errors.New("oauth state mismatch")

// ErrReAuthRequired is surfaced when a refresh fails and the user must
// run the interactive flow again.
var ErrReAuthRequired = errors.New("re-authentication required")

// refreshSkew triggers a refresh when an access token is this close to
// expiry.
const refreshSkew = 60 * time.Second

// PKCEFlow drives the Anthropic authorisation-code + PKCE exchange.
type PKCEFlow struct {
	ClientID     string
	AuthorizeURL string
	TokenURL     string
	RedirectURI  string
	Scope        string
	Client       *http.Client

	verifier string
	state    string
}

// NewAnthropicPKCE returns a flow configured for Claude Max.
func NewAnthropicPKCE() *PKCEFlow {
	return &PKCEFlow{
		ClientID:     anthropicClientID,
		AuthorizeURL: anthropicAuthorize,
		TokenURL:     anthropicToken,
		RedirectURI:  anthropicRedirectURI,
		Scope:        anthropicScope,
		Client:       http.DefaultClient,
	}
}

func randomBase64URL(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Begin generates the verifier, challenge and state, returning the
// browser URL the user must visit.
func (f *PKCEFlow) Begin() (string, error) {
	verifier, err := randomBase64URL(32)
	if err != nil {
		return "", err
	}
	state, err := randomBase64URL(32)
	if err != nil {
		return "", err
	}
	f.verifier = verifier
	f.state = state

	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	params := url.Values{}
	params.Set("client_id", f.ClientID)
	params.Set("redirect_uri", f.RedirectURI)
	params.Set("response_type", "code")
	params.Set("scope", f.Scope)
	params.Set("code_challenge", challenge)
	params.Set("code_challenge_method", "S256")
	params.Set("state", state)
	return f.AuthorizeURL + "?" + params.Encode(), nil
}

// ParsePastedCode splits the user's paste into code and state. The
// expected form is "<code>#<state>"; a missing separator or a state
// that differs from the generated one fails with ErrStateMismatch.
func (f *PKCEFlow) ParsePastedCode(pasted string) (string, error) {
	pasted = strings.TrimSpace(pasted)
	code, state, ok := strings.Cut(pasted, "#")
	if !ok || state == "" {
		return "", fmt.Errorf("%w: pasted code is missing its #state suffix", ErrStateMismatch)
	}
	if state != f.state {
		return "", ErrStateMismatch
	}
	if code == "" {
		return "", fmt.Errorf("%w: empty authorisation code", ErrStateMismatch)
	}
	return code, nil
}

// Token is a parsed token-endpoint response.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// ExpiresAt converts the relative expiry to a timestamp.
func (t Token) ExpiresAt(now time.Time) time.Time {
	if t.ExpiresIn <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Exchange trades the pasted authorisation code for tokens. The request
// body is JSON (not form-urlencoded) per Anthropic's endpoint, and the
// response may arrive gzip-compressed.
func (f *PKCEFlow) Exchange(ctx context.Context, code string) (*Token, error) {
	body := map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"code_verifier": f.verifier,
		"client_id":     f.ClientID,
		"redirect_uri":  f.RedirectURI,
	}
	return postTokenJSON(ctx, f.Client, f.TokenURL, body)
}

// Refresh exchanges a refresh token for a new access token.
func (f *PKCEFlow) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	body := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     f.ClientID,
	}
	return postTokenJSON(ctx, f.Client, f.TokenURL, body)
}

// postTokenJSON POSTs a JSON body and parses the token response,
// decompressing transparently when Content-Encoding: gzip is present.
func postTokenJSON(ctx context.Context, client *http.Client, tokenURL string, body map[string]string) (*Token, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	// Opt in explicitly so the transport does not hide the encoding.
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("decompress token response: %w", err)
		}
		defer gz.Close()
		reader = gz
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, excerpt(data))
	}
	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}
	if token.Error != "" {
		return nil, fmt.Errorf("token endpoint error: %s: %s", token.Error, token.ErrorDesc)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned no access token")
	}
	return &token, nil
}

func excerpt(data []byte) string {
	const max = 200
	s := string(data)
	if len(s) > max {
		s = s[:max]
	}
	return s
}

// SaveTokens persists the access (and, when present, refresh) token
// through the credential store.
func SaveTokens(store *credentials.Store, provider string, token *Token, now time.Time) error {
	scopes := strings.Fields(token.Scope)
	if err := store.Set(credentials.Credential{
		Provider:  provider,
		Kind:      credentials.KindOAuthAccess,
		Value:     token.AccessToken,
		ExpiresAt: token.ExpiresAt(now),
		Scopes:    scopes,
	}); err != nil {
		return err
	}
	if token.RefreshToken != "" {
		return store.Set(credentials.Credential{
			Provider: provider,
			Kind:     credentials.KindOAuthRefresh,
			Value:    token.RefreshToken,
			Scopes:   scopes,
		})
	}
	return nil
}
