package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GitHub Copilot device-flow endpoints and client registration.
const (
	githubClientID  = "Iv1.b507a08c87ecfe98"
	githubDeviceURL = "https://github.com/login/device/code"
	githubTokenURL  = "https://github.com/login/oauth/access_token"
	githubScope     = "read:user"
)

// deviceFlowBound caps the whole flow when the endpoint's expires_in is
// absent or absurd.
const deviceFlowBound = 10 * time.Minute

// DeviceAuthorization is the device-authorisation endpoint response.
type DeviceAuthorization struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	Interval        int    `json:"interval"`
	ExpiresIn       int    `json:"expires_in"`
}

// DeviceFlow drives an RFC 8628 grant.
type DeviceFlow struct {
	ClientID  string
	DeviceURL string
	TokenURL  string
	Scope     string
	Client    *http.Client
	// Sleep is swapped out by tests; defaults to time.Sleep via
	// context-aware wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewGitHubDeviceFlow returns a flow configured for GitHub Copilot.
func NewGitHubDeviceFlow() *DeviceFlow {
	return &DeviceFlow{
		ClientID:  githubClientID,
		DeviceURL: githubDeviceURL,
		TokenURL:  githubTokenURL,
		Scope:     githubScope,
		Client:    http.DefaultClient,
	}
}

func (f *DeviceFlow) sleep(ctx context.Context, d time.Duration) error {
	if f.Sleep != nil {
		return f.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *DeviceFlow) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("device endpoint returned %d: %s", resp.StatusCode, excerpt(data))
	}
	return data, nil
}

// Begin requests a device authorisation. The caller displays UserCode
// and VerificationURI, then calls Poll.
func (f *DeviceFlow) Begin(ctx context.Context) (*DeviceAuthorization, error) {
	form := url.Values{}
	form.Set("client_id", f.ClientID)
	form.Set("scope", f.Scope)
	data, err := f.postForm(ctx, f.DeviceURL, form)
	if err != nil {
		return nil, err
	}
	var authz DeviceAuthorization
	if err := json.Unmarshal(data, &authz); err != nil {
		return nil, fmt.Errorf("parse device authorisation: %w", err)
	}
	if authz.DeviceCode == "" || authz.UserCode == "" {
		return nil, fmt.Errorf("device authorisation response incomplete")
	}
	if authz.Interval <= 0 {
		authz.Interval = 5
	}
	return &authz, nil
}

type deviceTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

// Poll polls the token endpoint every interval seconds until the user
// authorises, the authorisation expires, or ctx is cancelled.
// `authorization_pending` keeps polling; `slow_down` adds five seconds
// to the interval per RFC 8628 §3.5.
func (f *DeviceFlow) Poll(ctx context.Context, authz *DeviceAuthorization) (*Token, error) {
	interval := time.Duration(authz.Interval) * time.Second
	bound := deviceFlowBound
	if authz.ExpiresIn > 0 && time.Duration(authz.ExpiresIn)*time.Second < bound {
		bound = time.Duration(authz.ExpiresIn) * time.Second
	}
	deadline := time.Now().Add(bound)

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:device_code")
	form.Set("device_code", authz.DeviceCode)
	form.Set("client_id", f.ClientID)

	for {
		if err := f.sleep(ctx, interval); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("device authorisation expired before the user approved")
		}
		data, err := f.postForm(ctx, f.TokenURL, form)
		if err != nil {
			return nil, err
		}
		var resp deviceTokenResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("parse device token response: %w", err)
		}
		switch resp.Error {
		case "":
			if resp.AccessToken == "" {
				return nil, fmt.Errorf("token endpoint returned no access token")
			}
			return &Token{AccessToken: resp.AccessToken, Scope: resp.Scope, TokenType: resp.TokenType}, nil
		case "authorization_pending":
			continue
		case "slow_down":
			interval += 5 * time.Second
			continue
		case "expired_token":
			return nil, fmt.Errorf("device code expired before the user approved")
		case "access_denied":
			return nil, fmt.Errorf("user denied the authorisation request")
		default:
			return nil, fmt.Errorf("device flow failed: %s: %s", resp.Error, resp.ErrorDesc)
		}
	}
}
