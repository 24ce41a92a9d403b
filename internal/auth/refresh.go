package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ghostkellz/zeke/internal/credentials"
)

// TokenSource yields a live OAuth access token for a provider,
// refreshing transparently when the stored token is within 60 s of
// expiry. Adapters call it per request so a mid-session refresh is
// picked up without rebuilding the adapter.
type TokenSource struct {
	store    *credentials.Store
	provider string
	refresh  func(ctx context.Context, refreshToken string) (*Token, error)
}

// NewTokenSource builds a source. refresh may be nil for providers
// whose tokens never expire (GitHub device tokens).
func NewTokenSource(store *credentials.Store, provider string, refresh func(ctx context.Context, refreshToken string) (*Token, error)) *TokenSource {
	return &TokenSource{store: store, provider: provider, refresh: refresh}
}

// Token returns the current access token, refreshing first when close
// to expiry. On refresh failure the stale token stays in place and
// ErrReAuthRequired is returned.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	cred, err := s.store.Get(s.provider, credentials.KindOAuthAccess)
	if err != nil {
		return "", fmt.Errorf("%w: no %s token stored", ErrReAuthRequired, s.provider)
	}
	if !cred.Expired(refreshSkew) {
		return cred.Value, nil
	}
	if s.refresh == nil {
		// Cannot refresh; hand back the stored token and let the
		// upstream reject it if truly dead.
		return cred.Value, nil
	}

	refreshCred, err := s.store.Get(s.provider, credentials.KindOAuthRefresh)
	if err != nil {
		return "", fmt.Errorf("%w: %s access token expired and no refresh token stored", ErrReAuthRequired, s.provider)
	}
	token, err := s.refresh(ctx, refreshCred.Value)
	if err != nil {
		slog.Warn("token refresh failed", "provider", s.provider, "err", err)
		return "", errors.Join(ErrReAuthRequired, err)
	}
	if err := SaveTokens(s.store, s.provider, token, time.Now()); err != nil {
		return "", err
	}
	s.store.Invalidate(s.provider, credentials.KindOAuthAccess)
	return token.AccessToken, nil
}
