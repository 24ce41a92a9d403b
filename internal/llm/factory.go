package llm

import (
	"context"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ghostkellz/zeke/internal/auth"
	"github.com/ghostkellz/zeke/internal/config"
	"github.com/ghostkellz/zeke/internal/credentials"
)

// NewAnthropicTokenSourceProvider builds an Anthropic adapter whose
// bearer token is resolved per request, so OAuth refresh is picked up
// without rebuilding the adapter.
func NewAnthropicTokenSourceProvider(tokens func(ctx context.Context) (string, error), model string) *AnthropicProvider {
	middleware := option.WithMiddleware(func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		token, err := tokens(req.Context())
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return next(req)
	})
	return NewAnthropicOAuthProvider("", model, middleware)
}

// BuildProviders assembles the adapter set from configuration and
// stored credentials. Providers with no usable credential are skipped
// rather than failing startup; doctor reports them.
func BuildProviders(cfg *config.Config, store *credentials.Store) map[string]Provider {
	providers := make(map[string]Provider)

	if cfg.Providers.Ollama.Enabled {
		providers["ollama"] = NewOllamaProvider(cfg.Providers.Ollama.Endpoint, cfg.Providers.Ollama.Model)
	}

	// Anthropic: Claude Max OAuth wins over a raw API key.
	if _, err := store.Get("anthropic", credentials.KindOAuthAccess); err == nil {
		flow := auth.NewAnthropicPKCE()
		ts := auth.NewTokenSource(store, "anthropic", flow.Refresh)
		providers["anthropic"] = NewAnthropicTokenSourceProvider(ts.Token, cfg.Providers.Anthropic.Model)
	} else if cred, err := store.Get("anthropic", credentials.KindAPIKey); err == nil {
		var opts []option.RequestOption
		if cfg.Providers.Anthropic.Endpoint != "" {
			opts = append(opts, option.WithBaseURL(cfg.Providers.Anthropic.Endpoint))
		}
		providers["anthropic"] = NewAnthropicProvider(cred.Value, cfg.Providers.Anthropic.Model, opts...)
	}

	if cred, err := store.Get("openai", credentials.KindAPIKey); err == nil {
		providers["openai"] = NewOpenAIProvider(cred.Value, cfg.Providers.OpenAI.Model, cfg.Providers.OpenAI.Endpoint)
	}

	if cred, err := store.Get("google", credentials.KindAPIKey); err == nil {
		providers["google"] = NewGoogleProvider(cred.Value, cfg.Providers.Google.Model)
	}

	if _, err := store.Get("xai", credentials.KindAPIKey); err == nil || cfg.Providers.XAI.Enabled {
		providers["xai"] = NewXAIProvider(cfg.Providers.XAI.Endpoint, cfg.Providers.XAI.Model, storeTokenSource(store, "xai"))
	}

	if cfg.Providers.Azure.Enabled {
		if cred, err := store.Get("azure", credentials.KindAPIKey); err == nil {
			providers["azure"] = NewAzureProvider(AzureConfig{
				Endpoint:       cfg.Providers.Azure.Endpoint,
				ResourceName:   cfg.Providers.Azure.ResourceName,
				DeploymentName: cfg.Providers.Azure.DeploymentName,
				APIVersion:     cfg.Providers.Azure.APIVersion,
				APIKey:         cred.Value,
			})
		}
	}

	// Copilot: device-flow token stored under the github provider key.
	if _, err := store.Get("github", credentials.KindOAuthAccess); err == nil {
		ts := auth.NewTokenSource(store, "github", nil)
		providers["copilot"] = NewCopilotProvider(cfg.Providers.Copilot.Model, ts.Token)
	}

	if cfg.Providers.Proxy.Enabled && cfg.Providers.Proxy.Endpoint != "" {
		providers["proxy"] = NewProxyProvider(cfg.Providers.Proxy.Endpoint, cfg.Providers.Proxy.Model, storeTokenSource(store, "proxy"))
	}

	return providers
}

// storeTokenSource yields the stored API key as a bearer credential.
func storeTokenSource(store *credentials.Store, provider string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		cred, err := store.Get(provider, credentials.KindAPIKey)
		if err != nil {
			// A missing key sends the request unauthenticated; the
			// upstream's 401 maps to the right taxonomy entry.
			return "", nil
		}
		return cred.Value, nil
	}
}
