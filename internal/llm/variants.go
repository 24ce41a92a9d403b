package llm

import (
	"context"
	"fmt"
)

// AzureConfig carries the deployment coordinates Azure requires. The
// model never goes in the body; it is addressed by deployment URL.
type AzureConfig struct {
	Endpoint       string // https://<resource>.openai.azure.com
	ResourceName   string
	DeploymentName string
	APIVersion     string
	APIKey         string
}

// DefaultAzureAPIVersion is used when the config leaves it blank.
const DefaultAzureAPIVersion = "2024-02-15-preview"

// NewAzureProvider builds an adapter for one Azure OpenAI deployment.
func NewAzureProvider(cfg AzureConfig) *CompatProvider {
	version := cfg.APIVersion
	if version == "" {
		version = DefaultAzureAPIVersion
	}
	endpoint := cfg.Endpoint
	if endpoint == "" && cfg.ResourceName != "" {
		endpoint = fmt.Sprintf("https://%s.openai.azure.com", cfg.ResourceName)
	}
	chatURL := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		endpoint, cfg.DeploymentName, version)
	return NewCompatProvider(CompatConfig{
		Name:        "azure",
		BaseURL:     endpoint,
		ChatURL:     chatURL,
		ModelInBody: false,
		Model:       cfg.DeploymentName,
		Headers:     map[string]string{"api-key": cfg.APIKey},
		CostIn:      0.01,
		CostOut:     0.03,
	})
}

// copilotChatURL is GitHub Copilot's editor completion endpoint set. It
// is OpenAI-compatible apart from authentication and editor headers.
const copilotChatURL = "https://api.githubcopilot.com/chat/completions"

// NewCopilotProvider builds the Copilot adapter. The token source must
// yield a live OAuth access token from the device-code flow.
func NewCopilotProvider(model string, tokens func(ctx context.Context) (string, error)) *CompatProvider {
	if model == "" {
		model = "gpt-4o"
	}
	return NewCompatProvider(CompatConfig{
		Name:        "copilot",
		BaseURL:     "https://api.githubcopilot.com",
		ChatURL:     copilotChatURL,
		ModelInBody: true,
		Model:       model,
		TokenSource: tokens,
		Headers: map[string]string{
			"Editor-Version":         "zeke/" + Version,
			"Editor-Plugin-Version":  "zeke/" + Version,
			"Copilot-Integration-Id": "vscode-chat",
		},
		CostIn:  0,
		CostOut: 0,
	})
}

// NewXAIProvider builds the xAI (Grok) adapter.
func NewXAIProvider(endpoint, model string, tokens func(ctx context.Context) (string, error)) *CompatProvider {
	if endpoint == "" {
		endpoint = "https://api.x.ai/v1"
	}
	if model == "" {
		model = "grok-2-latest"
	}
	return NewCompatProvider(CompatConfig{
		Name:        "xai",
		BaseURL:     endpoint,
		ModelInBody: true,
		Model:       model,
		TokenSource: tokens,
		CostIn:      0.002,
		CostOut:     0.01,
	})
}

// NewProxyProvider builds the aggregating-proxy adapter. It is plain
// OpenAI-compatible plus the tags object and trace capture.
func NewProxyProvider(endpoint, model string, tokens func(ctx context.Context) (string, error)) *CompatProvider {
	if model == "" {
		model = "auto"
	}
	return NewCompatProvider(CompatConfig{
		Name:         "proxy",
		BaseURL:      endpoint,
		ModelInBody:  true,
		Model:        model,
		TokenSource:  tokens,
		SendTags:     true,
		CaptureTrace: true,
	})
}
