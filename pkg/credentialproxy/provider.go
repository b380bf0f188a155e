// Package credentialproxy implements C11: a sandbox-JWT-authenticated
// reverse proxy that resolves per-tenant integration credentials and
// injects them into outbound requests, so a sandbox never holds a
// plaintext secret itself.
package credentialproxy

import (
	"strings"
)

// AuthStyle names how a provider expects its credential presented
// (§4.C11 step 4).
type AuthStyle int

const (
	AuthBearer       AuthStyle = iota // Authorization: Bearer <token>
	AuthBasic                         // Authorization: Basic base64(user:pass)
	AuthTokenPrefix                   // Authorization: token <x>  (GitHub-style)
	AuthAPIKeyIDPair                  // Authorization: ApiKey <id>:<secret>
	AuthXAPIKey                       // X-Api-Key: <key>
	AuthDatadog                       // DD-API-KEY + DD-APPLICATION-KEY
	AuthXScopeOrgID                   // Authorization: Bearer <key> + X-Scope-OrgID
	AuthAnthropic                     // x-api-key + anthropic-version
	AuthAWSSigV4                      // bedrock: access/secret/region injected as headers, no full request signing
)

// Provider describes one proxyable upstream: the integration its
// credential is read from, its default base URL (overridable per-tenant
// via the integration's domain/api_host field), and how to present the
// resolved credential.
type Provider struct {
	ID               string
	IntegrationID    string
	DefaultBaseURL   string
	AuthStyle        AuthStyle
	OpenAICompatible bool // chat-completions-shaped upstream, for /v1/messages translation
}

// providers is keyed by the path prefix (generic integrations) or the
// x-llm-model / model-field prefix (LLM routing), per §4.C11's two
// identification modes.
var providers = map[string]Provider{
	// Generic integration proxies, addressed as /<provider>/<path...>.
	"grafana":       {ID: "grafana", IntegrationID: "grafana", AuthStyle: AuthBearer},
	"datadog":       {ID: "datadog", IntegrationID: "datadog", DefaultBaseURL: "https://api.datadoghq.com", AuthStyle: AuthDatadog},
	"loki":          {ID: "loki", IntegrationID: "loki", AuthStyle: AuthXScopeOrgID},
	"elasticsearch": {ID: "elasticsearch", IntegrationID: "elasticsearch", AuthStyle: AuthXAPIKey},
	"splunk":        {ID: "splunk", IntegrationID: "splunk", AuthStyle: AuthBearer},
	"coralogix":     {ID: "coralogix", IntegrationID: "coralogix", AuthStyle: AuthBearer},
	"victorialogs":  {ID: "victorialogs", IntegrationID: "victorialogs", AuthStyle: AuthBearer},
	"jaeger":        {ID: "jaeger", IntegrationID: "jaeger", AuthStyle: AuthBearer},
	"confluence":    {ID: "confluence", IntegrationID: "confluence", AuthStyle: AuthBasic},
	"github":        {ID: "github", IntegrationID: "github", DefaultBaseURL: "https://api.github.com", AuthStyle: AuthTokenPrefix},
	"pagerduty":     {ID: "pagerduty", IntegrationID: "pagerduty", DefaultBaseURL: "https://api.pagerduty.com", AuthStyle: AuthAPIKeyIDPair},
	"incidentio":    {ID: "incidentio", IntegrationID: "incidentio", DefaultBaseURL: "https://api.incident.io", AuthStyle: AuthBearer},

	// LLM provider routing (§6 SUPPLEMENTED FEATURES "LLM provider routing table").
	"anthropic":  {ID: "anthropic", IntegrationID: "anthropic", DefaultBaseURL: "https://api.anthropic.com", AuthStyle: AuthAnthropic},
	"openai":     {ID: "openai", IntegrationID: "openai", DefaultBaseURL: "https://api.openai.com", AuthStyle: AuthBearer, OpenAICompatible: true},
	"gemini":     {ID: "gemini", IntegrationID: "gemini", DefaultBaseURL: "https://generativelanguage.googleapis.com", AuthStyle: AuthXAPIKey},
	"deepseek":   {ID: "deepseek", IntegrationID: "openrouter", DefaultBaseURL: "https://api.deepseek.com", AuthStyle: AuthBearer, OpenAICompatible: true},
	"moonshot":   {ID: "moonshot", IntegrationID: "openrouter", DefaultBaseURL: "https://api.moonshot.cn", AuthStyle: AuthBearer, OpenAICompatible: true},
	"minimax":    {ID: "minimax", IntegrationID: "openrouter", DefaultBaseURL: "https://api.minimax.chat", AuthStyle: AuthBearer, OpenAICompatible: true},
	"xai":        {ID: "xai", IntegrationID: "openrouter", DefaultBaseURL: "https://api.x.ai", AuthStyle: AuthBearer, OpenAICompatible: true},
	"mistral":    {ID: "mistral", IntegrationID: "openrouter", DefaultBaseURL: "https://api.mistral.ai", AuthStyle: AuthBearer, OpenAICompatible: true},
	"bedrock":    {ID: "bedrock", IntegrationID: "bedrock", AuthStyle: AuthAWSSigV4},
	"azure_ai":   {ID: "azure_ai", IntegrationID: "azure_ai", AuthStyle: AuthBearer, OpenAICompatible: true},
	"openrouter": {ID: "openrouter", IntegrationID: "openrouter", DefaultBaseURL: "https://openrouter.ai/api", AuthStyle: AuthBearer, OpenAICompatible: true},
}

// llmFallback names providers that are always routed through OpenRouter
// (qwen, cohere per SPEC_FULL.md); the providers table has no direct entry
// for them.
var llmFallback = map[string]bool{
	"qwen":   true,
	"cohere": true,
}

// resolveProviderFromPath splits "/<provider>/<rest...>" and returns the
// registered Provider plus the remaining upstream path.
func resolveProviderFromPath(urlPath string) (Provider, string, bool) {
	trimmed := strings.TrimPrefix(urlPath, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return Provider{}, "", false
	}
	p, ok := providers[parts[0]]
	if !ok {
		return Provider{}, "", false
	}
	rest := ""
	if len(parts) == 2 {
		rest = "/" + parts[1]
	}
	return p, rest, true
}

// resolveLLMProvider identifies the provider for an /v1/messages request
// from the x-llm-model header or the request body's model field, both
// formatted "<provider>/<model>" (e.g. "openai/gpt-4o").
func resolveLLMProvider(modelRef string) (Provider, string, bool) {
	parts := strings.SplitN(modelRef, "/", 2)
	if len(parts) != 2 {
		// No prefix: treat as a direct Anthropic model name, the
		// canonical case for /v1/messages.
		return providers["anthropic"], modelRef, true
	}
	prefix, model := parts[0], parts[1]
	if llmFallback[prefix] {
		return providers["openrouter"], modelRef, true
	}
	p, ok := providers[prefix]
	return p, model, ok
}
