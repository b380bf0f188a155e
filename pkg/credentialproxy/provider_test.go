package credentialproxy

import "testing"

func TestResolveProviderFromPath(t *testing.T) {
	cases := []struct {
		path     string
		wantID   string
		wantRest string
		wantOK   bool
	}{
		{"/github/repos/acme/widgets/issues/1/comments", "github", "/repos/acme/widgets/issues/1/comments", true},
		{"/datadog/api/v1/events", "datadog", "/api/v1/events", true},
		{"/loki", "loki", "", true},
		{"/not-a-real-provider/x", "", "", false},
		{"", "", "", false},
	}
	for _, c := range cases {
		p, rest, ok := resolveProviderFromPath(c.path)
		if ok != c.wantOK {
			t.Errorf("resolveProviderFromPath(%q) ok = %v, want %v", c.path, ok, c.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if p.ID != c.wantID || rest != c.wantRest {
			t.Errorf("resolveProviderFromPath(%q) = (%q, %q), want (%q, %q)", c.path, p.ID, rest, c.wantID, c.wantRest)
		}
	}
}

func TestResolveLLMProvider(t *testing.T) {
	cases := []struct {
		modelRef  string
		wantID    string
		wantModel string
	}{
		{"openai/gpt-4o", "openai", "gpt-4o"},
		{"claude-sonnet-4", "anthropic", "claude-sonnet-4"},
		{"qwen/qwen-max", "openrouter", "qwen/qwen-max"},
		{"cohere/command-r", "openrouter", "cohere/command-r"},
		{"mistral/mistral-large", "mistral", "mistral-large"},
	}
	for _, c := range cases {
		p, model, ok := resolveLLMProvider(c.modelRef)
		if !ok {
			t.Errorf("resolveLLMProvider(%q): ok = false", c.modelRef)
			continue
		}
		if p.ID != c.wantID {
			t.Errorf("resolveLLMProvider(%q) provider = %q, want %q", c.modelRef, p.ID, c.wantID)
		}
		if c.modelRef == "qwen/qwen-max" || c.modelRef == "cohere/command-r" {
			if model != c.wantModel {
				t.Errorf("resolveLLMProvider(%q) model = %q, want %q", c.modelRef, model, c.wantModel)
			}
			continue
		}
		if model != c.wantModel {
			t.Errorf("resolveLLMProvider(%q) model = %q, want %q", c.modelRef, model, c.wantModel)
		}
	}
}

func TestResolveLLMProvider_UnknownPrefixFails(t *testing.T) {
	if _, _, ok := resolveLLMProvider("unknownvendor/some-model"); ok {
		t.Error("expected unknown provider prefix to fail resolution")
	}
}
