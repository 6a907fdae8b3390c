package provider

import (
	"sort"
	"strings"

	"llmnet/internal/logger"
)

// Provider is an LLM or embedding API endpoint that can be probed
type Provider struct {
	Name        string `json:"name" yaml:"name"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	BaseURL     string `json:"base_url" yaml:"base_url"`
}

// Label returns the display name, falling back to the short name
func (p Provider) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}

// Azure endpoints are per-resource, so it carries no default base URL and
// is only selectable with an override.
var catalog = map[string]Provider{
	"openai":      {Name: "openai", DisplayName: "OpenAI", BaseURL: "https://api.openai.com/v1"},
	"azure":       {Name: "azure", DisplayName: "Azure OpenAI"},
	"gemini":      {Name: "gemini", DisplayName: "Gemini", BaseURL: "https://generativelanguage.googleapis.com/v1beta"},
	"deepseek":    {Name: "deepseek", DisplayName: "DeepSeek", BaseURL: "https://api.deepseek.com/v1"},
	"ollama":      {Name: "ollama", DisplayName: "Ollama", BaseURL: "http://localhost:11434"},
	"zhipuai":     {Name: "zhipuai", DisplayName: "ZhipuAI", BaseURL: "https://open.bigmodel.cn/api/paas/v4"},
	"siliconflow": {Name: "siliconflow", DisplayName: "SiliconFlow", BaseURL: "https://api.siliconflow.cn/v1"},
	"grok":        {Name: "grok", DisplayName: "Grok", BaseURL: "https://api.x.ai/v1"},
}

var defaultNames = []string{"openai", "deepseek", "gemini", "siliconflow", "zhipuai"}

var log = logger.New("provider")

// Lookup returns the catalog entry for name
func Lookup(name string) (Provider, bool) {
	p, ok := catalog[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Names lists every catalog entry in alphabetical order
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defaults returns the well-known public endpoints used for connection diagnostics
func Defaults() []Provider {
	providers := make([]Provider, 0, len(defaultNames))
	for _, name := range defaultNames {
		providers = append(providers, catalog[name])
	}
	return providers
}

// Select resolves configured names to providers. Overrides replace the base
// URL of a catalog entry or define a custom provider. An empty name list
// selects Defaults. Names that cannot be resolved are skipped, so an explicit
// selection may resolve to no providers at all.
func Select(names []string, overrides map[string]string) []Provider {
	if len(names) == 0 {
		return Defaults()
	}

	var selected []Provider
	seen := make(map[string]bool)

	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		p, known := catalog[name]
		if !known {
			p = Provider{Name: name}
		}
		if override, ok := overrides[name]; ok && override != "" {
			p.BaseURL = override
		}
		p.BaseURL = strings.TrimRight(p.BaseURL, "/")

		if p.BaseURL == "" {
			if known {
				log.WarnBg("Provider %s needs a base URL override, skipping", name)
			} else {
				log.WarnBg("Unknown provider %s without base URL, skipping", name)
			}
			continue
		}

		selected = append(selected, p)
	}

	return selected
}
