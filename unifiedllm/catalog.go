package unifiedllm

import "strings"

// ModelInfo describes a known model.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	ContextWindow int      `json:"context_window"`
	SupportsTools bool     `json:"supports_tools"`
	Aliases       []string `json:"aliases,omitempty"`
}

// Models lists the models agent configs commonly name. The first entry per
// provider is that provider's default.
var Models = []ModelInfo{
	{ID: "gpt-4o-mini", Provider: "openai", ContextWindow: 128000, SupportsTools: true, Aliases: []string{"4o-mini"}},
	{ID: "gpt-4o", Provider: "openai", ContextWindow: 128000, SupportsTools: true, Aliases: []string{"4o"}},
	{ID: "gpt-4.1", Provider: "openai", ContextWindow: 1047576, SupportsTools: true},
	{ID: "claude-sonnet-4-5", Provider: "anthropic", ContextWindow: 200000, SupportsTools: true, Aliases: []string{"sonnet"}},
	{ID: "claude-haiku-4-5", Provider: "anthropic", ContextWindow: 200000, SupportsTools: true, Aliases: []string{"haiku"}},
	{ID: "claude-opus-4-1", Provider: "anthropic", ContextWindow: 200000, SupportsTools: true, Aliases: []string{"opus"}},
}

// GetModelInfo returns the catalog entry for a model id or alias, or nil.
func GetModelInfo(modelID string) *ModelInfo {
	id := strings.ToLower(strings.TrimSpace(modelID))
	if id == "" {
		return nil
	}
	for i := range Models {
		if Models[i].ID == id {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == id {
				return &Models[i]
			}
		}
	}
	return nil
}

// DefaultModel returns the default model id for provider, or "".
func DefaultModel(provider string) string {
	for _, m := range Models {
		if m.Provider == provider {
			return m.ID
		}
	}
	return ""
}
