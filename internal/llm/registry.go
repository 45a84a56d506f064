package llm

import "github.com/aideny-kr/chatcore/internal/registry"

// Registry looks up a configured Provider by name ("anthropic", "openai",
// "gemini", or a tenant-configured alias for BYOK). Built on the shared
// internal/registry.BaseRegistry rather than a bespoke map's
// ban on package-level singletons.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

// NewRegistry constructs an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Provider]()}
}
