package schema

// SessionID identifies a terminal session.
type SessionID string

// RunID identifies one agent run within a session.
type RunID string

// ModelID identifies an LLM model.
type ModelID string

// ProviderID identifies an LLM API provider.
type ProviderID string

const (
	// ProviderAnthropic selects the Anthropic messages API dialect.
	ProviderAnthropic ProviderID = "anthropic"
	// ProviderOpenAI selects the OpenAI chat completions dialect.
	ProviderOpenAI ProviderID = "openai"
	// ProviderOpenAICompatible selects a self-hosted chat completions endpoint.
	ProviderOpenAICompatible ProviderID = "openai-compatible"
)
