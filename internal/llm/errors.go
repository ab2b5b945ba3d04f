package llm

import "fmt"

// ConfigurationError indicates a backend cannot operate because a
// required setting is missing or unusable (e.g. no cloud API key).
// It is surfaced at generation time, not at construction: a missing
// credential must not prevent the service from starting.
type ConfigurationError struct {
	Backend string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s backend not configured: %s", e.Backend, e.Reason)
}
