package sessionapi

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the session-api component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "session-api",
		Factory:     NewComponent,
		Schema:      sessionAPISchema,
		Type:        "processor",
		Protocol:    "http",
		Domain:      "sessionflow",
		Description: "HTTP endpoints for creating and driving agent sessions",
		Version:     "0.1.0",
	})
}
