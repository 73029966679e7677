package sessionapi

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"
)

// sessionAPISchema defines the configuration schema.
var sessionAPISchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the session-api component.
type Config struct {
	// SessionBucketName is the KV bucket name for session documents.
	SessionBucketName string `json:"session_bucket_name" schema:"type:string,description:KV bucket for session documents,category:basic,default:SESSIONFLOW_SESSIONS"`

	// WorkspaceRoot is where initialize steps place session working directories.
	WorkspaceRoot string `json:"workspace_root" schema:"type:string,description:Root directory for session workspaces,category:basic,default:/var/lib/sessionflow/workspaces"`

	// RulesPath is an optional session-rules.yaml overlay applied to the
	// built-in workflow definitions.
	RulesPath string `json:"rules_path" schema:"type:string,description:Path to session rules overlay file,category:advanced,default:"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		SessionBucketName: "SESSIONFLOW_SESSIONS",
		WorkspaceRoot:     "/var/lib/sessionflow/workspaces",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.SessionBucketName == "" {
		return fmt.Errorf("session_bucket_name is required")
	}
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("workspace_root is required")
	}
	return nil
}
