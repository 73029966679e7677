package sessionorchestrator

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// orchestratorSchema defines the configuration schema.
var orchestratorSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the session-orchestrator component.
type Config struct {
	// SessionBucketName is the KV bucket name for session documents.
	SessionBucketName string `json:"session_bucket_name" schema:"type:string,description:KV bucket for session documents,category:basic,default:SESSIONFLOW_SESSIONS"`

	// WorkspaceRoot is where initialize steps place session working directories.
	WorkspaceRoot string `json:"workspace_root" schema:"type:string,description:Root directory for session workspaces,category:basic,default:/var/lib/sessionflow/workspaces"`

	// RulesPath is an optional session-rules.yaml overlay, hot-reloaded on change.
	RulesPath string `json:"rules_path" schema:"type:string,description:Path to session rules overlay file,category:advanced,default:"`

	// CommandTimeout bounds each synchronous shell command execution.
	CommandTimeout string `json:"command_timeout" schema:"type:string,description:Timeout per synchronous shell command,category:advanced,default:10m"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		SessionBucketName: "SESSIONFLOW_SESSIONS",
		WorkspaceRoot:     "/var/lib/sessionflow/workspaces",
		CommandTimeout:    "10m",
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

// GetCommandTimeout returns the command timeout as a duration.
func (c *Config) GetCommandTimeout() time.Duration {
	if c.CommandTimeout == "" {
		return 10 * time.Minute
	}
	d, err := time.ParseDuration(c.CommandTimeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}
