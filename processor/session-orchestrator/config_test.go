package sessionorchestrator

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.SessionBucketName != "SESSIONFLOW_SESSIONS" {
		t.Errorf("bucket = %s", config.SessionBucketName)
	}
	if config.WorkspaceRoot == "" {
		t.Error("workspace root must default")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestValidateRejectsEmptyBucket(t *testing.T) {
	config := DefaultConfig()
	config.SessionBucketName = ""
	if err := config.Validate(); err == nil {
		t.Error("empty bucket name accepted")
	}
}

func TestGetCommandTimeout(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"default", "10m", 10 * time.Minute},
		{"custom", "90s", 90 * time.Second},
		{"empty falls back", "", 10 * time.Minute},
		{"malformed falls back", "soon", 10 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Config{CommandTimeout: tt.value}
			if got := config.GetCommandTimeout(); got != tt.want {
				t.Errorf("GetCommandTimeout() = %v, want %v", got, tt.want)
			}
		})
	}
}
