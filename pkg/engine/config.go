package engine

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rhuss/codegate/pkg/api"
)

// Greeting is the first message of every new session.
const Greeting = "Hello! I am your AI Code Assistant. How can I help you with Python today?"

// Config holds configuration for the engine.
type Config struct {
	// WorkRoot holds one working directory per session. Default:
	// $TMPDIR/codegate.
	WorkRoot string

	// TimeLimit is the execution deadline. Zero means the harness default.
	TimeLimit time.Duration

	// Backend names the harness in metrics and archive records.
	Backend string

	// DefaultLLM fills in a session's model config when the caller gives
	// no model.
	DefaultLLM api.LLMConfig

	// Validation bounds inbound payload sizes.
	Validation api.ValidationConfig
}

func (c Config) withDefaults() Config {
	if c.WorkRoot == "" {
		c.WorkRoot = filepath.Join(os.TempDir(), "codegate")
	}
	if c.Backend == "" {
		c.Backend = "process"
	}
	if c.DefaultLLM.Model == "" {
		c.DefaultLLM = api.LLMConfig{Model: "llama3-70b-8192", Temperature: 0.05}
	}
	if c.Validation == (api.ValidationConfig{}) {
		c.Validation = api.DefaultValidationConfig()
	}
	return c
}
