package harness

// Sandbox status values returned by the sandbox server.
const (
	SandboxStatusSuccess = "success"
	SandboxStatusError   = "error"
	SandboxStatusTimeout = "timeout"
)

// SandboxRequest is the request body for POST /execute on the sandbox server.
type SandboxRequest struct {
	Code           string `json:"code"`
	TimeoutSeconds int    `json:"timeout_seconds"`

	// Files seeds the sandbox working directory: relative path to base64 content.
	Files map[string]string `json:"files,omitempty"`

	// TitleHint names a chart found in stdout.
	TitleHint string `json:"title_hint,omitempty"`
}

// SandboxResponse is the response from POST /execute on the sandbox server.
type SandboxResponse struct {
	Status          string `json:"status"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        int    `json:"exit_code"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`

	// FilesProduced holds created or modified files: relative path to base64 content.
	FilesProduced map[string]string `json:"files_produced,omitempty"`

	// FileOrder lists FilesProduced keys in report order.
	FileOrder []string `json:"file_order,omitempty"`
}
