package api

import (
	"path"
	"strconv"
	"strings"
	"time"
)

// OutcomeKind discriminates the ExecutionOutcome variants.
type OutcomeKind string

const (
	OutcomeSuccess      OutcomeKind = "success"
	OutcomeRuntimeError OutcomeKind = "runtime_error"
	OutcomeTimeout      OutcomeKind = "timeout"
)

// ArtifactChange tells whether a reported file is new or was rewritten.
type ArtifactChange string

const (
	ArtifactCreated  ArtifactChange = "created"
	ArtifactModified ArtifactChange = "modified"
)

// Artifact is a file produced or changed by an execution. Path is relative
// to the working directory and uses forward slashes.
type Artifact struct {
	Path     string         `json:"path"`
	Change   ArtifactChange `json:"change"`
	Size     int64          `json:"size"`
	MIMEType string         `json:"mime_type"`
}

// IsImage reports whether the artifact should be rendered as a plot.
func (a Artifact) IsImage() bool {
	return strings.HasPrefix(a.MIMEType, "image/")
}

var mimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".csv":  "text/csv",
	".txt":  "text/plain",
}

// MIMETypeFor returns the MIME type used when offering a file for download.
func MIMETypeFor(name string) string {
	if t, ok := mimeTypes[strings.ToLower(path.Ext(name))]; ok {
		return t
	}
	return "application/octet-stream"
}

// ChartAxis is the shared x-axis of a chart.
type ChartAxis struct {
	Name   string `json:"name"`
	Values []any  `json:"values"`
}

// ChartSeries is one named numeric series.
type ChartSeries struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// ChartData is the structured chart carried inside stdout.
type ChartData struct {
	Title  string        `json:"title"`
	XLabel string        `json:"x_label,omitempty"`
	YLabel string        `json:"y_label,omitempty"`
	Axis   *ChartAxis    `json:"axis,omitempty"`
	Series []ChartSeries `json:"series"`
}

// ExecutionOutcome is the tagged result of one execution. Which fields are
// meaningful depends on Kind:
//
//   - success: Stdout, Text, Chart, Files
//   - runtime_error: Stdout, Stderr, ExitCode, Files
//   - timeout: TimeLimitSeconds (Stdout, Stderr and Files hold whatever was captured before the kill)
//
// Outcomes are immutable once produced.
type ExecutionOutcome struct {
	Kind             OutcomeKind `json:"kind"`
	Stdout           string      `json:"stdout"`
	Stderr           string      `json:"stderr,omitempty"`
	ExitCode         int         `json:"exit_code"`
	Text             string      `json:"text,omitempty"`
	Chart            *ChartData  `json:"chart,omitempty"`
	Files            []Artifact  `json:"files"`
	TimeLimitSeconds float64     `json:"time_limit_seconds,omitempty"`
}

// NewSuccessOutcome builds a success outcome. text is stdout with any chart
// payload removed.
func NewSuccessOutcome(stdout, stderr, text string, chart *ChartData, files []Artifact) *ExecutionOutcome {
	return &ExecutionOutcome{
		Kind:   OutcomeSuccess,
		Stdout: stdout,
		Stderr: stderr,
		Text:   text,
		Chart:  chart,
		Files:  nonNilFiles(files),
	}
}

// NewRuntimeErrorOutcome builds a runtime error outcome. stderr is kept verbatim.
func NewRuntimeErrorOutcome(stdout, stderr string, exitCode int, files []Artifact) *ExecutionOutcome {
	return &ExecutionOutcome{
		Kind:     OutcomeRuntimeError,
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
		Files:    nonNilFiles(files),
	}
}

// NewTimeoutOutcome builds a timeout outcome for the given limit.
func NewTimeoutOutcome(limit time.Duration, stdout, stderr string, files []Artifact) *ExecutionOutcome {
	return &ExecutionOutcome{
		Kind:             OutcomeTimeout,
		Stdout:           stdout,
		Stderr:           stderr,
		ExitCode:         -1,
		Files:            nonNilFiles(files),
		TimeLimitSeconds: limit.Seconds(),
	}
}

func nonNilFiles(files []Artifact) []Artifact {
	if files == nil {
		return []Artifact{}
	}
	return files
}

// FilePaths returns the paths of all reported files in report order.
func (o *ExecutionOutcome) FilePaths() []string {
	paths := make([]string, len(o.Files))
	for i, f := range o.Files {
		paths[i] = f.Path
	}
	return paths
}

// Observation renders the outcome as the text handed back to the
// reasoning loop.
func (o *ExecutionOutcome) Observation() string {
	if o.Kind == OutcomeTimeout {
		return "Standard Error:\nExecution timed out after " +
			strconv.FormatFloat(o.TimeLimitSeconds, 'f', -1, 64) + " seconds."
	}

	out := o.Stdout
	if o.Kind == OutcomeSuccess {
		out = o.Text
	}

	var parts []string
	if s := strings.TrimSpace(out); s != "" {
		parts = append(parts, "Standard Output:\n"+s)
	}
	if s := strings.TrimSpace(o.Stderr); s != "" {
		parts = append(parts, "Standard Error:\n"+s)
	}
	msg := strings.Join(parts, "\n")
	if msg == "" {
		if o.Kind == OutcomeRuntimeError {
			msg = "Standard Error:\nProcess exited with code " + strconv.Itoa(o.ExitCode) + "."
		} else {
			msg = "Code executed with no output."
		}
	}
	if len(o.Files) > 0 {
		msg += "\n\nFiles created during execution: " + strings.Join(o.FilePaths(), ", ")
	}
	return msg
}

// ExecutionMetrics is the timing of one execution.
type ExecutionMetrics struct {
	ExecutionID    string      `json:"execution_id"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
	ElapsedSeconds float64     `json:"elapsed_seconds"`
	OutcomeKind    OutcomeKind `json:"outcome_kind"`
}

// NewExecutionMetrics derives metrics from the start and finish times.
func NewExecutionMetrics(executionID string, started, finished time.Time, kind OutcomeKind) *ExecutionMetrics {
	return &ExecutionMetrics{
		ExecutionID:    executionID,
		StartedAt:      started,
		FinishedAt:     finished,
		ElapsedSeconds: finished.Sub(started).Seconds(),
		OutcomeKind:    kind,
	}
}
