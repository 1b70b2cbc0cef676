package api

import (
	"testing"
	"time"
)

func TestObservation(t *testing.T) {
	files := []Artifact{{Path: "out.csv", Change: ArtifactCreated, MIMEType: "text/csv"}}

	tests := []struct {
		name    string
		outcome *ExecutionOutcome
		want    string
	}{
		{
			"success with output",
			NewSuccessOutcome("55\n", "", "55\n", nil, nil),
			"Standard Output:\n55",
		},
		{
			"success without output",
			NewSuccessOutcome("", "", "", nil, nil),
			"Code executed with no output.",
		},
		{
			"success uses text without chart payload",
			NewSuccessOutcome("a PLOT_DATA_JSON_START:{}:PLOT_DATA_JSON_END", "", "a ", &ChartData{}, nil),
			"Standard Output:\na",
		},
		{
			"runtime error with files",
			NewRuntimeErrorOutcome("", "Traceback\nValueError: boom\n", 1, files),
			"Standard Error:\nTraceback\nValueError: boom\n\nFiles created during execution: out.csv",
		},
		{
			"runtime error without stderr",
			NewRuntimeErrorOutcome("", "", 3, nil),
			"Standard Error:\nProcess exited with code 3.",
		},
		{
			"timeout",
			NewTimeoutOutcome(60*time.Second, "", "", nil),
			"Standard Error:\nExecution timed out after 60 seconds.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.outcome.Observation(); got != tt.want {
				t.Errorf("Observation() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOutcomeFilesNeverNil(t *testing.T) {
	for _, o := range []*ExecutionOutcome{
		NewSuccessOutcome("", "", "", nil, nil),
		NewRuntimeErrorOutcome("", "", 1, nil),
		NewTimeoutOutcome(time.Second, "", "", nil),
	} {
		if o.Files == nil {
			t.Errorf("%s outcome has nil Files", o.Kind)
		}
	}
}

func TestMIMETypeFor(t *testing.T) {
	tests := map[string]string{
		"plot.png":    "image/png",
		"PLOT.JPG":    "image/jpeg",
		"a/b.jpeg":    "image/jpeg",
		"anim.gif":    "image/gif",
		"out.csv":     "text/csv",
		"notes.txt":   "text/plain",
		"data.parq":   "application/octet-stream",
		"noextension": "application/octet-stream",
	}
	for name, want := range tests {
		if got := MIMETypeFor(name); got != want {
			t.Errorf("MIMETypeFor(%q) = %q, want %q", name, got, want)
		}
	}
	if !(Artifact{MIMEType: "image/png"}).IsImage() {
		t.Error("png artifact should be an image")
	}
}

func TestNewExecutionMetrics(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewExecutionMetrics("exec-1", start, start.Add(1500*time.Millisecond), OutcomeSuccess)
	if m.ElapsedSeconds != 1.5 {
		t.Errorf("ElapsedSeconds = %v, want 1.5", m.ElapsedSeconds)
	}
	if m.OutcomeKind != OutcomeSuccess {
		t.Errorf("OutcomeKind = %q", m.OutcomeKind)
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := &Session{
		ID:              "sess_1",
		Messages:        []Message{{Text: "hi"}},
		PendingProposal: &Proposal{Code: "print(1)"},
	}
	c := s.Clone()
	c.Messages[0].Text = "changed"
	c.PendingProposal.Code = "changed"

	if s.Messages[0].Text != "hi" || s.PendingProposal.Code != "print(1)" {
		t.Error("mutating the clone changed the original")
	}
}

func TestParseFeedbackVote(t *testing.T) {
	if v, err := ParseFeedbackVote(" UP "); err != nil || v != FeedbackUp {
		t.Errorf("ParseFeedbackVote(UP) = %q, %v", v, err)
	}
	if v, err := ParseFeedbackVote("down"); err != nil || v != FeedbackDown {
		t.Errorf("ParseFeedbackVote(down) = %q, %v", v, err)
	}
	if _, err := ParseFeedbackVote("none"); err == nil {
		t.Error("expected none to be rejected")
	}
}

func TestValidateStep(t *testing.T) {
	cfg := DefaultValidationConfig()
	if err := ValidateStep(AgentStep{Kind: StepThought, Text: "x"}, cfg); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateStep(AgentStep{Kind: "musing"}, cfg); err == nil || err.Param != "kind" {
		t.Errorf("expected kind error, got %v", err)
	}
}
