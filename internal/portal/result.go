// internal/portal/result.go
package portal

import "time"

// WorkflowResult is the terminal, self-contained record of one login run.
type WorkflowResult struct {
	RunID      string           `json:"runId"`
	Success    bool             `json:"success"`
	Degraded   bool             `json:"degraded"`
	FinalState State            `json:"finalState"`
	States     []State          `json:"states"`
	Login      LoginState       `json:"login,omitempty"`
	Artifacts  SessionArtifacts `json:"artifacts"`
	Steps      []StepOutcome    `json:"steps"`
	Warnings   []string         `json:"warnings,omitempty"`
	Widget     *WidgetReport    `json:"widget,omitempty"`
	Browser    string           `json:"browser,omitempty"`
	Error      string           `json:"error,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
	Duration   time.Duration    `json:"duration"`
}

// Step returns the first log entry for name.
func (r WorkflowResult) Step(name StepName) (StepOutcome, bool) {
	for _, s := range r.Steps {
		if s.Step == name {
			return s, true
		}
	}
	return StepOutcome{}, false
}

// LastFatal returns the most recent fatal entry, i.e. the step that aborted the run.
func (r WorkflowResult) LastFatal() (StepOutcome, bool) {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if r.Steps[i].Fatal {
			return r.Steps[i], true
		}
	}
	return StepOutcome{}, false
}

// Redacted returns a copy whose artifacts are safe to persist.
func (r WorkflowResult) Redacted() WorkflowResult {
	r.Artifacts = r.Artifacts.Redacted()
	return r
}
