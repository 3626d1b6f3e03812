// internal/portal/steps.go
package portal

import (
	"errors"
	"sync"
	"time"

	"github.com/xkilldash9x/librus-sync/internal/browser"
)

// StepName identifies a workflow step in the step log.
type StepName string

const (
	StepLaunch             StepName = "launch"
	StepHomePage           StepName = "home_page"
	StepInterstitials      StepName = "interstitials"
	StepLoginPage          StepName = "login_page"
	StepInterstitialsLogin StepName = "interstitials_login"
	StepCredentials        StepName = "credentials"
	StepExtraction         StepName = "extraction"
	StepWidget             StepName = "widget"
	StepTeardown           StepName = "teardown"
)

// Elapsed-time categories attached to navigation outcomes.
const (
	ElapsedFast    = "fast"
	ElapsedSlow    = "slow"
	ElapsedTimeout = "timeout"

	fastThreshold = 5 * time.Second
)

// ElapsedCategory buckets a navigation by how long it took.
func ElapsedCategory(d time.Duration, err error) string {
	switch {
	case errors.Is(err, browser.ErrNavigationTimeout):
		return ElapsedTimeout
	case d < fastThreshold:
		return ElapsedFast
	default:
		return ElapsedSlow
	}
}

// StepOutcome is the immutable record of one step.
type StepOutcome struct {
	Step      StepName               `json:"step"`
	Success   bool                   `json:"success"`
	Skipped   bool                   `json:"skipped,omitempty"`
	Fatal     bool                   `json:"fatal,omitempty"`
	Error     string                 `json:"error,omitempty"`
	URL       string                 `json:"url,omitempty"`
	Status    int64                  `json:"status,omitempty"`
	Elapsed   string                 `json:"elapsed,omitempty"`
	Login     LoginState             `json:"login,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	StartedAt time.Time              `json:"startedAt"`
	Duration  time.Duration          `json:"duration"`
}

// StepLog is an append-only, ordered log of step outcomes.
type StepLog struct {
	mu      sync.Mutex
	entries []StepOutcome
}

// Append records o and returns the new length of the log.
func (l *StepLog) Append(o StepOutcome) int {
	if o.Data != nil {
		data := make(map[string]interface{}, len(o.Data))
		for k, v := range o.Data {
			data[k] = v
		}
		o.Data = data
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, o)
	return len(l.entries)
}

// Entries returns a copy of the log.
func (l *StepLog) Entries() []StepOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]StepOutcome(nil), l.entries...)
}

func (l *StepLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Has reports whether step already has an entry.
func (l *StepLog) Has(step StepName) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Step == step {
			return true
		}
	}
	return false
}
