// internal/portal/state.go
package portal

import "fmt"

// State is a node of the login workflow state machine.
type State int

const (
	StateInit State = iota
	StateHomePage
	StatePostChallenge
	StateLoginPage
	StatePostChallenge2
	StateSubmitted
	StateExtracted
	StateDone
	StateAborted
)

var stateNames = [...]string{
	StateInit:           "init",
	StateHomePage:       "home_page",
	StatePostChallenge:  "post_challenge",
	StateLoginPage:      "login_page",
	StatePostChallenge2: "post_challenge_2",
	StateSubmitted:      "submitted",
	StateExtracted:      "extracted",
	StateDone:           "done",
	StateAborted:        "aborted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state by name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// LoginState is the state of the credential submission sub-machine.
type LoginState string

const (
	LoginAwaitingCsrf LoginState = "awaiting_csrf"
	LoginSubmitting   LoginState = "submitting"
	LoginClassifying  LoginState = "classifying"
	LoggedIn          LoginState = "logged_in"
	LoginRejected     LoginState = "rejected"
	LoginErrored      LoginState = "errored"
)

// Final reports whether the credential step has finished.
func (l LoginState) Final() bool {
	return l == LoggedIn || l == LoginRejected || l == LoginErrored
}
