// internal/portal/artifacts.go
package portal

import (
	"sort"
	"strconv"

	"github.com/xkilldash9x/librus-sync/internal/browser"
)

// Account is a student account discovered after login.
type Account struct {
	DisplayName string `json:"displayName"`
	RawID       string `json:"rawId"`
}

// SessionArtifacts is everything harvested from a logged-in session. It is a
// value: the With* methods return an updated copy and never touch the receiver.
type SessionArtifacts struct {
	Cookies     map[string]string `json:"cookies"`
	CSRFToken   string            `json:"csrfToken,omitempty"`
	BearerToken string            `json:"bearerToken,omitempty"`
	Accounts    []Account         `json:"accounts"`
}

// NewSessionArtifacts returns an empty artifact set.
func NewSessionArtifacts() SessionArtifacts {
	return SessionArtifacts{Cookies: map[string]string{}, Accounts: []Account{}}
}

func (a SessionArtifacts) clone() SessionArtifacts {
	out := a
	out.Cookies = make(map[string]string, len(a.Cookies))
	for k, v := range a.Cookies {
		out.Cookies[k] = v
	}
	out.Accounts = append(make([]Account, 0, len(a.Accounts)), a.Accounts...)
	return out
}

// WithCookie sets one cookie. A later write for the same name wins.
func (a SessionArtifacts) WithCookie(name, value string) SessionArtifacts {
	out := a.clone()
	out.Cookies[name] = value
	return out
}

// WithCookies applies cookies in order, so duplicates resolve to the last one.
func (a SessionArtifacts) WithCookies(cookies []browser.Cookie) SessionArtifacts {
	out := a.clone()
	for _, c := range cookies {
		out.Cookies[c.Name] = c.Value
	}
	return out
}

func (a SessionArtifacts) WithCSRFToken(token string) SessionArtifacts {
	out := a.clone()
	out.CSRFToken = token
	return out
}

func (a SessionArtifacts) WithBearerToken(token string) SessionArtifacts {
	out := a.clone()
	out.BearerToken = token
	return out
}

// WithAccounts appends accounts in order, skipping duplicates and entries
// with neither a name nor an ID. A name-only entry for an account already
// known by ID is a duplicate; an ID arriving later fills in a name-only one.
func (a SessionArtifacts) WithAccounts(accounts ...Account) SessionArtifacts {
	out := a.clone()
	for _, acc := range accounts {
		if acc == (Account{}) {
			continue
		}
		if i := out.accountIndex(acc); i >= 0 {
			if out.Accounts[i].RawID == "" {
				out.Accounts[i].RawID = acc.RawID
			}
			continue
		}
		out.Accounts = append(out.Accounts, acc)
	}
	return out
}

func (a SessionArtifacts) accountIndex(acc Account) int {
	for i, have := range a.Accounts {
		if have == acc {
			return i
		}
		if have.DisplayName != "" && have.DisplayName == acc.DisplayName && (have.RawID == "" || acc.RawID == "") {
			return i
		}
	}
	return -1
}

// CookieNames returns the cookie names in sorted order.
func (a SessionArtifacts) CookieNames() []string {
	names := make([]string, 0, len(a.Cookies))
	for k := range a.Cookies {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Redacted returns a copy safe for writing to disk: token and cookie values
// are replaced by a marker that only reveals their length.
func (a SessionArtifacts) Redacted() SessionArtifacts {
	out := a.clone()
	for k, v := range out.Cookies {
		out.Cookies[k] = redact(v)
	}
	out.CSRFToken = redact(out.CSRFToken)
	out.BearerToken = redact(out.BearerToken)
	return out
}

func redact(v string) string {
	if v == "" {
		return ""
	}
	return "[redacted:" + strconv.Itoa(len(v)) + "]"
}
