// internal/selector/catalog.go
package selector

import (
	"fmt"
	"sort"
)

// Role names a logical UI control the workflow needs to locate.
type Role string

const (
	ConsentAccept     Role = "consent_accept"
	ChallengeContinue Role = "challenge_continue"
	ChallengeReturn   Role = "challenge_return"
	// ChallengeReturnFallback holds generic anchors that also match ordinary
	// navigation; they are only tried on a page showing challenge evidence.
	ChallengeReturnFallback Role = "challenge_return_fallback"
	LoginEntry              Role = "login_entry"
	SubmitButton            Role = "submit_button"
	EmailField              Role = "email_field"
	PasswordField           Role = "password_field"
	CsrfField               Role = "csrf_field"
	ErrorMessage            Role = "error_message"
)

// Roles lists every known role.
var Roles = []Role{
	ConsentAccept, ChallengeContinue, ChallengeReturn, ChallengeReturnFallback,
	LoginEntry, SubmitButton, EmailField, PasswordField, CsrfField, ErrorMessage,
}

// ParseRole maps a configuration key to a Role.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown selector role %q", s)
}

// Candidate is the ordered list of matchers for one role. Earlier entries
// are the most likely control on the current portal markup.
type Candidate struct {
	Role     Role
	Matchers []Matcher
}

// Catalog maps roles to their candidate lists. Treat it as read-only.
type Catalog map[Role][]Matcher

// DefaultCatalog returns the built-in candidate lists for the Librus portal.
func DefaultCatalog() Catalog {
	return Catalog{
		ChallengeReturn: {
			Text("Wróć do strony głównej"),
			HasText("a", "Wróć do strony głównej"),
			HasText("button", "Wróć do strony głównej"),
		},
		ChallengeReturnFallback: {
			CSS(`a[href*="portal.librus.pl"]`),
			HasText(".btn", "Wróć"),
			CSS("a.btn"),
		},
		ConsentAccept: {
			HasText("button", "Akceptuję i przechodzę do serwisu"),
			HasText("button", "Akceptuj"),
			Text("Akceptuję i przechodzę do serwisu"),
			HasText("button.btn-primary", "Akceptuj"),
			CSS(`[class*="cookie"] button`),
			CSS(`[class*="consent"] button`),
			HasText("button", "Accept"),
		},
		ChallengeContinue: {
			HasText("button", "Continue"),
			HasText("a", "Continue"),
			HasText("button", "Kontynuuj"),
		},
		LoginEntry: {
			Text("Zaloguj (mam Konto LIBRUS)"),
			HasText("a", "Zaloguj"),
			HasText("a", "mam Konto LIBRUS"),
			HasText("button", "Zaloguj"),
			HasText(`[href*="login"]`, "Zaloguj"),
			HasText("a.btn", "Zaloguj"),
			CSS(".login-button"),
			CSS(`a[href*="konto-librus/login"]`),
		},
		EmailField: {
			CSS(`input[name="email"]`),
			CSS(`input[name="login"]`),
			CSS(`input[type="email"]`),
		},
		PasswordField: {
			CSS(`input[name="password"]`),
			CSS(`input[name="pass"]`),
			CSS(`input[type="password"]`),
		},
		CsrfField: {
			CSS(`input[name="_token"]`),
			CSS(`meta[name="csrf-token"]`),
		},
		SubmitButton: {
			CSS(`button[type="submit"]`),
			CSS(`input[type="submit"]`),
		},
		ErrorMessage: {
			CSS(".alert-danger"),
			CSS(".error"),
		},
	}
}

// Candidate returns the role's candidate list.
func (c Catalog) Candidate(role Role) Candidate {
	return Candidate{Role: role, Matchers: c[role]}
}

// WithOverrides returns a copy of c where every role named in overrides has
// its list replaced (not merged) by the parsed expressions.
func (c Catalog) WithOverrides(overrides map[string][]string) (Catalog, error) {
	out := make(Catalog, len(c))
	for role, ms := range c {
		out[role] = append([]Matcher(nil), ms...)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		role, err := ParseRole(key)
		if err != nil {
			return nil, err
		}
		exprs := overrides[key]
		if len(exprs) == 0 {
			return nil, fmt.Errorf("selector role %q: override list is empty", key)
		}
		parsed := make([]Matcher, 0, len(exprs))
		for _, e := range exprs {
			m, err := ParseMatcher(e)
			if err != nil {
				return nil, fmt.Errorf("selector role %q: %w", key, err)
			}
			parsed = append(parsed, m)
		}
		out[role] = parsed
	}
	return out, nil
}
