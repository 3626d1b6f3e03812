// internal/selector/matcher.go
package selector

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// HandleAttr is the attribute stamped onto a resolved element so later
// actions address exactly that node.
const HandleAttr = "data-portal-handle"

// ErrInvalidMatcher is reported when the page rejects a matcher expression.
var ErrInvalidMatcher = errors.New("invalid matcher")

// Kind selects how a Matcher is evaluated in the page.
type Kind int

const (
	// KindCSS is a plain CSS selector.
	KindCSS Kind = iota
	// KindText matches the innermost element whose normalized text equals Text.
	KindText
	// KindHasText matches elements selected by CSS whose text contains Text,
	// ignoring case.
	KindHasText
)

func (k Kind) String() string {
	switch k {
	case KindCSS:
		return "css"
	case KindText:
		return "text"
	case KindHasText:
		return "has-text"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Matcher is one way of locating an element.
type Matcher struct {
	Kind Kind
	CSS  string
	Text string
}

func CSS(sel string) Matcher { return Matcher{Kind: KindCSS, CSS: sel} }

func Text(text string) Matcher { return Matcher{Kind: KindText, Text: text} }

func HasText(sel, text string) Matcher { return Matcher{Kind: KindHasText, CSS: sel, Text: text} }

// String renders the matcher in the same notation ParseMatcher accepts.
func (m Matcher) String() string {
	switch m.Kind {
	case KindText:
		return "text=" + strconv.Quote(m.Text)
	case KindHasText:
		return m.CSS + ":has-text(" + strconv.Quote(m.Text) + ")"
	default:
		return m.CSS
	}
}

// ParseMatcher reads `text="..."`, `sel:has-text("...")` or a plain CSS selector.
func ParseMatcher(raw string) (Matcher, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Matcher{}, fmt.Errorf("%w: empty expression", ErrInvalidMatcher)
	}

	if rest, ok := strings.CutPrefix(s, "text="); ok {
		text, err := unquote(rest)
		if err != nil {
			return Matcher{}, fmt.Errorf("%w: %q: %v", ErrInvalidMatcher, raw, err)
		}
		if text == "" {
			return Matcher{}, fmt.Errorf("%w: %q: empty text", ErrInvalidMatcher, raw)
		}
		return Text(text), nil
	}

	if idx := strings.Index(s, ":has-text("); idx >= 0 {
		if !strings.HasSuffix(s, ")") {
			return Matcher{}, fmt.Errorf("%w: %q: unterminated :has-text", ErrInvalidMatcher, raw)
		}
		sel := strings.TrimSpace(s[:idx])
		if sel == "" {
			sel = "*"
		}
		text, err := unquote(s[idx+len(":has-text(") : len(s)-1])
		if err != nil {
			return Matcher{}, fmt.Errorf("%w: %q: %v", ErrInvalidMatcher, raw, err)
		}
		return HasText(sel, text), nil
	}

	return CSS(s), nil
}

func unquote(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		switch {
		case s[0] == '"' && s[len(s)-1] == '"':
			return strconv.Unquote(s)
		case s[0] == '\'' && s[len(s)-1] == '\'':
			return s[1 : len(s)-1], nil
		}
	}
	if strings.ContainsAny(s, `"'`) {
		return "", errors.New("mismatched quotes")
	}
	return s, nil
}

const probeScript = `(function(kind, css, text, attr, mark) {
	const norm = (s) => (s || '').replace(/\s+/g, ' ').trim();
	let el = null;
	try {
		if (kind === 'css') {
			el = document.querySelector(css);
		} else if (kind === 'text') {
			const hits = Array.from(document.querySelectorAll('body *')).filter((e) => norm(e.textContent) === text);
			el = hits.find((e) => !hits.some((o) => o !== e && e.contains(o))) || null;
		} else {
			const want = norm(text).toLowerCase();
			el = Array.from(document.querySelectorAll(css)).find((e) => norm(e.textContent).toLowerCase().includes(want)) || null;
		}
	} catch (e) {
		return 'invalid:' + e.message;
	}
	if (!el) {
		return 'none';
	}
	el.setAttribute(attr, mark);
	return 'found';
})(%s, %s, %s, %s, %s)`

// ProbeScript returns a JS expression that finds the first element matching m,
// tags it with mark, and evaluates to "found", "none" or "invalid:<reason>".
func (m Matcher) ProbeScript(mark string) string {
	args := []string{m.Kind.String(), m.CSS, m.Text, HandleAttr, mark}
	if m.Kind == KindHasText && m.CSS == "" {
		args[1] = "*"
	}
	encoded := make([]any, len(args))
	for i, a := range args {
		b, _ := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(a)
		encoded[i] = string(b)
	}
	return fmt.Sprintf(probeScript, encoded...)
}

// ParseProbeResult interprets the value produced by ProbeScript.
func ParseProbeResult(res string) (bool, error) {
	switch {
	case res == "found":
		return true, nil
	case res == "none":
		return false, nil
	case strings.HasPrefix(res, "invalid:"):
		return false, fmt.Errorf("%w: %s", ErrInvalidMatcher, strings.TrimPrefix(res, "invalid:"))
	default:
		return false, fmt.Errorf("unexpected probe result %q", res)
	}
}
