// internal/selector/resolver_test.go
package selector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// scriptedProber answers probes from a fixed table and records call order.
type scriptedProber struct {
	matches map[string]bool
	errs    map[string]error
	calls   []string
	cancel  context.CancelFunc
}

func (p *scriptedProber) Probe(ctx context.Context, m Matcher, mark string) (bool, error) {
	p.calls = append(p.calls, m.String())
	if p.cancel != nil {
		p.cancel()
		return false, ctx.Err()
	}
	if err, ok := p.errs[m.String()]; ok {
		return false, err
	}
	return p.matches[m.String()], nil
}

func TestResolverFirstMatchWins(t *testing.T) {
	catalog := Catalog{
		ConsentAccept: {CSS("#a"), CSS("#b"), CSS("#c")},
	}
	r := NewResolver(catalog, zaptest.NewLogger(t))

	tests := []struct {
		name      string
		matches   map[string]bool
		wantIndex int
		wantCalls []string
	}{
		{"first matches", map[string]bool{"#a": true, "#b": true, "#c": true}, 0, []string{"#a"}},
		{"second matches", map[string]bool{"#b": true, "#c": true}, 1, []string{"#a", "#b"}},
		{"last matches", map[string]bool{"#c": true}, 2, []string{"#a", "#b", "#c"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := &scriptedProber{matches: tc.matches}
			h, err := r.Resolve(context.Background(), p, ConsentAccept)
			require.NoError(t, err)
			assert.Equal(t, tc.wantIndex, h.Index)
			assert.Equal(t, catalog[ConsentAccept][tc.wantIndex], h.Matcher)
			assert.Equal(t, ConsentAccept, h.Role)
			assert.NotEmpty(t, h.Mark)
			// Later candidates are never evaluated once one matches.
			assert.Equal(t, tc.wantCalls, p.calls)
		})
	}
}

func TestResolverNotFound(t *testing.T) {
	r := NewResolver(Catalog{LoginEntry: {CSS("#x"), Text("Zaloguj")}}, zaptest.NewLogger(t))
	p := &scriptedProber{}

	_, err := r.Resolve(context.Background(), p, LoginEntry)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, p.calls, 2)

	_, err = r.Resolve(context.Background(), p, SubmitButton)
	assert.ErrorIs(t, err, ErrNotFound, "roles without candidates resolve to not found")
}

func TestResolveMatchers(t *testing.T) {
	catalog := Catalog{ChallengeReturn: {Text("Wróć do strony głównej")}}
	r := NewResolver(catalog, zaptest.NewLogger(t))
	assert.Equal(t, catalog, r.Catalog())

	list := append(r.Catalog()[ChallengeReturn], CSS("a.btn"))
	p := &scriptedProber{matches: map[string]bool{"a.btn": true}}

	h, err := r.ResolveMatchers(context.Background(), p, ChallengeReturn, list)
	require.NoError(t, err)
	assert.Equal(t, ChallengeReturn, h.Role)
	assert.Equal(t, 1, h.Index)
	assert.Equal(t, CSS("a.btn"), h.Matcher)

	_, err = r.Resolve(context.Background(), p, ChallengeReturn)
	assert.ErrorIs(t, err, ErrNotFound, "the ad-hoc list does not change the catalog")

	_, err = r.ResolveMatchers(context.Background(), p, ChallengeReturn, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolverSkipsBrokenCandidates(t *testing.T) {
	r := NewResolver(Catalog{EmailField: {CSS("input[["), CSS(`input[name="email"]`)}}, zaptest.NewLogger(t))
	p := &scriptedProber{
		matches: map[string]bool{`input[name="email"]`: true},
		errs:    map[string]error{"input[[": ErrInvalidMatcher},
	}

	h, err := r.Resolve(context.Background(), p, EmailField)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Index)
}

func TestResolverStopsOnCancellation(t *testing.T) {
	r := NewResolver(Catalog{EmailField: {CSS("#a"), CSS("#b")}}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	p := &scriptedProber{cancel: cancel}

	_, err := r.Resolve(ctx, p, EmailField)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, p.calls, 1)
}

func TestHandleSelector(t *testing.T) {
	h := Handle{Mark: "abc-123"}
	assert.Equal(t, `[data-portal-handle="abc-123"]`, h.Selector())
}
