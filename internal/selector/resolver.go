// internal/selector/resolver.go
package selector

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no candidate matches the current page.
var ErrNotFound = errors.New("element not found")

// Prober evaluates a single matcher against the current page. When the
// matcher finds an element, the implementation tags the first one in
// document order with HandleAttr=mark and returns true.
type Prober interface {
	Probe(ctx context.Context, m Matcher, mark string) (bool, error)
}

// Handle identifies an element found by the Resolver.
type Handle struct {
	Role    Role
	Matcher Matcher
	// Index is the position of Matcher within the candidate list.
	Index int
	Mark  string
}

// Selector returns a CSS selector that addresses exactly the resolved element.
func (h Handle) Selector() string {
	return fmt.Sprintf(`[%s=%q]`, HandleAttr, h.Mark)
}

// Resolver implements ordered first-match lookup over a Catalog.
type Resolver struct {
	catalog Catalog
	logger  *zap.Logger
	newMark func() string
}

func NewResolver(catalog Catalog, logger *zap.Logger) *Resolver {
	return &Resolver{
		catalog: catalog,
		logger:  logger.Named("resolver"),
		newMark: func() string { return uuid.NewString() },
	}
}

// Catalog returns the catalog backing the resolver.
func (r *Resolver) Catalog() Catalog { return r.catalog }

// Resolve returns the first candidate for role that matches the page.
func (r *Resolver) Resolve(ctx context.Context, p Prober, role Role) (Handle, error) {
	matchers, ok := r.catalog[role]
	if !ok || len(matchers) == 0 {
		return Handle{}, fmt.Errorf("no candidates configured for role %q: %w", role, ErrNotFound)
	}
	return r.resolve(ctx, p, role, matchers)
}

// ResolveMatchers is Resolve for an ad-hoc candidate list.
func (r *Resolver) ResolveMatchers(ctx context.Context, p Prober, role Role, matchers []Matcher) (Handle, error) {
	return r.resolve(ctx, p, role, matchers)
}

func (r *Resolver) resolve(ctx context.Context, p Prober, role Role, matchers []Matcher) (Handle, error) {
	for i, m := range matchers {
		if err := ctx.Err(); err != nil {
			return Handle{}, err
		}

		mark := r.newMark()
		found, err := p.Probe(ctx, m, mark)
		if err != nil {
			if ctx.Err() != nil {
				return Handle{}, ctx.Err()
			}
			r.logger.Debug("Candidate could not be evaluated.",
				zap.String("role", string(role)),
				zap.Stringer("matcher", m),
				zap.Error(err))
			continue
		}
		if found {
			r.logger.Debug("Candidate matched.",
				zap.String("role", string(role)),
				zap.Int("index", i),
				zap.Stringer("matcher", m))
			return Handle{Role: role, Matcher: m, Index: i, Mark: mark}, nil
		}
	}
	return Handle{}, fmt.Errorf("role %q (%d candidates): %w", role, len(matchers), ErrNotFound)
}
