// internal/portal/interstitials.go
package portal

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/librus-sync/internal/config"
	"github.com/xkilldash9x/librus-sync/internal/selector"
)

// InterstitialReport lists what Dismiss acted on.
type InterstitialReport struct {
	Clicked           []selector.Role `json:"clicked"`
	ChallengeDetected bool            `json:"challengeDetected,omitempty"`
	Snapshot          string          `json:"snapshot,omitempty"`
}

// InterstitialHandler clears bot-verification and cookie-consent layers.
type InterstitialHandler struct {
	resolver    *selector.Resolver
	timings     config.TimingsConfig
	markers     []string
	idleTimeout time.Duration
	diag        Diagnostics
	logger      *zap.Logger
}

func NewInterstitialHandler(resolver *selector.Resolver, cfg config.Interface, diag Diagnostics, logger *zap.Logger) *InterstitialHandler {
	return &InterstitialHandler{
		resolver:    resolver,
		timings:     cfg.Timings(),
		markers:     cfg.Portal().ChallengeMarkers,
		idleTimeout: cfg.Network().IdleTimeout,
		diag:        diag,
		logger:      logger.Named("interstitials"),
	}
}

// Dismiss is DismissAfter for a page whose document status is unknown.
func (h *InterstitialHandler) Dismiss(ctx context.Context, page Page) (InterstitialReport, error) {
	return h.DismissAfter(ctx, page, 0)
}

// DismissAfter runs the three best-effort passes: challenge return, cookie
// consent, then generic challenge detection. A missing control is a skip,
// not an error; only context cancellation is returned. Calling it on a
// clear page clicks nothing.
//
// status is the HTTP status the current document answered with. A status of
// 400 or more, or a challenge marker in the page text, is challenge evidence;
// the generic return-to-site anchors are only tried when there is some.
func (h *InterstitialHandler) DismissAfter(ctx context.Context, page Page, status int64) (InterstitialReport, error) {
	report := InterstitialReport{Clicked: []selector.Role{}}

	body, err := h.bodyText(ctx, page)
	if err != nil {
		return report, err
	}
	evidence := status >= 400 || findMarker(body, h.markers) != ""

	clicked, err := h.clickIfPresent(ctx, page, selector.ChallengeReturn, h.returnCandidates(evidence))
	if err != nil {
		return report, err
	}
	if clicked {
		report.Clicked = append(report.Clicked, selector.ChallengeReturn)
		if err := page.WaitNetworkIdle(ctx, h.idleTimeout); err != nil && ctx.Err() == nil {
			h.logger.Debug("Network did not settle after challenge return.", zap.Error(err))
		}
		if err := page.Sleep(ctx, h.timings.ChallengeSettle); err != nil {
			return report, err
		}
	} else {
		report.Snapshot = capture(ctx, h.diag, page, "no-challenge-return", h.logger)
	}

	clicked, err = h.clickIfPresent(ctx, page, selector.ConsentAccept, h.candidates(selector.ConsentAccept))
	if err != nil {
		return report, err
	}
	if clicked {
		report.Clicked = append(report.Clicked, selector.ConsentAccept)
		if err := page.Sleep(ctx, h.timings.ConsentSettle); err != nil {
			return report, err
		}
	}

	if body, err = h.bodyText(ctx, page); err != nil {
		return report, err
	}
	if marker := findMarker(body, h.markers); marker != "" {
		report.ChallengeDetected = true
		h.logger.Info("Challenge page detected, waiting.", zap.String("marker", marker), zap.Duration("wait", h.timings.ChallengeMarkerWait))
		if err := page.Sleep(ctx, h.timings.ChallengeMarkerWait); err != nil {
			return report, err
		}
		clicked, err = h.clickIfPresent(ctx, page, selector.ChallengeContinue, h.candidates(selector.ChallengeContinue))
		if err != nil {
			return report, err
		}
		if clicked {
			report.Clicked = append(report.Clicked, selector.ChallengeContinue)
			if err := page.Sleep(ctx, h.timings.ContinueSettle); err != nil {
				return report, err
			}
		}
	}

	h.logger.Debug("Interstitial pass complete.",
		zap.Int("clicked", len(report.Clicked)),
		zap.Bool("evidence", evidence),
		zap.Bool("challenge", report.ChallengeDetected))
	return report, nil
}

func (h *InterstitialHandler) candidates(role selector.Role) []selector.Matcher {
	return h.resolver.Catalog().Candidate(role).Matchers
}

// returnCandidates keeps the specific return-to-site controls first and
// appends the generic anchors only with challenge evidence.
func (h *InterstitialHandler) returnCandidates(evidence bool) []selector.Matcher {
	ms := h.candidates(selector.ChallengeReturn)
	if !evidence {
		return ms
	}
	return append(slices.Clip(ms), h.candidates(selector.ChallengeReturnFallback)...)
}

// bodyText reads the page text. Only context errors are returned.
func (h *InterstitialHandler) bodyText(ctx context.Context, page Page) (string, error) {
	body, err := page.BodyText(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		h.logger.Debug("Could not read page text for challenge markers.", zap.Error(err))
		return "", nil
	}
	return body, nil
}

// clickIfPresent clicks the first of matchers found on the page. Only
// context errors are returned; everything else means "not present this time".
func (h *InterstitialHandler) clickIfPresent(ctx context.Context, page Page, role selector.Role, matchers []selector.Matcher) (bool, error) {
	handle, err := h.resolver.ResolveMatchers(ctx, page, role, matchers)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if !errors.Is(err, selector.ErrNotFound) {
			h.logger.Debug("Interstitial lookup failed.", zap.String("role", string(role)), zap.Error(err))
		}
		return false, nil
	}
	if err := page.Click(ctx, handle); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		h.logger.Warn("Interstitial control found but click failed.", zap.String("role", string(role)), zap.Error(err))
		return false, nil
	}
	h.logger.Info("Dismissed interstitial.", zap.String("role", string(role)), zap.Stringer("matcher", handle.Matcher))
	return true, nil
}

func findMarker(body string, markers []string) string {
	for _, m := range markers {
		if m != "" && strings.Contains(body, m) {
			return m
		}
	}
	return ""
}
