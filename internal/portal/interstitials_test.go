// internal/portal/interstitials_test.go
package portal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/librus-sync/internal/selector"
)

func newInterstitials(t *testing.T, diag Diagnostics) *InterstitialHandler {
	t.Helper()
	cfg := testConfig()
	cfg.TimingsCfg.ChallengeSettle = 3 * time.Second
	cfg.TimingsCfg.ConsentSettle = 2 * time.Second
	cfg.TimingsCfg.ChallengeMarkerWait = 8 * time.Second
	cfg.TimingsCfg.ContinueSettle = time.Second
	logger := zaptest.NewLogger(t)
	return NewInterstitialHandler(selector.NewResolver(selector.DefaultCatalog(), logger), cfg, diag, logger)
}

func TestDismissClearPage(t *testing.T) {
	p := newFakePage()
	diag := &recordingDiag{}
	h := newInterstitials(t, diag)

	report, err := h.Dismiss(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, report.Clicked)
	assert.False(t, report.ChallengeDetected)
	assert.Equal(t, "snap/no-challenge-return.png", report.Snapshot)
	assert.Empty(t, p.clicks)
	assert.Empty(t, p.sleeps)
}

func TestDismissConsentIsIdempotent(t *testing.T) {
	p := newFakePage()
	p.show(selector.ConsentAccept)
	p.onClick[selector.ConsentAccept] = func(p *fakePage) { p.hide(selector.ConsentAccept) }
	h := newInterstitials(t, NopDiagnostics{})

	report, err := h.Dismiss(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []selector.Role{selector.ConsentAccept}, report.Clicked)
	assert.Equal(t, []time.Duration{2 * time.Second}, p.sleeps)

	report, err = h.Dismiss(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, report.Clicked, "a second pass finds nothing to do")
	assert.Len(t, p.clicks, 1)
}

func TestDismissChallengeReturn(t *testing.T) {
	p := newFakePage()
	p.show(selector.ChallengeReturn)
	p.onClick[selector.ChallengeReturn] = func(p *fakePage) { p.show(selector.ConsentAccept) }
	diag := &recordingDiag{}
	h := newInterstitials(t, diag)

	report, err := h.Dismiss(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []selector.Role{selector.ChallengeReturn, selector.ConsentAccept}, report.Clicked)
	assert.Equal(t, 1, p.idleWaits)
	assert.Equal(t, []time.Duration{3 * time.Second, 2 * time.Second}, p.sleeps)
	assert.Empty(t, report.Snapshot)
	assert.Empty(t, diag.labels)
}

func TestDismissChallengeMarker(t *testing.T) {
	p := newFakePage()
	p.body = "Checking your browser before accessing portal.librus.pl"
	p.show(selector.ChallengeContinue)
	h := newInterstitials(t, NopDiagnostics{})

	report, err := h.Dismiss(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, report.ChallengeDetected)
	assert.Equal(t, []selector.Role{selector.ChallengeContinue}, report.Clicked)
	assert.Equal(t, []time.Duration{8 * time.Second, time.Second}, p.sleeps)
}

func TestDismissChallengeMarkerWithoutContinue(t *testing.T) {
	p := newFakePage()
	p.body = "Cloudflare Ray ID"
	h := newInterstitials(t, NopDiagnostics{})

	report, err := h.Dismiss(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, report.ChallengeDetected)
	assert.Empty(t, report.Clicked)
	assert.Equal(t, []time.Duration{8 * time.Second}, p.sleeps)
}

func TestDismissClickFailureIsSkipped(t *testing.T) {
	p := newFakePage()
	p.show(selector.ConsentAccept)
	p.clickErr[selector.ConsentAccept] = assert.AnError
	h := newInterstitials(t, NopDiagnostics{})

	report, err := h.Dismiss(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, report.Clicked)
}

func TestDismissCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := newInterstitials(t, NopDiagnostics{})

	_, err := h.Dismiss(ctx, newFakePage())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFindMarker(t *testing.T) {
	markers := []string{"Cloudflare", "", "Checking your browser"}
	assert.Equal(t, "Cloudflare", findMarker("Protected by Cloudflare", markers))
	assert.Equal(t, "Checking your browser", findMarker("Checking your browser...", markers))
	assert.Empty(t, findMarker("Librus Rodzina", markers))
	assert.Empty(t, findMarker("", markers))
}

func TestDismissSkipsGenericAnchorsOnClearPage(t *testing.T) {
	p := newFakePage()
	p.body = "Librus Rodzina"
	p.present[`a[href*="portal.librus.pl"]`] = true
	p.present[`.btn:has-text("Wróć")`] = true
	p.present["a.btn"] = true
	h := newInterstitials(t, NopDiagnostics{})

	for i := 0; i < 2; i++ {
		report, err := h.Dismiss(context.Background(), p)
		require.NoError(t, err)
		assert.Empty(t, report.Clicked, "pass %d", i+1)
	}
	assert.Empty(t, p.clicks)
	assert.Empty(t, p.sleeps)
}

func TestDismissGenericAnchorsWithChallengeEvidence(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int64
	}{
		{name: "marker in page text", body: "Checking your browser"},
		{name: "error status", body: "Librus Rodzina", status: 403},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newFakePage()
			p.body = tc.body
			p.present[`a[href*="portal.librus.pl"]`] = true
			p.onClick[selector.ChallengeReturn] = func(p *fakePage) {
				delete(p.present, `a[href*="portal.librus.pl"]`)
				p.body = "Librus Rodzina"
			}
			h := newInterstitials(t, NopDiagnostics{})

			report, err := h.DismissAfter(context.Background(), p, tc.status)
			require.NoError(t, err)
			assert.Equal(t, []selector.Role{selector.ChallengeReturn}, report.Clicked)
			assert.False(t, report.ChallengeDetected)
			assert.Equal(t, []time.Duration{3 * time.Second}, p.sleeps)

			report, err = h.DismissAfter(context.Background(), p, 200)
			require.NoError(t, err)
			assert.Empty(t, report.Clicked)
		})
	}
}

func TestReturnCandidatesOrder(t *testing.T) {
	h := newInterstitials(t, NopDiagnostics{})
	c := selector.DefaultCatalog()

	assert.Equal(t, c[selector.ChallengeReturn], h.returnCandidates(false))
	assert.Equal(t, []selector.Matcher{
		selector.Text("Wróć do strony głównej"),
		selector.HasText("a", "Wróć do strony głównej"),
		selector.HasText("button", "Wróć do strony głównej"),
		selector.CSS(`a[href*="portal.librus.pl"]`),
		selector.HasText(".btn", "Wróć"),
		selector.CSS("a.btn"),
	}, h.returnCandidates(true))
	// The catalog list is not grown in place.
	assert.Len(t, h.returnCandidates(false), 3)
}
