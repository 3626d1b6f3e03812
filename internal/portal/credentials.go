// internal/portal/credentials.go
package portal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/librus-sync/internal/browser"
	"github.com/xkilldash9x/librus-sync/internal/config"
	"github.com/xkilldash9x/librus-sync/internal/observability"
	"github.com/xkilldash9x/librus-sync/internal/selector"
)

// ErrLoginRejected is wrapped by the credential step when the portal does
// not accept the submission.
var ErrLoginRejected = errors.New("login rejected")

// Where the submitted CSRF token came from.
const (
	CSRFFromForm    = "form"
	CSRFInjected    = "injected"
	CSRFFetched     = "fetched"
	CSRFAbsent      = "absent"
	CSRFUnavailable = "unavailable"
)

// CredentialResult is the outcome of one credential submission.
type CredentialResult struct {
	State        LoginState
	URL          string
	Status       int64
	Elapsed      time.Duration
	ErrorMessage string
	CSRFSource   string
	Screenshot   string
	Err          error
	// Artifacts carries any CSRF token recorded while submitting.
	Artifacts SessionArtifacts
}

// CredentialStep fills and submits the login form and classifies the result.
type CredentialStep struct {
	resolver *selector.Resolver
	portal   config.PortalConfig
	network  config.NetworkConfig
	creds    config.CredentialsConfig
	diag     Diagnostics
	logger   *zap.Logger
}

func NewCredentialStep(resolver *selector.Resolver, cfg config.Interface, diag Diagnostics, logger *zap.Logger) *CredentialStep {
	return &CredentialStep{
		resolver: resolver,
		portal:   cfg.Portal(),
		network:  cfg.Network(),
		creds:    cfg.Credentials(),
		diag:     diag,
		logger:   logger.Named("credentials"),
	}
}

// Submit drives AwaitingCsrf, Submitting and Classifying. It never returns
// a raw error: failures are folded into the result's State and Err.
func (c *CredentialStep) Submit(ctx context.Context, page Page, art SessionArtifacts) (res CredentialResult) {
	res = CredentialResult{State: LoginAwaitingCsrf, Artifacts: art}
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	c.logger.Info("Submitting credentials.",
		zap.String("username", c.creds.Username),
		observability.Secret("password", c.creds.Password))

	res.Artifacts, res.CSRFSource = c.prepareCSRF(ctx, page, art)

	res.State = LoginSubmitting
	settle, err := browser.ParseSettle(c.portal.SubmitSettle)
	if err != nil {
		return c.errored(ctx, page, res, err)
	}
	if err := c.fill(ctx, page, selector.EmailField, c.creds.Username); err != nil {
		return c.errored(ctx, page, res, err)
	}
	if err := c.fill(ctx, page, selector.PasswordField, c.creds.Password); err != nil {
		return c.errored(ctx, page, res, err)
	}
	submit, err := c.resolver.Resolve(ctx, page, selector.SubmitButton)
	if err != nil {
		return c.errored(ctx, page, res, fmt.Errorf("submit control: %w", err))
	}

	nav, navErr := page.ClickAndWait(ctx, submit, settle, c.network.NavigationTimeout)
	if navErr != nil && !errors.Is(navErr, browser.ErrNavigationTimeout) {
		return c.errored(ctx, page, res, fmt.Errorf("submit: %w", navErr))
	}
	res.Status = nav.Status

	res.State = LoginClassifying
	return c.classify(ctx, page, res, navErr)
}

// prepareCSRF records the form's token, or fills an empty field with a known
// or freshly fetched one. Nothing here is fatal.
func (c *CredentialStep) prepareCSRF(ctx context.Context, page Page, art SessionArtifacts) (SessionArtifacts, string) {
	field, err := c.resolver.Resolve(ctx, page, selector.CsrfField)
	if err != nil {
		c.logger.Debug("No CSRF field on the login form.", zap.Error(err))
		return art, CSRFAbsent
	}

	value, err := page.Value(ctx, field)
	if err != nil {
		c.logger.Debug("Could not read CSRF field.", zap.Error(err))
	}
	if value = strings.TrimSpace(value); value != "" {
		c.logger.Debug("CSRF token present in form.", observability.Secret("csrf", value))
		return art.WithCSRFToken(value), CSRFFromForm
	}

	token, source := art.CSRFToken, CSRFInjected
	if token == "" {
		token, source = c.fetchCSRF(ctx, page), CSRFFetched
		if token == "" {
			c.logger.Warn("CSRF field is empty and no token could be obtained.")
			return art, CSRFUnavailable
		}
		art = art.WithCSRFToken(token)
	}
	if err := page.SetValue(ctx, field, token); err != nil {
		c.logger.Warn("Failed to inject CSRF token.", zap.Error(err))
		return art, CSRFUnavailable
	}
	c.logger.Info("Injected CSRF token into empty form field.", zap.String("source", source), observability.Secret("csrf", token))
	return art, source
}

// fetchCSRF loads the login page from inside the browser and reads the
// token out of the returned markup.
func (c *CredentialStep) fetchCSRF(ctx context.Context, page Page) string {
	res, err := page.Fetch(ctx, c.portal.LoginURL)
	if err != nil {
		c.logger.Debug("Fresh CSRF fetch failed.", zap.Error(err))
		return ""
	}
	if res.Status < 200 || res.Status >= 300 {
		c.logger.Debug("Fresh CSRF fetch returned non-success status.", zap.Int("status", res.Status))
		return ""
	}
	return parseCSRF(res.Body)
}

// parseCSRF extracts a token from a hidden _token input or a csrf-token meta tag.
func parseCSRF(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	if v, ok := doc.Find(`input[name="_token"]`).First().Attr("value"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if v, ok := doc.Find(`meta[name="csrf-token"]`).First().Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func (c *CredentialStep) fill(ctx context.Context, page Page, role selector.Role, value string) error {
	h, err := c.resolver.Resolve(ctx, page, role)
	if err != nil {
		return fmt.Errorf("%s: %w", role, err)
	}
	if err := page.Fill(ctx, h, value); err != nil {
		return fmt.Errorf("%s: %w", role, err)
	}
	return nil
}

func (c *CredentialStep) classify(ctx context.Context, page Page, res CredentialResult, navErr error) CredentialResult {
	current, err := page.URL(ctx)
	if err != nil {
		return c.errored(ctx, page, res, fmt.Errorf("read URL after submit: %w", err))
	}

	if c.portal.OAuthMarker != "" && strings.Contains(current, c.portal.OAuthMarker) {
		c.logger.Info("OAuth redirect in progress, waiting for it to settle.", zap.String("url", current))
		if err := page.WaitNetworkIdle(ctx, c.network.IdleTimeout); err != nil && ctx.Err() == nil {
			c.logger.Debug("Network did not settle after OAuth redirect.", zap.Error(err))
		}
		if u, err := page.URL(ctx); err == nil {
			current = u
		}
	}
	res.URL = current

	if IsPostLoginURL(current, c.portal.LoginURL, c.portal.PostLoginMarkers) {
		res.State = LoggedIn
		c.logger.Info("Login succeeded.", zap.String("url", current))
		return res
	}

	if h, err := c.resolver.Resolve(ctx, page, selector.ErrorMessage); err == nil {
		if msg, err := page.Text(ctx, h); err == nil {
			res.ErrorMessage = strings.TrimSpace(msg)
		}
	}
	res.Screenshot = capture(ctx, c.diag, page, "login-failed", c.logger)

	if navErr != nil && res.ErrorMessage == "" {
		res.State = LoginErrored
		res.Err = fmt.Errorf("no navigation after submit: %w", navErr)
	} else {
		res.State = LoginRejected
		reason := res.ErrorMessage
		if reason == "" {
			reason = "post-login marker absent from " + current
		}
		res.Err = fmt.Errorf("%w: %s", ErrLoginRejected, reason)
	}
	c.logger.Warn("Login not accepted.", zap.String("state", string(res.State)), zap.String("url", current), zap.String("message", res.ErrorMessage))
	return res
}

func (c *CredentialStep) errored(ctx context.Context, page Page, res CredentialResult, err error) CredentialResult {
	res.State = LoginErrored
	res.Err = err
	if u, uerr := page.URL(ctx); uerr == nil {
		res.URL = u
	}
	res.Screenshot = capture(ctx, c.diag, page, "login-error", c.logger)
	c.logger.Error("Credential submission failed.", zap.Error(err))
	return res
}

// IsPostLoginURL reports whether raw looks like a page behind the login: it
// contains one of the markers and is not the login page itself.
func IsPostLoginURL(raw, loginURL string, markers []string) bool {
	lower := strings.ToLower(raw)
	hit := false
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			hit = true
			break
		}
	}
	if !hit {
		return false
	}
	return !isLoginPage(raw, loginURL)
}

func isLoginPage(raw, loginURL string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	path := strings.TrimSuffix(strings.ToLower(u.Path), "/")
	if strings.HasSuffix(path, "/login") {
		return true
	}
	if l, err := url.Parse(loginURL); err == nil {
		return strings.EqualFold(u.Host, l.Host) && path == strings.TrimSuffix(strings.ToLower(l.Path), "/")
	}
	return false
}
