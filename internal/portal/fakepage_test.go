// internal/portal/fakepage_test.go
package portal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/xkilldash9x/librus-sync/internal/browser"
	"github.com/xkilldash9x/librus-sync/internal/config"
	"github.com/xkilldash9x/librus-sync/internal/selector"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	homeURL      = "https://portal.librus.pl/rodzina"
	loginURL     = "https://portal.librus.pl/konto-librus/login"
	dashboardURL = "https://portal.librus.pl/rodzina/synergia/loguj"
	accountsURL  = "https://portal.librus.pl/konto-librus/informacje/dane-uczniow"
	accountsAPI  = "https://portal.librus.pl/api/v3/SynergiaAccounts"
	widgetURL    = "https://portal.librus.pl/vendor/widget-librus/index.html"
)

var errNoRoute = errors.New("no route")

// fakePage is a scripted, single-goroutine stand-in for a Chrome session.
// Elements are "present" when the first default matcher of their role is
// present; hooks mutate the page on arrival at a URL or on a click.
type fakePage struct {
	url     string
	present map[string]bool
	values  map[selector.Role]string
	texts   map[selector.Role]string
	body    string
	html    string
	storage map[string]string
	cookies []browser.Cookie
	fetches map[string]browser.FetchResult
	product string

	navErr    map[string]error
	navStatus map[string]int64
	clickErr  map[selector.Role]error
	cookieErr error
	probeErr  error
	closeErr  error

	onArrive map[string]func(p *fakePage)
	onClick  map[selector.Role]func(p *fakePage)

	navigations []string
	clicks      []selector.Role
	filled      map[selector.Role]string
	setValues   map[selector.Role]string
	sleeps      []time.Duration
	idleWaits   int
	screenshots int
	closeCalls  int
}

func newFakePage() *fakePage {
	return &fakePage{
		url:       "about:blank",
		present:   map[string]bool{},
		values:    map[selector.Role]string{},
		texts:     map[selector.Role]string{},
		storage:   map[string]string{},
		fetches:   map[string]browser.FetchResult{},
		navErr:    map[string]error{},
		navStatus: map[string]int64{},
		clickErr:  map[selector.Role]error{},
		onArrive:  map[string]func(p *fakePage){},
		onClick:   map[selector.Role]func(p *fakePage){},
		filled:    map[selector.Role]string{},
		setValues: map[selector.Role]string{},
	}
}

func matcherKey(role selector.Role) string {
	return selector.DefaultCatalog()[role][0].String()
}

// show replaces the set of visible controls.
func (p *fakePage) show(roles ...selector.Role) {
	p.present = map[string]bool{}
	for _, r := range roles {
		p.present[matcherKey(r)] = true
	}
}

func (p *fakePage) hide(role selector.Role) {
	delete(p.present, matcherKey(role))
}

func (p *fakePage) goTo(url string) {
	p.url = url
	p.navigations = append(p.navigations, url)
	if hook, ok := p.onArrive[url]; ok {
		hook(p)
	}
}

func (p *fakePage) Probe(ctx context.Context, m selector.Matcher, _ string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if p.probeErr != nil {
		return false, p.probeErr
	}
	return p.present[m.String()], nil
}

func (p *fakePage) Navigate(ctx context.Context, url string, _ browser.Settle, _ time.Duration) (browser.NavResult, error) {
	if err := ctx.Err(); err != nil {
		return browser.NavResult{}, err
	}
	if err := p.navErr[url]; err != nil {
		return browser.NavResult{Elapsed: time.Minute}, err
	}
	p.goTo(url)
	return browser.NavResult{URL: p.url, Status: p.status(url), Elapsed: time.Second}, nil
}

func (p *fakePage) status(url string) int64 {
	if s, ok := p.navStatus[url]; ok {
		return s
	}
	return 200
}

func (p *fakePage) ClickAndWait(ctx context.Context, h selector.Handle, _ browser.Settle, _ time.Duration) (browser.NavResult, error) {
	before := len(p.navigations)
	if err := p.Click(ctx, h); err != nil {
		return browser.NavResult{}, err
	}
	if len(p.navigations) == before {
		return browser.NavResult{URL: p.url, Elapsed: time.Minute}, fmt.Errorf("%w: after clicking %s", browser.ErrNavigationTimeout, h.Role)
	}
	return browser.NavResult{URL: p.url, Status: p.status(p.url), Elapsed: 2 * time.Second}, nil
}

func (p *fakePage) WaitNetworkIdle(ctx context.Context, _ time.Duration) error {
	p.idleWaits++
	return ctx.Err()
}

func (p *fakePage) Click(ctx context.Context, h selector.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.clicks = append(p.clicks, h.Role)
	if err := p.clickErr[h.Role]; err != nil {
		return err
	}
	if hook, ok := p.onClick[h.Role]; ok {
		hook(p)
	}
	return nil
}

func (p *fakePage) Fill(_ context.Context, h selector.Handle, value string) error {
	p.filled[h.Role] = value
	return nil
}

func (p *fakePage) SetValue(_ context.Context, h selector.Handle, value string) error {
	p.setValues[h.Role] = value
	p.values[h.Role] = value
	return nil
}

func (p *fakePage) Value(_ context.Context, h selector.Handle) (string, error) {
	return p.values[h.Role], nil
}

func (p *fakePage) Text(_ context.Context, h selector.Handle) (string, error) {
	return p.texts[h.Role], nil
}

func (p *fakePage) URL(ctx context.Context) (string, error) {
	return p.url, ctx.Err()
}

func (p *fakePage) BodyText(ctx context.Context) (string, error) {
	return p.body, ctx.Err()
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	return p.html, ctx.Err()
}

func (p *fakePage) Storage(_ context.Context, key string) (string, error) {
	return p.storage[key], nil
}

func (p *fakePage) Fetch(_ context.Context, url string) (browser.FetchResult, error) {
	res, ok := p.fetches[url]
	if !ok {
		return browser.FetchResult{}, errNoRoute
	}
	return res, nil
}

func (p *fakePage) Cookies(context.Context) ([]browser.Cookie, error) {
	if p.cookieErr != nil {
		return nil, p.cookieErr
	}
	return append([]browser.Cookie(nil), p.cookies...), nil
}

func (p *fakePage) Sleep(ctx context.Context, d time.Duration) error {
	p.sleeps = append(p.sleeps, d)
	return ctx.Err()
}

func (p *fakePage) Screenshot(context.Context) ([]byte, error) {
	p.screenshots++
	return []byte("\x89PNG"), nil
}

func (p *fakePage) Close(context.Context) error {
	p.closeCalls++
	return p.closeErr
}

func (p *fakePage) Product() string { return p.product }

// recordingDiag remembers every capture label.
type recordingDiag struct {
	labels []string
}

func (d *recordingDiag) Capture(ctx context.Context, page Page, label string) (string, error) {
	if _, err := page.Screenshot(ctx); err != nil {
		return "", err
	}
	d.labels = append(d.labels, label)
	return "snap/" + label + ".png", nil
}

// testConfig returns defaults with credentials set and every wait zeroed.
func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.SetCredentials("parent@example.com", "s3cret-pass")
	cfg.TimingsCfg = config.TimingsConfig{}
	return cfg
}

// librusPortal scripts the happy path: consent banner on the home page, a
// login control, a form carrying a CSRF token, and a dashboard after submit.
func librusPortal() *fakePage {
	p := newFakePage()
	p.product = "HeadlessChrome/131.0"

	p.onArrive[homeURL] = func(p *fakePage) {
		p.show(selector.ConsentAccept, selector.LoginEntry)
		p.body = "Librus Rodzina. Zaloguj się."
	}
	p.onClick[selector.ConsentAccept] = func(p *fakePage) { p.hide(selector.ConsentAccept) }
	p.onClick[selector.LoginEntry] = func(p *fakePage) { p.goTo(loginURL) }

	p.onArrive[loginURL] = func(p *fakePage) {
		p.show(selector.EmailField, selector.PasswordField, selector.CsrfField, selector.SubmitButton)
		p.values[selector.CsrfField] = "abc123"
		p.body = "Zaloguj się do Konta LIBRUS"
	}
	p.onClick[selector.SubmitButton] = func(p *fakePage) {
		if p.filled[selector.PasswordField] == "s3cret-pass" {
			p.goTo(dashboardURL)
			return
		}
		p.show(selector.EmailField, selector.PasswordField, selector.CsrfField, selector.SubmitButton, selector.ErrorMessage)
		p.texts[selector.ErrorMessage] = " Nieprawidłowy login lub hasło. "
	}

	p.onArrive[dashboardURL] = func(p *fakePage) {
		p.show()
		p.body = "Witaj w Librus Synergia"
		p.storage["bearer-token"] = "storage-token"
		p.cookies = []browser.Cookie{
			{Name: "SESSID", Value: "one", Domain: "portal.librus.pl"},
			{Name: "DZIENNIKSID", Value: "d1", Domain: "synergia.librus.pl"},
			{Name: "SESSID", Value: "two", Domain: "portal.librus.pl"},
		}
	}
	p.fetches[accountsAPI] = browser.FetchResult{
		Status: 200,
		Body:   `{"accounts":[{"accessToken":"api-token","studentName":"Jan Kowalski","login":"1234567u","id":9007199254740993}]}`,
	}
	p.onArrive[accountsURL] = func(p *fakePage) {
		p.html = `<html><body><div class="student-name">Jan   Kowalski</div><div class="student-name" data-id="77">Anna Kowalska</div></body></html>`
	}
	p.onArrive[widgetURL] = func(p *fakePage) {
		p.html = `<html><body><div class="widget-container">Plan lekcji</div></body></html>`
		p.body = "Plan lekcji"
	}
	return p
}

func openerFor(p *fakePage) Opener {
	return func(context.Context) (Browser, error) { return p, nil }
}
