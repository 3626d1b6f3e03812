// internal/portal/extractor.go
package portal

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/librus-sync/internal/browser"
	"github.com/xkilldash9x/librus-sync/internal/config"
	"github.com/xkilldash9x/librus-sync/internal/observability"
	"github.com/xkilldash9x/librus-sync/internal/selector"
)

// Numbers stay json.Number so large account IDs keep every digit.
var accountsJSON = jsoniter.Config{UseNumber: true}.Froze()

// Extraction warnings. The run stays successful but is marked degraded.
const (
	WarnNoBearerToken = "no bearer token found in storage or accounts API"
	WarnNoAccounts    = "no student accounts discovered"
)

type accountsPayload struct {
	Accounts []struct {
		AccessToken string      `json:"accessToken"`
		StudentName string      `json:"studentName"`
		Name        string      `json:"name"`
		Login       string      `json:"login"`
		ID          interface{} `json:"id"`
	} `json:"accounts"`
}

// Extractor harvests tokens, cookies and accounts from a logged-in page.
type Extractor struct {
	resolver *selector.Resolver
	portal   config.PortalConfig
	network  config.NetworkConfig
	logger   *zap.Logger
}

func NewExtractor(resolver *selector.Resolver, cfg config.Interface, logger *zap.Logger) *Extractor {
	return &Extractor{
		resolver: resolver,
		portal:   cfg.Portal(),
		network:  cfg.Network(),
		logger:   logger.Named("extractor"),
	}
}

// Extract never fails. It returns the updated artifacts and a warning for
// every optional field it could not fill.
func (e *Extractor) Extract(ctx context.Context, page Page, art SessionArtifacts) (SessionArtifacts, []string) {
	var warnings []string

	if h, err := e.resolver.Resolve(ctx, page, selector.CsrfField); err == nil {
		if v, err := page.Value(ctx, h); err == nil && strings.TrimSpace(v) != "" {
			art = art.WithCSRFToken(strings.TrimSpace(v))
		}
	}

	if cookies, err := page.Cookies(ctx); err != nil {
		e.logger.Warn("Could not read cookies.", zap.Error(err))
		warnings = append(warnings, "cookies unavailable: "+err.Error())
	} else {
		art = art.WithCookies(cookies)
		e.logger.Info("Collected cookies.", zap.Int("count", len(cookies)))
	}

	if token, err := page.Storage(ctx, e.portal.BearerStorageKey); err != nil {
		e.logger.Debug("Storage lookup failed.", zap.Error(err))
	} else if token != "" {
		art = art.WithBearerToken(token)
		e.logger.Info("Bearer token found in page storage.", observability.Secret("token", token))
	}

	art = e.fromAccountsAPI(ctx, page, art)
	art = e.fromAccountsPage(ctx, page, art)

	if art.BearerToken == "" {
		e.logger.Warn(WarnNoBearerToken)
		warnings = append(warnings, WarnNoBearerToken)
	}
	if len(art.Accounts) == 0 {
		e.logger.Warn(WarnNoAccounts)
		warnings = append(warnings, WarnNoAccounts)
	}
	return art, warnings
}

// fromAccountsAPI asks the accounts endpoint for the account list. Its first
// access token is used only when storage held none.
func (e *Extractor) fromAccountsAPI(ctx context.Context, page Page, art SessionArtifacts) SessionArtifacts {
	if e.portal.AccountsAPIURL == "" {
		return art
	}
	res, err := page.Fetch(ctx, e.portal.AccountsAPIURL)
	if err != nil {
		e.logger.Warn("Accounts API fetch failed.", zap.Error(err))
		return art
	}
	if res.Status != 200 {
		e.logger.Warn("Accounts API returned non-success status.", zap.Int("status", res.Status))
		return art
	}

	accounts, token, err := parseAccounts(res.Body)
	if err != nil {
		e.logger.Warn("Accounts API returned an unexpected body.", zap.Error(err))
		return art
	}
	if art.BearerToken == "" && token != "" {
		art = art.WithBearerToken(token)
		e.logger.Info("Bearer token taken from accounts API.", observability.Secret("token", token))
	}
	e.logger.Info("Accounts API answered.", zap.Int("accounts", len(accounts)))
	return art.WithAccounts(accounts...)
}

func parseAccounts(body string) ([]Account, string, error) {
	var payload accountsPayload
	if err := accountsJSON.UnmarshalFromString(body, &payload); err != nil {
		return nil, "", err
	}
	var token string
	if len(payload.Accounts) > 0 {
		token = payload.Accounts[0].AccessToken
	}
	accounts := make([]Account, 0, len(payload.Accounts))
	for _, a := range payload.Accounts {
		name := a.StudentName
		if name == "" {
			name = a.Name
		}
		id := a.Login
		if id == "" && a.ID != nil {
			id = fmt.Sprint(a.ID)
		}
		accounts = append(accounts, Account{DisplayName: name, RawID: id})
	}
	return accounts, token, nil
}

// fromAccountsPage scrapes the accounts page. Every marker is applied and
// all matches are kept.
func (e *Extractor) fromAccountsPage(ctx context.Context, page Page, art SessionArtifacts) SessionArtifacts {
	if e.portal.AccountsPageURL == "" || len(e.portal.AccountMarkers) == 0 {
		return art
	}
	if _, err := page.Navigate(ctx, e.portal.AccountsPageURL, browser.SettleNetworkIdle, e.network.AccountsTimeout); err != nil {
		e.logger.Warn("Accounts page did not load.", zap.Error(err))
		return art
	}
	markup, err := page.HTML(ctx)
	if err != nil {
		e.logger.Warn("Could not read accounts page.", zap.Error(err))
		return art
	}
	accounts := scrapeAccounts(markup, e.portal.AccountMarkers)
	e.logger.Info("Scraped accounts page.", zap.Int("accounts", len(accounts)))
	return art.WithAccounts(accounts...)
}

func scrapeAccounts(markup string, markers []string) []Account {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil
	}
	var out []Account
	for _, marker := range markers {
		doc.Find(marker).Each(func(_ int, s *goquery.Selection) {
			name := strings.Join(strings.Fields(s.Text()), " ")
			if name == "" {
				name = strings.TrimSpace(s.AttrOr("data-student-name", ""))
			}
			id := strings.TrimSpace(s.AttrOr("data-id", ""))
			if name == "" {
				name = id
			}
			if name != "" {
				out = append(out, Account{DisplayName: name, RawID: id})
			}
		})
	}
	return out
}
