// internal/portal/page.go
package portal

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/librus-sync/internal/browser"
	"github.com/xkilldash9x/librus-sync/internal/config"
	"github.com/xkilldash9x/librus-sync/internal/selector"
)

// Page is the subset of browser operations the login workflow depends on.
// *browser.Session implements it.
type Page interface {
	selector.Prober

	Navigate(ctx context.Context, url string, settle browser.Settle, timeout time.Duration) (browser.NavResult, error)
	ClickAndWait(ctx context.Context, h selector.Handle, settle browser.Settle, timeout time.Duration) (browser.NavResult, error)
	WaitNetworkIdle(ctx context.Context, timeout time.Duration) error

	Click(ctx context.Context, h selector.Handle) error
	Fill(ctx context.Context, h selector.Handle, value string) error
	SetValue(ctx context.Context, h selector.Handle, value string) error
	Value(ctx context.Context, h selector.Handle) (string, error)
	Text(ctx context.Context, h selector.Handle) (string, error)

	URL(ctx context.Context) (string, error)
	BodyText(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Storage(ctx context.Context, key string) (string, error)
	Fetch(ctx context.Context, url string) (browser.FetchResult, error)
	Cookies(ctx context.Context) ([]browser.Cookie, error)

	Sleep(ctx context.Context, d time.Duration) error
	Screenshot(ctx context.Context) ([]byte, error)
}

// Browser is a Page that owns its underlying process.
type Browser interface {
	Page
	Close(ctx context.Context) error
}

// Opener starts a fresh browser for one workflow run.
type Opener func(ctx context.Context) (Browser, error)

var _ Browser = (*browser.Session)(nil)

// ChromeOpener opens a Chrome session with the given configuration.
func ChromeOpener(cfg config.Interface, logger *zap.Logger) Opener {
	return func(ctx context.Context) (Browser, error) {
		s, err := browser.Open(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
