// internal/browser/page.go
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/librus-sync/internal/selector"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Cookie is a browser cookie as visible to the page's browser context.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

// FetchResult is the outcome of an in-page fetch.
type FetchResult struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
	Error  string `json:"error,omitempty"`
}

// Probe evaluates m in the page and tags the first match with mark.
func (s *Session) Probe(ctx context.Context, m selector.Matcher, mark string) (bool, error) {
	opCtx, cancel := s.opContext(ctx, s.cfg.Network().ActionTimeout)
	defer cancel()

	var res string
	if err := chromedp.Run(opCtx, chromedp.Evaluate(m.ProbeScript(mark), &res)); err != nil {
		return false, err
	}
	return selector.ParseProbeResult(res)
}

// Click clicks the element behind h without waiting for navigation.
func (s *Session) Click(ctx context.Context, h selector.Handle) error {
	opCtx, cancel := s.opContext(ctx, s.cfg.Network().ActionTimeout)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.Click(h.Selector(), chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %s: %w", h.Role, err)
	}
	return nil
}

// Fill replaces the content of the input behind h with value.
func (s *Session) Fill(ctx context.Context, h selector.Handle, value string) error {
	opCtx, cancel := s.opContext(ctx, s.cfg.Network().ActionTimeout)
	defer cancel()
	err := chromedp.Run(opCtx,
		chromedp.Clear(h.Selector(), chromedp.ByQuery),
		chromedp.SendKeys(h.Selector(), value, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("fill %s: %w", h.Role, err)
	}
	return nil
}

// SetValue assigns value directly, which also works on hidden inputs.
func (s *Session) SetValue(ctx context.Context, h selector.Handle, value string) error {
	opCtx, cancel := s.opContext(ctx, s.cfg.Network().ActionTimeout)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.SetValue(h.Selector(), value, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("set value of %s: %w", h.Role, err)
	}
	return nil
}

const readElementScript = `(function(sel, prop) {
  const el = document.querySelector(sel);
  if (!el) { return ""; }
  if (prop === "value") {
    if (el.value !== undefined) { return String(el.value); }
    return el.getAttribute("content") || "";
  }
  return (el.textContent || "").trim();
})(%s, %q)`

// Value reads the element's value, or its content attribute for meta tags.
func (s *Session) Value(ctx context.Context, h selector.Handle) (string, error) {
	return s.readElement(ctx, h, "value")
}

// Text reads the element's trimmed text content.
func (s *Session) Text(ctx context.Context, h selector.Handle) (string, error) {
	return s.readElement(ctx, h, "text")
}

func (s *Session) readElement(ctx context.Context, h selector.Handle, prop string) (string, error) {
	sel, err := json.Marshal(h.Selector())
	if err != nil {
		return "", err
	}
	var out string
	if err := s.evaluate(ctx, fmt.Sprintf(readElementScript, sel, prop), &out); err != nil {
		return "", fmt.Errorf("read %s of %s: %w", prop, h.Role, err)
	}
	return out, nil
}

// URL returns the current page URL.
func (s *Session) URL(ctx context.Context) (string, error) {
	opCtx, cancel := s.opContext(ctx, s.cfg.Network().ActionTimeout)
	defer cancel()
	var u string
	if err := chromedp.Run(opCtx, chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

// BodyText returns the rendered text of the document body.
func (s *Session) BodyText(ctx context.Context) (string, error) {
	var out string
	err := s.evaluate(ctx, `document.body ? document.body.innerText : ""`, &out)
	return out, err
}

// HTML returns the serialized document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var out string
	err := s.evaluate(ctx, `document.documentElement ? document.documentElement.outerHTML : ""`, &out)
	return out, err
}

// Storage looks key up in localStorage, then sessionStorage. Missing keys
// yield an empty string.
func (s *Session) Storage(ctx context.Context, key string) (string, error) {
	k, err := json.Marshal(key)
	if err != nil {
		return "", err
	}
	script := fmt.Sprintf(`(function(k) {
  try {
    const v = window.localStorage.getItem(k) || window.sessionStorage.getItem(k);
    return v || "";
  } catch (e) { return ""; }
})(%s)`, k)

	var out string
	if err := s.evaluate(ctx, script, &out); err != nil {
		return "", fmt.Errorf("read storage key %q: %w", key, err)
	}
	return out, nil
}

const fetchScript = `(async function(url) {
  try {
    const resp = await fetch(url, {credentials: "include", headers: {"Accept": "application/json, text/html"}});
    return {status: resp.status, body: await resp.text()};
  } catch (e) {
    return {status: 0, body: "", error: String(e)};
  }
})(%s)`

// Fetch issues a GET from within the page so the request carries the
// page's cookies and origin.
func (s *Session) Fetch(ctx context.Context, url string) (FetchResult, error) {
	u, err := json.Marshal(url)
	if err != nil {
		return FetchResult{}, err
	}
	opCtx, cancel := s.opContext(ctx, s.cfg.Network().NavigationTimeout)
	defer cancel()

	var res FetchResult
	err = chromedp.Run(opCtx, chromedp.Evaluate(fmt.Sprintf(fetchScript, u), &res,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams { return p.WithAwaitPromise(true) }))
	if err != nil {
		return FetchResult{}, fmt.Errorf("in-page fetch of %s: %w", url, err)
	}
	if res.Error != "" {
		return res, fmt.Errorf("in-page fetch of %s: %s", url, res.Error)
	}
	return res, nil
}

// Cookies returns every cookie in the session's browser context.
func (s *Session) Cookies(ctx context.Context) ([]Cookie, error) {
	opCtx, cancel := s.opContext(ctx, s.cfg.Network().ActionTimeout)
	defer cancel()

	var raw []*network.Cookie
	err := chromedp.Run(opCtx, chromedp.ActionFunc(func(c context.Context) (err error) {
		raw, err = storage.GetCookies().WithBrowserContextID(s.contextID).Do(c)
		return err
	}))
	if err != nil {
		s.logger.Debug("Browser context cookie read failed, falling back to page cookies.", zap.Error(err))
		err = chromedp.Run(opCtx, chromedp.ActionFunc(func(c context.Context) (err error) {
			raw, err = network.GetCookies().Do(c)
			return err
		}))
		if err != nil {
			return nil, fmt.Errorf("failed to read cookies: %w", err)
		}
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{
			Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
			Expires: c.Expires, HTTPOnly: c.HTTPOnly, Secure: c.Secure,
		})
	}
	return cookies, nil
}

// Sleep pauses for d or until ctx ends.
func (s *Session) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Screenshot captures the full page as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	opCtx, cancel := s.opContext(ctx, s.cfg.Network().ActionTimeout)
	defer cancel()
	var buf []byte
	if err := chromedp.Run(opCtx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

func (s *Session) evaluate(ctx context.Context, script string, out interface{}) error {
	opCtx, cancel := s.opContext(ctx, s.cfg.Network().ActionTimeout)
	defer cancel()
	return chromedp.Run(opCtx, chromedp.Evaluate(script, out))
}
