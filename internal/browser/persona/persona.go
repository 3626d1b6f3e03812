// internal/browser/persona/persona.go
package persona

import (
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/librus-sync/internal/config"
)

// Persona defines the browser identity presented to the portal.
type Persona struct {
	UserAgent      string
	Platform       string
	Locale         string
	Timezone       string
	AcceptLanguage string
	Width          int
	Height         int
	// ExtraHeaders are sent alongside Accept-Language on every request.
	ExtraHeaders map[string]string
}

// FromConfig builds the persona from browser and network settings.
func FromConfig(b config.BrowserConfig, n config.NetworkConfig) Persona {
	return Persona{
		UserAgent:      b.UserAgent,
		Platform:       b.Platform,
		Locale:         b.Locale,
		Timezone:       b.Timezone,
		AcceptLanguage: b.AcceptLanguage,
		Width:          b.Viewport.Width,
		Height:         b.Viewport.Height,
		ExtraHeaders:   n.Headers,
	}
}

// Headers returns the fixed header set injected into every outgoing request.
func (p Persona) Headers() network.Headers {
	h := make(network.Headers, len(p.ExtraHeaders)+1)
	for k, v := range p.ExtraHeaders {
		h[k] = v
	}
	if p.AcceptLanguage != "" {
		h["Accept-Language"] = p.AcceptLanguage
	}
	return h
}

// Apply returns the CDP actions that install the persona on the current target.
func (p Persona) Apply(logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("locale", p.Locale),
		zap.String("timezone", p.Timezone),
	)

	var tasks chromedp.Tasks
	if p.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(p.UserAgent).WithAcceptLanguage(p.AcceptLanguage)
		if p.Platform != "" {
			ua = ua.WithPlatform(p.Platform)
		}
		tasks = append(tasks, ua)
	}
	if p.Width > 0 && p.Height > 0 {
		tasks = append(tasks, emulation.SetDeviceMetricsOverride(int64(p.Width), int64(p.Height), 1, false))
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	if h := p.Headers(); len(h) > 0 {
		tasks = append(tasks, network.Enable(), network.SetExtraHTTPHeaders(h))
	}
	return tasks
}

func (p Persona) String() string {
	return fmt.Sprintf("%s (%s, %s, %dx%d)", p.UserAgent, p.Locale, p.Timezone, p.Width, p.Height)
}
