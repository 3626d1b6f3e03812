// internal/portal/widget.go
package portal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/librus-sync/internal/browser"
	"github.com/xkilldash9x/librus-sync/internal/config"
)

// minWidgetContent is the body text length above which the widget counts
// as rendered even without a known marker.
const minWidgetContent = 100

// WidgetReport describes the state of the embedded widget page.
type WidgetReport struct {
	URL           string   `json:"url"`
	Status        int64    `json:"status,omitempty"`
	Loaded        bool     `json:"loaded"`
	Markers       []string `json:"markers"`
	ContentLength int      `json:"contentLength"`
}

// WidgetCheck loads the widget page with the session's cookies and checks
// that it rendered.
type WidgetCheck struct {
	url     string
	markers []string
	wait    time.Duration
	timeout time.Duration
	logger  *zap.Logger
}

func NewWidgetCheck(cfg config.Interface, logger *zap.Logger) *WidgetCheck {
	return &WidgetCheck{
		url:     cfg.Portal().WidgetURL,
		markers: cfg.Portal().WidgetMarkers,
		wait:    cfg.Timings().WidgetWait,
		timeout: cfg.Network().NavigationTimeout,
		logger:  logger.Named("widget"),
	}
}

func (w *WidgetCheck) Run(ctx context.Context, page Page) (WidgetReport, error) {
	report := WidgetReport{URL: w.url, Markers: []string{}}
	if w.url == "" {
		return report, fmt.Errorf("no widget URL configured")
	}

	nav, err := page.Navigate(ctx, w.url, browser.SettleNetworkIdle, w.timeout)
	if err != nil {
		return report, fmt.Errorf("load widget: %w", err)
	}
	report.Status = nav.Status
	if err := page.Sleep(ctx, w.wait); err != nil {
		return report, err
	}

	markup, err := page.HTML(ctx)
	if err != nil {
		return report, fmt.Errorf("read widget markup: %w", err)
	}
	report.Markers = presentMarkers(markup, w.markers)

	body, err := page.BodyText(ctx)
	if err != nil {
		return report, fmt.Errorf("read widget text: %w", err)
	}
	report.ContentLength = len(strings.TrimSpace(body))
	report.Loaded = len(report.Markers) > 0 || report.ContentLength > minWidgetContent

	w.logger.Info("Widget checked.",
		zap.Bool("loaded", report.Loaded),
		zap.Strings("markers", report.Markers),
		zap.Int("content_length", report.ContentLength))
	return report, nil
}

func presentMarkers(markup string, markers []string) []string {
	found := []string{}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return found
	}
	for _, m := range markers {
		if doc.Find(m).Length() > 0 {
			found = append(found, m)
		}
	}
	return found
}
