// internal/portal/widget_test.go
package portal

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newWidgetCheck(t *testing.T) *WidgetCheck {
	t.Helper()
	cfg := testConfig()
	cfg.PortalCfg.WidgetURL = widgetURL
	cfg.TimingsCfg.WidgetWait = 3 * time.Second
	return NewWidgetCheck(cfg, zaptest.NewLogger(t))
}

func TestWidgetLoadedByMarker(t *testing.T) {
	p := loggedIn()
	report, err := newWidgetCheck(t).Run(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, report.Loaded)
	assert.Equal(t, widgetURL, report.URL)
	assert.Equal(t, int64(200), report.Status)
	assert.Contains(t, report.Markers, ".widget-container")
	assert.Equal(t, []time.Duration{3 * time.Second}, p.sleeps[len(p.sleeps)-1:])
}

func TestWidgetLoadedByContent(t *testing.T) {
	p := loggedIn()
	p.onArrive[widgetURL] = func(p *fakePage) {
		p.html = "<body><p>plan</p></body>"
		p.body = strings.Repeat("Plan lekcji ", 20)
	}
	report, err := newWidgetCheck(t).Run(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, report.Loaded)
	assert.Empty(t, report.Markers)
	assert.Greater(t, report.ContentLength, minWidgetContent)
}

func TestWidgetNotLoaded(t *testing.T) {
	p := loggedIn()
	p.onArrive[widgetURL] = func(p *fakePage) {
		p.html = "<body></body>"
		p.body = "  "
	}
	report, err := newWidgetCheck(t).Run(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, report.Loaded)
	assert.Zero(t, report.ContentLength)
}

func TestWidgetWithoutURL(t *testing.T) {
	cfg := testConfig()
	cfg.PortalCfg.WidgetURL = ""
	_, err := NewWidgetCheck(cfg, zaptest.NewLogger(t)).Run(context.Background(), newFakePage())
	assert.ErrorContains(t, err, "no widget URL")
}

func TestPresentMarkers(t *testing.T) {
	markup := `<div id="widget-librus"><iframe src="https://synergia.librus.pl/x"></iframe></div>`
	got := presentMarkers(markup, []string{".widget-container", "#widget-librus", `iframe[src*="librus"]`})
	assert.Equal(t, []string{"#widget-librus", `iframe[src*="librus"]`}, got)
}
