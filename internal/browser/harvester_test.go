// internal/browser/harvester_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestHarvester(t *testing.T, record bool) *Harvester {
	t.Helper()
	h := NewHarvester(context.Background(), zaptest.NewLogger(t), record)
	t.Cleanup(func() { h.Stop("test") })
	return h
}

func requestSent(id, url string, typ network.ResourceType) *network.EventRequestWillBeSent {
	return &network.EventRequestWillBeSent{
		RequestID: network.RequestID(id),
		Request: &network.Request{
			URL:    url,
			Method: "GET",
			Headers: network.Headers{
				"Cookie":     "session=abc",
				"User-Agent": "UA",
			},
		},
		Type: typ,
	}
}

func TestHarvesterTracksInflight(t *testing.T) {
	h := newTestHarvester(t, false)

	h.handleEvent(requestSent("1", "https://portal.example/a", network.ResourceTypeDocument))
	h.handleEvent(requestSent("2", "https://portal.example/b.js", network.ResourceTypeScript))
	assert.Equal(t, 2, h.Inflight())

	h.handleEvent(&network.EventLoadingFinished{RequestID: "1"})
	h.handleEvent(&network.EventLoadingFailed{RequestID: "2", ErrorText: "net::ERR_ABORTED"})
	assert.Equal(t, 0, h.Inflight())

	// Unknown IDs are ignored.
	h.handleEvent(&network.EventLoadingFinished{RequestID: "nope"})
	assert.Equal(t, 0, h.Inflight())
}

func TestHarvesterLastDocument(t *testing.T) {
	h := newTestHarvester(t, false)

	h.handleEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "main"}})
	h.handleEvent(&network.EventResponseReceived{
		RequestID: "1",
		FrameID:   "main",
		Type:      network.ResourceTypeDocument,
		Response:  &network.Response{URL: "https://portal.example/rodzina", Status: 200},
	})
	// Sub-frame documents and non-document responses do not count.
	h.handleEvent(&network.EventResponseReceived{
		RequestID: "2",
		FrameID:   "child",
		Type:      network.ResourceTypeDocument,
		Response:  &network.Response{URL: "https://ads.example/frame", Status: 404},
	})
	h.handleEvent(&network.EventResponseReceived{
		RequestID: "3",
		FrameID:   "main",
		Type:      network.ResourceTypeXHR,
		Response:  &network.Response{URL: "https://portal.example/api", Status: 500},
	})

	status, url := h.LastDocument()
	assert.Equal(t, int64(200), status)
	assert.Equal(t, "https://portal.example/rodzina", url)
}

func TestHarvesterExpectNavigation(t *testing.T) {
	h := newTestHarvester(t, false)

	nav := h.ExpectNavigation()
	select {
	case <-nav:
		t.Fatal("closed before any navigation")
	default:
	}

	// Child frame navigations do not release waiters.
	h.handleEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "child", ParentID: "main"}})
	select {
	case <-nav:
		t.Fatal("released by a child frame")
	default:
	}

	h.handleEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "main"}})
	select {
	case <-nav:
	case <-time.After(time.Second):
		t.Fatal("main frame navigation did not release the waiter")
	}
}

func TestHarvesterStopReleasesWaiters(t *testing.T) {
	h := NewHarvester(context.Background(), zaptest.NewLogger(t), false)
	nav := h.ExpectNavigation()
	assert.Nil(t, h.Stop("test"), "no HAR without recording")

	select {
	case <-nav:
	default:
		t.Fatal("Stop must release pending waiters")
	}

	// Waiters registered after Stop are closed immediately.
	select {
	case <-h.ExpectNavigation():
	default:
		t.Fatal("expected closed channel after Stop")
	}
}

func TestHarvesterWaitNetworkIdle(t *testing.T) {
	t.Run("IdleImmediately", func(t *testing.T) {
		h := newTestHarvester(t, false)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, h.WaitNetworkIdle(ctx, 50*time.Millisecond))
	})

	t.Run("WaitsForInflight", func(t *testing.T) {
		h := newTestHarvester(t, false)
		h.handleEvent(requestSent("1", "https://portal.example/slow", network.ResourceTypeXHR))

		go func() {
			time.Sleep(250 * time.Millisecond)
			h.handleEvent(&network.EventLoadingFinished{RequestID: "1"})
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		start := time.Now()
		require.NoError(t, h.WaitNetworkIdle(ctx, 50*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
	})

	t.Run("NeverIdle", func(t *testing.T) {
		h := newTestHarvester(t, false)
		h.handleEvent(requestSent("1", "https://portal.example/poll", network.ResourceTypeXHR))

		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, h.WaitNetworkIdle(ctx, 50*time.Millisecond), context.DeadlineExceeded)
	})
}

func TestHarvesterRecordsHAR(t *testing.T) {
	h := NewHarvester(context.Background(), zaptest.NewLogger(t), true)

	h.handleEvent(requestSent("1", "https://portal.example/login?next=%2Frodzina", network.ResourceTypeDocument))
	// Redirect hop reuses the request ID.
	redirect := requestSent("1", "https://portal.example/rodzina", network.ResourceTypeDocument)
	redirect.RedirectResponse = &network.Response{
		URL: "https://portal.example/login", Status: 302,
		Headers: network.Headers{"Location": "/rodzina", "Set-Cookie": "session=xyz"},
	}
	h.handleEvent(redirect)
	h.handleEvent(&network.EventResponseReceived{
		RequestID: "1",
		Type:      network.ResourceTypeDocument,
		Response:  &network.Response{URL: "https://portal.example/rodzina", Status: 200, MimeType: "text/html"},
	})
	h.handleEvent(&network.EventLoadingFinished{RequestID: "1", EncodedDataLength: 1024})
	h.handleEvent(requestSent("2", "https://portal.example/pending", network.ResourceTypeXHR))

	har := h.Stop("1.0")
	require.NotNil(t, har)
	require.Len(t, har.Log.Entries, 3)

	first := har.Log.Entries[0]
	assert.Equal(t, int64(302), first.Response.Status)
	assert.Equal(t, "/rodzina", first.Response.RedirectURL)
	assert.Equal(t, []HARNVPair{{Name: "next", Value: "/rodzina"}}, first.Request.QueryString)

	second := har.Log.Entries[1]
	assert.Equal(t, int64(200), second.Response.Status)
	assert.Equal(t, int64(1024), second.Response.BodySize)

	pending := har.Log.Entries[2]
	assert.Equal(t, "(no response)", pending.Response.StatusText)
}
